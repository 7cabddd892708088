package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mapping = `package: zoo
entities:
  - name: zoo
    columns:
      - name: id
        type: int64
        primary_key: true
        auto_increment: true
      - name: name
        type: string
`

func writeMapping(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zoo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestGenCommand(t *testing.T) {
	t.Parallel()

	path := writeMapping(t, mapping)
	target := t.TempDir()

	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"gen", path, "--target", target, "--verbose"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, errOut.String(), "generated 1 entities")
	raw, err := os.ReadFile(filepath.Join(target, "zoo.go"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "type Zoo struct")
	_, err = os.Stat(filepath.Join(target, "registry.go"))
	assert.NoError(t, err)
}

func TestGenCommand_PackageFlag(t *testing.T) {
	t.Parallel()

	path := writeMapping(t, mapping)
	target := t.TempDir()

	cmd := NewRootCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"gen", path, "-t", target, "-p", "menagerie"})
	require.NoError(t, cmd.Execute())

	raw, err := os.ReadFile(filepath.Join(target, "zoo.go"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "package menagerie")
}

func TestGenCommand_InvalidDocument(t *testing.T) {
	t.Parallel()

	path := writeMapping(t, "package: zoo\n")

	cmd := NewRootCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"gen", path, "-t", t.TempDir()})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entities")
}

func TestGenCommand_RequiresArgument(t *testing.T) {
	t.Parallel()

	cmd := NewRootCommand()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"gen"})
	require.Error(t, cmd.Execute())
}
