package gen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-openapi/inflect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/syssam/unison/compiler/load"
)

func testGenerator(t *testing.T) *generator {
	t.Helper()
	return &generator{
		cfg:   &Config{Package: "zoo", Header: defaultHeader},
		caser: cases.Title(language.English),
		rules: inflect.NewDefaultRuleset(),
	}
}

func TestExport(t *testing.T) {
	t.Parallel()

	g := testGenerator(t)
	tests := []struct{ in, want string }{
		{"zoo", "Zoo"},
		{"zoo_id", "ZooID"},
		{"api_key", "APIKey"},
		{"json_payload", "JSONPayload"},
		{"home_url", "HomeURL"},
		{"first_name", "FirstName"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, g.export(tt.in), "export(%q)", tt.in)
	}
}

func TestTable(t *testing.T) {
	t.Parallel()

	g := testGenerator(t)
	assert.Equal(t, "zoos", g.table(&load.Entity{Name: "zoo"}))
	assert.Equal(t, "people", g.table(&load.Entity{Name: "person"}))
	assert.Equal(t, "custom", g.table(&load.Entity{Name: "zoo", Table: "custom"}))
}

func TestFieldName(t *testing.T) {
	t.Parallel()

	g := testGenerator(t)
	assert.Equal(t, "ZooID", g.fieldName(&load.Column{Name: "zoo_id"}))
	assert.Equal(t, "Custom", g.fieldName(&load.Column{Name: "zoo_id", Field: "Custom"}))
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	doc, err := load.ParseFile("testdata/zoo.yaml")
	require.NoError(t, err)

	target := t.TempDir()
	require.NoError(t, Generate(doc, WithTarget(target)))

	for _, name := range []string{"zoo.go", "animal.go", "registry.go"} {
		_, err := os.Stat(filepath.Join(target, name))
		assert.NoError(t, err, "expected %s", name)
	}

	// Struct fields and literal keys come out gofmt-aligned, so match
	// with flexible whitespace rather than exact strings.
	zoo := readFile(t, filepath.Join(target, "zoo.go"))
	assert.Contains(t, zoo, "// Code generated by unison. DO NOT EDIT.")
	assert.Contains(t, zoo, "package zoo")
	assert.Contains(t, zoo, "type Zoo struct")
	assert.Regexp(t, `Animals\s+\[\]\*Animal`, zoo)

	animal := readFile(t, filepath.Join(target, "animal.go"))
	assert.Contains(t, animal, "type Animal struct")
	assert.Regexp(t, `BornAt\s+time\.Time`, animal)
	assert.Contains(t, animal, `"time"`, "the time import is rendered")

	registry := readFile(t, filepath.Join(target, "registry.go"))
	assert.Contains(t, registry, "func NewRegistry() (*schema.Registry, error)")
	assert.Regexp(t, `Label:\s+"zoo"`, registry)
	assert.Regexp(t, `Table:\s+"zoo_animals"`, registry)
	assert.Regexp(t, `Kind:\s+schema\.OneToMany`, registry)
	assert.Regexp(t, `Cascade:\s+schema\.Cascade\{`, registry)
	assert.Regexp(t, `SaveUpdate:\s+true`, registry)
	assert.Regexp(t, `OrderColumn:\s+"position"`, registry)
}

func TestGenerate_PackageOverride(t *testing.T) {
	t.Parallel()

	doc, err := load.ParseFile("testdata/zoo.yaml")
	require.NoError(t, err)

	target := t.TempDir()
	require.NoError(t, Generate(doc, WithTarget(target), WithPackage("menagerie"), WithHeader("custom header")))

	zoo := readFile(t, filepath.Join(target, "zoo.go"))
	assert.Contains(t, zoo, "package menagerie")
	assert.True(t, strings.HasPrefix(zoo, "// custom header"))
}

func TestGenerate_NoTarget(t *testing.T) {
	t.Parallel()

	doc := &load.Document{Package: "zoo"}
	err := Generate(doc)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.ErrorIs(t, err, ErrMissingConfig)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}
