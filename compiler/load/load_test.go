package load_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unison/compiler/load"
	"github.com/syssam/unison/schema"
)

func TestParseFile(t *testing.T) {
	t.Parallel()

	doc, err := load.ParseFile("testdata/zoo.yaml")
	require.NoError(t, err)

	assert.Equal(t, "zoo", doc.Package)
	require.Len(t, doc.Entities, 2)

	zoo := doc.Entities[0]
	assert.Equal(t, "zoo", zoo.Name)
	assert.Empty(t, zoo.Table, "table defaults at generation time")
	require.Len(t, zoo.Columns, 2)
	assert.True(t, zoo.Columns[0].PrimaryKey)
	assert.True(t, zoo.Columns[0].AutoIncrement)

	require.Len(t, zoo.Rels, 1)
	rel := zoo.Rels[0]
	assert.Equal(t, schema.OneToMany, rel.RelKind())
	assert.Equal(t, "animal", rel.Target)
	assert.Equal(t, "position", rel.OrderColumn)

	animal := doc.Entities[1]
	assert.Equal(t, "zoo_animals", animal.Table)
	assert.Equal(t, "time.Time", animal.Columns[4].GoType())
}

func TestParseFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := load.ParseFile("testdata/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load:")
}

func TestParse_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := load.Parse(strings.NewReader(`
package: zoo
entities:
  - name: zoo
    colums:
      - name: id
        type: int64
        primary_key: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load: decode")
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	const valid = `
package: zoo
entities:
  - name: zoo
    columns:
      - name: id
        type: int64
        primary_key: true
`
	tests := []struct {
		name   string
		doc    string
		entity string
		reason string
	}{
		{
			name:   "missing package",
			doc:    "entities:\n  - name: zoo\n    columns:\n      - {name: id, type: int64, primary_key: true}\n",
			reason: "missing package name",
		},
		{
			name:   "no entities",
			doc:    "package: zoo\n",
			reason: "no entities",
		},
		{
			name:   "unnamed entity",
			doc:    "package: zoo\nentities:\n  - columns:\n      - {name: id, type: int64, primary_key: true}\n",
			reason: "entity with no name",
		},
		{
			name:   "duplicate entity",
			doc:    valid + "  - name: zoo\n    columns:\n      - {name: id, type: int64, primary_key: true}\n",
			entity: "zoo",
			reason: "duplicate entity name",
		},
		{
			name:   "no columns",
			doc:    "package: zoo\nentities:\n  - name: zoo\n",
			entity: "zoo",
			reason: "no columns",
		},
		{
			name:   "unknown parent",
			doc:    "package: zoo\nentities:\n  - name: zoo\n    extends: base\n    columns:\n      - {name: id, type: int64, primary_key: true}\n",
			entity: "zoo",
			reason: `extends unknown entity "base"`,
		},
		{
			name:   "duplicate column",
			doc:    "package: zoo\nentities:\n  - name: zoo\n    columns:\n      - {name: id, type: int64, primary_key: true}\n      - {name: id, type: string}\n",
			entity: "zoo",
			reason: `duplicate column "id"`,
		},
		{
			name:   "bad column type",
			doc:    "package: zoo\nentities:\n  - name: zoo\n    columns:\n      - {name: id, type: rune, primary_key: true}\n",
			entity: "zoo",
			reason: `unsupported type "rune"`,
		},
		{
			name:   "no primary key",
			doc:    "package: zoo\nentities:\n  - name: zoo\n    columns:\n      - {name: id, type: int64}\n",
			entity: "zoo",
			reason: "no primary key column",
		},
		{
			name:   "unknown rel kind",
			doc:    valid + "    relationships:\n      - {name: animals, kind: has_many, target: zoo}\n",
			entity: "zoo",
			reason: `unknown kind "has_many"`,
		},
		{
			name:   "unknown rel target",
			doc:    valid + "    relationships:\n      - {name: animals, kind: one_to_many, target: animal}\n",
			entity: "zoo",
			reason: `targets unknown entity "animal"`,
		},
		{
			name:   "m2m without secondary",
			doc:    valid + "    relationships:\n      - {name: twins, kind: many_to_many, target: zoo}\n",
			entity: "zoo",
			reason: "needs a secondary_table",
		},
		{
			name:   "bad cascade",
			doc:    valid + "    relationships:\n      - {name: twins, kind: many_to_many, target: zoo, secondary_table: t, cascade: detach}\n",
			entity: "zoo",
			reason: "detach",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := load.Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			var le *load.Error
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.entity, le.Entity)
			assert.Contains(t, le.Reason, tt.reason)
		})
	}
}

func TestError_Format(t *testing.T) {
	t.Parallel()

	err := &load.Error{Path: "zoo.yaml", Entity: "zoo", Reason: "no columns"}
	assert.EqualError(t, err, "load: invalid document zoo.yaml: entity zoo: no columns")
	err = &load.Error{Reason: "no entities"}
	assert.EqualError(t, err, "load: invalid document: no entities")
}
