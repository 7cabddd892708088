// Package load reads mapping documents: YAML descriptions of entities,
// their columns and relationships, which the generator turns into Go
// structs and registry glue.
package load

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syssam/unison/schema"
)

// Error reports an invalid mapping document, carrying the file and entity
// it was found in.
type Error struct {
	Path   string
	Entity string
	Reason string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("load: invalid document")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Entity != "" {
		b.WriteString(": entity ")
		b.WriteString(e.Entity)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// Document is one mapping document: a set of entities generated into a
// single Go package.
type Document struct {
	// Package is the Go package name of the generated code.
	Package string `yaml:"package"`
	// Entities lists the mapped entities.
	Entities []*Entity `yaml:"entities"`

	path string
}

// Entity describes one mapped struct and its table.
type Entity struct {
	Name    string    `yaml:"name"`
	Table   string    `yaml:"table,omitempty"`
	Extends string    `yaml:"extends,omitempty"`
	Columns []*Column `yaml:"columns"`
	Rels    []*Rel    `yaml:"relationships,omitempty"`
}

// Column describes one mapped column.
type Column struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"`
	Field         string `yaml:"field,omitempty"`
	PrimaryKey    bool   `yaml:"primary_key,omitempty"`
	Nullable      bool   `yaml:"nullable,omitempty"`
	AutoIncrement bool   `yaml:"auto_increment,omitempty"`
	DefaultUUID   bool   `yaml:"default_uuid,omitempty"`
}

// Rel describes one relationship of an entity.
type Rel struct {
	Name                  string `yaml:"name"`
	Kind                  string `yaml:"kind"`
	Target                string `yaml:"target"`
	Field                 string `yaml:"field,omitempty"`
	ForeignKey            string `yaml:"foreign_key,omitempty"`
	SecondaryTable        string `yaml:"secondary_table,omitempty"`
	SecondaryParentColumn string `yaml:"secondary_parent_column,omitempty"`
	SecondaryTargetColumn string `yaml:"secondary_target_column,omitempty"`
	Cascade               string `yaml:"cascade,omitempty"`
	PassiveDeletes        bool   `yaml:"passive_deletes,omitempty"`
	PostUpdate            bool   `yaml:"post_update,omitempty"`
	OrderColumn           string `yaml:"order_column,omitempty"`
	ReorderOnAppend       bool   `yaml:"reorder_on_append,omitempty"`
}

// columnTypes maps document column types to Go types.
var columnTypes = map[string]string{
	"int":     "int",
	"int64":   "int64",
	"uint64":  "uint64",
	"string":  "string",
	"bool":    "bool",
	"float64": "float64",
	"time":    "time.Time",
	"bytes":   "[]byte",
	"uuid":    "string",
}

// relKinds maps document relationship kinds to schema kinds.
var relKinds = map[string]schema.RelKind{
	"one_to_many":        schema.OneToMany,
	"many_to_one":        schema.ManyToOne,
	"many_to_many":       schema.ManyToMany,
	"association_object": schema.AssociationObject,
}

// Parse reads and validates a mapping document.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("load: decode: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ParseFile reads and validates the mapping document at path.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	defer f.Close()
	doc, err := Parse(f)
	if err != nil {
		if le, ok := err.(*Error); ok {
			le.Path = path
		}
		return nil, err
	}
	doc.path = path
	return doc, nil
}

// GoType returns the Go type for a column.
func (c *Column) GoType() string {
	return columnTypes[c.Type]
}

// RelKind returns the schema kind of a relationship.
func (r *Rel) RelKind() schema.RelKind {
	return relKinds[r.Kind]
}

func (d *Document) validate() error {
	if d.Package == "" {
		return &Error{Reason: "missing package name"}
	}
	if len(d.Entities) == 0 {
		return &Error{Reason: "no entities"}
	}
	names := make(map[string]bool, len(d.Entities))
	for _, e := range d.Entities {
		if e.Name == "" {
			return &Error{Reason: "entity with no name"}
		}
		if names[e.Name] {
			return &Error{Entity: e.Name, Reason: "duplicate entity name"}
		}
		names[e.Name] = true
	}
	for _, e := range d.Entities {
		if err := d.validateEntity(e, names); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) validateEntity(e *Entity, names map[string]bool) error {
	if len(e.Columns) == 0 {
		return &Error{Entity: e.Name, Reason: "no columns"}
	}
	if e.Extends != "" && !names[e.Extends] {
		return &Error{Entity: e.Name, Reason: fmt.Sprintf("extends unknown entity %q", e.Extends)}
	}
	pk := false
	cols := make(map[string]bool, len(e.Columns))
	for _, c := range e.Columns {
		if c.Name == "" {
			return &Error{Entity: e.Name, Reason: "column with no name"}
		}
		if cols[c.Name] {
			return &Error{Entity: e.Name, Reason: fmt.Sprintf("duplicate column %q", c.Name)}
		}
		cols[c.Name] = true
		if _, ok := columnTypes[c.Type]; !ok {
			return &Error{Entity: e.Name, Reason: fmt.Sprintf("column %q has unsupported type %q", c.Name, c.Type)}
		}
		pk = pk || c.PrimaryKey
	}
	if !pk {
		return &Error{Entity: e.Name, Reason: "no primary key column"}
	}
	for _, r := range e.Rels {
		if r.Name == "" {
			return &Error{Entity: e.Name, Reason: "relationship with no name"}
		}
		if _, ok := relKinds[r.Kind]; !ok {
			return &Error{Entity: e.Name, Reason: fmt.Sprintf("relationship %q has unknown kind %q", r.Name, r.Kind)}
		}
		if !names[r.Target] {
			return &Error{Entity: e.Name, Reason: fmt.Sprintf("relationship %q targets unknown entity %q", r.Name, r.Target)}
		}
		if r.Kind == "many_to_many" && r.SecondaryTable == "" {
			return &Error{Entity: e.Name, Reason: fmt.Sprintf("many_to_many %q needs a secondary_table", r.Name)}
		}
		if r.Cascade != "" {
			if _, err := schema.ParseCascade(r.Cascade); err != nil {
				return &Error{Entity: e.Name, Reason: fmt.Sprintf("relationship %q: %v", r.Name, err)}
			}
		}
	}
	return nil
}
