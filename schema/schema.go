// Package schema holds the mapping metadata the unit-of-work engine
// consumes: mappers binding Go struct types to tables, their columns and
// primary keys, and the relationships between them. Mappers are collected
// into a Registry that validates the whole configuration up front, so that
// flush time never encounters an unresolvable relationship.
package schema

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-openapi/inflect"
)

// Column describes one table column and the struct field backing it.
type Column struct {
	// Name is the column name in the table.
	Name string
	// Field is the name of the struct field the column is bound to.
	// Defaults to the camelized column name.
	Field string
	// PrimaryKey marks the column as part of the primary key.
	PrimaryKey bool
	// Nullable marks the column as accepting NULL. A foreign-key column
	// must be nullable for the engine to null it out instead of raising
	// when its parent association is removed.
	Nullable bool
	// AutoIncrement marks an integer primary key whose value is generated
	// by the database on insert and fetched back into the object.
	AutoIncrement bool
	// DefaultUUID marks a string primary key populated with a generated
	// UUID on insert when left zero.
	DefaultUUID bool
}

// Mapper binds a Go struct type to a table. The zero value is not usable;
// construct mappers as literals and hand them to NewRegistry, which
// resolves defaults and validates the configuration.
type Mapper struct {
	// Label uniquely identifies the mapper within a registry.
	Label string
	// Prototype is a pointer to the zero value of the mapped struct type.
	Prototype any
	// Table is the table name. Defaults to the tableized label.
	Table string
	// Columns lists the mapped columns. At least one primary key column
	// is required.
	Columns []*Column
	// Rels lists the relationships this mapper is the parent of.
	Rels []*Relationship
	// Extends names the base mapper for joined-table inheritance. The base
	// row is always written before this mapper's row and deleted after it.
	Extends string

	typ    reflect.Type
	pk     []*Column
	fields map[string]int // column name -> struct field index
}

// Type returns the mapped struct type (the prototype's element type).
func (m *Mapper) Type() reflect.Type { return m.typ }

// PrimaryKey returns the primary key columns in declaration order.
func (m *Mapper) PrimaryKey() []*Column { return m.pk }

// Column returns the column with the given name, or nil.
func (m *Mapper) Column(name string) *Column {
	for _, c := range m.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Rel returns the relationship with the given name, or nil.
func (m *Mapper) Rel(name string) *Relationship {
	for _, r := range m.Rels {
		if r.Name == name {
			return r
		}
	}
	return nil
}

func (m *Mapper) String() string {
	return fmt.Sprintf("Mapper(%s -> %s)", m.Label, m.Table)
}

// value returns the addressable struct value behind obj. Objects of other
// struct types are accepted as long as they carry the mapped fields; this
// is how a base mapper reads its columns off a joined-table subclass.
func (m *Mapper) value(obj any) (reflect.Value, error) {
	v := reflect.ValueOf(obj)
	if !v.IsValid() || v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("schema: %s: expected a struct pointer, got %T", m.Label, obj)
	}
	return v.Elem(), nil
}

// field resolves the struct field bound to the named column on v.
func (m *Mapper) field(v reflect.Value, col string) (reflect.Value, error) {
	i, ok := m.fields[col]
	if !ok {
		return reflect.Value{}, fmt.Errorf("schema: %s has no column %q", m.Label, col)
	}
	if v.Type() == m.typ {
		return v.Field(i), nil
	}
	f := v.FieldByName(m.Column(col).Field)
	if !f.IsValid() {
		return reflect.Value{}, fmt.Errorf("schema: %s: %T has no field %q for column %q", m.Label, v.Interface(), m.Column(col).Field, col)
	}
	return f, nil
}

// Get returns the value of the named column on obj.
func (m *Mapper) Get(obj any, col string) (any, error) {
	v, err := m.value(obj)
	if err != nil {
		return nil, err
	}
	f, err := m.field(v, col)
	if err != nil {
		return nil, err
	}
	return f.Interface(), nil
}

// Set assigns the value of the named column on obj. A nil value zeroes the
// field, which is how a nulled-out foreign key is represented in memory: a
// pointer field becomes nil, a scalar field its zero value.
func (m *Mapper) Set(obj any, col string, val any) error {
	v, err := m.value(obj)
	if err != nil {
		return err
	}
	f, err := m.field(v, col)
	if err != nil {
		return err
	}
	if val == nil {
		f.Set(reflect.Zero(f.Type()))
		return nil
	}
	rv := reflect.ValueOf(val)
	ft := f.Type()
	if rv.Type() != ft {
		// A scalar assigned to a pointer field is boxed, so generated
		// keys flow into nullable pointer foreign keys.
		if ft.Kind() == reflect.Pointer && rv.Type().ConvertibleTo(ft.Elem()) {
			p := reflect.New(ft.Elem())
			p.Elem().Set(rv.Convert(ft.Elem()))
			f.Set(p)
			return nil
		}
		if !rv.Type().ConvertibleTo(ft) {
			return fmt.Errorf("schema: cannot assign %T to %s.%s", val, m.Label, col)
		}
		rv = rv.Convert(ft)
	}
	f.Set(rv)
	return nil
}

// Values returns the column-to-value map for obj, the shape handed to the
// statement builder.
func (m *Mapper) Values(obj any) (map[string]any, error) {
	v, err := m.value(obj)
	if err != nil {
		return nil, err
	}
	vals := make(map[string]any, len(m.Columns))
	for _, c := range m.Columns {
		f, err := m.field(v, c.Name)
		if err != nil {
			return nil, err
		}
		vals[c.Name] = f.Interface()
	}
	return vals, nil
}

// PrimaryKeyValues returns the primary key values of obj and whether all
// of them are assigned (non-zero).
func (m *Mapper) PrimaryKeyValues(obj any) ([]any, bool, error) {
	v, err := m.value(obj)
	if err != nil {
		return nil, false, err
	}
	vals := make([]any, len(m.pk))
	assigned := true
	for i, c := range m.pk {
		f, err := m.field(v, c.Name)
		if err != nil {
			return nil, false, err
		}
		if f.IsZero() {
			assigned = false
		}
		vals[i] = f.Interface()
	}
	return vals, assigned, nil
}

// ClearPrimaryKey zeroes the primary key fields of obj. Used when a flush
// that assigned keys mid-way is rolled back.
func (m *Mapper) ClearPrimaryKey(obj any) error {
	v, err := m.value(obj)
	if err != nil {
		return err
	}
	for _, c := range m.pk {
		f, err := m.field(v, c.Name)
		if err != nil {
			return err
		}
		f.Set(reflect.Zero(f.Type()))
	}
	return nil
}

// RelValues returns the current members of the named relationship on obj:
// the slice elements for a collection, a single-element slice for an
// assigned scalar, empty for nil.
func (m *Mapper) RelValues(obj any, rel *Relationship) ([]any, error) {
	v, err := m.value(obj)
	if err != nil {
		return nil, err
	}
	f := v.FieldByName(rel.Field)
	if !f.IsValid() {
		return nil, fmt.Errorf("schema: %s has no field %q", m.Label, rel.Field)
	}
	switch f.Kind() {
	case reflect.Slice:
		out := make([]any, 0, f.Len())
		for i := 0; i < f.Len(); i++ {
			out = append(out, f.Index(i).Interface())
		}
		return out, nil
	case reflect.Ptr, reflect.Interface:
		if f.IsNil() {
			return nil, nil
		}
		return []any{f.Interface()}, nil
	default:
		return nil, fmt.Errorf("schema: %s.%s: unsupported relationship field kind %s", m.Label, rel.Field, f.Kind())
	}
}

// Key identifies one row of one mapper within one shard. It is the
// identity-map key: at most one live object per Key per session.
type Key struct {
	Label string
	ID    string
	Shard string
}

func (k Key) String() string {
	if k.Shard != "" {
		return fmt.Sprintf("%s(%s)@%s", k.Label, k.ID, k.Shard)
	}
	return fmt.Sprintf("%s(%s)", k.Label, k.ID)
}

// IdentityKey builds the identity key for obj on the given shard. The
// second return value is false when the primary key is not yet assigned.
func (m *Mapper) IdentityKey(obj any, shard string) (Key, bool, error) {
	vals, assigned, err := m.PrimaryKeyValues(obj)
	if err != nil || !assigned {
		return Key{}, false, err
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return Key{Label: m.Label, ID: strings.Join(parts, "/"), Shard: shard}, true, nil
}

// defaultTable derives a table name from a label, e.g. "zoo" -> "zoos".
// Tableize singularizes before pluralizing and clips sibilant endings
// ("address" -> "addres"), so pluralize the underscored label directly.
func defaultTable(label string) string {
	return inflect.Pluralize(inflect.Underscore(label))
}

// defaultField derives a struct field name from a column name,
// e.g. "zoo_id" -> "ZooID".
func defaultField(col string) string {
	f := inflect.Camelize(col)
	if strings.HasSuffix(f, "Id") {
		f = f[:len(f)-2] + "ID"
	}
	return f
}
