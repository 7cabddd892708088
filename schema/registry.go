package schema

import (
	"fmt"
	"reflect"

	"github.com/syssam/unison"
)

// Registry is the validated set of mappers a session operates on. It is an
// explicit handle passed into every session; there is no process-wide
// mapper lookup.
type Registry struct {
	mappers map[string]*Mapper
	byType  map[reflect.Type]*Mapper
}

// NewRegistry validates the given mappers as a closed configuration and
// returns the registry. All defaults (table names, field bindings, foreign
// keys) are resolved here, and every error a relationship could produce at
// flush time is surfaced now as a *unison.ConfigError.
func NewRegistry(mappers ...*Mapper) (*Registry, error) {
	r := &Registry{
		mappers: make(map[string]*Mapper, len(mappers)),
		byType:  make(map[reflect.Type]*Mapper, len(mappers)),
	}
	for _, m := range mappers {
		if err := r.addMapper(m); err != nil {
			return nil, err
		}
	}
	for _, m := range mappers {
		if err := r.resolveMapper(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Mapper returns the mapper with the given label, or nil.
func (r *Registry) Mapper(label string) *Mapper { return r.mappers[label] }

// MapperOf returns the mapper for the given object's type.
func (r *Registry) MapperOf(obj any) (*Mapper, error) {
	t := reflect.TypeOf(obj)
	if t == nil || t.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("schema: expected a pointer to a mapped struct, got %T", obj)
	}
	m, ok := r.byType[t.Elem()]
	if !ok {
		return nil, fmt.Errorf("schema: no mapper registered for %s", t.Elem())
	}
	return m, nil
}

// Mappers returns all registered mappers.
func (r *Registry) Mappers() []*Mapper {
	out := make([]*Mapper, 0, len(r.mappers))
	for _, m := range r.mappers {
		out = append(out, m)
	}
	return out
}

func (r *Registry) addMapper(m *Mapper) error {
	if m.Label == "" {
		return unison.NewConfigError("(unnamed)", "", "mapper has no label")
	}
	if _, ok := r.mappers[m.Label]; ok {
		return unison.NewConfigError(m.Label, "", "duplicate mapper label")
	}
	t := reflect.TypeOf(m.Prototype)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return unison.NewConfigError(m.Label, "", "prototype must be a pointer to a struct")
	}
	m.typ = t.Elem()
	if m.Table == "" {
		m.Table = defaultTable(m.Label)
	}
	m.fields = make(map[string]int, len(m.Columns))
	m.pk = nil
	for _, c := range m.Columns {
		if c.Field == "" {
			c.Field = defaultField(c.Name)
		}
		f, ok := m.typ.FieldByName(c.Field)
		if !ok || len(f.Index) != 1 {
			return unison.NewConfigError(m.Label, "", fmt.Sprintf("column %q is bound to missing field %q", c.Name, c.Field))
		}
		if _, dup := m.fields[c.Name]; dup {
			return unison.NewConfigError(m.Label, "", fmt.Sprintf("duplicate column %q", c.Name))
		}
		m.fields[c.Name] = f.Index[0]
		if c.PrimaryKey {
			m.pk = append(m.pk, c)
		}
	}
	if len(m.pk) == 0 {
		return unison.NewConfigError(m.Label, "", "no primary key column")
	}
	if _, ok := r.byType[m.typ]; ok {
		return unison.NewConfigError(m.Label, "", fmt.Sprintf("type %s already mapped", m.typ))
	}
	r.mappers[m.Label] = m
	r.byType[m.typ] = m
	return nil
}

// resolveMapper resolves cross-mapper references: inheritance, relationship
// targets and foreign keys.
func (r *Registry) resolveMapper(m *Mapper) error {
	if m.Extends != "" {
		base, ok := r.mappers[m.Extends]
		if !ok {
			return unison.NewConfigError(m.Label, "", fmt.Sprintf("extends unknown mapper %q", m.Extends))
		}
		if len(base.pk) != len(m.pk) {
			return unison.NewConfigError(m.Label, "", fmt.Sprintf("joined-table inheritance requires matching primary keys with %q", m.Extends))
		}
	}
	for _, rel := range m.Rels {
		if err := r.resolveRel(m, rel); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) resolveRel(m *Mapper, rel *Relationship) error {
	if rel.Name == "" {
		return unison.NewConfigError(m.Label, "", "relationship has no name")
	}
	if rel.Target == "" {
		return unison.NewConfigError(m.Label, rel.Name, "relationship has no target")
	}
	target, ok := r.mappers[rel.Target]
	if !ok {
		return unison.NewConfigError(m.Label, rel.Name, fmt.Sprintf("unknown target mapper %q", rel.Target))
	}
	if rel.Field == "" {
		rel.Field = defaultField(rel.Name)
	}
	f, ok := m.typ.FieldByName(rel.Field)
	if !ok {
		return unison.NewConfigError(m.Label, rel.Name, fmt.Sprintf("bound to missing field %q", rel.Field))
	}
	switch rel.Kind {
	case OneToMany, ManyToMany, AssociationObject:
		if f.Type.Kind() != reflect.Slice {
			return unison.NewConfigError(m.Label, rel.Name, fmt.Sprintf("%s requires a slice field, %q is %s", rel.Kind, rel.Field, f.Type.Kind()))
		}
	case ManyToOne:
		if f.Type.Kind() != reflect.Ptr {
			return unison.NewConfigError(m.Label, rel.Name, fmt.Sprintf("many-to-one requires a pointer field, %q is %s", rel.Field, f.Type.Kind()))
		}
	default:
		return unison.NewConfigError(m.Label, rel.Name, "relationship has no kind")
	}

	switch rel.Kind {
	case OneToMany, AssociationObject:
		// FK lives on the target, pointing back at the parent.
		if err := resolveForeignKey(m, rel, target, m.Label); err != nil {
			return err
		}
	case ManyToOne:
		// FK lives on the parent, pointing at the target.
		if err := resolveForeignKey(m, rel, m, rel.Target); err != nil {
			return err
		}
	case ManyToMany:
		if rel.SecondaryTable == "" {
			return unison.NewConfigError(m.Label, rel.Name, "many-to-many requires a secondary table")
		}
		if rel.SecondaryParentColumn == "" {
			rel.SecondaryParentColumn = m.Label + "_id"
		}
		if rel.SecondaryTargetColumn == "" {
			rel.SecondaryTargetColumn = rel.Target + "_id"
		}
	}
	if rel.Kind == AssociationObject {
		// Association rows never outlive either endpoint.
		rel.Cascade.Delete = true
		rel.Cascade.DeleteOrphan = true
	}
	if rel.OrderColumn != "" {
		if target.Column(rel.OrderColumn) == nil {
			return unison.NewConfigError(m.Label, rel.Name, fmt.Sprintf("order column %q not mapped on %q", rel.OrderColumn, rel.Target))
		}
		if rel.OrderFunc == nil {
			rel.OrderFunc = CountFrom0
		}
	}
	return nil
}

// resolveForeignKey checks that the foreign-key column exists on the
// key-bearing mapper, defaulting its name from the referenced label. An
// unresolvable foreign key is reported here, never at flush time.
func resolveForeignKey(owner *Mapper, rel *Relationship, bearer *Mapper, referenced string) error {
	if rel.ForeignKey == "" {
		guess := referenced + "_id"
		if bearer.Column(guess) == nil {
			return unison.NewConfigError(owner.Label, rel.Name,
				fmt.Sprintf("cannot resolve foreign key: no column %q on %q and none configured", guess, bearer.Label))
		}
		rel.ForeignKey = guess
		return nil
	}
	if bearer.Column(rel.ForeignKey) == nil {
		return unison.NewConfigError(owner.Label, rel.Name,
			fmt.Sprintf("foreign key column %q not mapped on %q", rel.ForeignKey, bearer.Label))
	}
	return nil
}
