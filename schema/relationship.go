package schema

import (
	"fmt"
	"strings"
)

// RelKind is the closed set of relationship shapes the engine understands.
// Every dependency decision at flush time dispatches on this tag; there is
// no open-ended relationship polymorphism.
type RelKind uint8

const (
	// OneToMany relates a parent row to a collection of child rows carrying
	// the parent's key in a foreign-key column.
	OneToMany RelKind = iota + 1
	// ManyToOne relates a child row to a single parent row via a
	// foreign-key column on the child.
	ManyToOne
	// ManyToMany relates two row sets through rows in a secondary
	// association table.
	ManyToMany
	// AssociationObject is a one-to-many onto an explicitly mapped
	// association entity; children always cascade deletes and orphans.
	AssociationObject
)

// String returns the kind name.
func (k RelKind) String() string {
	switch k {
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	case ManyToMany:
		return "many-to-many"
	case AssociationObject:
		return "association"
	default:
		return fmt.Sprintf("RelKind(%d)", k)
	}
}

// Cascade configures which session operations propagate from a parent
// object to the members of a relationship.
type Cascade struct {
	// SaveUpdate adds reachable children to a flush when the parent is in.
	SaveUpdate bool
	// Delete deletes children when the parent is deleted.
	Delete bool
	// DeleteOrphan deletes a child when it is removed from the parent's
	// collection, instead of nulling its foreign key.
	DeleteOrphan bool
	// Merge propagates Session merge operations to children.
	Merge bool
}

// ParseCascade parses a cascade rule string such as "save-update, delete"
// or "all, delete-orphan" into a Cascade.
func ParseCascade(s string) (Cascade, error) {
	var c Cascade
	if s == "" {
		c.SaveUpdate = true
		return c, nil
	}
	for _, tok := range strings.Split(s, ",") {
		switch strings.TrimSpace(tok) {
		case "":
		case "all":
			c.SaveUpdate, c.Delete, c.Merge = true, true, true
		case "save-update":
			c.SaveUpdate = true
		case "delete":
			c.Delete = true
		case "delete-orphan":
			c.DeleteOrphan = true
		case "merge":
			c.Merge = true
		case "none":
			c = Cascade{}
		default:
			return Cascade{}, fmt.Errorf("schema: unknown cascade rule %q", strings.TrimSpace(tok))
		}
	}
	return c, nil
}

// String renders the cascade in rule-string form.
func (c Cascade) String() string {
	var toks []string
	if c.SaveUpdate {
		toks = append(toks, "save-update")
	}
	if c.Delete {
		toks = append(toks, "delete")
	}
	if c.DeleteOrphan {
		toks = append(toks, "delete-orphan")
	}
	if c.Merge {
		toks = append(toks, "merge")
	}
	if len(toks) == 0 {
		return "none"
	}
	return strings.Join(toks, ", ")
}

// Numbering maps a collection index to the value stored in an order
// column. Implementations need not return integers.
type Numbering func(index, size int) any

// CountFrom0 numbers collection members 0, 1, 2, ...
func CountFrom0(index, _ int) any { return index }

// CountFrom1 numbers collection members 1, 2, 3, ...
func CountFrom1(index, _ int) any { return index + 1 }

// CountFrom numbers collection members start, start+1, ...
func CountFrom(start int) Numbering {
	return func(index, _ int) any { return index + start }
}

// Relationship describes one mapped relationship from the declaring
// (parent) mapper to a target mapper.
type Relationship struct {
	// Name identifies the relationship on the parent mapper.
	Name string
	// Kind is the relationship shape. Required.
	Kind RelKind
	// Target is the label of the target mapper. Required.
	Target string
	// Field is the struct field on the parent holding the related value:
	// a slice for OneToMany/ManyToMany/AssociationObject, a pointer for
	// ManyToOne. Defaults to the camelized name.
	Field string
	// ForeignKey is the foreign-key column on the key-bearing side: the
	// target table for OneToMany/AssociationObject, the parent table for
	// ManyToOne. Defaults to "<other label>_id" when that column exists;
	// a default that cannot be resolved is a configuration error.
	ForeignKey string
	// SecondaryTable is the association table of a ManyToMany.
	SecondaryTable string
	// SecondaryParentColumn and SecondaryTargetColumn are the association
	// table columns holding the parent and target keys.
	SecondaryParentColumn string
	SecondaryTargetColumn string
	// Cascade configures operation propagation across the relationship.
	Cascade Cascade
	// PassiveDeletes leaves child foreign keys to ON DELETE actions in the
	// database instead of updating unloaded children.
	PassiveDeletes bool
	// PostUpdate breaks row-level dependency cycles by deferring the
	// foreign-key assignment to an extra UPDATE after insert / before
	// delete.
	PostUpdate bool
	// OrderColumn names a column on the target kept in sync with the
	// collection order. Empty disables ordering.
	OrderColumn string
	// OrderFunc maps list position to the order column value. Defaults to
	// CountFrom0.
	OrderFunc Numbering
	// ReorderOnAppend renumbers the whole collection even when members are
	// only appended. Off by default so populating a collection from an
	// already-ordered result set writes nothing.
	ReorderOnAppend bool
}

func (r *Relationship) String() string {
	return fmt.Sprintf("%s(%s -> %s)", r.Kind, r.Name, r.Target)
}
