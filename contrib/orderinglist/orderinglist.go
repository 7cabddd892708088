// Package orderinglist keeps a position attribute in sync with the order
// of an in-memory collection, so an ordered relationship round-trips
// through the database without manual bookkeeping.
//
// # Basic Usage
//
// Bind a list to the field holding each item's position:
//
//	bullets := orderinglist.New(func(b *Bullet, pos any) { b.Position = pos.(int) })
//	bullets.Append(b1, b2, b3) // positions 0, 1, 2
//	bullets.Insert(1, b4)      // b4 gets 1, b2 and b3 renumber to 2, 3
//
// A structural change (insert, remove, replace) renumbers the whole list.
// A plain append numbers only the new tail, so populating a list from an
// already-ordered result set writes nothing to the existing items; use
// WithReorderOnAppend to renumber on every append instead.
//
// # Numbering
//
// Positions default to zero-based integers. Any scheme expressible as a
// function of (index, size) works:
//
//	orderinglist.New(set, orderinglist.WithNumbering[*Step](schema.CountFrom1))
//	orderinglist.New(set, orderinglist.WithNumbering[*Row](func(i, _ int) any {
//	    return string(rune('a' + i))
//	}))
package orderinglist

import (
	"github.com/syssam/unison/schema"
)

// List is an ordered collection whose items carry their own position.
// It is not safe for concurrent use.
type List[T any] struct {
	items           []T
	set             func(item T, pos any)
	numbering       schema.Numbering
	reorderOnAppend bool
}

// Option configures a List.
type Option[T any] func(*List[T])

// WithNumbering sets the position scheme. Defaults to schema.CountFrom0.
func WithNumbering[T any](n schema.Numbering) Option[T] {
	return func(l *List[T]) { l.numbering = n }
}

// WithReorderOnAppend renumbers the whole list on every append.
func WithReorderOnAppend[T any]() Option[T] {
	return func(l *List[T]) { l.reorderOnAppend = true }
}

// New returns an empty list writing positions through set.
func New[T any](set func(item T, pos any), opts ...Option[T]) *List[T] {
	l := &List[T]{set: set, numbering: schema.CountFrom0}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Len returns the number of items.
func (l *List[T]) Len() int { return len(l.items) }

// Items returns the items in order. The returned slice is shared with the
// list and must not be modified.
func (l *List[T]) Items() []T { return l.items }

// At returns the item at index i.
func (l *List[T]) At(i int) T { return l.items[i] }

// Append adds items to the end. Only the new items are numbered unless the
// list was built with WithReorderOnAppend.
func (l *List[T]) Append(items ...T) {
	start := len(l.items)
	l.items = append(l.items, items...)
	if l.reorderOnAppend {
		l.Reorder()
		return
	}
	for i := start; i < len(l.items); i++ {
		l.set(l.items[i], l.numbering(i, len(l.items)))
	}
}

// Insert places an item at index i, renumbering the whole list.
func (l *List[T]) Insert(i int, item T) {
	l.items = append(l.items, item)
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = item
	l.Reorder()
}

// Remove deletes and returns the item at index i, renumbering the rest.
func (l *List[T]) Remove(i int) T {
	item := l.items[i]
	l.items = append(l.items[:i], l.items[i+1:]...)
	l.Reorder()
	return item
}

// Pop removes and returns the last item. No renumbering is needed; the
// remaining positions are untouched.
func (l *List[T]) Pop() (T, bool) {
	var zero T
	if len(l.items) == 0 {
		return zero, false
	}
	item := l.items[len(l.items)-1]
	l.items = l.items[:len(l.items)-1]
	return item, true
}

// Set replaces the item at index i, giving the new item the slot's
// position.
func (l *List[T]) Set(i int, item T) {
	l.items[i] = item
	l.set(item, l.numbering(i, len(l.items)))
}

// Reorder rewrites every item's position from its current index.
func (l *List[T]) Reorder() {
	n := len(l.items)
	for i, item := range l.items {
		l.set(item, l.numbering(i, n))
	}
}
