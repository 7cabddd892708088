// Package uow implements the unit-of-work engine: a session that tracks
// object state through an identity map, and a flush that turns accumulated
// changes into a correctly ordered stream of INSERT, UPDATE and DELETE
// statements inside one transaction per shard.
package uow

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/syssam/unison"
	"github.com/syssam/unison/dialect"
	"github.com/syssam/unison/schema"
)

// snapshot is the committed image of one object: column values as last
// written to (or read from) the database, and relationship memberships at
// that point. Flush-time change detection is a diff against it.
type snapshot struct {
	cols map[string]any
	rels map[string][]any
}

// Session tracks a working set of objects against one registry and one or
// more database shards. It is not safe for concurrent use; a session is
// one unit of work owned by one goroutine.
type Session struct {
	registry *schema.Registry
	drivers  map[string]dialect.Driver
	log      *slog.Logger
	echo     bool

	identity map[schema.Key]any
	states   map[any]State
	shards   map[any]string
	pending  []any // insertion order of pending objects
	snaps    map[any]*snapshot

	flushing bool
}

// Option configures a Session.
type Option func(*Session)

// WithDriver sets the driver for the default shard.
func WithDriver(d dialect.Driver) Option {
	return func(s *Session) { s.drivers[""] = d }
}

// WithShardDriver sets the driver for a named shard.
func WithShardDriver(shard string, d dialect.Driver) Option {
	return func(s *Session) { s.drivers[shard] = d }
}

// WithLogger sets the logger used by the session and its flushes.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithEchoFlush logs the full flush plan before it executes.
func WithEchoFlush() Option {
	return func(s *Session) { s.echo = true }
}

// NewSession returns an empty session over the given registry.
func NewSession(reg *schema.Registry, opts ...Option) *Session {
	s := &Session{
		registry: reg,
		drivers:  make(map[string]dialect.Driver),
		log:      slog.Default(),
		identity: make(map[schema.Key]any),
		states:   make(map[any]State),
		shards:   make(map[any]string),
		snaps:    make(map[any]*snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the session's mapping registry.
func (s *Session) Registry() *schema.Registry { return s.registry }

// Add registers objects for insertion on the next flush. Adding a deleted
// object revives it; adding a pending or persistent object is a no-op.
func (s *Session) Add(objs ...any) error {
	return s.AddTo("", objs...)
}

// AddTo is Add targeting a named shard.
func (s *Session) AddTo(shard string, objs ...any) error {
	if s.flushing {
		return unison.ErrFlushInProgress
	}
	for _, obj := range objs {
		if _, err := s.registry.MapperOf(obj); err != nil {
			return err
		}
		switch s.states[obj] {
		case Pending, Persistent:
		case Deleted:
			if s.snaps[obj] != nil {
				s.states[obj] = Persistent
			} else {
				s.states[obj] = Pending
				s.pending = append(s.pending, obj)
			}
		default:
			s.states[obj] = Pending
			s.shards[obj] = shard
			s.pending = append(s.pending, obj)
		}
	}
	return nil
}

// Attach registers an object that already has a database row: it enters
// the identity map as persistent and its current values become the
// committed snapshot.
func (s *Session) Attach(obj any) error {
	return s.AttachTo("", obj)
}

// AttachTo is Attach targeting a named shard.
func (s *Session) AttachTo(shard string, obj any) error {
	if s.flushing {
		return unison.ErrFlushInProgress
	}
	m, err := s.registry.MapperOf(obj)
	if err != nil {
		return err
	}
	key, ok, err := m.IdentityKey(obj, shard)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("uow: attach %s: primary key not assigned", m.Label)
	}
	if cur, exists := s.identity[key]; exists && cur != obj {
		return fmt.Errorf("uow: identity %s already present with a different object", key)
	}
	snap, err := s.takeSnapshot(obj, m)
	if err != nil {
		return err
	}
	s.identity[key] = obj
	s.states[obj] = Persistent
	s.shards[obj] = shard
	s.snaps[obj] = snap
	return nil
}

// Delete marks a persistent object for deletion on the next flush. A
// pending object is simply expunged; it never reached the database.
func (s *Session) Delete(obj any) error {
	if s.flushing {
		return unison.ErrFlushInProgress
	}
	switch s.states[obj] {
	case Pending:
		return s.Expunge(obj)
	case Persistent:
		s.states[obj] = Deleted
		return nil
	case Deleted:
		return nil
	default:
		return unison.ErrNotTracked
	}
}

// Get returns the identity-mapped object for a label and primary key, or
// false when no such object is tracked.
func (s *Session) Get(label string, id ...any) (any, bool) {
	return s.GetFrom("", label, id...)
}

// GetFrom is Get against a named shard.
func (s *Session) GetFrom(shard, label string, id ...any) (any, bool) {
	obj, ok := s.identity[schema.Key{Label: label, ID: keyID(id), Shard: shard}]
	return obj, ok
}

// Expunge removes an object from the session entirely, leaving it
// detached. Its pending or deleted status is discarded unflushed.
func (s *Session) Expunge(obj any) error {
	if s.flushing {
		return unison.ErrFlushInProgress
	}
	if _, tracked := s.states[obj]; !tracked {
		return unison.ErrNotTracked
	}
	if m, err := s.registry.MapperOf(obj); err == nil {
		if key, ok, err := m.IdentityKey(obj, s.shards[obj]); err == nil && ok && s.identity[key] == obj {
			delete(s.identity, key)
		}
	}
	s.dropPending(obj)
	delete(s.snaps, obj)
	delete(s.shards, obj)
	s.states[obj] = Detached
	return nil
}

// StateOf returns the lifecycle state of obj relative to the session.
func (s *Session) StateOf(obj any) State {
	return s.states[obj]
}

// New returns the pending objects in insertion order.
func (s *Session) New() []any {
	out := make([]any, len(s.pending))
	copy(out, s.pending)
	return out
}

// Deleted returns the objects marked for deletion.
func (s *Session) Deleted() []any {
	var out []any
	for obj, st := range s.states {
		if st == Deleted {
			out = append(out, obj)
		}
	}
	return out
}

// Dirty returns the persistent objects whose columns or relationship
// memberships differ from their committed snapshots.
func (s *Session) Dirty() ([]any, error) {
	var out []any
	for obj, st := range s.states {
		if st != Persistent {
			continue
		}
		cols, rels, err := s.changed(obj)
		if err != nil {
			return nil, err
		}
		if cols || rels {
			out = append(out, obj)
		}
	}
	return out, nil
}

// Flush writes all pending, dirty and deleted objects to the database in
// dependency order, one transaction per shard. On success the session's
// snapshots advance to the flushed values; on failure everything rolls
// back, including primary keys assigned mid-flush.
func (s *Session) Flush(ctx context.Context) error {
	if s.flushing {
		return unison.ErrFlushInProgress
	}
	s.flushing = true
	defer func() { s.flushing = false }()

	f := newFlush(s)
	if err := f.run(ctx); err != nil {
		return err
	}
	if f.state == flushNoChange {
		return nil
	}
	return s.postFlush(f)
}

// Plan builds and sorts the flush for the session's current changes and
// returns its printable task tree without executing anything.
func (s *Session) Plan() (string, error) {
	if s.flushing {
		return "", unison.ErrFlushInProgress
	}
	s.flushing = true
	defer func() { s.flushing = false }()

	f := newFlush(s)
	if err := f.plan(); err != nil {
		return "", err
	}
	return f.dump().String(), nil
}

// PlanSnapshot is Plan serialized to a compact binary form, suitable for
// recording plans and diffing them offline.
func (s *Session) PlanSnapshot() ([]byte, error) {
	if s.flushing {
		return nil, unison.ErrFlushInProgress
	}
	s.flushing = true
	defer func() { s.flushing = false }()

	f := newFlush(s)
	if err := f.plan(); err != nil {
		return nil, err
	}
	return f.dump().MarshalBinary()
}

// Close closes all shard drivers.
func (s *Session) Close() error {
	var errs []string
	for _, d := range s.drivers {
		if err := d.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("uow: close: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (s *Session) driver(shard string) (dialect.Driver, error) {
	d, ok := s.drivers[shard]
	if !ok {
		if shard == "" {
			return nil, fmt.Errorf("uow: no driver configured")
		}
		return nil, fmt.Errorf("uow: no driver configured for shard %q", shard)
	}
	return d, nil
}

func (s *Session) dropPending(obj any) {
	for i, o := range s.pending {
		if o == obj {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// takeSnapshot captures the committed image of obj: its column values and
// the identity lists of its relationships.
// takeSnapshot records the committed image of obj: the column values and
// relationship memberships of its mapper and, under joined-table
// inheritance, of every base mapper up the chain.
func (s *Session) takeSnapshot(obj any, m *schema.Mapper) (*snapshot, error) {
	cols := make(map[string]any)
	rels := make(map[string][]any)
	for {
		vals, err := m.Values(obj)
		if err != nil {
			return nil, err
		}
		for k, v := range vals {
			if _, ok := cols[k]; !ok {
				cols[k] = v
			}
		}
		for _, r := range m.Rels {
			members, err := m.RelValues(obj, r)
			if err != nil {
				return nil, err
			}
			rels[r.Name] = members
		}
		if m.Extends == "" {
			return &snapshot{cols: cols, rels: rels}, nil
		}
		m = s.registry.Mapper(m.Extends)
	}
}

// changed diffs obj against its snapshot and reports column changes and
// relationship membership changes separately; the latter alone puts the
// object in a flush as listonly.
func (s *Session) changed(obj any) (cols, rels bool, err error) {
	snap := s.snaps[obj]
	if snap == nil {
		return false, false, nil
	}
	m, err := s.registry.MapperOf(obj)
	if err != nil {
		return false, false, err
	}
	for {
		cur, err := m.Values(obj)
		if err != nil {
			return false, false, err
		}
		for k, v := range cur {
			if !equalValue(v, snap.cols[k]) {
				cols = true
			}
		}
		for _, r := range m.Rels {
			members, err := m.RelValues(obj, r)
			if err != nil {
				return false, false, err
			}
			if !sameMembers(members, snap.rels[r.Name]) {
				rels = true
			}
		}
		if (cols && rels) || m.Extends == "" {
			return cols, rels, nil
		}
		m = s.registry.Mapper(m.Extends)
	}
}

// committedCols returns the snapshotted column values of obj, or nil for
// an object with no committed state.
func (s *Session) committedCols(obj any) map[string]any {
	if snap := s.snaps[obj]; snap != nil {
		return snap.cols
	}
	return nil
}

// committedRels returns the snapshotted members of one relationship.
func (s *Session) committedRels(obj any, rel string) []any {
	if snap := s.snaps[obj]; snap != nil {
		return snap.rels[rel]
	}
	return nil
}

// pkChanged reports whether obj's primary key differs from its snapshot,
// the signal that dependent foreign keys must follow the new value.
// committedKey is the identity key the object was last filed under,
// built from the snapshot's primary key values rather than the current
// ones.
func (s *Session) committedKey(obj any, m *schema.Mapper, shard string) (schema.Key, bool) {
	snap := s.snaps[obj]
	if snap == nil {
		return schema.Key{}, false
	}
	pk := m.PrimaryKey()
	parts := make([]string, len(pk))
	for i, c := range pk {
		v, ok := snap.cols[c.Name]
		if !ok {
			return schema.Key{}, false
		}
		parts[i] = fmt.Sprint(v)
	}
	return schema.Key{Label: m.Label, ID: strings.Join(parts, "/"), Shard: shard}, true
}

func (s *Session) pkChanged(obj any, m *schema.Mapper) bool {
	snap := s.snaps[obj]
	if snap == nil {
		return false
	}
	for _, c := range m.PrimaryKey() {
		v, err := m.Get(obj, c.Name)
		if err != nil {
			return false
		}
		if !equalValue(v, snap.cols[c.Name]) {
			return true
		}
	}
	return false
}

// trackedOf returns the live (pending or persistent) objects of a mapper.
func (s *Session) trackedOf(label string) []any {
	var out []any
	for obj, st := range s.states {
		if st != Pending && st != Persistent {
			continue
		}
		if m, err := s.registry.MapperOf(obj); err == nil && m.Label == label {
			out = append(out, obj)
		}
	}
	return out
}

// postFlush advances session state to match the database: deletions drop
// out of the identity map as detached, saves enter it as persistent, and
// every persistent object's snapshot is retaken.
func (s *Session) postFlush(f *flush) error {
	for _, t := range f.tasks {
		if t.mapper == nil {
			continue
		}
		for _, el := range t.allElements() {
			if el.obj == nil {
				continue
			}
			m, err := s.registry.MapperOf(el.obj)
			if err != nil || m != t.mapper {
				continue
			}
			shard := s.shards[el.obj]
			if el.isdelete {
				if key, ok, err := m.IdentityKey(el.obj, shard); err == nil && ok && s.identity[key] == el.obj {
					delete(s.identity, key)
				}
				delete(s.snaps, el.obj)
				delete(s.shards, el.obj)
				s.states[el.obj] = Detached
				continue
			}
			key, ok, err := m.IdentityKey(el.obj, shard)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("uow: %s flushed without an assigned primary key", m.Label)
			}
			// A primary key switch leaves the object filed under its old
			// key; drop that entry before registering the new one.
			if old, ok := s.committedKey(el.obj, m, shard); ok && old != key && s.identity[old] == el.obj {
				delete(s.identity, old)
			}
			s.identity[key] = el.obj
			s.states[el.obj] = Persistent
			s.dropPending(el.obj)
		}
	}
	for obj, st := range s.states {
		if st != Persistent {
			continue
		}
		m, err := s.registry.MapperOf(obj)
		if err != nil {
			return err
		}
		snap, err := s.takeSnapshot(obj, m)
		if err != nil {
			return err
		}
		s.snaps[obj] = snap
	}
	return nil
}

func keyID(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "/")
}

func equalValue(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func sameMembers(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[any]int, len(a))
	for _, x := range a {
		seen[x]++
	}
	for _, x := range b {
		if seen[x] == 0 {
			return false
		}
		seen[x]--
	}
	return true
}
