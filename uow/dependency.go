package uow

import (
	"context"
	"fmt"

	"github.com/syssam/unison"
	"github.com/syssam/unison/schema"
)

// history is the change record of one relationship on one object: current
// membership diffed against the committed snapshot. Objects never
// snapshotted (pending inserts) report everything as added.
type history struct {
	added     []any
	unchanged []any
	removed   []any
}

func (h *history) all() []any {
	out := make([]any, 0, len(h.added)+len(h.unchanged)+len(h.removed))
	out = append(out, h.added...)
	out = append(out, h.unchanged...)
	out = append(out, h.removed...)
	return out
}

// processor is one relationship's contribution to a flush. Registration
// places task-level edges and invocations; preprocessing pulls reachable
// objects into the flush until the graph stops growing; processing runs
// between the save and delete phases to keep foreign keys and association
// rows in line with object state.
type processor interface {
	rel() *schema.Relationship
	parentMapper() *schema.Mapper
	// targetMapper is the mapper of the objects the processor manages:
	// the relationship's far side.
	targetMapper() *schema.Mapper
	register(f *flush)
	preprocess(f *flush, objs []any, delete bool) error
	process(ctx context.Context, f *flush, objs []any, delete bool) error
	// whoseDependentOnWho orders one (object, related object) pair for a
	// per-object cycle sort; first must be processed before second. Not ok
	// when the pair imposes no row-level ordering.
	whoseDependentOnWho(obj, other any) (first, second any, ok bool)
	history(f *flush, obj any) (*history, error)
}

func newProcessor(parent *schema.Mapper, r *schema.Relationship, reg *schema.Registry) processor {
	base := depBase{parent: parent, target: reg.Mapper(r.Target), r: r}
	switch r.Kind {
	case schema.ManyToOne:
		return &manyToOne{base}
	case schema.ManyToMany:
		return &manyToMany{base}
	default:
		// AssociationObject is a one-to-many whose cascade the registry has
		// already forced to delete, delete-orphan; the association row's
		// dependency on its far endpoint comes from its own many-to-one.
		return &oneToMany{base}
	}
}

type depBase struct {
	parent *schema.Mapper
	target *schema.Mapper
	r      *schema.Relationship
}

func (b *depBase) rel() *schema.Relationship    { return b.r }
func (b *depBase) parentMapper() *schema.Mapper { return b.parent }
func (b *depBase) targetMapper() *schema.Mapper { return b.target }

func (b *depBase) history(f *flush, obj any) (*history, error) {
	cur, err := b.parent.RelValues(obj, b.r)
	if err != nil {
		return nil, err
	}
	prev := f.session.committedRels(obj, b.r.Name)
	inPrev := make(map[any]bool, len(prev))
	for _, p := range prev {
		inPrev[p] = true
	}
	inCur := make(map[any]bool, len(cur))
	h := &history{}
	for _, c := range cur {
		inCur[c] = true
		if inPrev[c] {
			h.unchanged = append(h.unchanged, c)
		} else {
			h.added = append(h.added, c)
		}
	}
	for _, p := range prev {
		if !inCur[p] {
			h.removed = append(h.removed, p)
		}
	}
	return h, nil
}

// checkShard rejects a foreign-key sync across shards; a key generated on
// one connection has no meaning on another.
func (b *depBase) checkShard(f *flush, obj, other any) error {
	if f.session.shards[obj] != f.session.shards[other] {
		return fmt.Errorf("uow: %s.%s: cross-shard reference between %q and %q",
			b.parent.Label, b.r.Name, f.session.shards[obj], f.session.shards[other])
	}
	return nil
}

// registerChild pulls an associated object into the flush. Untracked
// objects come in only over a save-update cascade; anything already
// tracked is registered unconditionally.
func (b *depBase) registerChild(f *flush, child any) error {
	if st := f.session.states[child]; (st == Transient || st == Detached) && !b.r.Cascade.SaveUpdate {
		return nil
	}
	_, err := f.registerObject(child, false, false)
	return err
}

// hasOtherParent reports whether any tracked, undeleted object of the
// parent mapper currently holds child in this relationship. A removed
// child claimed by another parent is a move, not an orphan.
func (b *depBase) hasOtherParent(f *flush, child any) bool {
	for _, obj := range f.session.trackedOf(b.parent.Label) {
		members, err := b.parent.RelValues(obj, b.r)
		if err != nil {
			continue
		}
		for _, m := range members {
			if m == child {
				return true
			}
		}
	}
	return false
}

// oneToMany manages a collection of children carrying the parent's key.
// Parents save before children; children lose or null their key before
// the parent row is deleted.
type oneToMany struct {
	depBase
}

func (p *oneToMany) register(f *flush) {
	parentTask := f.taskFor(p.parent)
	targetTask := f.taskFor(p.target)
	if p.r.PostUpdate {
		stub := f.stubTask(p)
		f.registerDependency(parentTask, stub)
		f.registerDependency(targetTask, stub)
		f.registerProcessor(stub, p, parentTask)
		return
	}
	f.registerDependency(parentTask, targetTask)
	f.registerProcessor(parentTask, p, parentTask)
}

func (p *oneToMany) preprocess(f *flush, objs []any, delete bool) error {
	if delete {
		if p.r.PostUpdate {
			return nil
		}
		nullFKs := !p.r.Cascade.Delete && !p.r.PassiveDeletes
		for _, obj := range objs {
			hist, err := p.history(f, obj)
			if err != nil {
				return err
			}
			for _, child := range hist.removed {
				if p.hasOtherParent(f, child) {
					continue
				}
				if p.r.Cascade.DeleteOrphan {
					if err := f.registerDelete(p.target, child); err != nil {
						return err
					}
				} else if _, err := f.registerObject(child, false, false); err != nil {
					return err
				}
			}
			members := hist.unchanged
			if p.r.Cascade.Delete {
				members = append(members, hist.added...)
			}
			for _, child := range members {
				if p.r.Cascade.Delete {
					if err := f.registerDelete(p.target, child); err != nil {
						return err
					}
				} else if nullFKs {
					if _, err := f.registerObject(child, false, false); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	for _, obj := range objs {
		hist, err := p.history(f, obj)
		if err != nil {
			return err
		}
		for _, child := range hist.added {
			if err := p.registerChild(f, child); err != nil {
				return err
			}
		}
		for _, child := range hist.removed {
			if !p.r.Cascade.DeleteOrphan {
				if _, err := f.registerObject(child, false, false); err != nil {
					return err
				}
			} else if !p.hasOtherParent(f, child) {
				if err := f.registerDelete(p.target, child); err != nil {
					return err
				}
			}
		}
		// A parent key switch or a structural reorder turns otherwise
		// untouched children into updates.
		if f.session.pkChanged(obj, p.parent) {
			for _, child := range hist.unchanged {
				if _, err := f.registerObject(child, false, false); err != nil {
					return err
				}
			}
		}
		if p.r.OrderColumn != "" && p.orderingStructural(hist) {
			for _, child := range hist.unchanged {
				if _, err := f.registerObject(child, false, false); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *oneToMany) process(ctx context.Context, f *flush, objs []any, delete bool) error {
	if delete {
		if !p.r.PostUpdate && (p.r.Cascade.Delete || p.r.PassiveDeletes) {
			return nil
		}
		for _, obj := range objs {
			hist, err := p.history(f, obj)
			if err != nil {
				return err
			}
			for _, child := range append(hist.removed, hist.unchanged...) {
				if p.hasOtherParent(f, child) {
					continue
				}
				if err := p.sync(obj, child, true); err != nil {
					return err
				}
				if err := p.postUpdateFK(ctx, f, child); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, obj := range objs {
		hist, err := p.history(f, obj)
		if err != nil {
			return err
		}
		for _, child := range hist.added {
			if err := p.checkShard(f, obj, child); err != nil {
				return err
			}
			if err := p.sync(obj, child, false); err != nil {
				return err
			}
			if err := p.postUpdateFK(ctx, f, child); err != nil {
				return err
			}
		}
		if f.session.pkChanged(obj, p.parent) {
			for _, child := range hist.unchanged {
				if err := p.sync(obj, child, false); err != nil {
					return err
				}
			}
		}
		for _, child := range hist.removed {
			if !p.r.Cascade.DeleteOrphan && !p.hasOtherParent(f, child) {
				if err := p.sync(obj, child, true); err != nil {
					return err
				}
			}
		}
		if err := p.syncOrdering(f, obj, hist); err != nil {
			return err
		}
	}
	return nil
}

// sync writes the parent's key into the child's foreign-key column, or
// nulls it on clear. Clearing a non-nullable key with nothing set to adopt
// the child is an orphan.
func (p *oneToMany) sync(obj, child any, clear bool) error {
	if clear {
		if col := p.target.Column(p.r.ForeignKey); col != nil && !col.Nullable {
			return &unison.OrphanError{Entity: p.target.Label, Rel: p.parent.Label + "." + p.r.Name}
		}
		return p.target.Set(child, p.r.ForeignKey, nil)
	}
	v, err := p.parent.Get(obj, p.parent.PrimaryKey()[0].Name)
	if err != nil {
		return err
	}
	return p.target.Set(child, p.r.ForeignKey, v)
}

func (p *oneToMany) postUpdateFK(ctx context.Context, f *flush, child any) error {
	if !p.r.PostUpdate || child == nil {
		return nil
	}
	cols := []string{p.r.ForeignKey}
	if p.r.OrderColumn != "" {
		cols = append(cols, p.r.OrderColumn)
	}
	return f.postUpdateExec(ctx, p.target, child, cols)
}

// orderingStructural reports whether the collection change requires
// renumbering untouched members: a removal, an insertion before existing
// members, or an explicit reorder-on-append policy. A plain append only
// numbers the new tail.
func (p *oneToMany) orderingStructural(hist *history) bool {
	if len(hist.removed) > 0 || p.r.ReorderOnAppend {
		return true
	}
	return false
}

func (p *oneToMany) syncOrdering(f *flush, obj any, hist *history) error {
	if p.r.OrderColumn == "" {
		return nil
	}
	cur, err := p.parent.RelValues(obj, p.r)
	if err != nil {
		return err
	}
	added := make(map[any]bool, len(hist.added))
	for _, a := range hist.added {
		added[a] = true
	}
	structural := p.orderingStructural(hist)
	if !structural {
		sawAdded := false
		for _, c := range cur {
			if added[c] {
				sawAdded = true
			} else if sawAdded {
				structural = true
				break
			}
		}
	}
	n := len(cur)
	num := p.r.OrderFunc
	if num == nil {
		num = schema.CountFrom0
	}
	for i, c := range cur {
		if !structural && !added[c] {
			continue
		}
		if err := p.target.Set(c, p.r.OrderColumn, num(i, n)); err != nil {
			return err
		}
	}
	return nil
}

func (p *oneToMany) whoseDependentOnWho(obj, other any) (any, any, bool) {
	if obj == other || p.r.PostUpdate {
		return nil, nil, false
	}
	return obj, other, true
}

// manyToOne manages a scalar reference whose key lives on the declaring
// side. The referenced object saves first; on delete the reference row is
// removed before its target.
type manyToOne struct {
	depBase
}

func (p *manyToOne) register(f *flush) {
	parentTask := f.taskFor(p.parent)
	targetTask := f.taskFor(p.target)
	if p.r.PostUpdate {
		stub := f.stubTask(p)
		f.registerDependency(targetTask, stub)
		f.registerDependency(parentTask, stub)
		f.registerProcessor(stub, p, parentTask)
		return
	}
	f.registerDependency(targetTask, parentTask)
	f.registerProcessor(targetTask, p, parentTask)
}

func (p *manyToOne) preprocess(f *flush, objs []any, delete bool) error {
	if delete {
		if !p.r.Cascade.Delete {
			return nil
		}
		for _, obj := range objs {
			hist, err := p.history(f, obj)
			if err != nil {
				return err
			}
			for _, child := range append(hist.removed, hist.unchanged...) {
				if err := f.registerDelete(p.target, child); err != nil {
					return err
				}
			}
		}
		return nil
	}
	for _, obj := range objs {
		hist, err := p.history(f, obj)
		if err != nil {
			return err
		}
		for _, child := range hist.added {
			if err := p.registerChild(f, child); err != nil {
				return err
			}
		}
		if p.r.Cascade.DeleteOrphan {
			for _, child := range hist.removed {
				if !p.hasOtherParent(f, child) {
					if err := f.registerDelete(p.target, child); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (p *manyToOne) process(ctx context.Context, f *flush, objs []any, delete bool) error {
	if delete {
		// Post-update breaks the cycle by dereferencing the row in place
		// before deletes run.
		if !p.r.PostUpdate || p.r.Cascade.DeleteOrphan {
			return nil
		}
		for _, obj := range objs {
			if err := p.sync(obj, nil, true); err != nil {
				return err
			}
			if err := f.postUpdateExec(ctx, p.parent, obj, []string{p.r.ForeignKey}); err != nil {
				return err
			}
		}
		return nil
	}
	for _, obj := range objs {
		hist, err := p.history(f, obj)
		if err != nil {
			return err
		}
		for _, child := range hist.added {
			if err := p.checkShard(f, obj, child); err != nil {
				return err
			}
			if err := p.sync(obj, child, false); err != nil {
				return err
			}
			if p.r.PostUpdate {
				if err := f.postUpdateExec(ctx, p.parent, obj, []string{p.r.ForeignKey}); err != nil {
					return err
				}
			}
		}
		if len(hist.added) == 0 && len(hist.removed) > 0 {
			if err := p.sync(obj, nil, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// sync writes the target's key into the declaring object's foreign-key
// column, or nulls it.
func (p *manyToOne) sync(obj, child any, clear bool) error {
	if clear {
		if col := p.parent.Column(p.r.ForeignKey); col != nil && !col.Nullable {
			return &unison.OrphanError{Entity: p.parent.Label, Rel: p.parent.Label + "." + p.r.Name}
		}
		return p.parent.Set(obj, p.r.ForeignKey, nil)
	}
	v, err := p.target.Get(child, p.target.PrimaryKey()[0].Name)
	if err != nil {
		return err
	}
	return p.parent.Set(obj, p.r.ForeignKey, v)
}

func (p *manyToOne) whoseDependentOnWho(obj, other any) (any, any, bool) {
	if obj == other || p.r.PostUpdate {
		return nil, nil, false
	}
	return other, obj, true
}

// manyToMany manages association-table rows. Both endpoints save before
// the rows are inserted; rows are removed before either endpoint deletes.
// No object-level code runs for the table itself, so the processor hangs
// off a stub task both endpoints and row maintenance order around.
type manyToMany struct {
	depBase
}

func (p *manyToMany) register(f *flush) {
	parentTask := f.taskFor(p.parent)
	targetTask := f.taskFor(p.target)
	stub := f.stubTask(p)
	f.registerDependency(parentTask, stub)
	f.registerDependency(targetTask, stub)
	f.registerProcessor(stub, p, parentTask)
}

func (p *manyToMany) preprocess(f *flush, objs []any, delete bool) error {
	if delete {
		return nil
	}
	for _, obj := range objs {
		hist, err := p.history(f, obj)
		if err != nil {
			return err
		}
		for _, child := range hist.added {
			if err := p.registerChild(f, child); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *manyToMany) process(ctx context.Context, f *flush, objs []any, delete bool) error {
	var inserts, deletes []assocOp
	for _, obj := range objs {
		hist, err := p.history(f, obj)
		if err != nil {
			return err
		}
		shard := f.session.shards[obj]
		if delete {
			for _, child := range append(hist.added, hist.unchanged...) {
				row, err := p.row(obj, child)
				if err != nil {
					return err
				}
				deletes = append(deletes, assocOp{shard: shard, row: row})
			}
			continue
		}
		for _, child := range hist.added {
			row, err := p.row(obj, child)
			if err != nil {
				return err
			}
			inserts = append(inserts, assocOp{shard: shard, row: row})
		}
		for _, child := range hist.removed {
			row, err := p.row(obj, child)
			if err != nil {
				return err
			}
			deletes = append(deletes, assocOp{shard: shard, row: row})
		}
	}
	if len(deletes) > 0 {
		if err := f.deleteAssociationRows(ctx, p, deletes); err != nil {
			return err
		}
	}
	if len(inserts) > 0 {
		if err := f.insertAssociationRows(ctx, p, inserts); err != nil {
			return err
		}
	}
	return nil
}

// row builds one association-table row keyed by both endpoints.
func (p *manyToMany) row(obj, child any) (map[string]any, error) {
	pv, err := p.parent.Get(obj, p.parent.PrimaryKey()[0].Name)
	if err != nil {
		return nil, err
	}
	cv, err := p.target.Get(child, p.target.PrimaryKey()[0].Name)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		p.r.SecondaryParentColumn: pv,
		p.r.SecondaryTargetColumn: cv,
	}, nil
}

func (p *manyToMany) whoseDependentOnWho(obj, other any) (any, any, bool) {
	return nil, nil, false
}
