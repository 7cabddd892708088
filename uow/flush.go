package uow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/unison"
	"github.com/syssam/unison/dialect"
	"github.com/syssam/unison/schema"
	"github.com/syssam/unison/topo"
)

// flush is one flush attempt: it collects the session's changes into
// tasks, registers relationship edges and processors, preprocesses the
// graph to a fixed point, sorts it and executes it. A flush is built,
// run once and discarded.
type flush struct {
	session *Session
	id      string
	log     *slog.Logger
	state   flushState

	tasks     map[string]*Task
	taskOrder []string
	attached  map[string]bool // folded into a base task, excluded from the sort

	tuples  [][2]any
	edgeSet map[[2]string]bool
	procSet map[string]bool
	regDone map[string]bool

	tree *topo.Tree
	head *Task

	conns    map[string]dialect.Tx
	dialects map[string]string
	assigned []assignedPK

	// modified flips whenever preprocessing grows or upgrades the graph;
	// the preprocess loop runs until a full pass leaves it unset.
	modified bool
}

// assignedPK records a primary key generated during execution, so a
// rollback can clear it again.
type assignedPK struct {
	mapper *schema.Mapper
	obj    any
}

func newFlush(s *Session) *flush {
	id := uuid.NewString()
	return &flush{
		session:  s,
		id:       id,
		log:      s.log.With(slog.String("flush_id", id)),
		tasks:    make(map[string]*Task),
		attached: make(map[string]bool),
		edgeSet:  make(map[[2]string]bool),
		procSet:  make(map[string]bool),
		regDone:  make(map[string]bool),
		conns:    make(map[string]dialect.Tx),
		dialects: make(map[string]string),
	}
}

// step runs one state transition. The body is responsible for landing the
// machine in the declared state; anywhere else is an IllegalStateError,
// and the flush is abandoned rather than executed from a wrong footing.
func (f *flush) step(op string, to flushState, fn func() error) error {
	from := f.state
	if err := fn(); err != nil {
		return err
	}
	if f.state != to {
		return &unison.IllegalStateError{Op: op, From: from.String(), Want: to.String(), Got: f.state.String()}
	}
	return nil
}

// plan builds and sorts the flush without executing it. A session with no
// changes makes no transitions at all and stays in the no-change state.
func (f *flush) plan() error {
	dirty, err := f.session.Dirty()
	if err != nil {
		return err
	}
	deleted := f.session.Deleted()
	if len(f.session.pending) == 0 && len(dirty) == 0 && len(deleted) == 0 {
		return nil
	}
	if err := f.step("build graph", flushGraphBuilt, func() error {
		return f.buildGraph(f.session.New(), dirty, deleted)
	}); err != nil {
		return err
	}
	return f.step("sort tasks", flushSorted, f.sortTasks)
}

// run is the whole flush: plan, execute, then commit or roll back.
func (f *flush) run(ctx context.Context) error {
	if err := f.plan(); err != nil {
		return err
	}
	if f.state == flushNoChange {
		f.log.Debug("flush: no changes")
		return nil
	}
	if f.session.echo {
		f.log.Info("flush plan", slog.String("plan", f.dump().String()))
	}
	if err := f.step("execute", flushExecuting, func() error {
		f.state = flushExecuting
		return nil
	}); err != nil {
		return err
	}
	if execErr := f.executeTask(ctx, f.head, execFull); execErr != nil {
		rbErr := f.step("rollback", flushRolledBack, func() error {
			err := f.rollback()
			f.state = flushRolledBack
			return err
		})
		if rbErr != nil {
			return &unison.RollbackError{Err: errors.Join(execErr, rbErr)}
		}
		f.log.Debug("flush: rolled back", slog.Any("error", execErr))
		return execErr
	}
	return f.step("commit", flushCommitted, func() error {
		if err := f.commit(); err != nil {
			return err
		}
		f.state = flushCommitted
		return nil
	})
}

// buildGraph seeds tasks from the session's changes, then alternates
// relationship registration and dependency preprocessing until the graph
// stops growing: preprocessing pulls reachable objects in, and the objects
// it pulls in may carry relationships of their own.
func (f *flush) buildGraph(pending, dirty, deleted []any) error {
	for _, obj := range pending {
		if _, err := f.registerObject(obj, false, false); err != nil {
			return err
		}
	}
	for _, obj := range dirty {
		cols, rels, err := f.session.changed(obj)
		if err != nil {
			return err
		}
		if _, err := f.registerObject(obj, !cols && rels, false); err != nil {
			return err
		}
	}
	for _, obj := range deleted {
		if _, err := f.registerObject(obj, false, true); err != nil {
			return err
		}
	}
	for {
		f.modified = false
		if err := f.registerRelationships(); err != nil {
			return err
		}
		labels := append([]string(nil), f.taskOrder...)
		for _, label := range labels {
			t := f.tasks[label]
			deps := append([]*depInvocation(nil), t.deps...)
			for _, dep := range deps {
				if err := dep.preexecute(f); err != nil {
					return err
				}
			}
		}
		if !f.modified {
			break
		}
	}
	f.state = flushGraphBuilt
	return nil
}

// registerRelationships registers edges and processors for every task that
// has not had them registered yet.
func (f *flush) registerRelationships() error {
	labels := append([]string(nil), f.taskOrder...)
	for _, label := range labels {
		t := f.tasks[label]
		if t.mapper == nil || f.regDone[label] {
			continue
		}
		f.regDone[label] = true
		for _, r := range t.mapper.Rels {
			newProcessor(t.mapper, r, f.session.registry).register(f)
		}
	}
	return nil
}

// registerObject places obj on its mapper's task. Untracked objects reached
// through relationships are adopted as pending; save-update cascade gating
// happens in the processors before they get here. For a joined-table
// subclass the object is registered with every base task as well, so each
// table in the chain gets its row.
func (f *flush) registerObject(obj any, listonly, isdelete bool) (bool, error) {
	m, err := f.session.registry.MapperOf(obj)
	if err != nil {
		return false, err
	}
	st := f.session.states[obj]
	if st == Transient || st == Detached {
		if isdelete {
			return false, nil
		}
		f.session.states[obj] = Pending
		f.session.pending = append(f.session.pending, obj)
	}
	changed := false
	for {
		if f.taskFor(m).append(obj, listonly, isdelete, nil) {
			changed = true
			f.modified = true
		}
		if m.Extends == "" {
			break
		}
		m = f.session.registry.Mapper(m.Extends)
	}
	return changed, nil
}

// registerDelete registers obj for deletion and cascades over its
// delete-cascading relationships. Recursion stops where registration
// reports no change, which also breaks reference cycles.
func (f *flush) registerDelete(m *schema.Mapper, obj any) error {
	if s := f.session.states[obj]; s != Persistent && s != Deleted {
		return nil
	}
	changed, err := f.registerObject(obj, false, true)
	if err != nil || !changed {
		return err
	}
	for _, r := range m.Rels {
		if !r.Cascade.Delete {
			continue
		}
		members, err := m.RelValues(obj, r)
		if err != nil {
			return err
		}
		target := f.session.registry.Mapper(r.Target)
		for _, c := range members {
			if err := f.registerDelete(target, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// taskFor returns the task for a mapper, creating it if needed. A task for
// a joined-table subclass is created folded into its base task: it
// executes inside the base, between the base's saves and deletes, and the
// base represents it in the topological sort.
func (f *flush) taskFor(m *schema.Mapper) *Task {
	if t, ok := f.tasks[m.Label]; ok {
		return t
	}
	t := newTask(m.Label, m)
	f.tasks[m.Label] = t
	f.taskOrder = append(f.taskOrder, m.Label)
	f.modified = true
	if m.Extends != "" {
		base := f.taskFor(f.session.registry.Mapper(m.Extends))
		base.childtasks = append(base.childtasks, t)
		f.attached[m.Label] = true
	}
	return t
}

// lookupTask returns the existing task for a mapper, or nil.
func (f *flush) lookupTask(m *schema.Mapper) *Task {
	if m == nil {
		return nil
	}
	return f.tasks[m.Label]
}

// stubTask returns the association or post-update stand-in task for a
// relationship: a task with no mapper whose position in the sort orders
// the processing that hangs off it.
func (f *flush) stubTask(p processor) *Task {
	label := p.parentMapper().Label + "." + p.rel().Name
	if r := p.rel(); r.SecondaryTable != "" {
		label = r.SecondaryTable
	}
	if t, ok := f.tasks[label]; ok {
		return t
	}
	t := newTask(label, nil)
	f.tasks[label] = t
	f.taskOrder = append(f.taskOrder, label)
	return t
}

// topoItem resolves the label a task sorts under: a folded subclass task
// is represented by the root of its base chain.
func (f *flush) topoItem(t *Task) string {
	m := t.mapper
	if m == nil {
		return t.label
	}
	for m.Extends != "" {
		m = f.session.registry.Mapper(m.Extends)
	}
	return m.Label
}

// registerDependency records that first's task must be fully processed
// before second's. Edges between distinct tasks of one inheritance chain
// are dropped; the nesting of the folded tasks already orders them. A
// relationship from a task to itself keeps its edge: the resulting self
// cycle is what routes the task through per-object resolution.
func (f *flush) registerDependency(first, second *Task) {
	a, b := f.topoItem(second), f.topoItem(first)
	if a == b && first != second {
		return
	}
	k := [2]string{a, b}
	if f.edgeSet[k] {
		return
	}
	f.edgeSet[k] = true
	f.tuples = append(f.tuples, [2]any{a, b})
}

// registerProcessor attaches a dependency invocation to a task, processing
// the elements of the from task.
func (f *flush) registerProcessor(on *Task, p processor, from *Task) {
	k := on.label + "|" + p.parentMapper().Label + "|" + p.rel().Name
	if f.procSet[k] {
		return
	}
	f.procSet[k] = true
	on.deps = append(on.deps, &depInvocation{proc: p, fromTask: from})
	f.modified = true
}

// sortTasks orders the tasks topologically and nests them into the
// execution tree. Task-level cycles are collapsed and re-sorted at object
// granularity; only a true row-level cycle is an error.
func (f *flush) sortTasks() error {
	var items []any
	for _, label := range f.taskOrder {
		if !f.attached[label] {
			items = append(items, label)
		}
	}
	tree, err := topo.Sort(f.tuples, items, topo.Options{AllowSelfCycles: true, AllowAllCycles: true})
	if err != nil {
		return err
	}
	var build func(i int, parent *Task) error
	build = func(i int, parent *Task) error {
		n := &tree.Nodes[i]
		t := f.tasks[n.Item.(string)]
		if n.Cycles != nil {
			cycleTasks := make([]*Task, 0, len(n.Cycles))
			for _, ci := range n.Cycles {
				cycleTasks = append(cycleTasks, f.tasks[tree.Nodes[ci].Item.(string)])
			}
			circular, err := t.sortCircular(f, cycleTasks)
			if err != nil {
				return err
			}
			t.circular = circular
		}
		if parent == nil {
			f.head = t
		} else {
			parent.childtasks = append(parent.childtasks, t)
		}
		for _, c := range n.Children {
			if err := build(c, t); err != nil {
				return err
			}
		}
		return nil
	}
	if !tree.Empty() {
		if err := build(tree.Root, nil); err != nil {
			return err
		}
	}
	f.tree = tree
	f.state = flushSorted
	return nil
}

// conn returns the open transaction for a shard, starting one on first
// use, along with the shard driver's dialect name.
func (f *flush) conn(ctx context.Context, shard string) (dialect.Tx, string, error) {
	if tx, ok := f.conns[shard]; ok {
		return tx, f.dialects[shard], nil
	}
	d, err := f.session.driver(shard)
	if err != nil {
		return nil, "", err
	}
	tx, err := d.Tx(ctx)
	if err != nil {
		return nil, "", err
	}
	f.conns[shard] = tx
	f.dialects[shard] = d.Dialect()
	return tx, d.Dialect(), nil
}

// commit commits every shard transaction, in parallel when there is more
// than one. Cross-shard atomicity is not provided; a failure here can
// leave other shards committed.
func (f *flush) commit() error {
	g := new(errgroup.Group)
	for _, tx := range f.conns {
		g.Go(tx.Commit)
	}
	return g.Wait()
}

// rollback rolls back every shard transaction and clears the primary keys
// assigned during execution, returning the objects to their pre-flush
// shape.
func (f *flush) rollback() error {
	g := new(errgroup.Group)
	for _, tx := range f.conns {
		g.Go(tx.Rollback)
	}
	err := g.Wait()
	for _, a := range f.assigned {
		if cerr := a.mapper.ClearPrimaryKey(a.obj); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
