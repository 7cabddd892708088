package uow

import (
	"context"

	"github.com/syssam/unison/schema"
	"github.com/syssam/unison/topo"
)

// element wraps one object registered with a task. A listonly element is
// present to express ordering and dependency processing only; no row is
// written for it. An element with a nil object is a placeholder carrying
// child tasks produced by a per-object cycle sort.
type element struct {
	obj        any
	listonly   bool
	isdelete   bool
	childtasks []*Task
}

// Task collects the save and delete work for one mapper within a flush,
// together with the dependency processors that must run around it and the
// child tasks executed inside it.
type Task struct {
	label  string
	mapper *schema.Mapper // nil for an association-table stub task

	elements map[any]*element
	order    []any

	deps         []*depInvocation
	cyclicalDeps []*depInvocation

	childtasks []*Task

	// circular replaces this task's execution when it leads a task-level
	// dependency cycle: a per-object re-sort of every task in the cycle.
	circular *Task
}

func newTask(label string, m *schema.Mapper) *Task {
	return &Task{label: label, mapper: m, elements: make(map[any]*element)}
}

// append registers obj with the task, merging flags with any existing
// element: listonly sticks at false, isdelete sticks at true. It reports
// whether the task changed, which feeds the preprocess fixed point.
func (t *Task) append(obj any, listonly, isdelete bool, child *Task) bool {
	el, ok := t.elements[obj]
	if !ok {
		el = &element{obj: obj, listonly: listonly, isdelete: isdelete}
		t.elements[obj] = el
		t.order = append(t.order, obj)
		if child != nil {
			el.childtasks = append(el.childtasks, child)
		}
		return true
	}
	changed := false
	if !listonly && el.listonly {
		el.listonly = false
		changed = true
	}
	if isdelete && !el.isdelete {
		el.isdelete = true
		changed = true
	}
	if child != nil {
		el.childtasks = append(el.childtasks, child)
		changed = true
	}
	return changed
}

func (t *Task) contains(obj any) bool {
	_, ok := t.elements[obj]
	return ok
}

func (t *Task) allElements() []*element {
	out := make([]*element, 0, len(t.order))
	for _, o := range t.order {
		out = append(out, t.elements[o])
	}
	return out
}

func (t *Task) saveElements() []*element {
	var out []*element
	for _, o := range t.order {
		if el := t.elements[o]; !el.isdelete {
			out = append(out, el)
		}
	}
	return out
}

func (t *Task) deleteElements() []*element {
	var out []*element
	for _, o := range t.order {
		if el := t.elements[o]; el.isdelete {
			out = append(out, el)
		}
	}
	return out
}

// objects returns the non-nil objects on the requested branch, listonly
// elements included; dependency processors see the full membership.
func (t *Task) objects(isdelete bool) []any {
	var out []any
	for _, o := range t.order {
		el := t.elements[o]
		if el.obj != nil && el.isdelete == isdelete {
			out = append(out, el.obj)
		}
	}
	return out
}

// isEmpty reports whether executing the task would do no work at all.
func (t *Task) isEmpty() bool {
	return len(t.elements) == 0 && len(t.deps) == 0 && len(t.childtasks) == 0
}

// depInvocation binds a dependency processor to the task whose elements it
// processes. A task's deps run between its saves and its deletes; its
// cyclicalDeps come from a per-object cycle sort and run first and last.
type depInvocation struct {
	proc     processor
	fromTask *Task
}

// branch rebinds the processor to a narrowed task holding the subset of
// elements relevant at one point of a cycle resolution.
func (d *depInvocation) branch(t *Task) *depInvocation {
	return &depInvocation{proc: d.proc, fromTask: t}
}

// preexecute runs both preprocessing halves over the source task's current
// membership. New registrations flip the flush's modified flag, which keeps
// the preprocess loop running until the graph is stable.
func (d *depInvocation) preexecute(f *flush) error {
	if objs := d.fromTask.objects(false); len(objs) > 0 {
		if err := d.proc.preprocess(f, objs, false); err != nil {
			return err
		}
	}
	if objs := d.fromTask.objects(true); len(objs) > 0 {
		if err := d.proc.preprocess(f, objs, true); err != nil {
			return err
		}
	}
	return nil
}

// execute runs one half of the dependency processing over the source
// task's membership.
func (d *depInvocation) execute(ctx context.Context, f *flush, delete bool) error {
	objs := d.fromTask.objects(delete)
	if len(objs) == 0 {
		return nil
	}
	return d.proc.process(ctx, f, objs, delete)
}

// sortCircular rebuilds a cycle of tasks as a single task tree ordered at
// object granularity. Task-level edges that looked circular usually are
// not once individual rows are considered: a parent row and its child row
// never depend on each other both ways. The result executes in place of
// the lead task; it returns nil only when the cycle holds no objects.
func (t *Task) sortCircular(f *flush, cycleTasks []*Task) (*Task, error) {
	cycles := make(map[*Task]bool, len(cycleTasks))
	for _, ct := range cycleTasks {
		cycles[ct] = true
	}

	inCycles := func(d *depInvocation) bool {
		proctask := f.lookupTask(d.proc.targetMapper())
		return cycles[d.fromTask] && proctask != nil && cycles[proctask]
	}

	// Dependency tasks per (object, invocation): the narrowed membership a
	// branched processor runs over at that object's point in the order.
	type depKey struct {
		obj any
		dep *depInvocation
	}
	depTasks := make(map[depKey]*Task)
	depsOf := make(map[any][]*depInvocation)
	depTaskFor := func(obj any, dep *depInvocation) *Task {
		k := depKey{obj, dep}
		dt, ok := depTasks[k]
		if !ok {
			dt = newTask(dep.fromTask.label, dep.fromTask.mapper)
			depTasks[k] = dt
			depsOf[obj] = append(depsOf[obj], dep)
		}
		return dt
	}

	var allobjects []any
	originTask := make(map[any]*Task)
	var extradeps []*depInvocation
	depsByTask := make(map[*Task][]*depInvocation)
	for _, ct := range cycleTasks {
		for _, o := range ct.order {
			if o != nil {
				allobjects = append(allobjects, o)
				originTask[o] = ct
			}
		}
		for _, dep := range ct.deps {
			if !inCycles(dep) {
				extradeps = append(extradeps, dep)
			}
			depsByTask[dep.fromTask] = append(depsByTask[dep.fromTask], dep)
		}
	}

	var tuples [][2]any
	for _, ct := range cycleTasks {
		for _, o := range ct.order {
			el := ct.elements[o]
			if el.obj == nil {
				continue
			}
			for _, dep := range depsByTask[ct] {
				if !inCycles(dep) {
					continue
				}
				hist, err := dep.proc.history(f, el.obj)
				if err != nil {
					return nil, err
				}
				childtask := f.lookupTask(dep.proc.targetMapper())
				for _, o2 := range hist.all() {
					if o2 == nil || childtask == nil || !childtask.contains(o2) {
						continue
					}
					first, second, ok := dep.proc.whoseDependentOnWho(el.obj, o2)
					if ok {
						tuples = append(tuples, [2]any{second, first})
						depTaskFor(first, dep).append(el.obj, false, el.isdelete, nil)
					} else {
						depTaskFor(el.obj, dep).append(el.obj, false, el.isdelete, nil)
					}
				}
			}
		}
	}

	// A true cycle at row granularity cannot be ordered at all; the
	// relationship needs PostUpdate to break it.
	tree, err := topo.Sort(tuples, allobjects, topo.Options{AllowSelfCycles: true})
	if err != nil {
		return nil, err
	}
	if tree.Empty() {
		return nil, nil
	}

	out := newTask(t.label, t.mapper)
	out.deps = extradeps

	// Rebuild a task tree along the object order: runs of objects from the
	// same source task share a child task; each object carries its branched
	// dependency processors as cyclical deps of that child task.
	var build func(node *topo.Node, parent *Task, next map[*Task]*Task)
	build = func(node *topo.Node, parent *Task, next map[*Task]*Task) {
		origin := originTask[node.Item]
		el := origin.elements[node.Item]
		nt, ok := next[origin]
		if !ok {
			nt = newTask(origin.label, origin.mapper)
			next[origin] = nt
			parent.append(nil, false, el.isdelete, nt)
		}
		nt.append(node.Item, el.listonly, el.isdelete, nil)
		for _, dep := range depsOf[node.Item] {
			nt.cyclicalDeps = append(nt.cyclicalDeps, dep.branch(depTasks[depKey{node.Item, dep}]))
		}
		nd := make(map[*Task]*Task)
		for _, c := range node.Children {
			build(&tree.Nodes[c], nt, nd)
		}
	}
	build(&tree.Nodes[tree.Root], out, make(map[*Task]*Task))
	return out, nil
}
