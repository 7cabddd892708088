package uow

import "context"

// execMode selects which half of a task tree to run. Child tasks are
// visited twice: their save half inside the parent's save phase, their
// delete half inside the parent's delete phase, so that child rows exist
// after parent rows and disappear before them.
type execMode uint8

const (
	execFull execMode = iota
	execSaveOnly
	execDeleteOnly
)

func (f *flush) executeTask(ctx context.Context, t *Task, mode execMode) error {
	if t == nil {
		return nil
	}
	if mode != execDeleteOnly {
		if err := f.saveSteps(ctx, t); err != nil {
			return err
		}
	}
	if mode != execSaveOnly {
		if err := f.deleteSteps(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// saveSteps writes the task's rows and runs its dependency processing,
// then descends into the tree children's save halves. A task leading a
// cycle delegates its own work to the per-object replacement task.
func (f *flush) saveSteps(ctx context.Context, t *Task) error {
	if t.circular != nil {
		if err := f.saveSteps(ctx, t.circular); err != nil {
			return err
		}
	} else {
		if err := f.saveTaskObjects(ctx, t); err != nil {
			return err
		}
		if err := f.executeDeps(ctx, t.cyclicalDeps, false); err != nil {
			return err
		}
		if err := f.perElementChildtasks(ctx, t, execSaveOnly); err != nil {
			return err
		}
		if err := f.executeDeps(ctx, t.deps, false); err != nil {
			return err
		}
		if err := f.executeDeps(ctx, t.deps, true); err != nil {
			return err
		}
	}
	for _, child := range t.childtasks {
		if err := f.executeTask(ctx, child, execSaveOnly); err != nil {
			return err
		}
	}
	return nil
}

// deleteSteps unwinds in reverse: tree children's delete halves first,
// then the task's own delete-side dependency processing and row deletes.
func (f *flush) deleteSteps(ctx context.Context, t *Task) error {
	for i := len(t.childtasks) - 1; i >= 0; i-- {
		if err := f.executeTask(ctx, t.childtasks[i], execDeleteOnly); err != nil {
			return err
		}
	}
	if t.circular != nil {
		return f.deleteSteps(ctx, t.circular)
	}
	if err := f.executeDeps(ctx, t.cyclicalDeps, true); err != nil {
		return err
	}
	if err := f.perElementChildtasks(ctx, t, execDeleteOnly); err != nil {
		return err
	}
	return f.deleteTaskObjects(ctx, t)
}

func (f *flush) executeDeps(ctx context.Context, deps []*depInvocation, delete bool) error {
	for _, dep := range deps {
		if err := dep.execute(ctx, f, delete); err != nil {
			return err
		}
	}
	return nil
}

// perElementChildtasks runs the tasks attached to individual elements by a
// cycle resolution, in element order.
func (f *flush) perElementChildtasks(ctx context.Context, t *Task, mode execMode) error {
	for _, el := range t.allElements() {
		for _, child := range el.childtasks {
			if err := f.executeTask(ctx, child, mode); err != nil {
				return err
			}
		}
	}
	return nil
}
