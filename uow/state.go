package uow

// State is the lifecycle position of an object relative to a session.
type State uint8

const (
	// Transient objects are unknown to any session.
	Transient State = iota
	// Pending objects are registered for insertion on the next flush.
	Pending
	// Persistent objects are tracked in the identity map and have a
	// committed snapshot to diff against.
	Persistent
	// Deleted objects are registered for deletion on the next flush.
	Deleted
	// Detached objects were persistent once and have been expunged or
	// flushed away.
	Detached
)

func (s State) String() string {
	switch s {
	case Transient:
		return "transient"
	case Pending:
		return "pending"
	case Persistent:
		return "persistent"
	case Deleted:
		return "deleted"
	case Detached:
		return "detached"
	}
	return "unknown"
}

// flushState tracks the progress of a single flush. Every flush method
// declares the state it must start from and the state it must land in;
// landing anywhere else reports an IllegalStateError instead of letting
// a half-built plan execute.
type flushState uint8

const (
	flushNoChange flushState = iota
	flushGraphBuilt
	flushSorted
	flushExecuting
	flushCommitted
	flushRolledBack
)

func (s flushState) String() string {
	switch s {
	case flushNoChange:
		return "no-change"
	case flushGraphBuilt:
		return "graph-built"
	case flushSorted:
		return "sorted"
	case flushExecuting:
		return "executing"
	case flushCommitted:
		return "committed"
	case flushRolledBack:
		return "rolled-back"
	}
	return "unknown"
}
