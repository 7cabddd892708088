package unison

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrFlushInProgress is returned when a session operation that mutates
	// tracked state is attempted while a flush is executing.
	ErrFlushInProgress = errors.New("unison: flush already in progress")

	// ErrNotTracked is returned when an operation requires an object that is
	// known to the session, but the object was never added to it.
	ErrNotTracked = errors.New("unison: object not tracked by session")
)

// ConfigError reports an invalid mapper or relationship configuration.
// It is raised at registry-build time, before any flush runs.
type ConfigError struct {
	Entity string // entity label the configuration belongs to
	Rel    string // relationship name, if the error concerns one
	Reason string
}

// Error returns the error string.
func (e *ConfigError) Error() string {
	if e.Rel != "" {
		return fmt.Sprintf("unison: invalid configuration for %s.%s: %s", e.Entity, e.Rel, e.Reason)
	}
	return fmt.Sprintf("unison: invalid configuration for %s: %s", e.Entity, e.Reason)
}

// NewConfigError returns a new ConfigError for the given entity.
func NewConfigError(entity, rel, reason string) *ConfigError {
	return &ConfigError{Entity: entity, Rel: rel, Reason: reason}
}

// IsConfigError returns true if the error is a ConfigError.
func IsConfigError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConfigError
	return errors.As(err, &e)
}

// CycleError reports a dependency cycle found by the topological sorter
// when cycles were not permitted by the caller.
type CycleError struct {
	Self  bool     // true for a self-referential dependency (x -> x)
	Edges []string // textual form of the edges participating in the cycle
}

// Error returns the error string.
func (e *CycleError) Error() string {
	if e.Self {
		return fmt.Sprintf("unison: self-referential dependency detected: %s", strings.Join(e.Edges, ", "))
	}
	return fmt.Sprintf("unison: circular dependency detected: %s", strings.Join(e.Edges, ", "))
}

// IsCycleError returns true if the error is a CycleError.
func IsCycleError(err error) bool {
	if err == nil {
		return false
	}
	var e *CycleError
	return errors.As(err, &e)
}

// IllegalStateError reports a flush state-machine transition that did not
// land in its declared target state. It is always fatal and is never
// absorbed by the flush machinery itself.
type IllegalStateError struct {
	Op   string // the flush operation that performed the transition
	From string // state the machine was in when the operation started
	Want string // state the operation declared it would land in
	Got  string // state actually observed after the operation
}

// Error returns the error string.
func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("unison: illegal state change in %s: landed in %s (declared %s -> %s)",
		e.Op, e.Got, e.From, e.Want)
}

// IsIllegalStateError returns true if the error is an IllegalStateError.
func IsIllegalStateError(err error) bool {
	if err == nil {
		return false
	}
	var e *IllegalStateError
	return errors.As(err, &e)
}

// ConstraintError represents a database constraint violation surfaced
// during flush execution. The whole flush is rolled back when one occurs.
type ConstraintError struct {
	msg  string
	wrap error
}

// Error returns the error string.
func (e *ConstraintError) Error() string {
	return fmt.Sprintf("unison: constraint failed: %s", e.msg)
}

// Unwrap returns the underlying driver error.
func (e *ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError wrapping a driver error.
func NewConstraintError(msg string, wrap error) *ConstraintError {
	return &ConstraintError{msg: msg, wrap: wrap}
}

// IsConstraintError returns true if the error is a ConstraintError.
func IsConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConstraintError
	return errors.As(err, &e)
}

// OrphanError reports a child object whose required parent association was
// removed without a delete-orphan cascade to dispose of it.
type OrphanError struct {
	Entity string // entity label of the orphaned object
	Rel    string // relationship the object was removed from
}

// Error returns the error string.
func (e *OrphanError) Error() string {
	return fmt.Sprintf("unison: %s removed from %s with no delete-orphan cascade and a non-nullable foreign key", e.Entity, e.Rel)
}

// IsOrphanError returns true if the error is an OrphanError.
func IsOrphanError(err error) bool {
	if err == nil {
		return false
	}
	var e *OrphanError
	return errors.As(err, &e)
}

// ConcurrentModificationError reports a row-count mismatch after an UPDATE
// or DELETE, indicating the row was changed by another session.
type ConcurrentModificationError struct {
	Op       string // "update" or "delete"
	Table    string
	Expected int64
	Got      int64
}

// Error returns the error string.
func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("unison: %s on %s matched %d rows, expected %d", e.Op, e.Table, e.Got, e.Expected)
}

// IsConcurrentModificationError returns true if the error is a
// ConcurrentModificationError.
func IsConcurrentModificationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConcurrentModificationError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred while rolling back a failed
// flush. The original flush error remains available via Unwrap.
type RollbackError struct {
	Err error // original error that triggered the rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("unison: rollback failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *RollbackError) Unwrap() error {
	return e.Err
}
