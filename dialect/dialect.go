// Package dialect defines the database driver abstraction the flush
// executor talks to. Statements are executed through a Driver or, within a
// flush, a Tx; both implement ExecQuerier.
package dialect

import (
	"context"
)

// Supported dialect names.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// ExecQuerier wraps the basic Exec and Query methods.
type ExecQuerier interface {
	// Exec executes a statement that does not return rows. The args are
	// a []any, and v is either nil or a *sql.Result.
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a statement that returns rows, scanning them into v
	// (a *sql.Rows wrapper).
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the minimal interface a database driver exposes to the engine.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	Tx(ctx context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx is a transaction created by a Driver.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

// NopTx returns a Tx whose Commit and Rollback are no-ops, executing
// statements directly on the driver. Useful for tests and for drivers that
// manage transactions externally.
func NopTx(d Driver) Tx {
	return nopTx{d}
}

type nopTx struct {
	ExecQuerier
}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }
