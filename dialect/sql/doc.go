// Package sql implements the dialect driver abstraction on database/sql
// and builds the DML statements the flush executor emits.
//
// # Drivers
//
// Open or wrap a *sql.DB and hand the driver to a session:
//
//	drv, err := sql.Open(dialect.Postgres, dsn)
//	sess := uow.NewSession(registry, uow.WithDriver(drv))
//
// NewStatsDriver wraps a driver with statement and transaction
// accounting (counts by kind and outcome, elapsed time, slow statements)
// and NewDebugDriver logs every statement through a slog.Logger; both
// still satisfy dialect.Driver.
//
// # Builders
//
// Insert, Update and Delete build the three statement shapes a flush
// produces. Builders collect column/value pairs with ? placeholders and
// Query renders the statement for the configured dialect, quoting
// identifiers and rewriting placeholders to $n for PostgreSQL:
//
//	query, args := sql.Update("animals").
//	    SetDialect(dialect.Postgres).
//	    Set("zoo_id", 2).
//	    Where(sql.EQ("id", 7)).
//	    Query()
//	// UPDATE "animals" SET "zoo_id" = $1 WHERE "id" = $2
//
// Predicates are conjunctions of column comparisons; And joins them the
// way composite association keys require.
//
// # Errors
//
// IsConstraintError and its specific variants classify driver errors
// from PostgreSQL, MySQL and SQLite into constraint violation classes,
// falling back to message matching for drivers that do not expose typed
// errors.
package sql
