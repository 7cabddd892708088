package sql

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/unison/dialect"
)

func mockDriver(t *testing.T) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return OpenDB(dialect.MySQL, db), mock
}

func TestDriver_Dialect(t *testing.T) {
	t.Parallel()

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, dialect.MySQL, OpenDB(dialect.MySQL, db).Dialect())
	// Telemetry wrappers register under a prefixed name.
	assert.Equal(t, dialect.Postgres, OpenDB("postgres:otel", db).Dialect())
	assert.Equal(t, "oracle", OpenDB("oracle", db).Dialect())
}

func TestConn_Exec(t *testing.T) {
	t.Parallel()

	drv, mock := mockDriver(t)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM zoos").WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, drv.Exec(ctx, "DELETE FROM zoos", []any{}, nil))

	mock.ExpectExec("DELETE FROM zoos").WillReturnResult(sqlmock.NewResult(0, 2))
	var res sql.Result
	require.NoError(t, drv.Exec(ctx, "DELETE FROM zoos", []any{}, &res))
	affected, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	// Argument and destination types are checked up front.
	err = drv.Exec(ctx, "DELETE FROM zoos", "not a slice", nil)
	require.ErrorContains(t, err, "expect []any for args")
	err = drv.Exec(ctx, "DELETE FROM zoos", []any{}, "bad dest")
	require.ErrorContains(t, err, "expect *sql.Result")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConn_Query(t *testing.T) {
	t.Parallel()

	drv, mock := mockDriver(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT id FROM zoos").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	var rows Rows
	require.NoError(t, drv.Query(ctx, "SELECT id FROM zoos", []any{}, &rows))
	var ids []int64
	for rows.Next() {
		var id int64
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Close())
	assert.Equal(t, []int64{1, 2}, ids)

	err := drv.Query(ctx, "SELECT 1", []any{}, "bad dest")
	require.ErrorContains(t, err, "expect *sql.Rows")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_Tx(t *testing.T) {
	t.Parallel()

	drv, mock := mockDriver(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO zoos").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "INSERT INTO zoos", []any{}, nil))
	require.NoError(t, tx.Commit())

	mock.ExpectBegin()
	mock.ExpectRollback()
	tx, err = drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsDriver(t *testing.T) {
	t.Parallel()

	drv, mock := mockDriver(t)
	var slow []string
	stats := NewStatsDriver(drv,
		WithSlowThreshold(0), // every statement counts as slow
		WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO zoos").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	require.NoError(t, stats.Exec(ctx, "INSERT INTO zoos", []any{}, nil))
	var rows Rows
	require.NoError(t, stats.Query(ctx, "SELECT 1", []any{}, &rows))
	require.NoError(t, rows.Close())

	mock.ExpectExec("BROKEN").WillReturnError(errors.New("syntax error"))
	require.Error(t, stats.Exec(ctx, "BROKEN", []any{}, nil))

	snap := stats.Stats()
	assert.Equal(t, int64(1), snap.Queries)
	assert.Equal(t, int64(2), snap.Execs)
	assert.Equal(t, int64(1), snap.Errors)
	assert.Equal(t, int64(3), snap.Slow)
	assert.Equal(t, []string{"INSERT INTO zoos", "SELECT 1", "BROKEN"}, slow)
	assert.Contains(t, snap.String(), "queries=1 execs=2")

	stats.Reset()
	assert.Zero(t, stats.Stats().Execs)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Transactions count by outcome alongside their statements.
func TestStatsDriver_Tx(t *testing.T) {
	t.Parallel()

	drv, mock := mockDriver(t)
	stats := NewStatsDriver(drv)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO zoos").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()

	tx, err := stats.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "INSERT INTO zoos", []any{}, nil))
	require.NoError(t, tx.Commit())

	tx, err = stats.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	snap := stats.Stats()
	assert.Equal(t, int64(1), snap.Execs)
	assert.Equal(t, int64(2), snap.Begun)
	assert.Equal(t, int64(1), snap.Committed)
	assert.Equal(t, int64(1), snap.RolledBack)
	assert.Contains(t, snap.String(), "tx=2/1/1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsSnapshot_AvgStatementDuration(t *testing.T) {
	t.Parallel()

	assert.Zero(t, StatsSnapshot{}.AvgStatementDuration())
	snap := StatsSnapshot{Queries: 1, Execs: 1, Elapsed: 10 * time.Millisecond}
	assert.Equal(t, int64(2), snap.Statements())
	assert.Equal(t, 5*time.Millisecond, snap.AvgStatementDuration())
}

func TestDebugDriver(t *testing.T) {
	t.Parallel()

	drv, mock := mockDriver(t)
	var buf bytes.Buffer
	dbg := NewDebugDriver(drv, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO zoos").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := dbg.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "INSERT INTO zoos", []any{}, nil))
	require.NoError(t, tx.Commit())

	out := buf.String()
	begin := strings.Index(out, "begin transaction")
	exec := strings.Index(out, `msg="tx exec" query="INSERT INTO zoos"`)
	commit := strings.Index(out, "commit transaction")
	require.True(t, begin >= 0 && exec >= 0 && commit >= 0, out)
	assert.True(t, begin < exec && exec < commit, "boundaries log in order")
	require.NoError(t, mock.ExpectationsWereMet())
}
