package uow_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/unison/dialect"
	entsql "github.com/syssam/unison/dialect/sql"
	"github.com/syssam/unison/uow"
)

// sqliteSession runs the engine against a real in-memory database, so the
// generated SQL (including the RETURNING key path) is exercised end to end.
func sqliteSession(t *testing.T, ddl ...string) (*uow.Session, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	for _, stmt := range ddl {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	drv := entsql.OpenDB(dialect.SQLite, db)
	return uow.NewSession(zooRegistry(t), uow.WithDriver(drv)), db
}

const (
	zoosDDL    = `CREATE TABLE zoos (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)`
	animalsDDL = `CREATE TABLE animals (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, zoo_id INTEGER, position INTEGER)`
)

func TestSQLite_InsertGraph(t *testing.T) {
	t.Parallel()

	s, db := sqliteSession(t, zoosDDL, animalsDDL)
	leo, ella := &Animal{Name: "leo"}, &Animal{Name: "ella"}
	zoo := &Zoo{Name: "bronx", Animals: []*Animal{leo, ella}}
	require.NoError(t, s.Add(zoo))
	require.NoError(t, s.Flush(context.Background()))

	assert.Equal(t, int64(1), zoo.ID)
	assert.NotZero(t, leo.ID)
	assert.Equal(t, zoo.ID, leo.ZooID)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM animals WHERE zoo_id = ?`, zoo.ID).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSQLite_UpdateAndDelete(t *testing.T) {
	t.Parallel()

	s, db := sqliteSession(t, zoosDDL, animalsDDL)
	leo := &Animal{Name: "leo"}
	zoo := &Zoo{Name: "bronx", Animals: []*Animal{leo}}
	require.NoError(t, s.Add(zoo))
	require.NoError(t, s.Flush(context.Background()))

	zoo.Name = "central park"
	require.NoError(t, s.Flush(context.Background()))

	var name string
	require.NoError(t, db.QueryRow(`SELECT name FROM zoos WHERE id = ?`, zoo.ID).Scan(&name))
	assert.Equal(t, "central park", name)

	// Deleting the zoo nulls the animal's key before the row goes away.
	require.NoError(t, s.Delete(zoo))
	require.NoError(t, s.Flush(context.Background()))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM zoos`).Scan(&n))
	assert.Zero(t, n)
	var zooID sql.NullInt64
	require.NoError(t, db.QueryRow(`SELECT zoo_id FROM animals WHERE id = ?`, leo.ID).Scan(&zooID))
	assert.False(t, zooID.Valid, "the foreign key is SQL NULL")
	assert.Equal(t, uow.Detached, s.StateOf(zoo))
}

func TestSQLite_SecondFlushIsClean(t *testing.T) {
	t.Parallel()

	s, _ := sqliteSession(t, zoosDDL, animalsDDL)
	zoo := &Zoo{Name: "bronx"}
	require.NoError(t, s.Add(zoo))
	require.NoError(t, s.Flush(context.Background()))

	// Nothing changed since the first flush; the second is a no-op.
	dirty, err := s.Dirty()
	require.NoError(t, err)
	assert.Empty(t, dirty)
	require.NoError(t, s.Flush(context.Background()))
}
