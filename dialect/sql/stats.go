package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syssam/unison/dialect"
)

// StatsDriver wraps a Driver and counts the work a session pushes through
// it: statements by kind, transactions by outcome, time spent, failures,
// and statements over a slowness threshold. The counters are atomics, so
// the per-shard transactions a flush runs concurrently account safely.
type StatsDriver struct {
	*Driver

	queries    atomic.Int64
	execs      atomic.Int64
	errors     atomic.Int64
	slow       atomic.Int64
	elapsed    atomic.Int64 // nanoseconds
	begun      atomic.Int64
	committed  atomic.Int64
	rolledBack atomic.Int64

	threshold time.Duration
	hook      SlowQueryHook
}

// SlowQueryHook receives every statement that ran longer than the
// configured threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, took time.Duration)

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration beyond which a statement counts as
// slow. The default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) { s.threshold = d }
}

// WithSlowQueryHook installs a callback for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) { s.hook = hook }
}

// NewStatsDriver wraps drv with statement and transaction accounting.
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{Driver: drv, threshold: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns a point-in-time reading of the counters.
func (d *StatsDriver) Stats() StatsSnapshot {
	return StatsSnapshot{
		Queries:    d.queries.Load(),
		Execs:      d.execs.Load(),
		Errors:     d.errors.Load(),
		Slow:       d.slow.Load(),
		Elapsed:    time.Duration(d.elapsed.Load()),
		Begun:      d.begun.Load(),
		Committed:  d.committed.Load(),
		RolledBack: d.rolledBack.Load(),
	}
}

// Reset zeroes every counter.
func (d *StatsDriver) Reset() {
	for _, c := range []*atomic.Int64{
		&d.queries, &d.execs, &d.errors, &d.slow,
		&d.elapsed, &d.begun, &d.committed, &d.rolledBack,
	} {
		c.Store(0)
	}
}

func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.record(ctx, &d.queries, query, args, start, err)
	return err
}

func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.record(ctx, &d.execs, query, args, start, err)
	return err
}

// Tx counts the transaction and, through the returned wrapper, its
// statements and outcome.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	d.begun.Add(1)
	return &statsTx{tx: tx, driver: d}, nil
}

func (d *StatsDriver) record(ctx context.Context, counter *atomic.Int64, query string, args any, start time.Time, err error) {
	took := time.Since(start)
	counter.Add(1)
	d.elapsed.Add(int64(took))
	if err != nil {
		d.errors.Add(1)
	}
	if took > d.threshold {
		d.slow.Add(1)
		if d.hook != nil {
			list, _ := args.([]any)
			d.hook(ctx, query, list, took)
		}
	}
}

type statsTx struct {
	tx     dialect.Tx
	driver *StatsDriver
}

func (t *statsTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := t.tx.Query(ctx, query, args, v)
	t.driver.record(ctx, &t.driver.queries, query, args, start, err)
	return err
}

func (t *statsTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := t.tx.Exec(ctx, query, args, v)
	t.driver.record(ctx, &t.driver.execs, query, args, start, err)
	return err
}

func (t *statsTx) Commit() error {
	t.driver.committed.Add(1)
	return t.tx.Commit()
}

func (t *statsTx) Rollback() error {
	t.driver.rolledBack.Add(1)
	return t.tx.Rollback()
}

// StatsSnapshot is one reading of a StatsDriver's counters.
type StatsSnapshot struct {
	Queries    int64
	Execs      int64
	Errors     int64
	Slow       int64
	Begun      int64
	Committed  int64
	RolledBack int64
	Elapsed    time.Duration
}

// Statements is the total statement count across both kinds.
func (s StatsSnapshot) Statements() int64 { return s.Queries + s.Execs }

// AvgStatementDuration averages the elapsed time over the statement count.
func (s StatsSnapshot) AvgStatementDuration() time.Duration {
	if n := s.Statements(); n > 0 {
		return s.Elapsed / time.Duration(n)
	}
	return 0
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("queries=%d execs=%d tx=%d/%d/%d elapsed=%s avg=%s slow=%d errors=%d",
		s.Queries, s.Execs, s.Begun, s.Committed, s.RolledBack,
		s.Elapsed, s.AvgStatementDuration(), s.Slow, s.Errors)
}

// DebugDriver logs every statement and transaction boundary through a
// slog.Logger before handing it to the wrapped driver, the same logger
// shape the session's flush echo uses.
type DebugDriver struct {
	*Driver
	log *slog.Logger
}

// NewDebugDriver wraps drv with statement logging. A nil logger falls
// back to slog.Default.
func NewDebugDriver(drv *Driver, log *slog.Logger) *DebugDriver {
	if log == nil {
		log = slog.Default()
	}
	return &DebugDriver{Driver: drv, log: log}
}

func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.log.Log(ctx, slog.LevelDebug, "driver query", slog.String("query", query), slog.Any("args", args))
	return d.Driver.Query(ctx, query, args, v)
}

func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.log.Log(ctx, slog.LevelDebug, "driver exec", slog.String("query", query), slog.Any("args", args))
	return d.Driver.Exec(ctx, query, args, v)
}

func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	d.log.Log(ctx, slog.LevelDebug, "begin transaction")
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &debugTx{tx: tx, log: d.log}, nil
}

type debugTx struct {
	tx  dialect.Tx
	log *slog.Logger
}

func (t *debugTx) Query(ctx context.Context, query string, args, v any) error {
	t.log.Log(ctx, slog.LevelDebug, "tx query", slog.String("query", query), slog.Any("args", args))
	return t.tx.Query(ctx, query, args, v)
}

func (t *debugTx) Exec(ctx context.Context, query string, args, v any) error {
	t.log.Log(ctx, slog.LevelDebug, "tx exec", slog.String("query", query), slog.Any("args", args))
	return t.tx.Exec(ctx, query, args, v)
}

func (t *debugTx) Commit() error {
	t.log.Log(context.Background(), slog.LevelDebug, "commit transaction")
	return t.tx.Commit()
}

func (t *debugTx) Rollback() error {
	t.log.Log(context.Background(), slog.LevelDebug, "rollback transaction")
	return t.tx.Rollback()
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Tx     = (*statsTx)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
	_ dialect.Tx     = (*debugTx)(nil)
)
