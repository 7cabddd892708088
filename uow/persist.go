package uow

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/google/uuid"

	"github.com/syssam/unison"
	"github.com/syssam/unison/dialect/sql"
	"github.com/syssam/unison/schema"
)

// assocOp is one association-table row operation, bound to the shard of
// the owning object.
type assocOp struct {
	shard string
	row   map[string]any
}

// saveTaskObjects writes the task's save elements: an INSERT for objects
// with no committed snapshot, otherwise an UPDATE of the changed columns.
// Listonly elements are present for ordering only and write nothing.
func (f *flush) saveTaskObjects(ctx context.Context, t *Task) error {
	if t.mapper == nil {
		return nil
	}
	for _, el := range t.saveElements() {
		if el.obj == nil || el.listonly {
			continue
		}
		var err error
		if f.session.committedCols(el.obj) == nil {
			err = f.insertOne(ctx, t.mapper, el.obj)
		} else {
			err = f.updateOne(ctx, t.mapper, el.obj)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// deleteTaskObjects removes the task's delete elements in reverse
// registration order.
func (f *flush) deleteTaskObjects(ctx context.Context, t *Task) error {
	if t.mapper == nil {
		return nil
	}
	els := t.deleteElements()
	for i := len(els) - 1; i >= 0; i-- {
		el := els[i]
		if el.obj == nil || el.listonly {
			continue
		}
		if err := f.deleteOne(ctx, t.mapper, el.obj); err != nil {
			return err
		}
	}
	return nil
}

func (f *flush) insertOne(ctx context.Context, m *schema.Mapper, obj any) error {
	tx, dlct, err := f.conn(ctx, f.session.shards[obj])
	if err != nil {
		return err
	}
	_, assigned, err := m.PrimaryKeyValues(obj)
	if err != nil {
		return err
	}
	if !assigned {
		for _, c := range m.PrimaryKey() {
			if !c.DefaultUUID {
				continue
			}
			v, err := m.Get(obj, c.Name)
			if err != nil {
				return err
			}
			if isZero(v) {
				if err := m.Set(obj, c.Name, uuid.NewString()); err != nil {
					return err
				}
			}
		}
	}
	vals, err := m.Values(obj)
	if err != nil {
		return err
	}
	b := sql.Insert(m.Table).SetDialect(dlct)
	var autoPK *schema.Column
	for _, c := range m.Columns {
		if c.PrimaryKey && c.AutoIncrement && isZero(vals[c.Name]) {
			autoPK = c
			continue
		}
		b.Set(c.Name, arg(c, vals[c.Name]))
	}
	switch {
	case autoPK != nil && b.SupportsReturning():
		b.Returning(autoPK.Name)
		query, args := b.Query()
		f.logQuery(query, args)
		var rows sql.Rows
		if err := tx.Query(ctx, query, args, &rows); err != nil {
			return f.wrapConstraint(err, m.Table)
		}
		var id int64
		if rows.Next() {
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := m.Set(obj, autoPK.Name, id); err != nil {
			return err
		}
	case autoPK != nil:
		query, args := b.Query()
		f.logQuery(query, args)
		var res sql.Result
		if err := tx.Exec(ctx, query, args, &res); err != nil {
			return f.wrapConstraint(err, m.Table)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if err := m.Set(obj, autoPK.Name, id); err != nil {
			return err
		}
	default:
		query, args := b.Query()
		f.logQuery(query, args)
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return f.wrapConstraint(err, m.Table)
		}
	}
	if !assigned {
		f.assigned = append(f.assigned, assignedPK{mapper: m, obj: obj})
	}
	return nil
}

func (f *flush) updateOne(ctx context.Context, m *schema.Mapper, obj any) error {
	snap := f.session.committedCols(obj)
	cur, err := m.Values(obj)
	if err != nil {
		return err
	}
	tx, dlct, err := f.conn(ctx, f.session.shards[obj])
	if err != nil {
		return err
	}
	b := sql.Update(m.Table).SetDialect(dlct)
	for _, c := range m.Columns {
		if !equalValue(cur[c.Name], snap[c.Name]) {
			b.Set(c.Name, arg(c, cur[c.Name]))
		}
	}
	if b.Empty() {
		return nil
	}
	// The WHERE clause matches the committed key, so a key switch updates
	// the old row to the new value.
	preds := make([]*sql.Predicate, 0, len(m.PrimaryKey()))
	for _, c := range m.PrimaryKey() {
		preds = append(preds, sql.EQ(c.Name, snap[c.Name]))
	}
	b.Where(sql.And(preds...))
	query, args := b.Query()
	f.logQuery(query, args)
	var res sql.Result
	if err := tx.Exec(ctx, query, args, &res); err != nil {
		return f.wrapConstraint(err, m.Table)
	}
	return checkRowcount(res, "update", m.Table)
}

func (f *flush) deleteOne(ctx context.Context, m *schema.Mapper, obj any) error {
	tx, dlct, err := f.conn(ctx, f.session.shards[obj])
	if err != nil {
		return err
	}
	vals := f.session.committedCols(obj)
	if vals == nil {
		vals, err = m.Values(obj)
		if err != nil {
			return err
		}
	}
	preds := make([]*sql.Predicate, 0, len(m.PrimaryKey()))
	for _, c := range m.PrimaryKey() {
		preds = append(preds, sql.EQ(c.Name, vals[c.Name]))
	}
	b := sql.Delete(m.Table).SetDialect(dlct).Where(sql.And(preds...))
	query, args := b.Query()
	f.logQuery(query, args)
	var res sql.Result
	if err := tx.Exec(ctx, query, args, &res); err != nil {
		return f.wrapConstraint(err, m.Table)
	}
	return checkRowcount(res, "delete", m.Table)
}

// postUpdateExec immediately updates the named columns of one row,
// breaking a reference cycle by deferring or pre-clearing a foreign key.
func (f *flush) postUpdateExec(ctx context.Context, m *schema.Mapper, obj any, cols []string) error {
	tx, dlct, err := f.conn(ctx, f.session.shards[obj])
	if err != nil {
		return err
	}
	b := sql.Update(m.Table).SetDialect(dlct)
	for _, col := range cols {
		v, err := m.Get(obj, col)
		if err != nil {
			return err
		}
		b.Set(col, arg(m.Column(col), v))
	}
	snap := f.session.committedCols(obj)
	preds := make([]*sql.Predicate, 0, len(m.PrimaryKey()))
	for _, c := range m.PrimaryKey() {
		v := any(nil)
		if snap != nil {
			v = snap[c.Name]
		}
		if v == nil || isZero(v) {
			if v, err = m.Get(obj, c.Name); err != nil {
				return err
			}
		}
		preds = append(preds, sql.EQ(c.Name, v))
	}
	b.Where(sql.And(preds...))
	query, args := b.Query()
	f.logQuery(query, args)
	var res sql.Result
	if err := tx.Exec(ctx, query, args, &res); err != nil {
		return f.wrapConstraint(err, m.Table)
	}
	return checkRowcount(res, "update", m.Table)
}

func (f *flush) insertAssociationRows(ctx context.Context, p *manyToMany, ops []assocOp) error {
	for _, op := range ops {
		tx, dlct, err := f.conn(ctx, op.shard)
		if err != nil {
			return err
		}
		b := sql.Insert(p.r.SecondaryTable).SetDialect(dlct).
			Set(p.r.SecondaryParentColumn, op.row[p.r.SecondaryParentColumn]).
			Set(p.r.SecondaryTargetColumn, op.row[p.r.SecondaryTargetColumn])
		query, args := b.Query()
		f.logQuery(query, args)
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return f.wrapConstraint(err, p.r.SecondaryTable)
		}
	}
	return nil
}

func (f *flush) deleteAssociationRows(ctx context.Context, p *manyToMany, ops []assocOp) error {
	for _, op := range ops {
		tx, dlct, err := f.conn(ctx, op.shard)
		if err != nil {
			return err
		}
		b := sql.Delete(p.r.SecondaryTable).SetDialect(dlct).Where(sql.And(
			sql.EQ(p.r.SecondaryParentColumn, op.row[p.r.SecondaryParentColumn]),
			sql.EQ(p.r.SecondaryTargetColumn, op.row[p.r.SecondaryTargetColumn]),
		))
		query, args := b.Query()
		f.logQuery(query, args)
		var res sql.Result
		if err := tx.Exec(ctx, query, args, &res); err != nil {
			return f.wrapConstraint(err, p.r.SecondaryTable)
		}
		if err := checkRowcount(res, "delete", p.r.SecondaryTable); err != nil {
			return err
		}
	}
	return nil
}

// wrapConstraint lifts driver constraint violations into the engine's
// error type; other errors pass through untouched.
func (f *flush) wrapConstraint(err error, table string) error {
	if sql.IsConstraintError(err) {
		return unison.NewConstraintError(table, err)
	}
	return err
}

// checkRowcount verifies a statement touched exactly one row. Anything
// else means the row was changed or removed underneath this session.
func checkRowcount(res sql.Result, op, table string) error {
	n, err := res.RowsAffected()
	if err != nil {
		// Not every driver reports row counts.
		return nil
	}
	if n != 1 {
		return &unison.ConcurrentModificationError{Op: op, Table: table, Expected: 1, Got: n}
	}
	return nil
}

func (f *flush) logQuery(query string, args []any) {
	f.log.Debug("flush: exec", slog.String("query", query), slog.Any("args", args))
}

// arg converts a field value to its statement parameter. A nil pointer
// and the zero value of a nullable column both travel as SQL NULL; a set
// pointer passes its element.
func arg(c *schema.Column, v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return rv.Elem().Interface()
	}
	if c.Nullable && rv.IsZero() {
		return nil
	}
	return v
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return !rv.IsValid() || rv.IsZero()
}
