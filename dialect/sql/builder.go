package sql

import (
	"fmt"
	"strings"

	"github.com/syssam/unison/dialect"
)

// Statement builders for the three DML shapes the flush executor emits.
// Builders collect fragments with ? placeholders; Query rewrites them to
// the dialect's placeholder form.

// InsertBuilder builds an INSERT statement.
type InsertBuilder struct {
	dialect   string
	table     string
	columns   []string
	values    []any
	returning []string
}

// Insert returns a builder for an INSERT into the given table.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// SetDialect sets the dialect the statement is built for.
func (b *InsertBuilder) SetDialect(d string) *InsertBuilder {
	b.dialect = d
	return b
}

// Set adds a column/value pair to the statement.
func (b *InsertBuilder) Set(column string, v any) *InsertBuilder {
	b.columns = append(b.columns, column)
	b.values = append(b.values, v)
	return b
}

// Returning requests the given columns back from the database. Only
// effective on dialects that support RETURNING.
func (b *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	b.returning = append(b.returning, columns...)
	return b
}

// SupportsReturning reports whether the builder's dialect can return
// generated values from an INSERT.
func (b *InsertBuilder) SupportsReturning() bool {
	return b.dialect == dialect.Postgres || b.dialect == dialect.SQLite
}

// Query returns the statement and its arguments.
func (b *InsertBuilder) Query() (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.ident(b.table))
	if len(b.columns) == 0 {
		sb.WriteString(" DEFAULT VALUES")
	} else {
		sb.WriteString(" (")
		for i, c := range b.columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.ident(c))
		}
		sb.WriteString(") VALUES (")
		for i := range b.values {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('?')
		}
		sb.WriteByte(')')
	}
	if len(b.returning) > 0 && b.SupportsReturning() {
		sb.WriteString(" RETURNING ")
		for i, c := range b.returning {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(b.ident(c))
		}
	}
	return rewrite(b.dialect, sb.String()), b.values
}

func (b *InsertBuilder) ident(name string) string { return ident(b.dialect, name) }

// UpdateBuilder builds an UPDATE statement.
type UpdateBuilder struct {
	dialect string
	table   string
	columns []string
	values  []any
	where   *Predicate
}

// Update returns a builder for an UPDATE of the given table.
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// SetDialect sets the dialect the statement is built for.
func (b *UpdateBuilder) SetDialect(d string) *UpdateBuilder {
	b.dialect = d
	return b
}

// Set adds a SET column = value pair.
func (b *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	b.columns = append(b.columns, column)
	b.values = append(b.values, v)
	return b
}

// Where sets the statement predicate, replacing any previous one.
func (b *UpdateBuilder) Where(p *Predicate) *UpdateBuilder {
	b.where = p
	return b
}

// Empty reports whether the builder has no SET pairs.
func (b *UpdateBuilder) Empty() bool { return len(b.columns) == 0 }

// Query returns the statement and its arguments.
func (b *UpdateBuilder) Query() (string, []any) {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(ident(b.dialect, b.table))
	sb.WriteString(" SET ")
	args := make([]any, 0, len(b.values))
	for i, c := range b.columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(ident(b.dialect, c))
		sb.WriteString(" = ?")
		args = append(args, b.values[i])
	}
	if b.where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(b.where.expr(b.dialect))
		args = append(args, b.where.args...)
	}
	return rewrite(b.dialect, sb.String()), args
}

// DeleteBuilder builds a DELETE statement.
type DeleteBuilder struct {
	dialect string
	table   string
	where   *Predicate
}

// Delete returns a builder for a DELETE from the given table.
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// SetDialect sets the dialect the statement is built for.
func (b *DeleteBuilder) SetDialect(d string) *DeleteBuilder {
	b.dialect = d
	return b
}

// Where sets the statement predicate, replacing any previous one.
func (b *DeleteBuilder) Where(p *Predicate) *DeleteBuilder {
	b.where = p
	return b
}

// Query returns the statement and its arguments.
func (b *DeleteBuilder) Query() (string, []any) {
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(ident(b.dialect, b.table))
	var args []any
	if b.where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(b.where.expr(b.dialect))
		args = b.where.args
	}
	return rewrite(b.dialect, sb.String()), args
}

// Predicate is a conjunction of column comparisons.
type Predicate struct {
	exprs []string // with ? placeholders and unquoted idents marked
	cols  []string
	args  []any
}

// EQ returns a column = value predicate.
func EQ(column string, v any) *Predicate {
	return &Predicate{exprs: []string{"= ?"}, cols: []string{column}, args: []any{v}}
}

// And joins predicates with AND.
func And(ps ...*Predicate) *Predicate {
	out := &Predicate{}
	for _, p := range ps {
		if p == nil {
			continue
		}
		out.exprs = append(out.exprs, p.exprs...)
		out.cols = append(out.cols, p.cols...)
		out.args = append(out.args, p.args...)
	}
	return out
}

func (p *Predicate) expr(d string) string {
	parts := make([]string, len(p.exprs))
	for i, e := range p.exprs {
		parts[i] = ident(d, p.cols[i]) + " " + e
	}
	return strings.Join(parts, " AND ")
}

// ident quotes an identifier for the dialect.
func ident(d, name string) string {
	if d == dialect.MySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

// rewrite converts ? placeholders to the dialect's form.
func rewrite(d, query string) string {
	if d != dialect.Postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString(fmt.Sprintf("$%d", n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
