package db

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/teranos/marketpulse/errors"
)

// Execer is satisfied by *sql.DB, *sql.Tx and *sql.Conn
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Column is one column/value pair of a Row
type Column struct {
	Name  string
	Value any
}

// Row is an ordered list of columns. Order determines the column order of the
// rendered statement, which keeps statements stable for prepared reuse.
type Row []Column

// Set appends a column and returns the extended row
func (r Row) Set(name string, value any) Row {
	return append(r, Column{Name: name, Value: value})
}

// Names returns the column names in order
func (r Row) Names() []string {
	names := make([]string, len(r))
	for i, c := range r {
		names[i] = c.Name
	}
	return names
}

// Values returns the column values in order
func (r Row) Values() []any {
	values := make([]any, len(r))
	for i, c := range r {
		values[i] = c.Value
	}
	return values
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Upsert inserts row into table, or overwrites every non-key column of the row
// already holding the same keyCols values. Columns absent from row, including
// the surrogate id, keep their stored values.
//
// It is one INSERT ... ON CONFLICT DO UPDATE statement, so concurrent writers
// never observe a read-then-write gap. Returns rows affected.
func Upsert(ctx context.Context, exec Execer, table string, keyCols []string, row Row) (int64, error) {
	query, err := UpsertStatement(table, keyCols, row.Names())
	if err != nil {
		return 0, err
	}

	res, err := exec.ExecContext(ctx, query, row.Values()...)
	if err != nil {
		return 0, errors.Wrapf(err, "upsert into %s", table)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(err, "rows affected for %s", table)
	}
	return n, nil
}

// UpsertMany upserts rows in one transaction. Every row must carry the same
// columns in the same order; the statement is prepared once.
func UpsertMany(ctx context.Context, db *sql.DB, table string, keyCols []string, rows []Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	names := rows[0].Names()
	query, err := UpsertStatement(table, keyCols, names)
	if err != nil {
		return 0, err
	}
	for i, r := range rows[1:] {
		if !sameNames(names, r.Names()) {
			return 0, errors.Wrapf(errors.ErrInvalidRequest,
				"row %d of %s has columns %v, want %v", i+1, table, r.Names(), names)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "begin upsert into %s", table)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, errors.Wrapf(err, "prepare upsert into %s", table)
	}
	defer stmt.Close()

	var total int64
	for i, r := range rows {
		res, err := stmt.ExecContext(ctx, r.Values()...)
		if err != nil {
			return 0, errors.Wrapf(err, "upsert row %d into %s", i, table)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrapf(err, "commit upsert into %s", table)
	}
	return total, nil
}

// UpsertStatement renders the SQLite statement used by Upsert, with ?
// placeholders. Every identifier is validated because table and column names
// cannot be bound as parameters.
func UpsertStatement(table string, keyCols, cols []string) (string, error) {
	if !identifierPattern.MatchString(table) {
		return "", errors.Wrapf(errors.ErrInvalidRequest, "invalid table name %q", table)
	}
	if len(keyCols) == 0 {
		return "", errors.Wrapf(errors.ErrInvalidRequest, "upsert into %s needs at least one key column", table)
	}
	if len(cols) == 0 {
		return "", errors.Wrapf(errors.ErrInvalidRequest, "upsert into %s has no columns", table)
	}

	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if !identifierPattern.MatchString(c) {
			return "", errors.Wrapf(errors.ErrInvalidRequest, "invalid column name %q", c)
		}
		if seen[c] {
			return "", errors.Wrapf(errors.ErrInvalidRequest, "duplicate column %q", c)
		}
		seen[c] = true
	}

	isKey := make(map[string]bool, len(keyCols))
	for _, k := range keyCols {
		if !seen[k] {
			return "", errors.Wrapf(errors.ErrInvalidRequest, "key column %q missing from row", k)
		}
		isKey[k] = true
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))
	b.WriteString(") ON CONFLICT(")
	b.WriteString(strings.Join(keyCols, ", "))
	b.WriteString(") DO ")

	var sets []string
	for _, c := range cols {
		if !isKey[c] {
			sets = append(sets, c+" = excluded."+c)
		}
	}
	if len(sets) == 0 {
		// key-only row: nothing to overwrite
		b.WriteString("NOTHING")
	} else {
		b.WriteString("UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	return b.String(), nil
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
