// Copyright (c) 2026 Michael D Henderson. All rights reserved.

package sqlitestore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
)

// Row is one result row: column names mapped to values, in select order.
// Values are whatever the driver returns for the column's storage class
// (int64, float64, string, []byte, nil).
type Row struct {
	columns []string
	values  []any
}

// Columns returns the column names in select order.
func (r Row) Columns() []string {
	return slices.Clone(r.columns)
}

// Len returns the number of columns.
func (r Row) Len() int {
	return len(r.columns)
}

// IsEmpty reports whether the row has no columns. QueryFirstRowOrEmpty
// returns an empty row when nothing matched.
func (r Row) IsEmpty() bool {
	return len(r.columns) == 0
}

// Value returns the i-th value. It panics if i is out of range.
func (r Row) Value(i int) any {
	return r.values[i]
}

// Get returns the value of the first column called name.
func (r Row) Get(name string) (any, bool) {
	i := slices.Index(r.columns, name)
	if i < 0 {
		return nil, false
	}
	return r.values[i], true
}

// Map returns the row as a map. If a name repeats, the first column wins.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i, c := range r.columns {
		if _, ok := m[c]; !ok {
			m[c] = r.values[i]
		}
	}
	return m
}

// MarshalJSON encodes the row as a JSON object, keeping column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Query returns every row of the result. The slice is empty, not nil,
// when nothing matched.
func (db *DB) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	h, err := db.handle()
	if err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}
	return queryRows(ctx, h, 0, query, args...)
}

// QueryFirstRow returns the first row of the result. The boolean is false
// when nothing matched; that is not an error.
func (db *DB) QueryFirstRow(ctx context.Context, query string, args ...any) (Row, bool, error) {
	h, err := db.handle()
	if err != nil {
		return Row{}, false, &QueryError{SQL: query, Err: err}
	}
	return queryFirstRow(ctx, h, query, args...)
}

// QueryFirstRowOrEmpty is QueryFirstRow for callers that want a value in
// every case: when nothing matched it returns an empty row.
func (db *DB) QueryFirstRowOrEmpty(ctx context.Context, query string, args ...any) (Row, error) {
	row, _, err := db.QueryFirstRow(ctx, query, args...)
	return row, err
}

// QueryFirstCell returns the first column of the first row. The boolean is
// false when nothing matched.
func (db *DB) QueryFirstCell(ctx context.Context, query string, args ...any) (any, bool, error) {
	h, err := db.handle()
	if err != nil {
		return nil, false, &QueryError{SQL: query, Err: err}
	}
	return queryFirstCell(ctx, h, query, args...)
}

// QueryColumn returns the values of one column across all rows.
func (db *DB) QueryColumn(ctx context.Context, column, query string, args ...any) ([]any, error) {
	h, err := db.handle()
	if err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}
	return queryColumn(ctx, h, column, query, args...)
}

// Exec runs a statement that returns no rows.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	h, err := db.handle()
	if err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}
	return execStatement(ctx, h, query, args...)
}

// Tx is a transaction on a store with the same helpers as DB.
type Tx struct {
	tx *sql.Tx
}

// Transaction runs fn inside a transaction. The transaction commits if fn
// returns nil and rolls back otherwise.
func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	h, err := db.handle()
	if err != nil {
		return err
	}

	sqlTx, err := h.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Query is DB.Query inside the transaction.
func (tx *Tx) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	return queryRows(ctx, tx.tx, 0, query, args...)
}

// QueryFirstRow is DB.QueryFirstRow inside the transaction.
func (tx *Tx) QueryFirstRow(ctx context.Context, query string, args ...any) (Row, bool, error) {
	return queryFirstRow(ctx, tx.tx, query, args...)
}

// QueryFirstRowOrEmpty is DB.QueryFirstRowOrEmpty inside the transaction.
func (tx *Tx) QueryFirstRowOrEmpty(ctx context.Context, query string, args ...any) (Row, error) {
	row, _, err := queryFirstRow(ctx, tx.tx, query, args...)
	return row, err
}

// QueryFirstCell is DB.QueryFirstCell inside the transaction.
func (tx *Tx) QueryFirstCell(ctx context.Context, query string, args ...any) (any, bool, error) {
	return queryFirstCell(ctx, tx.tx, query, args...)
}

// QueryColumn is DB.QueryColumn inside the transaction.
func (tx *Tx) QueryColumn(ctx context.Context, column, query string, args ...any) ([]any, error) {
	return queryColumn(ctx, tx.tx, column, query, args...)
}

// Exec is DB.Exec inside the transaction.
func (tx *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return execStatement(ctx, tx.tx, query, args...)
}

// queryRows reads up to limit rows; limit <= 0 reads them all.
func queryRows(ctx context.Context, q queryer, limit int, query string, args ...any) ([]Row, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}

	result := []Row{}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, &QueryError{SQL: query, Err: fmt.Errorf("scan: %w", err)}
		}
		result = append(result, Row{columns: columns, values: values})
		if limit > 0 && len(result) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}
	return result, nil
}

func queryFirstRow(ctx context.Context, q queryer, query string, args ...any) (Row, bool, error) {
	rows, err := queryRows(ctx, q, 1, query, args...)
	if err != nil || len(rows) == 0 {
		return Row{}, false, err
	}
	return rows[0], true, nil
}

func queryFirstCell(ctx context.Context, q queryer, query string, args ...any) (any, bool, error) {
	row, ok, err := queryFirstRow(ctx, q, query, args...)
	if err != nil || !ok {
		return nil, false, err
	}
	if row.Len() == 0 {
		return nil, false, nil
	}
	return row.Value(0), true, nil
}

func queryColumn(ctx context.Context, q queryer, column, query string, args ...any) ([]any, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}
	idx := slices.Index(columns, column)
	if idx < 0 {
		return nil, &QueryError{SQL: query, Err: fmt.Errorf("no column %q in result", column)}
	}

	values := []any{}
	dest := make([]any, len(columns))
	for rows.Next() {
		row := make([]any, len(columns))
		for i := range row {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, &QueryError{SQL: query, Err: fmt.Errorf("scan: %w", err)}
		}
		values = append(values, row[idx])
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}
	return values, nil
}

func execStatement(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{SQL: query, Err: err}
	}
	return result, nil
}
