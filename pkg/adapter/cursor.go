package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapgrid/pkg/core"
)

// sqlCursor adapts *sql.Rows to core.Cursor.
type sqlCursor struct {
	rows   *sql.Rows
	cols   []core.Column
	binary []bool
}

func newSQLCursor(rows *sql.Rows) (*sqlCursor, error) {
	c := &sqlCursor{rows: rows}
	if err := c.describe(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	return c, nil
}

func (c *sqlCursor) describe() error {
	types, err := c.rows.ColumnTypes()
	if err != nil {
		return fmt.Errorf("failed to read column types: %w", err)
	}
	c.cols = make([]core.Column, len(types))
	c.binary = make([]bool, len(types))
	for i, t := range types {
		nullable, ok := t.Nullable()
		c.cols[i] = core.Column{
			Name:     t.Name(),
			Type:     t.DatabaseTypeName(),
			Nullable: nullable || !ok,
			Position: i + 1,
		}
		upper := strings.ToUpper(t.DatabaseTypeName())
		c.binary[i] = strings.Contains(upper, "BLOB") || strings.Contains(upper, "BYTEA") || strings.Contains(upper, "BINARY")
	}
	return nil
}

func (c *sqlCursor) Columns() []core.Column {
	return c.cols
}

func (c *sqlCursor) Fetch(ctx context.Context, offset, maxRows int) ([][]any, error) {
	var out [][]any
	for n := 0; maxRows <= 0 || len(out) < maxRows; n++ {
		if n%256 == 0 && ctx.Err() != nil {
			return nil, core.Cancelled("fetch")
		}
		if !c.rows.Next() {
			break
		}
		values := make([]any, len(c.cols))
		ptrs := make([]any, len(c.cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := c.rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if n < offset {
			continue
		}
		for i, v := range values {
			// Convert []byte to string for readability
			if b, ok := v.([]byte); ok && !c.binary[i] {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	if err := c.rows.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, core.Cancelled("fetch")
		}
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func (c *sqlCursor) NextResultSet() bool {
	if !c.rows.NextResultSet() {
		return false
	}
	return c.describe() == nil
}

func (c *sqlCursor) Close() error {
	return c.rows.Close()
}

// emptyCursor is the result of a statement that yields no rows.
type emptyCursor struct{}

func (emptyCursor) Columns() []core.Column                           { return nil }
func (emptyCursor) Fetch(context.Context, int, int) ([][]any, error) { return nil, nil }
func (emptyCursor) NextResultSet() bool                              { return false }
func (emptyCursor) Close() error                                     { return nil }
