package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/leapstack-labs/leapgrid/pkg/dialect"
)

// BaseSQLAdapter holds the connection pool shared by database/sql adapters
// and implements Close, Conn and information_schema metadata lookup.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    core.AdapterConfig
	Logger *slog.Logger
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.DB.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string) error {
	if b.DB == nil {
		return core.ErrNotConnected
	}
	_, err := b.DB.ExecContext(ctx, sqlStr)
	if err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Conn returns the connection pool.
func (b *BaseSQLAdapter) Conn() *sql.DB {
	return b.DB
}

// DescribeEntityCommon provides a shared implementation of DescribeEntity.
// Uses information_schema with dialect-appropriate placeholders.
// This can be called by concrete adapters to avoid code duplication.
func (b *BaseSQLAdapter) DescribeEntityCommon(ctx context.Context, table string, d *dialect.Dialect) (*core.Entity, error) {
	if b.DB == nil {
		return nil, core.ErrNotConnected
	}

	schema, tableName := d.SplitQualified(table)

	//nolint:gosec // Placeholders are safe - they come from dialect.FormatPlaceholder
	query := fmt.Sprintf(`
		SELECT
			column_name,
			data_type,
			is_nullable,
			ordinal_position,
			column_default
		FROM information_schema.columns
		WHERE table_schema = %s AND table_name = %s
		ORDER BY ordinal_position
	`, d.FormatPlaceholder(1), d.FormatPlaceholder(2))

	rows, err := b.DB.QueryContext(ctx, query, schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entity := &core.Entity{Name: table, Capabilities: BaseCapabilities(d)}
	for rows.Next() {
		var col core.Column
		var nullable string
		var dflt sql.NullString
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &col.Position, &dflt); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Nullable = nullable == "YES"
		col.Generated = dflt.Valid && dflt.String != ""
		entity.Columns = append(entity.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	if len(entity.Columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	constraints, err := b.keyConstraints(ctx, schema, tableName, d)
	if err != nil {
		return nil, err
	}
	entity.Constraints = constraints
	for _, c := range constraints {
		if c.Kind != core.ConstraintPrimaryKey {
			continue
		}
		for _, name := range c.Columns {
			if i := entity.ColumnIndex(name); i >= 0 {
				entity.Columns[i].PrimaryKey = true
			}
		}
	}

	return entity, nil
}

func (b *BaseSQLAdapter) keyConstraints(ctx context.Context, schema, table string, d *dialect.Dialect) ([]core.KeyConstraint, error) {
	//nolint:gosec // Placeholders are safe - they come from dialect.FormatPlaceholder
	query := fmt.Sprintf(`
		SELECT tc.constraint_name, tc.constraint_type, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.table_schema = %s AND tc.table_name = %s
			AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
		ORDER BY tc.constraint_name, kcu.ordinal_position
	`, d.FormatPlaceholder(1), d.FormatPlaceholder(2))

	rows, err := b.DB.QueryContext(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query key constraints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.KeyConstraint
	index := map[string]int{}
	for rows.Next() {
		var name, kind, column string
		if err := rows.Scan(&name, &kind, &column); err != nil {
			return nil, fmt.Errorf("failed to scan key constraint: %w", err)
		}
		i, ok := index[name]
		if !ok {
			k := core.ConstraintUnique
			if kind == "PRIMARY KEY" {
				k = core.ConstraintPrimaryKey
			}
			out = append(out, core.KeyConstraint{Name: name, Kind: k})
			i = len(out) - 1
			index[name] = i
		}
		out[i].Columns = append(out[i].Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating key constraints: %w", err)
	}
	return out, nil
}

// BaseCapabilities returns what any SQL source can do, plus dialect features.
func BaseCapabilities(d *dialect.Dialect) core.Capability {
	caps := core.CapServerOrdering | core.CapServerFiltering | core.CapCount
	if d.Returning {
		caps |= core.CapReturning
	}
	if d.Savepoints {
		caps |= core.CapSavepoints
	}
	return caps
}
