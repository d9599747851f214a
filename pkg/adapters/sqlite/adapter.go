// Package sqlite provides a SQLite database adapter for LeapGrid.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapgrid/pkg/adapter"
	litedialect "github.com/leapstack-labs/leapgrid/pkg/adapters/sqlite/dialect"
	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/leapstack-labs/leapgrid/pkg/dialect"

	_ "modernc.org/sqlite" // sqlite driver
)

// Adapter implements the adapter.Adapter interface for SQLite.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new SQLite adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Dialect returns the SQLite dialect.
func (a *Adapter) Dialect() *dialect.Dialect {
	return litedialect.SQLite
}

// Connect opens the database file. ":memory:" opens a private in-memory
// database on a single connection, since every new connection would
// otherwise see its own empty database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := ParseParams(cfg.Params)
	if err != nil {
		return err
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	a.Logger.Debug("connecting to sqlite", slog.String("path", path))

	db, err := sql.Open("sqlite", buildDSN(path, params))
	if err != nil {
		return core.NewConnectionError("open", fmt.Errorf("failed to open sqlite connection: %w", err))
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return core.NewConnectionError("ping", fmt.Errorf("failed to ping sqlite: %w", err))
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// ConnectionID identifies the database file.
func (a *Adapter) ConnectionID() string {
	path := a.Cfg.Path
	if path == "" {
		path = ":memory:"
	}
	return "sqlite://" + path
}

// DescribeEntity reads columns and keys through the pragma table functions.
func (a *Adapter) DescribeEntity(ctx context.Context, table string) (*core.Entity, error) {
	if a.DB == nil {
		return nil, core.ErrNotConnected
	}
	d := litedialect.SQLite
	schema, name := d.SplitQualified(table)

	rows, err := a.DB.QueryContext(ctx,
		`SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?, ?) ORDER BY cid`,
		name, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entity := &core.Entity{Name: table, Capabilities: adapter.BaseCapabilities(d)}
	pkOrder := map[int]string{}
	for rows.Next() {
		var (
			cid, notNull, pk int
			col              core.Column
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Position = cid + 1
		col.Nullable = notNull == 0
		col.PrimaryKey = pk > 0
		col.Generated = dflt.Valid
		if pk > 0 {
			pkOrder[pk] = col.Name
		}
		entity.Columns = append(entity.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	if len(entity.Columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}

	if len(pkOrder) > 0 {
		pk := core.KeyConstraint{Name: "primary", Kind: core.ConstraintPrimaryKey}
		for i := 1; i <= len(pkOrder); i++ {
			pk.Columns = append(pk.Columns, pkOrder[i])
		}
		// A lone INTEGER PRIMARY KEY is the rowid alias and is filled in on insert.
		if len(pk.Columns) == 1 {
			if i := entity.ColumnIndex(pk.Columns[0]); i >= 0 && isRowidAlias(entity.Columns[i].Type) {
				entity.Columns[i].Generated = true
			}
		}
		entity.Constraints = append(entity.Constraints, pk)
	}

	unique, err := a.uniqueIndexes(ctx, schema, name)
	if err != nil {
		return nil, err
	}
	entity.Constraints = append(entity.Constraints, unique...)
	return entity, nil
}

func isRowidAlias(typ string) bool {
	return strings.EqualFold(typ, "INTEGER")
}

// uniqueIndexes lists unique indexes other than the primary key's.
func (a *Adapter) uniqueIndexes(ctx context.Context, schema, table string) ([]core.KeyConstraint, error) {
	rows, err := a.DB.QueryContext(ctx,
		`SELECT name FROM pragma_index_list(?, ?) WHERE "unique" = 1 AND origin <> 'pk' AND partial = 0 ORDER BY name`,
		table, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query index list: %w", err)
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan index list: %w", err)
		}
		names = append(names, n)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index list: %w", err)
	}

	var out []core.KeyConstraint
	for _, idx := range names {
		cols, err := a.indexColumns(ctx, schema, idx)
		if err != nil {
			return nil, err
		}
		if len(cols) > 0 {
			out = append(out, core.KeyConstraint{Name: idx, Kind: core.ConstraintUnique, Columns: cols})
		}
	}
	return out, nil
}

func (a *Adapter) indexColumns(ctx context.Context, schema, index string) ([]string, error) {
	rows, err := a.DB.QueryContext(ctx,
		`SELECT name FROM pragma_index_info(?, ?) ORDER BY seqno`, index, schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query index %s: %w", index, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []string
	for rows.Next() {
		var n sql.NullString
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan index %s: %w", index, err)
		}
		if !n.Valid {
			// Expression index, cannot address rows by it.
			return nil, nil
		}
		cols = append(cols, n.String)
	}
	return cols, rows.Err()
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
