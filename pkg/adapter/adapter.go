// Package adapter provides database adapter interfaces and the SQL-backed
// execution source used by the leapgrid result session engine.
//
// Concrete adapters live in pkg/adapters/ subdirectories and register
// themselves on import.
package adapter

import (
	"context"
	"database/sql"

	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/leapstack-labs/leapgrid/pkg/dialect"
)

// Config is an alias for core.AdapterConfig.
type Config = core.AdapterConfig

// Adapter is a database driver binding. SQLSource builds execution contexts
// on its connection pool and renders statements with its dialect.
type Adapter interface {
	// Connect establishes a connection to the database using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the database connection and releases resources.
	Close() error

	// Conn returns the underlying connection pool, nil before Connect.
	Conn() *sql.DB

	// DescribeEntity retrieves columns and key constraints for a table.
	DescribeEntity(ctx context.Context, table string) (*core.Entity, error)

	// ConnectionID returns a stable identity of the target (no credentials).
	ConnectionID() string

	// Dialect returns the SQL dialect configuration for this adapter.
	Dialect() *dialect.Dialect
}
