// Package postgres provides the PostgreSQL adapter.
//
// Importing the package registers the adapter as "postgres" (aliases "postgresql", "pg"):
//
//	import _ "github.com/leapstack-labs/leapgrid/pkg/adapters/postgres"
package postgres

import (
	"log/slog"

	"github.com/leapstack-labs/leapgrid/pkg/adapter"
)

func init() {
	adapter.Register("postgres", func(logger *slog.Logger) adapter.Adapter { return New(logger) }, "postgresql", "pg")
}
