// Package duckdb provides the DuckDB adapter.
//
// Importing the package registers the adapter as "duckdb" (aliases "duck"):
//
//	import _ "github.com/leapstack-labs/leapgrid/pkg/adapters/duckdb"
package duckdb

import (
	"log/slog"

	"github.com/leapstack-labs/leapgrid/pkg/adapter"
)

func init() {
	adapter.Register("duckdb", func(logger *slog.Logger) adapter.Adapter { return New(logger) }, "duck")
}
