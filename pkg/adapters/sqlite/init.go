// Package sqlite provides the SQLite adapter.
//
// Importing the package registers the adapter as "sqlite" (aliases "sqlite3"):
//
//	import _ "github.com/leapstack-labs/leapgrid/pkg/adapters/sqlite"
package sqlite

import (
	"log/slog"

	"github.com/leapstack-labs/leapgrid/pkg/adapter"
)

func init() {
	adapter.Register("sqlite", func(logger *slog.Logger) adapter.Adapter { return New(logger) }, "sqlite3")
}
