// Package dialect provides the SQLite SQL dialect definition.
package dialect

import (
	"github.com/leapstack-labs/leapgrid/pkg/dialect"
)

var sqliteReservedWords = []string{
	"abort", "add", "all", "alter", "and", "as", "autoincrement", "between",
	"case", "check", "collate", "commit", "constraint", "create", "default",
	"deferrable", "delete", "distinct", "drop", "else", "escape", "except",
	"exists", "foreign", "from", "group", "having", "in", "index", "insert",
	"intersect", "into", "is", "isnull", "join", "limit", "not", "notnull",
	"null", "on", "or", "order", "primary", "references", "returning", "select",
	"set", "table", "then", "to", "transaction", "union", "unique", "update",
	"using", "values", "when", "where",
}

// SQLite is the SQLite dialect configuration. Identifiers compare
// case-insensitively and OFFSET needs a LIMIT, where -1 means unbounded.
var SQLite = dialect.NewDialect("sqlite").
	Identifiers(`"`, `"`, `""`, dialect.NormCaseInsensitive).
	DefaultSchema("main").
	PlaceholderStyle(dialect.PlaceholderQuestion).
	Returning(true).
	Savepoints(true).
	UnboundedLimit("-1").
	WithReservedWords(sqliteReservedWords...).
	Build()
