// Package dialect provides the DuckDB SQL dialect definition.
// This package is lightweight and has no database driver dependencies,
// so the session engine can render statements without a live connection.
package dialect

import (
	"github.com/leapstack-labs/leapgrid/pkg/dialect"
)

// duckdbReservedWords are the keywords DuckDB refuses as bare column names.
var duckdbReservedWords = []string{
	"all", "analyse", "analyze", "and", "any", "array", "as", "asc", "asymmetric",
	"both", "case", "cast", "check", "collate", "column", "constraint", "create",
	"default", "deferrable", "desc", "describe", "distinct", "do", "else", "end",
	"except", "false", "fetch", "for", "foreign", "from", "grant", "group",
	"having", "in", "initially", "intersect", "into", "lateral", "leading",
	"limit", "not", "null", "offset", "on", "only", "or", "order", "pivot",
	"placing", "primary", "qualify", "references", "returning", "select",
	"show", "some", "summarize", "symmetric", "table", "then", "to", "trailing",
	"true", "union", "unique", "unpivot", "using", "variadic", "when", "where",
	"window", "with",
}

// DuckDB is the DuckDB dialect configuration.
// DuckDB parses SAVEPOINT but does not implement it, so each persist
// action falls back to its own implicit transaction.
var DuckDB = dialect.NewDialect("duckdb").
	Identifiers(`"`, `"`, `""`, dialect.NormCaseInsensitive).
	DefaultSchema("main").
	PlaceholderStyle(dialect.PlaceholderQuestion).
	Returning(true).
	Savepoints(false).
	BoolAsWords(true).
	UnboundedLimit("").
	WithReservedWords(duckdbReservedWords...).
	Build()
