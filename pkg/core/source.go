package core

import "context"

// Purpose tells the source what an execution context is opened for.
type Purpose int

// Execution purposes.
const (
	PurposeUserScript Purpose = iota
	PurposeUserFilter
	PurposeUtil
	PurposeMeta
)

// String returns the string representation of Purpose.
func (p Purpose) String() string {
	switch p {
	case PurposeUserScript:
		return "user script"
	case PurposeUserFilter:
		return "user filter"
	case PurposeUtil:
		return "util"
	case PurposeMeta:
		return "meta"
	default:
		return "unknown"
	}
}

// ExecutionSource opens execution contexts against a live database.
type ExecutionSource interface {
	// OpenSession opens a handle for the given purpose.
	OpenSession(ctx context.Context, purpose Purpose) (ExecutionContext, error)
}

// ExecutionContext is a live handle capable of running queries.
// It may be slow, may fail and honours ctx cancellation on a best-effort basis.
type ExecutionContext interface {
	// Execute runs a query with bound parameters.
	Execute(ctx context.Context, q *Query, params map[string]any) (Cursor, ExecutionStatistics, error)

	// Read opens a cursor over a container with the filter pushed to the server.
	Read(ctx context.Context, container DataContainer, filter *DataFilter, offset, maxRows int) (Cursor, ExecutionStatistics, error)

	// CountRows counts the rows of a container matching filter.
	CountRows(ctx context.Context, container DataContainer, filter *DataFilter) (int64, error)

	// Persist applies actions and reports one outcome per action.
	// A non-nil error means no outcome can be trusted.
	Persist(ctx context.Context, actions []*PersistAction, opts PersistOptions) ([]ActionOutcome, error)

	// DescribeEntity returns metadata for a table container.
	// Query containers yield an entity without keys.
	DescribeEntity(ctx context.Context, container DataContainer) (*Entity, error)

	// Close releases the handle.
	Close() error
}

// Cursor is a forward-only result of an execution.
type Cursor interface {
	// Columns describes the current result set.
	Columns() []Column

	// Fetch skips offset rows then returns up to maxRows rows.
	// A short page means the result set is exhausted.
	Fetch(ctx context.Context, offset, maxRows int) ([][]any, error)

	// NextResultSet advances to the next result set, if any.
	NextResultSet() bool

	// Close releases the cursor.
	Close() error
}
