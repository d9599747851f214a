package core

import "time"

// Store defines the interface for state management operations.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Saved filter operations, keyed by DataContainer.ID()
	SaveFilter(containerID string, filter *DataFilter) error
	GetFilter(containerID string) (*DataFilter, error)
	ListFilters() ([]*SavedFilter, error)
	DeleteFilter(containerID string) error

	// Script run operations
	CreateRun(connection string, queries int) (*Run, error)
	CompleteRun(id string, status RunStatus, stats ExecutionStatistics, errMsg string) error
	GetRun(id string) (*Run, error)
	ListRuns(limit int) ([]*Run, error)

	// Per-query operations
	RecordQueryRun(qr *QueryRun) error
	GetQueryRunsForRun(runID string) ([]*QueryRun, error)
}

// RunStatus represents the status of a script run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run represents one script execution.
type Run struct {
	ID           string
	Connection   string
	Status       RunStatus
	Queries      int
	RowsAffected int64
	StartedAt    time.Time
	CompletedAt  *time.Time
	Error        string
}

// QueryRunStatus represents the status of an individual query.
type QueryRunStatus string

// Query run status constants.
const (
	QueryRunStatusSuccess QueryRunStatus = "success"
	QueryRunStatusFailed  QueryRunStatus = "failed"
)

// QueryRun represents a single query within a run.
type QueryRun struct {
	ID           string
	RunID        string
	Position     int
	Text         string
	Status       QueryRunStatus
	RowsAffected int64
	RowsFetched  int64
	ExecutionMS  int64
	Error        string
}

// SavedFilter is a filter stored under a container identity.
type SavedFilter struct {
	ContainerID string
	Filter      *DataFilter
	UpdatedAt   time.Time
}
