package core

import (
	"sync/atomic"
	"time"
)

// QueryParam is a parameter placeholder found in a query's text.
type QueryParam struct {
	// Name is the parameter name for :name placeholders, empty for positional ? placeholders.
	Name string
	// Index is the 1-based ordinal of the placeholder within the query.
	Index int
	// Offset is the byte offset of the placeholder within the query text.
	Offset int
}

// Query is a single statement extracted from a script.
// Everything except the last execution result is immutable once extracted.
type Query struct {
	Text   string
	Offset int // byte offset of Text within the source script
	Length int
	Params []QueryParam

	last atomic.Pointer[QueryResult]
}

// NewQuery creates a query spanning the whole of text.
func NewQuery(text string) *Query {
	return &Query{Text: text, Length: len(text)}
}

// LastResult returns the result of the most recent execution, or nil.
func (q *Query) LastResult() *QueryResult {
	return q.last.Load()
}

// SetLastResult records the result of an execution.
func (q *Query) SetLastResult(r *QueryResult) {
	q.last.Store(r)
}

// ExecutionStatistics holds counters for one query or an aggregated script.
type ExecutionStatistics struct {
	RowsAffected int64
	RowsFetched  int64
	Statements   int
	ExecuteTime  time.Duration
	FetchTime    time.Duration
	TotalTime    time.Duration
	Warnings     []string
}

// Add accumulates other into s.
func (s *ExecutionStatistics) Add(other ExecutionStatistics) {
	s.RowsAffected += other.RowsAffected
	s.RowsFetched += other.RowsFetched
	s.Statements += other.Statements
	s.ExecuteTime += other.ExecuteTime
	s.FetchTime += other.FetchTime
	s.TotalTime += other.TotalTime
	s.Warnings = append(s.Warnings, other.Warnings...)
}

// Reset clears all counters.
func (s *ExecutionStatistics) Reset() {
	*s = ExecutionStatistics{}
}

// QueryResult is the outcome of executing one query.
// Err is set for a failed query; a failed query never aborts the rest of a script.
type QueryResult struct {
	Query      *Query
	Stats      ExecutionStatistics
	ResultSets int
	Err        error
}

// Failed reports whether the query ended with an error.
func (r *QueryResult) Failed() bool {
	return r != nil && r.Err != nil
}
