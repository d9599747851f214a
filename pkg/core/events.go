package core

import (
	"fmt"
	"time"
)

// EventKind tags the payload of an ExecutionEvent.
type EventKind int

// Event kinds.
const (
	EventQueryExec EventKind = iota + 1
	EventTransaction
	EventSession
	EventSavepoint
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	switch k {
	case EventQueryExec:
		return "query"
	case EventTransaction:
		return "transaction"
	case EventSession:
		return "session"
	case EventSavepoint:
		return "savepoint"
	default:
		return "unknown"
	}
}

// ExecutionEvent is a tagged union. Exactly one payload matching Kind is set.
type ExecutionEvent struct {
	Kind        EventKind
	Time        time.Time
	QueryExec   *QueryExecPayload
	Transaction *TransactionPayload
	Session     *SessionPayload
	Savepoint   *SavepointPayload
}

// QueryExecPayload describes a finished statement.
type QueryExecPayload struct {
	Text  string
	Stats ExecutionStatistics
	Err   error
}

// TransactionPayload describes a transaction boundary.
type TransactionPayload struct {
	Action  string // begin, commit, rollback
	Actions int    // persist actions covered
}

// SessionPayload describes an execution context lifecycle change.
type SessionPayload struct {
	Purpose Purpose
	Opened  bool
}

// SavepointPayload describes a savepoint operation.
type SavepointPayload struct {
	Name   string
	Action string // set, release, rollback
}

// EventHandler receives execution events.
type EventHandler func(ExecutionEvent)

// NewQueryExecEvent builds an EventQueryExec event.
func NewQueryExecEvent(text string, stats ExecutionStatistics, err error) ExecutionEvent {
	return ExecutionEvent{Kind: EventQueryExec, Time: time.Now(), QueryExec: &QueryExecPayload{Text: text, Stats: stats, Err: err}}
}

// NewTransactionEvent builds an EventTransaction event.
func NewTransactionEvent(action string, actions int) ExecutionEvent {
	return ExecutionEvent{Kind: EventTransaction, Time: time.Now(), Transaction: &TransactionPayload{Action: action, Actions: actions}}
}

// NewSessionEvent builds an EventSession event.
func NewSessionEvent(purpose Purpose, opened bool) ExecutionEvent {
	return ExecutionEvent{Kind: EventSession, Time: time.Now(), Session: &SessionPayload{Purpose: purpose, Opened: opened}}
}

// NewSavepointEvent builds an EventSavepoint event.
func NewSavepointEvent(name, action string) ExecutionEvent {
	return ExecutionEvent{Kind: EventSavepoint, Time: time.Now(), Savepoint: &SavepointPayload{Name: name, Action: action}}
}

// Format renders the event as a single status line.
func (e ExecutionEvent) Format() string {
	switch {
	case e.Kind == EventQueryExec && e.QueryExec != nil:
		p := e.QueryExec
		if p.Err != nil {
			return fmt.Sprintf("query failed: %v", p.Err)
		}
		if p.Stats.RowsFetched > 0 {
			return fmt.Sprintf("%d row(s) fetched in %s", p.Stats.RowsFetched, p.Stats.TotalTime.Round(time.Millisecond))
		}
		return fmt.Sprintf("%d row(s) affected in %s", p.Stats.RowsAffected, p.Stats.TotalTime.Round(time.Millisecond))
	case e.Kind == EventTransaction && e.Transaction != nil:
		if e.Transaction.Actions > 0 {
			return fmt.Sprintf("transaction %s (%d action(s))", e.Transaction.Action, e.Transaction.Actions)
		}
		return "transaction " + e.Transaction.Action
	case e.Kind == EventSession && e.Session != nil:
		if e.Session.Opened {
			return fmt.Sprintf("%s session opened", e.Session.Purpose)
		}
		return fmt.Sprintf("%s session closed", e.Session.Purpose)
	case e.Kind == EventSavepoint && e.Savepoint != nil:
		return fmt.Sprintf("savepoint %s %s", e.Savepoint.Name, e.Savepoint.Action)
	default:
		return e.Kind.String()
	}
}
