package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures by how far they propagate.
type ErrorKind int

const (
	// KindConnection means the execution context is unavailable. Fatal for the current operation.
	KindConnection ErrorKind = iota + 1
	// KindQuery means a single statement failed. The rest of a script continues.
	KindQuery
	// KindPersistence means a single row failed to apply. Other rows are unaffected.
	KindPersistence
	// KindIdentifier means no unique row identifier could be resolved. Nothing was sent.
	KindIdentifier
	// KindCancelled means the user or a timeout stopped the operation.
	KindCancelled
)

// String returns the string representation of ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindQuery:
		return "query"
	case KindPersistence:
		return "persistence"
	case KindIdentifier:
		return "identifier"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Sentinel errors.
var (
	ErrCancelled      = errors.New("operation cancelled")
	ErrNoUniqueKey    = errors.New("no unique key")
	ErrNotConnected   = errors.New("database connection not established")
	ErrSessionClosed  = errors.New("result session closed")
	ErrRowRemoved     = errors.New("row is marked for deletion")
	ErrRowOutOfRange  = errors.New("row index out of range")
	ErrNoContainer    = errors.New("no data container opened")
	ErrReadOnlyColumn = errors.New("column is read-only")
	ErrRowNotFound    = errors.New("row not found or changed by another session")
	ErrRolledBack     = errors.New("rolled back with the rest of the transaction")
)

// Error is a classified engine error.
type Error struct {
	Kind   ErrorKind
	Op     string // operation that failed, e.g. "fetch", "persist"
	Entity string // entity or container involved, if any
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Entity != "" && e.Err != nil:
		return fmt.Sprintf("%s %s: %s: %v", e.Kind, e.Op, e.Entity, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s %s failed", e.Kind, e.Op)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind alone: errors.Is(err, &Error{Kind: KindIdentifier}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Entity == "" && t.Kind == e.Kind
}

// NewConnectionError wraps err as a connection failure of op.
func NewConnectionError(op string, err error) error {
	return &Error{Kind: KindConnection, Op: op, Err: err}
}

// NewQueryError wraps err as a failure of a single statement.
func NewQueryError(op string, err error) error {
	return &Error{Kind: KindQuery, Op: op, Err: err}
}

// NewPersistenceError wraps err as a failure to apply one row to entity.
func NewPersistenceError(entity string, err error) error {
	return &Error{Kind: KindPersistence, Op: "persist", Entity: entity, Err: err}
}

// NewIdentifierError reports that entity has no usable unique key.
func NewIdentifierError(entity string) error {
	return &Error{Kind: KindIdentifier, Op: "resolve identifier", Entity: entity, Err: ErrNoUniqueKey}
}

// KindOf returns the kind of a classified error.
// Context cancellation is reported as KindCancelled even when unclassified.
func KindOf(err error) (ErrorKind, bool) {
	if err == nil {
		return 0, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	if IsCancelled(err) {
		return KindCancelled, true
	}
	return 0, false
}

// IsCancelled reports whether err stems from cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Cancelled wraps cause so that IsCancelled reports true.
func Cancelled(op string) error {
	return &Error{Kind: KindCancelled, Op: op, Err: ErrCancelled}
}
