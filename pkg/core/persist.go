package core

import "time"

// ActionKind is the kind of a persist action.
type ActionKind int

// Action kinds, in the order the persister issues them.
const (
	ActionInsert ActionKind = iota
	ActionUpdate
	ActionDelete
)

// String returns the string representation of ActionKind.
func (k ActionKind) String() string {
	switch k {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// PersistAction is a single row change against an entity.
// Values and KeyValues are snapshots taken when the action was built.
type PersistAction struct {
	Kind       ActionKind
	Entity     string
	Columns    []string // columns written by insert/update
	Values     []any
	KeyColumns []string // row identifier for update/delete
	KeyValues  []any
	Returning  []string // generated columns to read back after insert
	RowID      int      // model-local row handle
}

// ActionOutcome is the result of one persist action.
type ActionOutcome struct {
	Action       *PersistAction
	Returned     map[string]any // values read back through RETURNING
	RowsAffected int64
	Err          error
}

// Succeeded reports whether the action applied.
func (o ActionOutcome) Succeeded() bool {
	return o.Err == nil
}

// PersistOptions controls transactional behaviour of a persist call.
type PersistOptions struct {
	// UseSavepoints isolates each action so one failure does not abort the transaction.
	UseSavepoints bool
	// AllOrNothing rolls back every action if any fails.
	AllOrNothing bool
	// Timeout bounds the whole call; zero means none.
	Timeout time.Duration
}
