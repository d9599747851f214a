package model

import (
	"slices"

	"github.com/leapstack-labs/leapgrid/pkg/core"
)

// RowState is the edit state of a row.
type RowState int

// Row states. A row is never ADDED and REMOVED at once: deleting an added
// row discards it.
const (
	StateNormal RowState = iota
	StateAdded
	StateModified
	StateRemoved
)

// String returns the string representation of RowState.
func (s RowState) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateAdded:
		return "added"
	case StateModified:
		return "modified"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Row is one fetched or added row. Values is owned by the model; callers
// must use Model.SetCellValue to change it.
type Row struct {
	Values       []any
	State        RowState
	VisualNumber int

	original   []any
	fetchIndex int
	id         int
}

// ID is a handle that stays stable while the row is in the model.
func (r *Row) ID() int {
	return r.id
}

// Value returns the value of column i, or nil when out of range.
func (r *Row) Value(i int) any {
	if i < 0 || i >= len(r.Values) {
		return nil
	}
	return r.Values[i]
}

// Original returns the value of column i as last fetched or persisted.
// Added rows have no original values.
func (r *Row) Original(i int) any {
	if i < 0 || i >= len(r.original) {
		return nil
	}
	return r.original[i]
}

// Changed reports whether column i differs from its original value.
// Every column of an added row counts as changed.
func (r *Row) Changed(i int) bool {
	if r.original == nil {
		return true
	}
	return !sameValue(r.Value(i), r.Original(i))
}

// ChangedColumns returns the indexes of columns that differ from their originals.
func (r *Row) ChangedColumns() []int {
	var out []int
	for i := range r.Values {
		if r.Changed(i) {
			out = append(out, i)
		}
	}
	return out
}

// Snapshot copies the current values.
func (r *Row) Snapshot() []any {
	return slices.Clone(r.Values)
}

func (r *Row) dirty() bool {
	for i := range r.Values {
		if r.Changed(i) {
			return true
		}
	}
	return false
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return core.CompareValues(a, b) == 0
}
