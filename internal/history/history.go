// Package history keeps the back/forward stack of result states.
package history

import (
	"errors"
	"slices"

	"github.com/leapstack-labs/leapgrid/pkg/core"
)

// ErrOutOfRange is returned when navigating past either end of the history.
var ErrOutOfRange = errors.New("history position out of range")

// DefaultLimit bounds the number of entries when none is configured.
const DefaultLimit = 100

// Navigator is an ordered list of visited states with a current position.
// It is not safe for concurrent use; the session coordinator owns it.
type Navigator struct {
	entries []core.HistoryState
	pos     int
	limit   int
	// target is the entry a navigation fetch is restoring, or -1.
	target int
}

// New creates an empty navigator holding at most limit entries.
func New(limit int) *Navigator {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Navigator{pos: -1, limit: limit, target: -1}
}

// Push records a visited state. A state matching an existing entry's
// container and filter predicates becomes current with its focus row
// refreshed. Otherwise forward entries are dropped and the state appended.
func (n *Navigator) Push(state core.HistoryState) {
	n.target = -1
	for i := range n.entries {
		if n.entries[i].Matches(state) {
			n.entries[i].FocusRow = state.FocusRow
			n.pos = i
			return
		}
	}

	state.Filter = state.Filter.Clone()
	n.entries = append(n.entries[:n.pos+1], state)
	if over := len(n.entries) - n.limit; over > 0 {
		n.entries = slices.Delete(n.entries, 0, over)
	}
	n.pos = len(n.entries) - 1
}

// UpdateFocus refreshes the focus row of the current entry.
func (n *Navigator) UpdateFocus(row int) {
	if n.pos >= 0 {
		n.entries[n.pos].FocusRow = row
	}
}

// Navigate returns the fetch that restores the entry at pos. The page
// covers the stored focus row. The position only moves when the fetched
// state is pushed back, which matches the existing entry; until then Back
// and Forward step from pos.
func (n *Navigator) Navigate(pos, segment int) (core.FetchRequest, error) {
	if pos < 0 || pos >= len(n.entries) {
		return core.FetchRequest{}, ErrOutOfRange
	}
	n.target = pos
	st := n.entries[pos]
	return core.FetchRequest{
		Container:     st.Container,
		Filter:        st.Filter.Clone(),
		MaxRows:       PageFor(st.FocusRow, segment),
		FocusRow:      st.FocusRow,
		SaveToHistory: true,
	}, nil
}

// Back navigates to the entry before the current or pending one.
func (n *Navigator) Back(segment int) (core.FetchRequest, error) {
	return n.Navigate(n.from()-1, segment)
}

// Forward navigates to the entry after the current or pending one.
func (n *Navigator) Forward(segment int) (core.FetchRequest, error) {
	return n.Navigate(n.from()+1, segment)
}

// Abandon forgets a navigation whose fetch failed or was dropped.
func (n *Navigator) Abandon() {
	n.target = -1
}

func (n *Navigator) from() int {
	if n.target >= 0 {
		return n.target
	}
	return n.pos
}

// CanBack reports whether Back would succeed.
func (n *Navigator) CanBack() bool { return n.pos > 0 }

// CanForward reports whether Forward would succeed.
func (n *Navigator) CanForward() bool { return n.pos >= 0 && n.pos < len(n.entries)-1 }

// Position returns the current index, or -1 when empty.
func (n *Navigator) Position() int { return n.pos }

// Len returns the number of entries.
func (n *Navigator) Len() int { return len(n.entries) }

// Entries returns a copy of all entries, oldest first.
func (n *Navigator) Entries() []core.HistoryState {
	out := make([]core.HistoryState, len(n.entries))
	for i, st := range n.entries {
		st.Filter = st.Filter.Clone()
		out[i] = st
	}
	return out
}

// PageFor returns the smallest whole number of segments that includes row.
func PageFor(row, segment int) int {
	if segment <= 0 {
		return 0
	}
	return (max(row, 0)/segment + 1) * segment
}
