// Package model holds the editable in-memory copy of a result set.
//
// A Model is not safe for concurrent use. The session coordinator owns it
// and applies every fetch completion and edit from one goroutine.
package model

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapgrid/pkg/core"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Options configures a Model.
type Options struct {
	// ServerOrdering and ServerFiltering say the source applies the filter;
	// when false the model reorders or filters locally.
	ServerOrdering  bool
	ServerFiltering bool
	// Locale selects string collation for local ordering. Empty means root collation.
	Locale string
	Logger *slog.Logger
}

// Model is the result session model.
type Model struct {
	logger   *slog.Logger
	opts     Options
	collator *collate.Collator

	columns []core.Column
	entity  *core.Entity
	filter  *core.DataFilter

	all       []*Row // fetch order, added rows last
	rows      []*Row // display order after local ordering and filtering
	nextFetch int
	nextID    int
}

// New creates an empty model.
func New(opts Options) *Model {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	tag := language.Und
	if opts.Locale != "" {
		if t, err := language.Parse(opts.Locale); err == nil {
			tag = t
		} else {
			opts.Logger.Warn("unknown collation locale", slog.String("locale", opts.Locale))
		}
	}
	return &Model{
		logger:   opts.Logger,
		opts:     opts,
		collator: collate.New(tag),
		filter:   &core.DataFilter{},
	}
}

// SetMetadata replaces the column set and source entity, clearing all rows.
// entity may be nil for results that cannot be edited.
func (m *Model) SetMetadata(columns []core.Column, entity *core.Entity) {
	m.columns = slices.Clone(columns)
	m.entity = entity
	m.all, m.rows = nil, nil
	m.nextFetch = 0
}

// SetEntity replaces the source entity and keeps the rows.
func (m *Model) SetEntity(entity *core.Entity) {
	m.entity = entity
}

// SetServerCapabilities updates whether ordering and filtering are pushed to the source.
func (m *Model) SetServerCapabilities(ordering, filtering bool) {
	m.opts.ServerOrdering = ordering
	m.opts.ServerFiltering = filtering
}

// Columns returns the result columns.
func (m *Model) Columns() []core.Column {
	return m.columns
}

// Entity returns the source entity, or nil.
func (m *Model) Entity() *core.Entity {
	return m.entity
}

// Filter returns a copy of the active filter.
func (m *Model) Filter() *core.DataFilter {
	return m.filter.Clone()
}

// SetData replaces every row with a fresh page.
func (m *Model) SetData(rows [][]any) {
	m.all = nil
	m.nextFetch = 0
	m.AppendData(rows)
}

// AppendData adds an incremental page after the fetched rows.
func (m *Model) AppendData(rows [][]any) {
	fetched := make([]*Row, 0, len(rows))
	for _, values := range rows {
		fetched = append(fetched, &Row{
			Values:     slices.Clone(values),
			original:   slices.Clone(values),
			fetchIndex: m.nextFetch,
			id:         m.newID(),
		})
		m.nextFetch++
	}
	// Added rows keep sorting after fetched ones.
	i := len(m.all)
	for i > 0 && m.all[i-1].State == StateAdded {
		i--
	}
	m.all = slices.Insert(m.all, i, fetched...)
	for _, r := range m.all[i+len(fetched):] {
		r.fetchIndex = m.nextFetch
		m.nextFetch++
	}
	m.rebuild()
}

// Row returns the displayed row at i, or nil when out of range.
func (m *Model) Row(i int) *Row {
	if i < 0 || i >= len(m.rows) {
		return nil
	}
	return m.rows[i]
}

// Rows returns the displayed rows.
func (m *Model) Rows() []*Row {
	return slices.Clone(m.rows)
}

// RowCount returns the number of displayed rows.
func (m *Model) RowCount() int {
	return len(m.rows)
}

// FetchedCount returns how many rows came from the source, including hidden ones.
func (m *Model) FetchedCount() int {
	n := 0
	for _, r := range m.all {
		if r.State != StateAdded {
			n++
		}
	}
	return n
}

// IndexOf returns the display index of r, or -1.
func (m *Model) IndexOf(r *Row) int {
	return slices.Index(m.rows, r)
}

// UpdateDataFilter replaces the active filter. With resetOrdering the new
// filter's ordering is dropped. Ordering and predicates the source cannot
// apply are applied locally.
func (m *Model) UpdateDataFilter(filter *core.DataFilter, resetOrdering bool) {
	f := filter.Clone()
	if f == nil {
		f = &core.DataFilter{}
	}
	if resetOrdering {
		f.ClearOrdering()
	}
	m.filter = f
	m.rebuild()
}

// rebuild recomputes the display order from all rows.
func (m *Model) rebuild() {
	view := make([]*Row, 0, len(m.all))
	for _, r := range m.all {
		if m.opts.ServerFiltering || m.visible(r) {
			view = append(view, r)
		}
	}
	if !m.opts.ServerOrdering {
		m.sortLocal(view)
	} else {
		// The source already returned rows in filter order.
		slices.SortStableFunc(view, func(a, b *Row) int { return a.fetchIndex - b.fetchIndex })
	}
	m.rows = view
	m.renumber()
}

// visible applies the filter's predicates to a row. Added rows are always shown.
func (m *Model) visible(r *Row) bool {
	if r.State == StateAdded {
		return true
	}
	for _, c := range m.filter.Constraints {
		if !c.HasCondition() {
			continue
		}
		i := m.columnIndex(c.Column)
		if i < 0 {
			continue
		}
		if !c.Operator.Match(r.Value(i), c.Values) {
			return false
		}
	}
	return true
}

// sortLocal is a stable sort over the ordered columns with ties broken by
// fetch order. Only the slice of pointers moves.
func (m *Model) sortLocal(view []*Row) {
	type key struct {
		col  int
		desc bool
	}
	var keys []key
	for _, c := range m.filter.OrderedConstraints() {
		if i := m.columnIndex(c.Column); i >= 0 {
			keys = append(keys, key{i, c.OrderDescending})
		}
	}
	slices.SortStableFunc(view, func(a, b *Row) int {
		for _, k := range keys {
			c := m.compare(a.Value(k.col), b.Value(k.col))
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return a.fetchIndex - b.fetchIndex
	})
}

func (m *Model) compare(a, b any) int {
	sa, aok := a.(string)
	sb, bok := b.(string)
	if aok && bok {
		return m.collator.CompareString(sa, sb)
	}
	return core.CompareValues(a, b)
}

func (m *Model) columnIndex(name string) int {
	for i, c := range m.columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

func (m *Model) renumber() {
	for i, r := range m.rows {
		r.VisualNumber = i
	}
}

// AddNewRow inserts an ADDED row at display index (clamped). When copyFrom
// names a displayed row its values are copied, except generated columns,
// which the source fills in.
func (m *Model) AddNewRow(index, copyFrom int) *Row {
	values := make([]any, len(m.columns))
	if src := m.Row(copyFrom); src != nil {
		copy(values, src.Values)
		for i, c := range m.columns {
			if c.Generated {
				values[i] = nil
			}
		}
	}
	r := &Row{Values: values, State: StateAdded, fetchIndex: m.nextFetch, id: m.newID()}
	m.nextFetch++
	m.all = append(m.all, r)

	index = max(0, min(index, len(m.rows)))
	m.rows = slices.Insert(m.rows, index, r)
	m.renumber()
	return r
}

// DeleteRow marks a row REMOVED, or discards it when it was ADDED. It
// returns false when the row was already removed or is not in the model.
func (m *Model) DeleteRow(r *Row) bool {
	if r == nil || r.State == StateRemoved || !slices.Contains(m.all, r) {
		return false
	}
	if r.State == StateAdded {
		m.discard(r)
		return true
	}
	r.State = StateRemoved
	return true
}

func (m *Model) discard(r *Row) {
	m.all = slices.DeleteFunc(m.all, func(x *Row) bool { return x == r })
	m.rows = slices.DeleteFunc(m.rows, func(x *Row) bool { return x == r })
	m.renumber()
}

// SetCellValue changes one cell. A row returns to NORMAL once every cell
// equals its original again.
func (m *Model) SetCellValue(r *Row, col int, v any) error {
	if r == nil || !slices.Contains(m.all, r) {
		return core.ErrRowOutOfRange
	}
	if r.State == StateRemoved {
		return core.ErrRowRemoved
	}
	if col < 0 || col >= len(m.columns) {
		return fmt.Errorf("column %d: %w", col, core.ErrRowOutOfRange)
	}
	if m.entity != nil && m.entity.Name != "" && m.entity.ColumnIndex(m.columns[col].Name) < 0 {
		return fmt.Errorf("column %s: %w", m.columns[col].Name, core.ErrReadOnlyColumn)
	}

	r.Values[col] = v
	if r.State == StateAdded {
		return nil
	}
	if r.dirty() {
		r.State = StateModified
	} else {
		r.State = StateNormal
	}
	return nil
}

// IsDirty reports whether any row has a pending change.
func (m *Model) IsDirty() bool {
	return slices.ContainsFunc(m.all, func(r *Row) bool { return r.State != StateNormal })
}

// Pending partitions dirty rows by state, each in fetch order.
func (m *Model) Pending() (inserts, updates, deletes []*Row) {
	for _, r := range m.all {
		switch r.State {
		case StateAdded:
			inserts = append(inserts, r)
		case StateModified:
			updates = append(updates, r)
		case StateRemoved:
			deletes = append(deletes, r)
		}
	}
	return inserts, updates, deletes
}

// RejectChanges drops added rows and restores the original values of
// modified and removed rows.
func (m *Model) RejectChanges() {
	var kept []*Row
	for _, r := range m.all {
		switch r.State {
		case StateAdded:
			continue
		case StateModified, StateRemoved:
			r.Values = slices.Clone(r.original)
			r.State = StateNormal
		}
		kept = append(kept, r)
	}
	m.all = kept
	m.rebuild()
}

// ErrNotPending is returned when committing a row that has no pending change.
var ErrNotPending = errors.New("row has no pending change")

// CommitRow records that a row's change reached the source. persisted is
// the value snapshot that was sent; returned holds generated values read
// back. Removed rows leave the model. A row edited again after the
// snapshot stays MODIFIED against the persisted values.
func (m *Model) CommitRow(r *Row, persisted []any, returned map[string]any) error {
	if r == nil || !slices.Contains(m.all, r) {
		return core.ErrRowOutOfRange
	}
	switch r.State {
	case StateNormal:
		return ErrNotPending
	case StateRemoved:
		m.discard(r)
		return nil
	}

	base := slices.Clone(persisted)
	if len(base) != len(m.columns) {
		base = r.Snapshot()
	}
	for name, v := range returned {
		if i := m.columnIndex(name); i >= 0 {
			if r.State == StateAdded || sameValue(r.Values[i], base[i]) {
				r.Values[i] = v
			}
			base[i] = v
		}
	}
	wasAdded := r.State == StateAdded
	r.original = base
	r.State = StateNormal
	if r.dirty() {
		r.State = StateModified
	}
	if wasAdded {
		// Now a fetched row as far as ordering is concerned.
		m.rebuild()
	}
	return nil
}

// RefreshRow replaces a row's values and originals, e.g. after re-reading
// generated defaults. Pending edits on the row are lost.
func (m *Model) RefreshRow(r *Row, values []any) {
	if r == nil || len(values) != len(m.columns) {
		return
	}
	r.Values = slices.Clone(values)
	r.original = slices.Clone(values)
	r.State = StateNormal
}

// RowByID returns the row with the given handle, including rows hidden by
// a local filter, or nil.
func (m *Model) RowByID(id int) *Row {
	for _, r := range m.all {
		if r.id == id {
			return r
		}
	}
	return nil
}

func (m *Model) newID() int {
	m.nextID++
	return m.nextID
}

// ColumnIndex finds a column by name, case-insensitively.
func (m *Model) ColumnIndex(name string) int {
	return m.columnIndex(name)
}
