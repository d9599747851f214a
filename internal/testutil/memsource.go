package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/leapgrid/pkg/core"
)

// ReadCall records one Read against a MemSource.
type ReadCall struct {
	Container core.DataContainer
	Filter    *core.DataFilter
	Offset    int
	MaxRows   int
}

// MemResult is a scripted outcome for a statement passed to Execute.
type MemResult struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	Err          error
	Delay        time.Duration
	// More holds further result sets; only Columns and Rows are used.
	More []MemResult
}

type memTable struct {
	entity *core.Entity
	rows   [][]any
}

// MemSource is an in-memory core.ExecutionSource for engine tests.
// Reads can be held on Gate, failures injected, and calls are recorded.
type MemSource struct {
	// Gate, when set, blocks every Read until a value is received or the context ends.
	Gate chan struct{}
	// OnRead is called at the start of each Read, before Gate.
	OnRead func(ReadCall)
	// ReadErr fails every Read when set.
	ReadErr error
	// OpenErr fails OpenSession when set.
	OpenErr error
	// FailAction fails a persist action when it returns non-nil.
	FailAction func(*core.PersistAction) error
	// Results scripts Execute by statement text.
	Results map[string]MemResult
	// Caps overrides the capabilities reported for tables.
	Caps core.Capability

	mu        sync.Mutex
	tables    map[string]*memTable
	reads     []ReadCall
	persisted [][]*core.PersistAction
	executed  []string
	sessions  int
	open      int
	nextKey   int64
}

// NewMemSource returns an empty source supporting ordering, filtering, count and RETURNING.
func NewMemSource() *MemSource {
	return &MemSource{
		Caps:    core.CapServerOrdering | core.CapServerFiltering | core.CapCount | core.CapReturning,
		Results: map[string]MemResult{},
		tables:  map[string]*memTable{},
		nextKey: 1000,
	}
}

// AddTable registers a table. key lists primary key columns; empty means no key.
func (s *MemSource) AddTable(name string, columns []string, key []string, rows ...[]any) {
	e := &core.Entity{Name: name}
	for i, c := range columns {
		e.Columns = append(e.Columns, core.Column{
			Name:       c,
			Position:   i + 1,
			Nullable:   !slices.Contains(key, c),
			PrimaryKey: slices.Contains(key, c),
		})
	}
	if len(key) > 0 {
		e.Constraints = []core.KeyConstraint{{Name: name + "_pkey", Kind: core.ConstraintPrimaryKey, Columns: key}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := &memTable{entity: e}
	for _, r := range rows {
		t.rows = append(t.rows, slices.Clone(r))
	}
	s.tables[strings.ToLower(name)] = t
}

// Rows returns a copy of a table's current rows.
func (s *MemSource) Rows(table string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[strings.ToLower(table)]
	if t == nil {
		return nil
	}
	out := make([][]any, len(t.rows))
	for i, r := range t.rows {
		out[i] = slices.Clone(r)
	}
	return out
}

// Reads returns the recorded Read calls.
func (s *MemSource) Reads() []ReadCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.reads)
}

// Persisted returns the action batches passed to Persist.
func (s *MemSource) Persisted() [][]*core.PersistAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.persisted)
}

// PersistedActions flattens every persisted batch.
func (s *MemSource) PersistedActions() []*core.PersistAction {
	var out []*core.PersistAction
	for _, b := range s.Persisted() {
		out = append(out, b...)
	}
	return out
}

// Executed returns statement texts passed to Execute.
func (s *MemSource) Executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.executed)
}

// OpenSessions returns how many sessions are currently open.
func (s *MemSource) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// OpenSession implements core.ExecutionSource.
func (s *MemSource) OpenSession(_ context.Context, purpose core.Purpose) (core.ExecutionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	s.sessions++
	s.open++
	return &memContext{src: s, purpose: purpose}, nil
}

type memContext struct {
	src     *MemSource
	purpose core.Purpose
	closed  bool
}

func (c *memContext) Close() error {
	c.src.mu.Lock()
	defer c.src.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.src.open--
	}
	return nil
}

func (c *memContext) table(container core.DataContainer) (*memTable, error) {
	if container.IsQuery() {
		return nil, core.NewQueryError("read", fmt.Errorf("query containers are not supported"))
	}
	t := c.src.tables[strings.ToLower(container.Name)]
	if t == nil {
		return nil, core.NewQueryError("read", fmt.Errorf("no such table: %s", container.Name))
	}
	return t, nil
}

func (c *memContext) Execute(ctx context.Context, q *core.Query, _ map[string]any) (core.Cursor, core.ExecutionStatistics, error) {
	stats := core.ExecutionStatistics{Statements: 1}
	text := strings.TrimSpace(q.Text)

	c.src.mu.Lock()
	c.src.executed = append(c.src.executed, text)
	res, ok := c.src.Results[text]
	c.src.mu.Unlock()

	if !ok {
		return nil, stats, core.NewQueryError("execute", fmt.Errorf("unexpected statement: %s", text))
	}
	if res.Delay > 0 {
		select {
		case <-time.After(res.Delay):
		case <-ctx.Done():
			return nil, stats, core.Cancelled("execute")
		}
	}
	if res.Err != nil {
		return nil, stats, res.Err
	}
	stats.RowsAffected = res.RowsAffected
	cur := &memCursor{}
	for _, r := range append([]MemResult{res}, res.More...) {
		cols := make([]core.Column, len(r.Columns))
		for i, n := range r.Columns {
			cols[i] = core.Column{Name: n, Position: i + 1, Nullable: true}
		}
		cur.sets = append(cur.sets, memSet{cols: cols, rows: r.Rows})
	}
	return cur, stats, nil
}

func (c *memContext) Read(ctx context.Context, container core.DataContainer, filter *core.DataFilter, offset, maxRows int) (core.Cursor, core.ExecutionStatistics, error) {
	stats := core.ExecutionStatistics{Statements: 1}
	call := ReadCall{Container: container, Filter: filter.Clone(), Offset: offset, MaxRows: maxRows}
	if c.src.OnRead != nil {
		c.src.OnRead(call)
	}
	if c.src.Gate != nil {
		select {
		case <-c.src.Gate:
		case <-ctx.Done():
			return nil, stats, core.Cancelled("read")
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, core.Cancelled("read")
	}

	c.src.mu.Lock()
	defer c.src.mu.Unlock()
	c.src.reads = append(c.src.reads, call)
	if c.src.ReadErr != nil {
		return nil, stats, c.src.ReadErr
	}

	t, err := c.table(container)
	if err != nil {
		return nil, stats, err
	}
	rows, err := selectRows(t, filter)
	if err != nil {
		return nil, stats, err
	}
	rows = page(rows, offset, maxRows)
	return &memCursor{sets: []memSet{{cols: slices.Clone(t.entity.Columns), rows: rows}}}, stats, nil
}

func (c *memContext) CountRows(_ context.Context, container core.DataContainer, filter *core.DataFilter) (int64, error) {
	c.src.mu.Lock()
	defer c.src.mu.Unlock()
	t, err := c.table(container)
	if err != nil {
		return 0, err
	}
	rows, err := selectRows(t, filter)
	return int64(len(rows)), err
}

func (c *memContext) DescribeEntity(_ context.Context, container core.DataContainer) (*core.Entity, error) {
	c.src.mu.Lock()
	defer c.src.mu.Unlock()
	if container.IsQuery() {
		return &core.Entity{Capabilities: c.src.Caps &^ (core.CapReturning | core.CapSavepoints)}, nil
	}
	t, err := c.table(container)
	if err != nil {
		return nil, err
	}
	e := *t.entity
	e.Columns = slices.Clone(e.Columns)
	e.Constraints = slices.Clone(e.Constraints)
	e.Capabilities = c.src.Caps
	return &e, nil
}

func (c *memContext) Persist(ctx context.Context, actions []*core.PersistAction, opts core.PersistOptions) ([]core.ActionOutcome, error) {
	c.src.mu.Lock()
	defer c.src.mu.Unlock()
	c.src.persisted = append(c.src.persisted, actions)

	nextKey := c.src.nextKey
	backup := map[string][][]any{}
	for name, t := range c.src.tables {
		backup[name] = slices.Clone(t.rows)
	}

	outcomes := make([]core.ActionOutcome, len(actions))
	for i, act := range actions {
		if ctx.Err() != nil {
			return outcomes, core.Cancelled("persist")
		}
		outcomes[i] = c.apply(act)
		if outcomes[i].Succeeded() || !opts.AllOrNothing {
			continue
		}
		for name, rows := range backup {
			c.src.tables[name].rows = rows
		}
		c.src.nextKey = nextKey
		for j := range outcomes {
			if j != i {
				outcomes[j] = core.ActionOutcome{Action: actions[j], Err: core.NewPersistenceError(actions[j].Entity, core.ErrRolledBack)}
			}
		}
		return outcomes, nil
	}
	return outcomes, nil
}

func (c *memContext) apply(act *core.PersistAction) core.ActionOutcome {
	out := core.ActionOutcome{Action: act}
	if c.src.FailAction != nil {
		if err := c.src.FailAction(act); err != nil {
			out.Err = core.NewPersistenceError(act.Entity, err)
			return out
		}
	}
	t := c.src.tables[strings.ToLower(act.Entity)]
	if t == nil {
		out.Err = core.NewPersistenceError(act.Entity, fmt.Errorf("no such table"))
		return out
	}

	switch act.Kind {
	case core.ActionInsert:
		row := make([]any, len(t.entity.Columns))
		for i, col := range act.Columns {
			if idx := t.entity.ColumnIndex(col); idx >= 0 {
				row[idx] = act.Values[i]
			}
		}
		// Fill missing key columns the way an identity column would.
		for i, col := range t.entity.Columns {
			if col.PrimaryKey && row[i] == nil {
				c.src.nextKey++
				row[i] = c.src.nextKey
			}
		}
		t.rows = append(t.rows, row)
		out.RowsAffected = 1
		if len(act.Returning) > 0 {
			out.Returned = map[string]any{}
			for _, col := range act.Returning {
				if idx := t.entity.ColumnIndex(col); idx >= 0 {
					out.Returned[col] = row[idx]
				}
			}
		}
	case core.ActionUpdate, core.ActionDelete:
		if len(act.KeyColumns) == 0 {
			out.Err = core.NewIdentifierError(act.Entity)
			return out
		}
		kept := t.rows[:0:0]
		for _, row := range t.rows {
			if !matchesKey(t.entity, row, act.KeyColumns, act.KeyValues) {
				kept = append(kept, row)
				continue
			}
			out.RowsAffected++
			if act.Kind == core.ActionDelete {
				continue
			}
			row = slices.Clone(row)
			for i, col := range act.Columns {
				if idx := t.entity.ColumnIndex(col); idx >= 0 {
					row[idx] = act.Values[i]
				}
			}
			kept = append(kept, row)
		}
		t.rows = kept
		if out.RowsAffected == 0 {
			out.Err = core.NewPersistenceError(act.Entity, core.ErrRowNotFound)
		}
	}
	return out
}

func matchesKey(e *core.Entity, row []any, cols []string, vals []any) bool {
	for i, col := range cols {
		idx := e.ColumnIndex(col)
		if idx < 0 || core.CompareValues(row[idx], vals[i]) != 0 {
			return false
		}
	}
	return true
}

func selectRows(t *memTable, f *core.DataFilter) ([][]any, error) {
	if f != nil && strings.TrimSpace(f.Where) != "" {
		return nil, core.NewQueryError("read", errors.New("raw conditions are not supported"))
	}
	var out [][]any
	for _, row := range t.rows {
		ok, err := matches(t.entity, row, f)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, slices.Clone(row))
		}
	}
	if f == nil {
		return out, nil
	}
	for _, c := range slices.Backward(f.OrderedConstraints()) {
		idx := t.entity.ColumnIndex(c.Column)
		if idx < 0 {
			return nil, core.NewQueryError("read", fmt.Errorf("no such column: %s", c.Column))
		}
		desc := c.OrderDescending
		slices.SortStableFunc(out, func(a, b []any) int {
			if desc {
				return core.CompareValues(b[idx], a[idx])
			}
			return core.CompareValues(a[idx], b[idx])
		})
	}
	return out, nil
}

func matches(e *core.Entity, row []any, f *core.DataFilter) (bool, error) {
	if f == nil {
		return true, nil
	}
	for _, c := range f.Constraints {
		if !c.HasCondition() {
			continue
		}
		idx := e.ColumnIndex(c.Column)
		if idx < 0 {
			return false, core.NewQueryError("read", fmt.Errorf("no such column: %s", c.Column))
		}
		if !c.Operator.Match(row[idx], c.Values) {
			return false, nil
		}
	}
	return true, nil
}

func page(rows [][]any, offset, maxRows int) [][]any {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if maxRows > 0 && maxRows < len(rows) {
		rows = rows[:maxRows]
	}
	return rows
}

type memSet struct {
	cols []core.Column
	rows [][]any
}

type memCursor struct {
	sets []memSet
	set  int
	pos  int
}

func (c *memCursor) Columns() []core.Column {
	return c.sets[c.set].cols
}

func (c *memCursor) Fetch(ctx context.Context, offset, maxRows int) ([][]any, error) {
	if ctx.Err() != nil {
		return nil, core.Cancelled("fetch")
	}
	rows := c.sets[c.set].rows
	c.pos = min(c.pos+offset, len(rows))
	end := len(rows)
	if maxRows > 0 {
		end = min(c.pos+maxRows, end)
	}
	out := rows[c.pos:end]
	c.pos = end
	return out, nil
}

func (c *memCursor) NextResultSet() bool {
	if c.set+1 >= len(c.sets) {
		return false
	}
	c.set++
	c.pos = 0
	return true
}

func (c *memCursor) Close() error { return nil }

var _ core.ExecutionSource = (*MemSource)(nil)
