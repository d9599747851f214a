package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/leapstack-labs/leapgrid/internal/persist"
	"github.com/leapstack-labs/leapgrid/pkg/core"
)

func (s *Session) clampFocus() {
	s.focus = max(0, min(s.focus, s.model.RowCount()-1))
}

func (s *Session) selectedIndexes() []int {
	var out []int
	for _, id := range s.selected {
		if r := s.model.RowByID(id); r != nil {
			if i := s.model.IndexOf(r); i >= 0 {
				out = append(out, i)
			}
		}
	}
	return out
}

// Select replaces the selection with the given display rows and focuses
// the first of them.
func (s *Session) Select(rows ...int) error {
	return s.do(func() error {
		ids := make([]int, 0, len(rows))
		for _, i := range rows {
			r := s.model.Row(i)
			if r == nil {
				return fmt.Errorf("row %d: %w", i, core.ErrRowOutOfRange)
			}
			ids = append(ids, r.ID())
		}
		s.selected = ids
		if len(rows) > 0 {
			s.focus = rows[0]
			s.history.UpdateFocus(s.focus)
		}
		return nil
	})
}

// SetFocusRow moves the focus. History remembers it for back and forward.
func (s *Session) SetFocusRow(row int) error {
	return s.do(func() error {
		if s.model.Row(row) == nil {
			return fmt.Errorf("row %d: %w", row, core.ErrRowOutOfRange)
		}
		s.focus = row
		s.history.UpdateFocus(row)
		return nil
	})
}

// AddNewRow inserts a row at the focus, or after it, optionally copying
// the focused row. It returns the new row's display index.
func (s *Session) AddNewRow(copyCurrent, after bool) (int, error) {
	var idx int
	err := s.do(func() error {
		if len(s.model.Columns()) == 0 {
			return core.ErrNoContainer
		}
		at := s.focus
		if after && s.model.RowCount() > 0 {
			at++
		}
		from := -1
		if copyCurrent {
			from = s.focus
		}
		r := s.model.AddNewRow(at, from)
		idx = s.model.IndexOf(r)
		s.focus = idx
		s.selected = []int{r.ID()}
		return nil
	})
	return idx, err
}

// DeleteSelectedRows marks the selected rows, or the focused row when
// nothing is selected, for deletion. It returns how many rows changed.
func (s *Session) DeleteSelectedRows() (int, error) {
	var n int
	err := s.do(func() error {
		if err := s.requireOpened(); err != nil {
			return err
		}
		ids := slices.Clone(s.selected)
		if len(ids) == 0 {
			if r := s.model.Row(s.focus); r != nil {
				ids = []int{r.ID()}
			}
		}
		for _, id := range ids {
			if s.model.DeleteRow(s.model.RowByID(id)) {
				n++
			}
		}
		s.selected = nil
		s.clampFocus()
		return nil
	})
	return n, err
}

// SetCellValue edits one cell of a displayed row.
func (s *Session) SetCellValue(row, col int, v any) error {
	return s.do(func() error {
		r := s.model.Row(row)
		if r == nil {
			return fmt.Errorf("row %d: %w", row, core.ErrRowOutOfRange)
		}
		return s.model.SetCellValue(r, col, v)
	})
}

// RejectChanges discards pending edits, restoring original values.
func (s *Session) RejectChanges() error {
	return s.do(func() error {
		s.model.RejectChanges()
		s.selected = nil
		s.clampFocus()
		s.setStatus("changes rejected")
		return nil
	})
}

// ApplyChanges persists pending edits. A dry run returns the statements
// without touching the source. Per-row failures are reported in the
// report, not as an error; rows that failed keep their pending state.
func (s *Session) ApplyChanges(ctx context.Context, dryRun bool) (*persist.Report, error) {
	var plan *persist.Plan
	err := s.do(func() error {
		if err := s.requireOpened(); err != nil {
			return err
		}
		p, err := persist.BuildPlan(s.model, s.container)
		if err != nil {
			s.setError(err)
			return err
		}
		plan = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if dryRun {
		if s.opts.Previewer == nil && !plan.Empty() {
			return nil, ErrNoDialect
		}
		return s.persister.DryRun(plan, s.opts.Previewer)
	}
	if plan.Empty() {
		return &persist.Report{}, nil
	}

	start := time.Now()
	res, err := s.executePlan(ctx, plan)
	if err != nil {
		s.post(func() { s.setError(err) })
		return nil, err
	}

	var rep *persist.Report
	err = s.do(func() error {
		rep = s.persister.Apply(s.model, plan, res)
		rep.Duration = time.Since(start)
		s.clampFocus()
		if rep.Failed > 0 {
			s.lastErr = rep.Err()
			s.status = fmt.Sprintf("%d change(s) applied, %d failed", rep.Succeeded, rep.Failed)
			return nil
		}
		s.setStatus(fmt.Sprintf("%d change(s) applied", rep.Succeeded))
		return nil
	})
	return rep, err
}

// executePlan holds the gate so fetches queue behind the persist.
func (s *Session) executePlan(ctx context.Context, plan *persist.Plan) (*persist.Result, error) {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return nil, core.Cancelled("persist")
	}
	defer s.gate.Release(1)

	ectx, err := s.source.OpenSession(ctx, core.PurposeUtil)
	if err != nil {
		return nil, err
	}
	defer ectx.Close()
	return s.persister.Execute(ctx, ectx, plan, s.opts.Persist)
}

// SaveFilter stores the current filter under the container's ID.
func (s *Session) SaveFilter() error {
	if s.opts.Store == nil {
		return ErrNoStore
	}
	var id string
	var filter *core.DataFilter
	err := s.do(func() error {
		if err := s.requireOpened(); err != nil {
			return err
		}
		id, filter = s.container.ID(), s.model.Filter()
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.opts.Store.SaveFilter(id, filter); err != nil {
		return fmt.Errorf("failed to save filter: %w", err)
	}
	return nil
}

// DeclareVirtualKey marks columns as a row key the source does not enforce,
// making a keyless table editable. Keys the source declares still win.
// The key is kept for the container across refreshes.
func (s *Session) DeclareVirtualKey(columns ...string) error {
	if len(columns) == 0 {
		return errors.New("no key columns given")
	}
	return s.do(func() error {
		if err := s.requireOpened(); err != nil {
			return err
		}
		e := s.model.Entity()
		if e == nil {
			return fmt.Errorf("%s is not a table: %w", s.container, core.ErrNoUniqueKey)
		}
		for _, c := range columns {
			if e.ColumnIndex(c) < 0 {
				return fmt.Errorf("unknown column %q", c)
			}
		}
		s.virtualKeys[s.container.ID()] = slices.Clone(columns)
		e = s.withVirtualKey(s.container, e)
		s.entity.Store(e)
		s.model.SetEntity(e)
		s.changed()
		return nil
	})
}

// withVirtualKey returns e with the declared key of container added.
// e is copied, since the fetch goroutine may still hold it.
func (s *Session) withVirtualKey(container core.DataContainer, e *core.Entity) *core.Entity {
	cols, ok := s.virtualKeys[container.ID()]
	if !ok || e == nil {
		return e
	}
	out := *e
	out.Constraints = slices.DeleteFunc(slices.Clone(e.Constraints), func(c core.KeyConstraint) bool {
		return c.Kind == core.ConstraintVirtualKey
	})
	out.AddVirtualKey(cols...)
	return &out
}
