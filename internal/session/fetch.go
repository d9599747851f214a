package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leapgrid/internal/fetch"
	"github.com/leapstack-labs/leapgrid/internal/history"
	"github.com/leapstack-labs/leapgrid/pkg/core"
)

// execFetch runs on the coalescer goroutine and must not touch the model.
func (s *Session) execFetch(ctx context.Context, req core.FetchRequest) (*fetch.Page, error) {
	ectx, err := s.source.OpenSession(ctx, core.PurposeUserFilter)
	if err != nil {
		return nil, err
	}
	defer ectx.Close()

	page := &fetch.Page{}
	entity := s.entity.Load()
	if !req.Incremental || entity == nil {
		if entity, err = ectx.DescribeEntity(ctx, req.Container); err != nil {
			return nil, err
		}
		page.Entity = entity
	}

	cur, stats, err := ectx.Read(ctx, req.Container, s.serverFilter(req.Filter, entity), req.Offset, req.MaxRows)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	rows, err := cur.Fetch(ctx, 0, req.MaxRows)
	if err != nil {
		return nil, err
	}
	stats.RowsFetched = int64(len(rows))
	page.Columns = mergeColumns(cur.Columns(), entity)
	page.Rows = rows
	page.Stats = stats
	return page, nil
}

// mergeColumns copies key and default flags from the entity onto result columns.
func mergeColumns(cols []core.Column, e *core.Entity) []core.Column {
	out := make([]core.Column, len(cols))
	for i, c := range cols {
		out[i] = c
		if e == nil {
			continue
		}
		if j := e.ColumnIndex(c.Name); j >= 0 {
			ec := e.Columns[j]
			out[i].PrimaryKey = ec.PrimaryKey
			out[i].Generated = ec.Generated
			out[i].Nullable = ec.Nullable
			if out[i].Type == "" {
				out[i].Type = ec.Type
			}
		}
	}
	return out
}

func (s *Session) serverOrdering(e *core.Entity) bool {
	return s.opts.ServerOrdering && e.Has(core.CapServerOrdering)
}

func (s *Session) serverFiltering(e *core.Entity) bool {
	return s.opts.ServerFiltering && e.Has(core.CapServerFiltering)
}

// serverFilter strips what the source will not apply; the model applies
// the rest locally.
func (s *Session) serverFilter(f *core.DataFilter, e *core.Entity) *core.DataFilter {
	out := f.Clone()
	if out == nil {
		return nil
	}
	if !s.serverOrdering(e) {
		out.ClearOrdering()
	}
	if !s.serverFiltering(e) {
		for _, c := range out.Constraints {
			c.Operator, c.Values = core.OpNone, nil
		}
		out.Where = ""
	}
	return out
}

// onFetchDone runs on the coalescer goroutine.
func (s *Session) onFetchDone(c fetch.Completion) {
	s.post(func() { s.applyFetch(c) })
}

func (s *Session) applyFetch(c fetch.Completion) {
	req := c.Request
	if !req.Incremental && c.JobID == s.pendingJob {
		s.pendingJob = uuid.Nil
	}
	if c.Err != nil {
		s.dropNavigation()
		if core.IsCancelled(c.Err) {
			s.setStatus("fetch cancelled")
			return
		}
		s.setError(c.Err)
		return
	}
	if req.Incremental && (req.Container.ID() != s.container.ID() || !req.Filter.Equal(s.model.Filter())) {
		s.logger.Debug("stale page ignored", slog.String("container", req.Container.String()))
		return
	}
	// Edits made while the fetch ran are kept; the page is dropped instead.
	if !req.Incremental && s.model.IsDirty() {
		s.dropNavigation()
		s.setError(fmt.Errorf("%s not reloaded: %w", req.Container, ErrPendingChanges))
		return
	}

	page := c.Page
	if req.Incremental {
		s.model.AppendData(page.Rows)
	} else {
		entity := s.withVirtualKey(req.Container, page.Entity)
		s.entity.Store(entity)
		s.model.SetServerCapabilities(s.serverOrdering(entity), s.serverFiltering(entity))
		s.model.SetMetadata(page.Columns, entity)
		s.model.UpdateDataFilter(req.Filter, false)
		s.model.SetData(page.Rows)
		s.container = req.Container
		s.opened = true
		s.selected = nil
		s.focus = max(0, min(req.FocusRow, s.model.RowCount()-1))
	}
	s.hasMore = req.MaxRows > 0 && len(page.Rows) >= req.MaxRows
	if req.SaveToHistory {
		s.history.Push(core.HistoryState{Container: req.Container, Filter: req.Filter, FocusRow: s.focus})
	}
	s.setStatus(core.NewQueryExecEvent(req.Container.String(), page.Stats, nil).Format())
}

// dropNavigation forgets a pending history move once no fresh fetch is queued.
func (s *Session) dropNavigation() {
	if s.pendingJob == uuid.Nil {
		s.history.Abandon()
	}
}

func (s *Session) submit(req core.FetchRequest) {
	id := s.coalescer.Submit(req)
	if !req.Incremental {
		s.pendingJob, s.pendingReq = id, req
	}
	s.status = "fetching " + req.Container.String()
}

// target returns the container and filter the rows will show once queued
// fetches have been applied.
func (s *Session) target() (core.DataContainer, *core.DataFilter) {
	if s.pendingJob != uuid.Nil {
		return s.pendingReq.Container, s.pendingReq.Filter.Clone()
	}
	return s.container, s.model.Filter()
}

func (s *Session) requireOpened() error {
	if !s.opened {
		return core.ErrNoContainer
	}
	return nil
}

func (s *Session) requireClean() error {
	if s.model.IsDirty() {
		return ErrPendingChanges
	}
	return nil
}

// Open starts a session on container. With RestoreFilter set the
// container's saved filter is applied.
func (s *Session) Open(ctx context.Context, container core.DataContainer) error {
	if container.Connection == "" {
		container.Connection = s.opts.Connection
	}
	var filter *core.DataFilter
	if s.opts.RestoreFilter && s.opts.Store != nil {
		f, err := s.opts.Store.GetFilter(container.ID())
		if err != nil {
			s.logger.Warn("failed to restore filter", slog.String("container", container.ID()), slog.String("error", err.Error()))
		}
		filter = f
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.do(func() error {
		if err := s.requireClean(); err != nil {
			return err
		}
		s.submit(core.FetchRequest{
			Container:     container,
			Filter:        filter,
			MaxRows:       s.opts.SegmentSize,
			SaveToHistory: true,
		})
		return nil
	})
}

// Refresh re-reads the current container, keeping as many rows as are loaded.
func (s *Session) Refresh() error {
	return s.do(func() error {
		if err := s.requireOpened(); err != nil {
			return err
		}
		if err := s.requireClean(); err != nil {
			return err
		}
		container, filter := s.target()
		s.submit(core.FetchRequest{
			Container: container,
			Filter:    filter,
			MaxRows:   max(s.opts.SegmentSize, s.model.FetchedCount(), history.PageFor(s.focus, s.opts.SegmentSize)),
			FocusRow:  s.focus,
		})
		return nil
	})
}

// ReadNextSegment appends the next page. It does nothing when the last
// page came back short.
func (s *Session) ReadNextSegment() error {
	return s.readMore(func() int { return s.opts.SegmentSize })
}

// ReadAllData appends rows until the read-all limit.
func (s *Session) ReadAllData() error {
	return s.readMore(func() int { return s.opts.ReadAllLimit - s.model.FetchedCount() })
}

func (s *Session) readMore(size func() int) error {
	return s.do(func() error {
		if err := s.requireOpened(); err != nil {
			return err
		}
		n := size()
		if !s.hasMore || n <= 0 {
			return nil
		}
		s.submit(core.FetchRequest{
			Container:   s.container,
			Filter:      s.model.Filter(),
			Offset:      s.model.FetchedCount(),
			MaxRows:     n,
			FocusRow:    s.focus,
			Incremental: true,
		})
		return nil
	})
}

// SetDataFilter replaces the filter. With refreshNow the rows are re-read
// when the source applies the changed part; otherwise, or when it cannot,
// the loaded rows are reordered and filtered in place.
func (s *Session) SetDataFilter(filter *core.DataFilter, refreshNow bool) error {
	return s.do(func() error {
		if err := s.requireOpened(); err != nil {
			return err
		}
		return s.setFilter(filter, refreshNow)
	})
}

func (s *Session) setFilter(filter *core.DataFilter, refreshNow bool) error {
	if s.pendingJob != uuid.Nil {
		// Queued rows will replace the model, so the newest request carries the filter.
		if filter.Equal(s.pendingReq.Filter) {
			return nil
		}
		if err := s.requireClean(); err != nil {
			return err
		}
		s.submit(core.FetchRequest{
			Container:     s.pendingReq.Container,
			Filter:        filter.Clone(),
			MaxRows:       s.opts.SegmentSize,
			SaveToHistory: true,
		})
		return nil
	}
	if !refreshNow || !s.needsRefetch(filter) {
		s.model.UpdateDataFilter(filter, false)
		return nil
	}
	if err := s.requireClean(); err != nil {
		return err
	}
	s.submit(core.FetchRequest{
		Container:     s.container,
		Filter:        filter.Clone(),
		MaxRows:       s.opts.SegmentSize,
		SaveToHistory: true,
	})
	return nil
}

func (s *Session) needsRefetch(f *core.DataFilter) bool {
	cur := s.model.Filter()
	e := s.entity.Load()
	if !f.EqualPredicates(cur) && s.serverFiltering(e) {
		return true
	}
	return !f.Equal(cur) && f.EqualPredicates(cur) && s.serverOrdering(e)
}

// ToggleSortOrder cycles the ordering of column and applies it. Ordering
// of every other column is cleared.
func (s *Session) ToggleSortOrder(column string, forceAsc, forceDesc bool) error {
	return s.toggleSort(column, forceAsc, forceDesc, false)
}

// AppendSortOrder is ToggleSortOrder keeping the ordering of other columns,
// with column ordered after them.
func (s *Session) AppendSortOrder(column string, forceAsc, forceDesc bool) error {
	return s.toggleSort(column, forceAsc, forceDesc, true)
}

func (s *Session) toggleSort(column string, forceAsc, forceDesc, additive bool) error {
	return s.do(func() error {
		if err := s.requireOpened(); err != nil {
			return err
		}
		if s.model.ColumnIndex(column) < 0 {
			return fmt.Errorf("unknown column %q", column)
		}
		_, f := s.target()
		if f == nil {
			f = &core.DataFilter{}
		}
		f.ToggleSort(column, forceAsc, forceDesc, additive)
		return s.setFilter(f, true)
	})
}

// NavigateHistory re-opens the history entry at pos.
func (s *Session) NavigateHistory(pos int) error {
	return s.navigate(func(seg int) (core.FetchRequest, error) { return s.history.Navigate(pos, seg) })
}

// Back re-opens the previous history entry.
func (s *Session) Back() error {
	return s.navigate(s.history.Back)
}

// Forward re-opens the next history entry.
func (s *Session) Forward() error {
	return s.navigate(s.history.Forward)
}

func (s *Session) navigate(to func(segment int) (core.FetchRequest, error)) error {
	return s.do(func() error {
		if err := s.requireClean(); err != nil {
			return err
		}
		s.history.UpdateFocus(s.focus)
		req, err := to(s.opts.SegmentSize)
		if err != nil {
			return err
		}
		s.submit(req)
		return nil
	})
}

// CancelFetch interrupts the running fetch or script and drops queued
// fetches. It reports whether a fetch was cancelled.
func (s *Session) CancelFetch() bool {
	s.pipeline.Cancel()
	cancelled := s.coalescer.Cancel()
	// A dropped request never completes, so forget it here.
	s.post(func() {
		s.pendingJob = uuid.Nil
		s.history.Abandon()
	})
	return cancelled
}

// CountRows counts the rows of the current container matching the filter.
func (s *Session) CountRows(ctx context.Context) (int64, error) {
	var container core.DataContainer
	var filter *core.DataFilter
	err := s.do(func() error {
		if err := s.requireOpened(); err != nil {
			return err
		}
		container, filter = s.container, s.model.Filter()
		return nil
	})
	if err != nil {
		return 0, err
	}
	entity := s.entity.Load()
	if !entity.Has(core.CapCount) {
		return 0, fmt.Errorf("row count is not supported for %s", container)
	}
	if !s.serverFiltering(entity) && filter.HasConditions() {
		return 0, fmt.Errorf("row count with a local filter is not supported for %s", container)
	}

	if err := s.gate.Acquire(ctx, 1); err != nil {
		return 0, core.Cancelled("count")
	}
	defer s.gate.Release(1)
	ectx, err := s.source.OpenSession(ctx, core.PurposeUtil)
	if err != nil {
		return 0, err
	}
	defer ectx.Close()

	n, err := ectx.CountRows(ctx, container, s.serverFilter(filter, entity))
	if err != nil {
		return 0, err
	}
	s.post(func() { s.setStatus(fmt.Sprintf("%d row(s) in %s", n, container)) })
	return n, nil
}
