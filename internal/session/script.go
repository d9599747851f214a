package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapstack-labs/leapgrid/internal/pipeline"
	"github.com/leapstack-labs/leapgrid/internal/script"
	"github.com/leapstack-labs/leapgrid/pkg/core"
)

// statusListener mirrors script progress into the session status.
type statusListener struct {
	pipeline.NopListener
	s     *Session
	total int
	ended int
}

func (l *statusListener) OnStartScript(queries []*core.Query) {
	l.total = len(queries)
}

func (l *statusListener) OnEndQuery(r *core.QueryResult) {
	l.ended++
	msg := core.NewQueryExecEvent(r.Query.Text, r.Stats, r.Err).Format()
	if l.total > 1 {
		msg = fmt.Sprintf("[%d/%d] %s", l.ended, l.total, msg)
	}
	l.s.post(func() { l.s.status = msg })
}

func (l *statusListener) OnEndScript(stats core.ExecutionStatistics, hadErrors bool) {
	msg := fmt.Sprintf("%d statement(s) executed, %d row(s) affected", stats.Statements, stats.RowsAffected)
	if hadErrors {
		msg += " with errors"
	}
	l.s.post(func() { l.s.status = msg })
}

// resultSet is the first result set of a statement.
type resultSet struct {
	query   *core.Query
	columns []core.Column
	rows    [][]any
}

// ExecuteScript splits text into statements and runs them in order with
// params bound by name. The first result set of the last statement that
// returned rows replaces the session rows as a read-only query result,
// unless edits are pending.
func (s *Session) ExecuteScript(ctx context.Context, text string, params map[string]any) (*pipeline.Summary, error) {
	queries := script.Split(text)
	if len(queries) == 0 {
		return &pipeline.Summary{}, nil
	}

	var last *resultSet
	recv := pipeline.ReceiverFunc(func(q *core.Query, set int, columns []core.Column, rows [][]any) error {
		if set == 0 {
			last = &resultSet{query: q, columns: columns, rows: rows}
		}
		return nil
	})
	sum, err := s.pipeline.Execute(ctx, queries, params, s.scriptListener(), recv)
	if err != nil {
		s.post(func() { s.setError(err) })
		if sum == nil {
			return nil, err
		}
	}
	if last != nil {
		if derr := s.do(func() error { s.showResult(last); return nil }); derr != nil {
			return sum, derr
		}
	}
	return sum, err
}

// ExecuteImmediate runs text as a single statement and hands every result
// set it yields to recv. The session rows are left as they are.
func (s *Session) ExecuteImmediate(ctx context.Context, text string, params map[string]any, recv pipeline.ResultReceiver) (*core.QueryResult, error) {
	q := script.Parse(text)
	if q == nil {
		return nil, errors.New("no statement to execute")
	}
	res, err := s.pipeline.ExecuteImmediate(ctx, q, params, s.scriptListener(), recv)
	if err != nil {
		s.post(func() { s.setError(err) })
	}
	return res, err
}

// scriptListener reports progress to the status line and, with a store, to the run log.
func (s *Session) scriptListener() pipeline.Listener {
	var recorder pipeline.Listener
	if s.opts.Store != nil {
		recorder = pipeline.NewRunRecorder(s.opts.Store, s.opts.Connection, s.logger)
	}
	return pipeline.Multi(&statusListener{s: s}, recorder)
}

// showResult loads a script result set as a query container.
func (s *Session) showResult(rs *resultSet) {
	if s.model.IsDirty() {
		s.status = "results not loaded: " + ErrPendingChanges.Error()
		return
	}
	container := core.DataContainer{Connection: s.opts.Connection, Query: rs.query.Text}
	s.entity.Store(nil)
	s.model.SetServerCapabilities(false, false)
	s.model.SetMetadata(rs.columns, nil)
	s.model.UpdateDataFilter(nil, false)
	s.model.SetData(rs.rows)
	s.container = container
	s.opened = true
	s.selected = nil
	s.focus = 0
	s.hasMore = len(rs.rows) >= s.opts.SegmentSize
	s.history.Push(core.HistoryState{Container: container})
}
