package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/leapstack-labs/leapgrid/pkg/core"
	"github.com/leapstack-labs/leapgrid/pkg/dialect"
)

// SQLSource implements core.ExecutionSource on top of an Adapter.
// Each session pins one pooled connection so that transactions and
// session settings stay on the same handle.
type SQLSource struct {
	adapter Adapter
	logger  *slog.Logger
	onEvent core.EventHandler
}

// SourceOption configures an SQLSource.
type SourceOption func(*SQLSource)

// WithEventHandler routes execution events to h.
func WithEventHandler(h core.EventHandler) SourceOption {
	return func(s *SQLSource) {
		s.onEvent = h
	}
}

// NewSQLSource creates an execution source over a connected adapter.
// If logger is nil, a discard logger is used.
func NewSQLSource(a Adapter, logger *slog.Logger, opts ...SourceOption) *SQLSource {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &SQLSource{adapter: a, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenSession pins a connection for the given purpose.
func (s *SQLSource) OpenSession(ctx context.Context, purpose core.Purpose) (core.ExecutionContext, error) {
	db := s.adapter.Conn()
	if db == nil {
		return nil, core.NewConnectionError("open session", core.ErrNotConnected)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, core.NewConnectionError("open session", err)
	}

	s.logger.Debug("execution context opened", slog.String("purpose", purpose.String()))
	s.emit(core.NewSessionEvent(purpose, true))

	return &sqlContext{
		src:     s,
		conn:    conn,
		dialect: s.adapter.Dialect(),
		purpose: purpose,
	}, nil
}

func (s *SQLSource) emit(e core.ExecutionEvent) {
	if s.onEvent != nil {
		s.onEvent(e)
	}
}

// execer is satisfied by *sql.Conn and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlContext is a core.ExecutionContext over a pinned connection.
type sqlContext struct {
	src     *SQLSource
	conn    *sql.Conn
	dialect *dialect.Dialect
	purpose core.Purpose
}

// classify maps a driver error into the error taxonomy.
func classify(ctx context.Context, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return core.Cancelled(op)
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, core.ErrNotConnected):
		return core.NewConnectionError(op, err)
	default:
		return core.NewQueryError(op, err)
	}
}

func (c *sqlContext) Execute(ctx context.Context, q *core.Query, params map[string]any) (core.Cursor, core.ExecutionStatistics, error) {
	var stats core.ExecutionStatistics
	text, args, err := BindParams(q, c.dialect, params)
	if err != nil {
		return nil, stats, core.NewQueryError("bind", err)
	}

	start := time.Now()
	stats.Statements = 1

	if ReturnsRows(text) {
		//nolint:rowserrcheck // the cursor checks rows.Err() after iteration
		rows, err := c.conn.QueryContext(ctx, text, args...)
		stats.ExecuteTime = time.Since(start)
		stats.TotalTime = stats.ExecuteTime
		if err != nil {
			err = classify(ctx, "execute", err)
			c.src.emit(core.NewQueryExecEvent(text, stats, err))
			return nil, stats, err
		}
		cur, err := newSQLCursor(rows)
		if err != nil {
			return nil, stats, core.NewQueryError("execute", err)
		}
		c.src.emit(core.NewQueryExecEvent(text, stats, nil))
		return cur, stats, nil
	}

	res, err := c.conn.ExecContext(ctx, text, args...)
	stats.ExecuteTime = time.Since(start)
	stats.TotalTime = stats.ExecuteTime
	if err != nil {
		err = classify(ctx, "execute", err)
		c.src.emit(core.NewQueryExecEvent(text, stats, err))
		return nil, stats, err
	}
	if n, err := res.RowsAffected(); err == nil {
		stats.RowsAffected = n
	}
	c.src.emit(core.NewQueryExecEvent(text, stats, nil))
	return emptyCursor{}, stats, nil
}

func (c *sqlContext) Read(ctx context.Context, container core.DataContainer, filter *core.DataFilter, offset, maxRows int) (core.Cursor, core.ExecutionStatistics, error) {
	var stats core.ExecutionStatistics
	st := c.dialect.Select(container, filter, offset, maxRows)

	c.src.logger.Debug("reading container",
		slog.String("container", container.String()),
		slog.Int("offset", offset),
		slog.Int("max_rows", maxRows))

	start := time.Now()
	//nolint:rowserrcheck // the cursor checks rows.Err() after iteration
	rows, err := c.conn.QueryContext(ctx, st.SQL, st.Args...)
	stats.Statements = 1
	stats.ExecuteTime = time.Since(start)
	stats.TotalTime = stats.ExecuteTime
	if err != nil {
		return nil, stats, classify(ctx, "read", err)
	}
	cur, err := newSQLCursor(rows)
	if err != nil {
		return nil, stats, core.NewQueryError("read", err)
	}
	return cur, stats, nil
}

func (c *sqlContext) CountRows(ctx context.Context, container core.DataContainer, filter *core.DataFilter) (int64, error) {
	st := c.dialect.Count(container, filter)
	var n int64
	if err := c.conn.QueryRowContext(ctx, st.SQL, st.Args...).Scan(&n); err != nil {
		return 0, classify(ctx, "count", err)
	}
	return n, nil
}

func (c *sqlContext) DescribeEntity(ctx context.Context, container core.DataContainer) (*core.Entity, error) {
	if container.IsQuery() {
		return &core.Entity{Capabilities: core.CapServerOrdering | core.CapServerFiltering | core.CapCount}, nil
	}
	e, err := c.src.adapter.DescribeEntity(ctx, container.Name)
	if err != nil {
		return nil, classify(ctx, "describe", err)
	}
	return e, nil
}

func (c *sqlContext) Close() error {
	c.src.emit(core.NewSessionEvent(c.purpose, false))
	return c.conn.Close()
}

// Persist applies actions in order.
//
// AllOrNothing runs everything in one transaction and rolls back on the first
// failure. Otherwise each action is isolated, by a savepoint when the dialect
// supports them and savepoints are requested, or by its own implicit
// transaction.
func (c *sqlContext) Persist(ctx context.Context, actions []*core.PersistAction, opts core.PersistOptions) ([]core.ActionOutcome, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	useSavepoints := opts.UseSavepoints && c.dialect.Savepoints
	if !opts.AllOrNothing && !useSavepoints {
		outcomes := make([]core.ActionOutcome, len(actions))
		for i, act := range actions {
			outcomes[i] = c.apply(ctx, c.conn, act)
			if ctx.Err() != nil {
				return outcomes, core.Cancelled("persist")
			}
		}
		return outcomes, nil
	}

	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(ctx, "begin", err)
	}
	c.src.emit(core.NewTransactionEvent("begin", len(actions)))

	outcomes := make([]core.ActionOutcome, len(actions))
	for i, act := range actions {
		if useSavepoints && !opts.AllOrNothing {
			outcomes[i], err = c.applyWithSavepoint(ctx, tx, act, i)
			if err != nil {
				c.rollback(tx, len(actions))
				return nil, err
			}
			continue
		}

		outcomes[i] = c.apply(ctx, tx, act)
		if outcomes[i].Succeeded() {
			continue
		}
		c.rollback(tx, len(actions))
		if ctx.Err() != nil {
			return nil, core.Cancelled("persist")
		}
		for j := range outcomes {
			if j == i {
				continue
			}
			outcomes[j] = core.ActionOutcome{Action: actions[j], Err: core.NewPersistenceError(actions[j].Entity, core.ErrRolledBack)}
		}
		return outcomes, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(ctx, "commit", err)
	}
	c.src.emit(core.NewTransactionEvent("commit", len(actions)))
	return outcomes, nil
}

func (c *sqlContext) rollback(tx *sql.Tx, n int) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		c.src.logger.Error("rollback failed", slog.String("error", err.Error()))
	}
	c.src.emit(core.NewTransactionEvent("rollback", n))
}

// applyWithSavepoint isolates one action. The returned error is fatal for the transaction.
func (c *sqlContext) applyWithSavepoint(ctx context.Context, tx *sql.Tx, act *core.PersistAction, i int) (core.ActionOutcome, error) {
	name := "leapgrid_sp_" + strconv.Itoa(i+1)
	if _, err := tx.ExecContext(ctx, c.dialect.SavepointSQL(name)); err != nil {
		return core.ActionOutcome{}, classify(ctx, "savepoint", err)
	}
	c.src.emit(core.NewSavepointEvent(name, "set"))

	out := c.apply(ctx, tx, act)
	if out.Succeeded() {
		if _, err := tx.ExecContext(ctx, c.dialect.ReleaseSQL(name)); err != nil {
			return core.ActionOutcome{}, classify(ctx, "release savepoint", err)
		}
		c.src.emit(core.NewSavepointEvent(name, "release"))
		return out, nil
	}

	if _, err := tx.ExecContext(ctx, c.dialect.RollbackToSQL(name)); err != nil {
		return core.ActionOutcome{}, classify(ctx, "rollback to savepoint", err)
	}
	c.src.emit(core.NewSavepointEvent(name, "rollback"))
	return out, nil
}

// apply runs a single action and records its outcome as data.
func (c *sqlContext) apply(ctx context.Context, ex execer, act *core.PersistAction) core.ActionOutcome {
	out := core.ActionOutcome{Action: act}
	st, err := c.dialect.Action(act)
	if err != nil {
		out.Err = err
		return out
	}

	var stats core.ExecutionStatistics
	start := time.Now()
	defer func() {
		stats.Statements = 1
		stats.RowsAffected = out.RowsAffected
		stats.TotalTime = time.Since(start)
		c.src.emit(core.NewQueryExecEvent(st.SQL, stats, out.Err))
	}()

	if act.Kind == core.ActionInsert && c.dialect.Returning && len(act.Returning) > 0 {
		values := make([]any, len(act.Returning))
		ptrs := make([]any, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := ex.QueryRowContext(ctx, st.SQL, st.Args...).Scan(ptrs...); err != nil {
			out.Err = core.NewPersistenceError(act.Entity, err)
			return out
		}
		out.Returned = make(map[string]any, len(values))
		for i, col := range act.Returning {
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			out.Returned[col] = values[i]
		}
		out.RowsAffected = 1
		return out
	}

	res, err := ex.ExecContext(ctx, st.SQL, st.Args...)
	if err != nil {
		out.Err = core.NewPersistenceError(act.Entity, err)
		return out
	}
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
		if n == 0 && act.Kind != core.ActionInsert {
			out.Err = core.NewPersistenceError(act.Entity, core.ErrRowNotFound)
		}
	}
	return out
}

// String describes the source for logs.
func (s *SQLSource) String() string {
	return fmt.Sprintf("%s (%s)", s.adapter.ConnectionID(), s.adapter.Dialect().Name)
}
