package pipeline

import (
	"log/slog"

	"github.com/leapstack-labs/leapgrid/pkg/core"
)

// RunRecorder is a Listener that logs each script run and its statements
// to a state store. Store failures are logged, never surfaced.
type RunRecorder struct {
	store      core.Store
	connection string
	logger     *slog.Logger

	run       *core.Run
	planned   int
	ended     int
	cancelled bool
	lastErr   string
}

// NewRunRecorder creates a recorder for scripts run against connection.
func NewRunRecorder(store core.Store, connection string, logger *slog.Logger) *RunRecorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RunRecorder{store: store, connection: connection, logger: logger}
}

// RunID returns the ID of the last recorded run, or "".
func (r *RunRecorder) RunID() string {
	if r.run == nil {
		return ""
	}
	return r.run.ID
}

func (r *RunRecorder) OnStartScript(queries []*core.Query) {
	r.planned, r.ended, r.cancelled, r.lastErr = len(queries), 0, false, ""
	run, err := r.store.CreateRun(r.connection, len(queries))
	if err != nil {
		r.logger.Warn("failed to record run", "error", err)
		r.run = nil
		return
	}
	r.run = run
	r.logger.Debug("created run", "run_id", run.ID)
}

func (r *RunRecorder) OnStartQuery(*core.Query) {}

func (r *RunRecorder) OnEndQuery(res *core.QueryResult) {
	r.ended++
	if res.Err != nil {
		r.lastErr = res.Err.Error()
		r.cancelled = r.cancelled || core.IsCancelled(res.Err)
	}
	if r.run == nil {
		return
	}

	qr := &core.QueryRun{
		RunID:        r.run.ID,
		Position:     r.ended,
		Text:         res.Query.Text,
		Status:       core.QueryRunStatusSuccess,
		RowsAffected: res.Stats.RowsAffected,
		RowsFetched:  res.Stats.RowsFetched,
		ExecutionMS:  res.Stats.TotalTime.Milliseconds(),
	}
	if res.Err != nil {
		qr.Status = core.QueryRunStatusFailed
		qr.Error = res.Err.Error()
	}
	if err := r.store.RecordQueryRun(qr); err != nil {
		r.logger.Warn("failed to record query run", "run_id", r.run.ID, "error", err)
	}
}

func (r *RunRecorder) OnEndScript(stats core.ExecutionStatistics, hadErrors bool) {
	if r.run == nil {
		return
	}
	status := core.RunStatusCompleted
	msg := ""
	switch {
	case r.cancelled || (r.ended < r.planned && !hadErrors):
		status = core.RunStatusCancelled
	case hadErrors:
		status = core.RunStatusFailed
		msg = r.lastErr
	}
	if err := r.store.CompleteRun(r.run.ID, status, stats, msg); err != nil {
		r.logger.Warn("failed to complete run", "run_id", r.run.ID, "error", err)
	}
}
