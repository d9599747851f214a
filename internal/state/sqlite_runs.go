package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapgrid/pkg/core"
)

// CreateRun records the start of a script run.
func (s *SQLiteStore) CreateRun(connection string, queries int) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &core.Run{
		ID:         generateID(),
		Connection: connection,
		Status:     core.RunStatusRunning,
		Queries:    queries,
		StartedAt:  now(),
	}

	s.logger.Debug("creating run", slog.String("id", run.ID), slog.String("connection", connection))

	_, err := s.db.ExecContext(ctx(),
		`INSERT INTO runs (id, connection, status, queries, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Connection, string(run.Status), run.Queries, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// CompleteRun marks a run as finished with the given status and totals.
func (s *SQLiteStore) CompleteRun(id string, status core.RunStatus, stats core.ExecutionStatistics, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	var errValue sql.NullString
	if errMsg != "" {
		errValue = sql.NullString{String: errMsg, Valid: true}
	}

	res, err := s.db.ExecContext(ctx(),
		`UPDATE runs SET status = ?, rows_affected = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), stats.RowsAffected, now(), errValue, id)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(id string) (*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRowContext(ctx(),
		`SELECT id, connection, status, queries, rows_affected, started_at, completed_at, error FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves the most recent runs up to the given limit.
func (s *SQLiteStore) ListRuns(limit int) ([]*core.Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx(),
		`SELECT id, connection, status, queries, rows_affected, started_at, completed_at, error
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordQueryRun stores the outcome of one query of a run.
func (s *SQLiteStore) RecordQueryRun(qr *core.QueryRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if qr.ID == "" {
		qr.ID = generateID()
	}

	var errValue sql.NullString
	if qr.Error != "" {
		errValue = sql.NullString{String: qr.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx(),
		`INSERT INTO query_runs (id, run_id, position, query_text, status, rows_affected, rows_fetched, execution_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		qr.ID, qr.RunID, qr.Position, qr.Text, string(qr.Status), qr.RowsAffected, qr.RowsFetched, qr.ExecutionMS, errValue)
	if err != nil {
		return fmt.Errorf("failed to record query run: %w", err)
	}
	return nil
}

// GetQueryRunsForRun returns the query outcomes of a run in script order.
func (s *SQLiteStore) GetQueryRunsForRun(runID string) ([]*core.QueryRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx(),
		`SELECT id, run_id, position, query_text, status, rows_affected, rows_fetched, execution_ms, error
		 FROM query_runs WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.QueryRun
	for rows.Next() {
		qr := &core.QueryRun{}
		var status string
		var errMsg sql.NullString
		if err := rows.Scan(&qr.ID, &qr.RunID, &qr.Position, &qr.Text, &status,
			&qr.RowsAffected, &qr.RowsFetched, &qr.ExecutionMS, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan query run: %w", err)
		}
		qr.Status = core.QueryRunStatus(status)
		qr.Error = errMsg.String
		out = append(out, qr)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*core.Run, error) {
	run := &core.Run{}
	var (
		status      string
		completedAt sql.NullTime
		errMsg      sql.NullString
	)
	if err := sc.Scan(&run.ID, &run.Connection, &status, &run.Queries, &run.RowsAffected,
		&run.StartedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}
	run.Status = core.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	run.Error = errMsg.String
	return run, nil
}
