package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapgrid/pkg/core"
	"gopkg.in/yaml.v3"
)

// SaveFilter stores a filter under a container identity, replacing any previous one.
func (s *SQLiteStore) SaveFilter(containerID string, filter *core.DataFilter) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	data, err := yaml.Marshal(filter)
	if err != nil {
		return fmt.Errorf("failed to encode filter: %w", err)
	}

	_, err = s.db.ExecContext(ctx(),
		`INSERT INTO saved_filters (container_id, filter_yaml, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (container_id) DO UPDATE SET filter_yaml = excluded.filter_yaml, updated_at = excluded.updated_at`,
		containerID, string(data), now())
	if err != nil {
		return fmt.Errorf("failed to save filter: %w", err)
	}

	s.logger.Debug("filter saved", slog.String("container", containerID))
	return nil
}

// GetFilter returns the saved filter for a container, or nil if none is stored.
func (s *SQLiteStore) GetFilter(containerID string) (*core.DataFilter, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	var data string
	err := s.db.QueryRowContext(ctx(),
		`SELECT filter_yaml FROM saved_filters WHERE container_id = ?`, containerID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get filter: %w", err)
	}
	return decodeFilter(data)
}

// ListFilters returns all saved filters ordered by container.
func (s *SQLiteStore) ListFilters() ([]*core.SavedFilter, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx(),
		`SELECT container_id, filter_yaml, updated_at FROM saved_filters ORDER BY container_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list filters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.SavedFilter
	for rows.Next() {
		var (
			id, data string
			updated  time.Time
		)
		if err := rows.Scan(&id, &data, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan filter: %w", err)
		}
		f, err := decodeFilter(data)
		if err != nil {
			return nil, fmt.Errorf("filter for %s: %w", id, err)
		}
		out = append(out, &core.SavedFilter{ContainerID: id, Filter: f, UpdatedAt: updated})
	}
	return out, rows.Err()
}

// DeleteFilter removes the saved filter of a container. Missing entries are not an error.
func (s *SQLiteStore) DeleteFilter(containerID string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if _, err := s.db.ExecContext(ctx(), `DELETE FROM saved_filters WHERE container_id = ?`, containerID); err != nil {
		return fmt.Errorf("failed to delete filter: %w", err)
	}
	return nil
}

func decodeFilter(data string) (*core.DataFilter, error) {
	f := &core.DataFilter{}
	if err := yaml.Unmarshal([]byte(data), f); err != nil {
		return nil, fmt.Errorf("failed to decode filter: %w", err)
	}
	return f, nil
}
