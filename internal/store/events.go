package store

import (
	"encoding/json"
	"fmt"
	"time"
)

type RunEvent struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Store) SaveRunEvent(ev *RunEvent) error {
	result, err := s.db.Exec(`
		INSERT INTO run_events (run_id, type, payload)
		VALUES (?, ?, ?)`,
		ev.RunID, ev.Type, blobOrNil(ev.Payload))
	if err != nil {
		return fmt.Errorf("save run event: %w", err)
	}
	ev.ID, _ = result.LastInsertId()
	return nil
}

func (s *Store) GetRunEvents(runID string, limit int) ([]RunEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, run_id, type, payload, created_at
		FROM run_events
		WHERE run_id = ?
		ORDER BY id DESC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("get run events: %w", err)
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}

	return events, rows.Err()
}

func (s *Store) GetRecentEvents(limit int) ([]RunEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, run_id, type, payload, created_at
		FROM run_events
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func collectEvents(rows interface {
	Next() bool
	Scan(dest ...any) error
}) ([]RunEvent, error) {
	var events []RunEvent
	for rows.Next() {
		var ev RunEvent
		var payload *string
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		if payload != nil {
			ev.Payload = json.RawMessage(*payload)
		}
		events = append(events, ev)
	}
	return events, nil
}
