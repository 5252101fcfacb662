package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Cycle struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	Seq         int             `json:"seq"`
	Status      string          `json:"status"`
	Signal      json.RawMessage `json:"signal,omitempty"`
	Decision    json.RawMessage `json:"decision,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	Feedback    json.RawMessage `json:"feedback,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

const cycleColumns = `id, run_id, seq, status, signal, decision, summary, feedback, started_at, completed_at`

func scanCycle(sc scanner) (*Cycle, error) {
	c := &Cycle{}
	var signal, decision, summary, feedback sql.NullString
	err := sc.Scan(&c.ID, &c.RunID, &c.Seq, &c.Status, &signal, &decision, &summary, &feedback,
		&c.StartedAt, &c.CompletedAt)
	if err != nil {
		return nil, err
	}
	if signal.Valid {
		c.Signal = json.RawMessage(signal.String)
	}
	if decision.Valid {
		c.Decision = json.RawMessage(decision.String)
	}
	if summary.Valid {
		c.Summary = json.RawMessage(summary.String)
	}
	if feedback.Valid {
		c.Feedback = json.RawMessage(feedback.String)
	}
	return c, nil
}

func (s *Store) SaveCycle(c *Cycle) error {
	_, err := s.db.Exec(`
		INSERT INTO cycles (id, run_id, seq, status, signal, decision, summary, feedback)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			signal = excluded.signal,
			decision = excluded.decision,
			summary = excluded.summary,
			feedback = excluded.feedback,
			completed_at = CASE WHEN excluded.status IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		c.ID, c.RunID, c.Seq, c.Status, blobOrNil(c.Signal), blobOrNil(c.Decision), blobOrNil(c.Summary), blobOrNil(c.Feedback))
	if err != nil {
		return fmt.Errorf("save cycle: %w", err)
	}
	return nil
}

func (s *Store) GetCycle(id string) (*Cycle, error) {
	row := s.db.QueryRow(`SELECT `+cycleColumns+` FROM cycles WHERE id = ?`, id)
	c, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cycle: %w", err)
	}
	return c, nil
}

func (s *Store) ListCycles(runID string) ([]Cycle, error) {
	rows, err := s.db.Query(`SELECT `+cycleColumns+` FROM cycles WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var cycles []Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		cycles = append(cycles, *c)
	}
	return cycles, rows.Err()
}
