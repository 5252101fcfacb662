package store

import (
	"database/sql"
	"fmt"
	"time"
)

type FeedbackRecord struct {
	ID              int64     `json:"id"`
	RunID           string    `json:"run_id"`
	Cycle           int       `json:"cycle"`
	Decision        string    `json:"decision"`
	CurrentAgents   int       `json:"current_agents"`
	NextAgents      int       `json:"next_agents"`
	WorkerAgents    int       `json:"worker_agents"`
	SignalWorkers   int       `json:"signal_workers"`
	UnresolvedTotal int       `json:"unresolved_total"`
	DeltaUnresolved *int      `json:"delta_unresolved,omitempty"`
	NoSignalStreak  int       `json:"no_signal_streak"`
	StallStreak     int       `json:"stall_streak"`
	ImproveStreak   int       `json:"improve_streak"`
	CreatedAt       time.Time `json:"created_at"`
}

const feedbackColumns = `id, run_id, cycle, decision, current_agents, next_agents, worker_agents,
	signal_workers, unresolved_total, delta_unresolved, no_signal_streak, stall_streak, improve_streak, created_at`

func scanFeedbackRecord(sc scanner) (*FeedbackRecord, error) {
	r := &FeedbackRecord{}
	var delta sql.NullInt64
	err := sc.Scan(&r.ID, &r.RunID, &r.Cycle, &r.Decision, &r.CurrentAgents, &r.NextAgents,
		&r.WorkerAgents, &r.SignalWorkers, &r.UnresolvedTotal, &delta,
		&r.NoSignalStreak, &r.StallStreak, &r.ImproveStreak, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if delta.Valid {
		d := int(delta.Int64)
		r.DeltaUnresolved = &d
	}
	return r, nil
}

func (s *Store) SaveFeedbackRecord(r *FeedbackRecord) error {
	var delta any
	if r.DeltaUnresolved != nil {
		delta = *r.DeltaUnresolved
	}
	result, err := s.db.Exec(`
		INSERT INTO feedback_history (run_id, cycle, decision, current_agents, next_agents,
			worker_agents, signal_workers, unresolved_total, delta_unresolved,
			no_signal_streak, stall_streak, improve_streak)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Cycle, r.Decision, r.CurrentAgents, r.NextAgents,
		r.WorkerAgents, r.SignalWorkers, r.UnresolvedTotal, delta,
		r.NoSignalStreak, r.StallStreak, r.ImproveStreak)
	if err != nil {
		return fmt.Errorf("save feedback record: %w", err)
	}
	r.ID, _ = result.LastInsertId()
	return nil
}

func (s *Store) ListFeedbackRecords(runID string) ([]FeedbackRecord, error) {
	rows, err := s.db.Query(`SELECT `+feedbackColumns+` FROM feedback_history WHERE run_id = ? ORDER BY cycle`, runID)
	if err != nil {
		return nil, fmt.Errorf("list feedback records: %w", err)
	}
	defer rows.Close()

	var records []FeedbackRecord
	for rows.Next() {
		r, err := scanFeedbackRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feedback record: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func (s *Store) ListRecentFeedback(limit int) ([]FeedbackRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+feedbackColumns+` FROM feedback_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent feedback: %w", err)
	}
	defer rows.Close()

	var records []FeedbackRecord
	for rows.Next() {
		r, err := scanFeedbackRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feedback record: %w", err)
		}
		records = append(records, *r)
	}

	// Reverse to get chronological order
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	return records, rows.Err()
}
