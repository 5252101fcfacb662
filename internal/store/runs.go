package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type SwarmRun struct {
	ID              string          `json:"id"`
	Request         string          `json:"request"`
	Profile         string          `json:"profile,omitempty"`
	Mode            string          `json:"mode"`
	Status          string          `json:"status"`
	StopReason      string          `json:"stop_reason,omitempty"`
	CyclesCompleted int             `json:"cycles_completed"`
	Summary         json.RawMessage `json:"summary,omitempty"`
	Results         json.RawMessage `json:"results,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

const runColumns = `id, request, profile, mode, status, stop_reason, cycles_completed, summary, results, started_at, completed_at`

func scanSwarmRun(sc scanner) (*SwarmRun, error) {
	r := &SwarmRun{}
	var profile, stopReason, summary, results sql.NullString
	err := sc.Scan(&r.ID, &r.Request, &profile, &r.Mode, &r.Status, &stopReason,
		&r.CyclesCompleted, &summary, &results, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Profile = profile.String
	r.StopReason = stopReason.String
	if summary.Valid {
		r.Summary = json.RawMessage(summary.String)
	}
	if results.Valid {
		r.Results = json.RawMessage(results.String)
	}
	return r, nil
}

func (s *Store) SaveSwarmRun(r *SwarmRun) error {
	_, err := s.db.Exec(`
		INSERT INTO swarm_runs (id, request, profile, mode, status, stop_reason, cycles_completed, summary, results)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			stop_reason = excluded.stop_reason,
			cycles_completed = excluded.cycles_completed,
			summary = excluded.summary,
			results = excluded.results,
			completed_at = CASE WHEN excluded.status IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END`,
		r.ID, r.Request, r.Profile, r.Mode, r.Status, r.StopReason, r.CyclesCompleted, blobOrNil(r.Summary), blobOrNil(r.Results))
	if err != nil {
		return fmt.Errorf("save swarm run: %w", err)
	}
	return nil
}

func (s *Store) GetSwarmRun(id string) (*SwarmRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM swarm_runs WHERE id = ?`, id)
	r, err := scanSwarmRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get swarm run: %w", err)
	}
	return r, nil
}

func (s *Store) ListSwarmRuns() ([]SwarmRun, error) {
	rows, err := s.db.Query(`SELECT ` + runColumns + ` FROM swarm_runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list swarm runs: %w", err)
	}
	defer rows.Close()

	var runs []SwarmRun
	for rows.Next() {
		r, err := scanSwarmRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swarm run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteSwarmRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM swarm_runs WHERE id = ?`, id)
	return err
}

func (s *Store) UpdateSwarmRun(id, status, stopReason string, cyclesCompleted int, summary, results json.RawMessage) error {
	_, err := s.db.Exec(`
		UPDATE swarm_runs
		SET status = ?, stop_reason = ?, cycles_completed = ?, summary = ?, results = ?,
		    completed_at = CASE WHEN ? IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = ?`, status, stopReason, cyclesCompleted, blobOrNil(summary), blobOrNil(results), status, id)
	return err
}

// blobOrNil maps an empty RawMessage to NULL so nullable JSON columns stay
// NULL instead of becoming empty strings.
func blobOrNil(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}
