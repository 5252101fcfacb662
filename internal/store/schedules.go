package store

import (
	"database/sql"
	"fmt"
	"time"
)

type ScheduledRun struct {
	ID         string     `json:"id"`
	ProfileID  string     `json:"profile_id,omitempty"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Request    string     `json:"request"`
	Mode       string     `json:"mode"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const scheduleColumns = `id, profile_id, name, schedule, request, mode, status,
	next_run_at, last_run_at, last_status, last_error, created_at`

func scanScheduledRun(sc scanner) (*ScheduledRun, error) {
	r := &ScheduledRun{}
	var profileID, lastStatus, lastError sql.NullString
	err := sc.Scan(&r.ID, &profileID, &r.Name, &r.Schedule, &r.Request, &r.Mode, &r.Status,
		&r.NextRunAt, &r.LastRunAt, &lastStatus, &lastError, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.ProfileID = profileID.String
	r.LastStatus = lastStatus.String
	r.LastError = lastError.String
	return r, nil
}

func (s *Store) SaveScheduledRun(r *ScheduledRun) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_runs (id, profile_id, name, schedule, request, mode, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			request = excluded.request,
			mode = excluded.mode,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		r.ID, r.ProfileID, r.Name, r.Schedule, r.Request, r.Mode, r.Status, r.NextRunAt)
	if err != nil {
		return fmt.Errorf("save scheduled run: %w", err)
	}
	return nil
}

func (s *Store) GetScheduledRun(id string) (*ScheduledRun, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM scheduled_runs WHERE id = ?`, id)
	r, err := scanScheduledRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled run: %w", err)
	}
	return r, nil
}

func (s *Store) ListScheduledRuns() ([]ScheduledRun, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleColumns + ` FROM scheduled_runs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled runs: %w", err)
	}
	defer rows.Close()

	var runs []ScheduledRun
	for rows.Next() {
		r, err := scanScheduledRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) GetDueScheduledRuns(now time.Time) ([]ScheduledRun, error) {
	rows, err := s.db.Query(`
		SELECT `+scheduleColumns+`
		FROM scheduled_runs
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due scheduled runs: %w", err)
	}
	defer rows.Close()

	var runs []ScheduledRun
	for rows.Next() {
		r, err := scanScheduledRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) UpdateScheduledRunResult(id string, lastStatus string, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE scheduled_runs
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, lastError, nextRunAt, id)
	return err
}

func (s *Store) UpdateScheduledRunStatus(id string, status string) error {
	_, err := s.db.Exec(`UPDATE scheduled_runs SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) DeleteScheduledRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_runs WHERE id = ?`, id)
	return err
}
