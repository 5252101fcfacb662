package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type WorkerProfile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Model       string    `json:"model,omitempty"`
	Image       string    `json:"image,omitempty"`
	Command     []string  `json:"command,omitempty"`
	Workspace   string    `json:"workspace"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Store) SaveProfile(p *WorkerProfile) error {
	command, err := json.Marshal(p.Command)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO worker_profiles (id, name, description, model, image, command, workspace, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			model = excluded.model,
			image = excluded.image,
			command = excluded.command,
			workspace = excluded.workspace,
			updated_at = CURRENT_TIMESTAMP`,
		p.ID, p.Name, p.Description, p.Model, p.Image, string(command), p.Workspace)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

func scanProfile(sc scanner) (*WorkerProfile, error) {
	p := &WorkerProfile{}
	var description, model, image, command sql.NullString
	err := sc.Scan(&p.ID, &p.Name, &description, &model, &image, &command, &p.Workspace, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Description = description.String
	p.Model = model.String
	p.Image = image.String
	if command.Valid && command.String != "" {
		if err := json.Unmarshal([]byte(command.String), &p.Command); err != nil {
			return nil, fmt.Errorf("unmarshal command: %w", err)
		}
	}
	return p, nil
}

func (s *Store) GetProfile(id string) (*WorkerProfile, error) {
	row := s.db.QueryRow(`SELECT id, name, description, model, image, command, workspace, created_at, updated_at FROM worker_profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *Store) ListProfiles() ([]WorkerProfile, error) {
	rows, err := s.db.Query(`SELECT id, name, description, model, image, command, workspace, created_at, updated_at FROM worker_profiles ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []WorkerProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

func (s *Store) DeleteProfile(id string) error {
	_, err := s.db.Exec(`DELETE FROM worker_profiles WHERE id = ?`, id)
	return err
}

func (s *Store) DeleteProfilesNotIn(ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.Exec(`DELETE FROM worker_profiles`)
		return err
	}
	query := `DELETE FROM worker_profiles WHERE id NOT IN (`
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = id
	}
	query += ")"
	_, err := s.db.Exec(query, args...)
	return err
}
