package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Secret struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Kind        string    `json:"kind"`
	Filename    string    `json:"filename,omitempty"`
	Value       []byte    `json:"-"`
	Nonce       []byte    `json:"-"`
	Global      bool      `json:"global"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Store) SaveSecret(sec *Secret) error {
	_, err := s.db.Exec(`
		INSERT INTO secrets (id, name, description, kind, filename, value, nonce, global)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, description=excluded.description,
			kind=excluded.kind, filename=excluded.filename,
			value=excluded.value, nonce=excluded.nonce,
			global=excluded.global, updated_at=CURRENT_TIMESTAMP`,
		sec.ID, sec.Name, sec.Description, sec.Kind, sec.Filename,
		sec.Value, sec.Nonce, boolToInt(sec.Global))
	if err != nil {
		return fmt.Errorf("save secret: %w", err)
	}
	return nil
}

func (s *Store) GetSecret(id string) (*Secret, error) {
	row := s.db.QueryRow(`
		SELECT id, name, description, kind, filename, value, nonce, global, created_at, updated_at
		FROM secrets WHERE id = ?`, id)
	sec, err := scanSecret(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secret: %w", err)
	}
	return sec, nil
}

func (s *Store) ListSecrets() ([]Secret, error) {
	rows, err := s.db.Query(`
		SELECT id, name, description, kind, filename, global, created_at, updated_at
		FROM secrets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer rows.Close()

	var secrets []Secret
	for rows.Next() {
		sec, err := scanSecretMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("scan secret: %w", err)
		}
		secrets = append(secrets, *sec)
	}
	return secrets, rows.Err()
}

func (s *Store) DeleteSecret(id string) error {
	_, err := s.db.Exec(`DELETE FROM secrets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}

func (s *Store) GetProfileSecrets(profileID string) ([]Secret, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.name, s.description, s.kind, s.filename, s.global, s.created_at, s.updated_at
		FROM secrets s
		WHERE s.global = 1
		   OR s.id IN (SELECT secret_id FROM profile_secrets WHERE profile_id = ?)
		ORDER BY s.name`, profileID)
	if err != nil {
		return nil, fmt.Errorf("get profile secrets: %w", err)
	}
	defer rows.Close()

	var secrets []Secret
	for rows.Next() {
		sec, err := scanSecretMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile secret: %w", err)
		}
		secrets = append(secrets, *sec)
	}
	return secrets, rows.Err()
}

func (s *Store) GetProfileSecret(profileID, secretID string) (*Secret, error) {
	row := s.db.QueryRow(`
		SELECT s.id, s.name, s.description, s.kind, s.filename, s.value, s.nonce, s.global, s.created_at, s.updated_at
		FROM secrets s
		WHERE s.id = ? AND (s.global = 1 OR s.id IN (SELECT secret_id FROM profile_secrets WHERE profile_id = ?))`,
		secretID, profileID)
	sec, err := scanSecret(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile secret: %w", err)
	}
	return sec, nil
}

func (s *Store) AddProfileSecret(profileID, secretID string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO profile_secrets (profile_id, secret_id) VALUES (?, ?)`,
		profileID, secretID)
	if err != nil {
		return fmt.Errorf("add profile secret: %w", err)
	}
	return nil
}

func (s *Store) RemoveProfileSecret(profileID, secretID string) error {
	_, err := s.db.Exec(`DELETE FROM profile_secrets WHERE profile_id = ? AND secret_id = ?`,
		profileID, secretID)
	if err != nil {
		return fmt.Errorf("remove profile secret: %w", err)
	}
	return nil
}

func (s *Store) SetProfileSecrets(profileID string, secretIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM profile_secrets WHERE profile_id = ?`, profileID); err != nil {
		return fmt.Errorf("clear profile secrets: %w", err)
	}

	for _, sid := range secretIDs {
		if _, err := tx.Exec(`INSERT INTO profile_secrets (profile_id, secret_id) VALUES (?, ?)`,
			profileID, sid); err != nil {
			return fmt.Errorf("insert profile secret: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) SetSecretProfiles(secretID string, profileIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM profile_secrets WHERE secret_id = ?`, secretID); err != nil {
		return fmt.Errorf("clear secret profiles: %w", err)
	}

	for _, pid := range profileIDs {
		if _, err := tx.Exec(`INSERT INTO profile_secrets (profile_id, secret_id) VALUES (?, ?)`,
			pid, secretID); err != nil {
			return fmt.Errorf("insert secret profile: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetSecretProfileIDs(secretID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT profile_id FROM profile_secrets WHERE secret_id = ?`, secretID)
	if err != nil {
		return nil, fmt.Errorf("get secret profile ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSecret(s scanner) (*Secret, error) {
	sec := &Secret{}
	var global int
	var desc, filename sql.NullString
	err := s.Scan(&sec.ID, &sec.Name, &desc, &sec.Kind, &filename,
		&sec.Value, &sec.Nonce, &global, &sec.CreatedAt, &sec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sec.Global = global == 1
	sec.Description = desc.String
	sec.Filename = filename.String
	return sec, nil
}

func scanSecretMeta(s scanner) (*Secret, error) {
	sec := &Secret{}
	var global int
	var desc, filename sql.NullString
	err := s.Scan(&sec.ID, &sec.Name, &desc, &sec.Kind, &filename,
		&global, &sec.CreatedAt, &sec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sec.Global = global == 1
	sec.Description = desc.String
	sec.Filename = filename.String
	return sec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
