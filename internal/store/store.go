package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/sminos/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for concurrent read/write access and set a busy
	// timeout so writers retry instead of immediately returning SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS swarm_runs (
			id               TEXT PRIMARY KEY,
			request          TEXT NOT NULL,
			profile          TEXT,
			mode             TEXT DEFAULT 'single',
			status           TEXT DEFAULT 'running',
			stop_reason      TEXT,
			cycles_completed INTEGER DEFAULT 0,
			summary          TEXT,
			results          TEXT,
			started_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at     DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS cycles (
			id           TEXT PRIMARY KEY,
			run_id       TEXT NOT NULL REFERENCES swarm_runs(id),
			seq          INTEGER NOT NULL,
			status       TEXT DEFAULT 'running',
			signal       TEXT,
			decision     TEXT,
			summary      TEXT,
			feedback     TEXT,
			started_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_run ON cycles(run_id, seq)`,
		`CREATE TABLE IF NOT EXISTS feedback_history (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id           TEXT NOT NULL REFERENCES swarm_runs(id),
			cycle            INTEGER NOT NULL,
			decision         TEXT NOT NULL,
			current_agents   INTEGER NOT NULL,
			next_agents      INTEGER NOT NULL,
			worker_agents    INTEGER NOT NULL,
			signal_workers   INTEGER NOT NULL,
			unresolved_total INTEGER NOT NULL,
			delta_unresolved INTEGER,
			no_signal_streak INTEGER NOT NULL,
			stall_streak     INTEGER NOT NULL,
			improve_streak   INTEGER NOT NULL,
			created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_run ON feedback_history(run_id, cycle)`,
		`CREATE TABLE IF NOT EXISTS worker_profiles (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT,
			model       TEXT,
			image       TEXT,
			command     TEXT,
			workspace   TEXT NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS profile_mcp_servers (
			profile_id TEXT NOT NULL REFERENCES worker_profiles(id),
			name       TEXT NOT NULL,
			config     TEXT NOT NULL,
			PRIMARY KEY (profile_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS profile_playbooks (
			profile_id  TEXT NOT NULL REFERENCES worker_profiles(id),
			name        TEXT NOT NULL,
			description TEXT,
			content     TEXT NOT NULL,
			requires    TEXT,
			PRIMARY KEY (profile_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_runs (
			id          TEXT PRIMARY KEY,
			profile_id  TEXT,
			name        TEXT NOT NULL,
			schedule    TEXT NOT NULL,
			request     TEXT NOT NULL,
			mode        TEXT DEFAULT 'single',
			status      TEXT DEFAULT 'active',
			next_run_at DATETIME,
			last_run_at DATETIME,
			last_status TEXT,
			last_error  TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON scheduled_runs(status, next_run_at)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT,
			kind        TEXT DEFAULT 'string',
			filename    TEXT,
			value       BLOB NOT NULL,
			nonce       BLOB NOT NULL,
			global      INTEGER DEFAULT 0,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS profile_secrets (
			profile_id TEXT NOT NULL,
			secret_id  TEXT NOT NULL REFERENCES secrets(id),
			PRIMARY KEY (profile_id, secret_id)
		)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL,
			type       TEXT NOT NULL,
			payload    TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events ON run_events(run_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	// Schema additions (idempotent ALTER TABLE)
	alterations := []string{
		`ALTER TABLE swarm_runs ADD COLUMN stop_reason TEXT`,
		`ALTER TABLE scheduled_runs ADD COLUMN mode TEXT DEFAULT 'single'`,
	}
	for _, a := range alterations {
		_, _ = s.db.Exec(a) // ignore "duplicate column" errors
	}

	return nil
}
