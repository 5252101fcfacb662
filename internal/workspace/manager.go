package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/sminos/internal/config"
)

// Manager owns the workspace tree: per-profile folders with a NOTES.md
// memory file, a global folder, and per-run working directories handed
// to worker slots.
type Manager struct {
	basePath string
}

func NewManager(cfg config.WorkspaceConfig) *Manager {
	return &Manager{basePath: cfg.BasePath}
}

func (m *Manager) BasePath() string {
	return m.basePath
}

func (m *Manager) ProfilePath(folder string) string {
	return filepath.Join(m.basePath, folder)
}

func (m *Manager) GlobalPath() string {
	return filepath.Join(m.basePath, "global")
}

func (m *Manager) RunPath(runID string) string {
	return filepath.Join(m.basePath, "runs", runID)
}

func (m *Manager) WorkerPath(runID string, index int) string {
	return filepath.Join(m.RunPath(runID), fmt.Sprintf("worker-%d", index))
}

func (m *Manager) GetNotes(folder string) (string, error) {
	path := filepath.Join(m.basePath, folder, "NOTES.md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func (m *Manager) GetGlobalNotes() (string, error) {
	path := filepath.Join(m.basePath, "global", "NOTES.md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// EnsureProfile creates the profile folder and seeds an empty NOTES.md
// memory file if none exists yet.
func (m *Manager) EnsureProfile(folder string) error {
	dir := filepath.Join(m.basePath, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	notes := filepath.Join(dir, "NOTES.md")
	if _, err := os.Stat(notes); os.IsNotExist(err) {
		if err := os.WriteFile(notes, []byte("# Profile Notes\n\nThis file stores accumulated context for this worker profile.\n"), 0o644); err != nil {
			return fmt.Errorf("create NOTES.md: %w", err)
		}
	}
	return nil
}

func (m *Manager) EnsureGlobal() error {
	dir := filepath.Join(m.basePath, "global")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create global dir: %w", err)
	}

	notes := filepath.Join(dir, "NOTES.md")
	if _, err := os.Stat(notes); os.IsNotExist(err) {
		defaultContent := "# Global Notes\n\nThis file is loaded by all worker profiles.\n"
		if err := os.WriteFile(notes, []byte(defaultContent), 0o644); err != nil {
			return fmt.Errorf("create global NOTES.md: %w", err)
		}
	}
	return nil
}

// EnsureRun creates the working directory for a run and returns its path.
// Worker slot directories are created inside it by the executor.
func (m *Manager) EnsureRun(runID string) (string, error) {
	dir := m.RunPath(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	return dir, nil
}
