package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mtzanidakis/sminos/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(config.WorkspaceConfig{BasePath: t.TempDir()})
}

func TestEnsureProfile(t *testing.T) {
	m := newTestManager(t)

	if err := m.EnsureProfile("fixer"); err != nil {
		t.Fatalf("ensure profile: %v", err)
	}

	notes := filepath.Join(m.ProfilePath("fixer"), "NOTES.md")
	data, err := os.ReadFile(notes)
	if err != nil {
		t.Fatalf("read seeded notes: %v", err)
	}
	if !strings.Contains(string(data), "Profile Notes") {
		t.Errorf("unexpected seeded content: %q", data)
	}

	// Seeding must not overwrite existing notes
	if err := os.WriteFile(notes, []byte("custom"), 0o644); err != nil {
		t.Fatalf("write custom notes: %v", err)
	}
	if err := m.EnsureProfile("fixer"); err != nil {
		t.Fatalf("ensure profile again: %v", err)
	}
	got, _ := m.GetNotes("fixer")
	if got != "custom" {
		t.Errorf("expected custom notes preserved, got %q", got)
	}
}

func TestGetNotesMissing(t *testing.T) {
	m := newTestManager(t)
	got, err := m.GetNotes("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty notes for missing profile, got %q", got)
	}
}

func TestEnsureGlobal(t *testing.T) {
	m := newTestManager(t)
	if err := m.EnsureGlobal(); err != nil {
		t.Fatalf("ensure global: %v", err)
	}
	notes, err := m.GetGlobalNotes()
	if err != nil {
		t.Fatalf("get global notes: %v", err)
	}
	if !strings.Contains(notes, "Global Notes") {
		t.Errorf("unexpected global notes: %q", notes)
	}
}

func TestRunPaths(t *testing.T) {
	m := newTestManager(t)

	dir, err := m.EnsureRun("run-1")
	if err != nil {
		t.Fatalf("ensure run: %v", err)
	}
	if dir != m.RunPath("run-1") {
		t.Errorf("expected %q, got %q", m.RunPath("run-1"), dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("run dir missing: %v", err)
	}

	want := filepath.Join(dir, "worker-3")
	if got := m.WorkerPath("run-1", 3); got != want {
		t.Errorf("expected worker path %q, got %q", want, got)
	}
}
