package registry

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/store"
	"github.com/mtzanidakis/sminos/internal/workspace"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ws := workspace.NewManager(config.WorkspaceConfig{BasePath: filepath.Join(dir, "workspaces")})

	profiles := map[string]config.ProfileDefinition{
		"fixer": {
			Description: "General remediation worker",
			Workspace:   "fixer",
		},
		"auditor": {
			Description: "Review specialist",
			Model:       "claude-opus-4-6",
			Command:     []string{"claude", "-p", "--strict"},
			Workspace:   "auditor",
		},
	}

	cfg := config.DefaultsConfig{
		Image: "sminos-worker:latest",
		Model: "claude-sonnet-4-5-20250929",
	}

	reg := New(s, profiles, cfg, ws)
	return reg, s
}

func TestSync(t *testing.T) {
	reg, s := newTestRegistry(t)

	if err := reg.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	profiles, err := s.ListProfiles()
	if err != nil {
		t.Fatalf("list profiles: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}

	// Verify details
	p, err := reg.Get("fixer")
	if err != nil {
		t.Fatalf("get fixer: %v", err)
	}
	if p.Description != "General remediation worker" {
		t.Errorf("expected description 'General remediation worker', got %q", p.Description)
	}
}

func TestSyncDeletesStale(t *testing.T) {
	reg, s := newTestRegistry(t)

	// Pre-seed a stale profile
	_ = s.SaveProfile(&store.WorkerProfile{ID: "stale", Name: "Stale", Workspace: "stale"})

	if err := reg.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	stale, err := s.GetProfile("stale")
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if stale != nil {
		t.Error("expected stale profile to be deleted")
	}
}

func TestSyncSeedsWorkspaces(t *testing.T) {
	reg, _ := newTestRegistry(t)

	if err := reg.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	notes, err := reg.GetNotes("fixer")
	if err != nil {
		t.Fatalf("get notes: %v", err)
	}
	if !strings.Contains(notes, "Profile Notes") {
		t.Errorf("expected seeded notes, got %q", notes)
	}

	global, err := reg.GetGlobalNotes()
	if err != nil {
		t.Fatalf("get global notes: %v", err)
	}
	if global == "" {
		t.Error("expected global notes to be seeded")
	}
}

func TestResolveModel(t *testing.T) {
	reg, _ := newTestRegistry(t)

	// Auditor has explicit model
	if m := reg.ResolveModel("auditor"); m != "claude-opus-4-6" {
		t.Errorf("expected auditor model 'claude-opus-4-6', got %q", m)
	}

	// Fixer falls back to global default
	if m := reg.ResolveModel("fixer"); m != "claude-sonnet-4-5-20250929" {
		t.Errorf("expected fixer model 'claude-sonnet-4-5-20250929', got %q", m)
	}
}

func TestResolveImage(t *testing.T) {
	reg, _ := newTestRegistry(t)

	// Both fall back to global default
	if img := reg.ResolveImage("fixer"); img != "sminos-worker:latest" {
		t.Errorf("expected image 'sminos-worker:latest', got %q", img)
	}
}

func TestResolveCommand(t *testing.T) {
	reg, _ := newTestRegistry(t)

	fallback := []string{"claude", "-p"}

	got := reg.ResolveCommand("auditor", fallback)
	if len(got) != 3 || got[2] != "--strict" {
		t.Errorf("expected auditor command override, got %v", got)
	}

	got = reg.ResolveCommand("fixer", fallback)
	if len(got) != 2 || got[0] != "claude" {
		t.Errorf("expected fallback command, got %v", got)
	}
}

func TestProfileDescriptions(t *testing.T) {
	reg, _ := newTestRegistry(t)

	descs := reg.ProfileDescriptions()
	if len(descs) != 2 {
		t.Fatalf("expected 2 descriptions, got %d", len(descs))
	}
	if descs["fixer"] != "General remediation worker" {
		t.Errorf("unexpected description for fixer: %q", descs["fixer"])
	}
}

func TestReload(t *testing.T) {
	reg, s := newTestRegistry(t)

	if err := reg.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Drop auditor, add triager, change the default model
	profiles := map[string]config.ProfileDefinition{
		"fixer":   {Description: "General remediation worker", Workspace: "fixer"},
		"triager": {Description: "Bug triage worker", Workspace: "triager"},
	}
	defaults := config.DefaultsConfig{
		Image: "sminos-worker:latest",
		Model: "claude-opus-4-6",
	}

	if err := reg.Reload(profiles, defaults); err != nil {
		t.Fatalf("reload: %v", err)
	}

	stored, err := s.ListProfiles()
	if err != nil {
		t.Fatalf("list profiles: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 profiles after reload, got %d", len(stored))
	}

	gone, err := s.GetProfile("auditor")
	if err != nil {
		t.Fatalf("get auditor: %v", err)
	}
	if gone != nil {
		t.Error("expected auditor profile to be removed on reload")
	}

	if m := reg.ResolveModel("triager"); m != "claude-opus-4-6" {
		t.Errorf("expected new default model after reload, got %q", m)
	}
}
