package config

import (
	"testing"
	"time"
)

func TestDiff_NoChanges(t *testing.T) {
	cfg := &Config{
		Profiles: map[string]ProfileDefinition{
			"fixer": {Description: "general remediation", Model: "claude-sonnet-4-5-20250929"},
		},
		Defaults: DefaultsConfig{Model: "claude-sonnet-4-5-20250929", Image: "img:latest"},
		Router:   RouterConfig{DefaultProfile: "fixer"},
	}
	d := Diff(cfg, cfg)
	if d.HasChanges() {
		t.Error("expected no changes")
	}
}

func TestDiff_ProfileAdded(t *testing.T) {
	old := &Config{
		Profiles: map[string]ProfileDefinition{
			"fixer": {Description: "test"},
		},
	}
	new := &Config{
		Profiles: map[string]ProfileDefinition{
			"fixer": {Description: "test"},
			"gosec": {Description: "security remediation"},
		},
	}
	d := Diff(old, new)
	if len(d.ProfilesAdded) != 1 || d.ProfilesAdded[0] != "gosec" {
		t.Errorf("expected gosec added, got %v", d.ProfilesAdded)
	}
	if len(d.ProfilesRemoved) != 0 {
		t.Errorf("expected no removals, got %v", d.ProfilesRemoved)
	}
	if len(d.ProfilesChanged) != 0 {
		t.Errorf("expected no changes, got %v", d.ProfilesChanged)
	}
}

func TestDiff_ProfileRemoved(t *testing.T) {
	old := &Config{
		Profiles: map[string]ProfileDefinition{
			"fixer": {Description: "test"},
			"gosec": {Description: "security remediation"},
		},
	}
	new := &Config{
		Profiles: map[string]ProfileDefinition{
			"fixer": {Description: "test"},
		},
	}
	d := Diff(old, new)
	if len(d.ProfilesRemoved) != 1 || d.ProfilesRemoved[0] != "gosec" {
		t.Errorf("expected gosec removed, got %v", d.ProfilesRemoved)
	}
}

func TestDiff_ProfileCommandChanged(t *testing.T) {
	old := &Config{
		Profiles: map[string]ProfileDefinition{
			"fixer": {Command: []string{"claude", "-p"}},
		},
	}
	new := &Config{
		Profiles: map[string]ProfileDefinition{
			"fixer": {Command: []string{"claude", "-p", "--verbose"}},
		},
	}
	d := Diff(old, new)
	if len(d.ProfilesChanged) != 1 || d.ProfilesChanged[0] != "fixer" {
		t.Errorf("expected fixer changed, got %v", d.ProfilesChanged)
	}
}

func TestDiff_DefaultsChanged(t *testing.T) {
	old := &Config{
		Defaults: DefaultsConfig{Model: "claude-sonnet-4-5-20250929", Image: "img:latest"},
	}
	new := &Config{
		Defaults: DefaultsConfig{Model: "claude-haiku-4-5-20251001", Image: "img:latest"},
	}
	d := Diff(old, new)
	if !d.DefaultsChanged {
		t.Error("expected defaults changed")
	}
	if d.NewDefaults.Model != "claude-haiku-4-5-20251001" {
		t.Errorf("expected new model, got %s", d.NewDefaults.Model)
	}
}

func TestDiff_RouterChanged(t *testing.T) {
	old := &Config{Router: RouterConfig{DefaultProfile: "fixer"}}
	new := &Config{Router: RouterConfig{DefaultProfile: "gosec"}}
	d := Diff(old, new)
	if !d.RouterChanged {
		t.Error("expected router changed")
	}
	if d.NewDefaultProfile != "gosec" {
		t.Errorf("expected gosec, got %s", d.NewDefaultProfile)
	}
}

func TestDiff_FeedbackChanged(t *testing.T) {
	old := &Config{Feedback: FeedbackConfig{StallRounds: 3, DownshiftFactor: 0.5}}
	new := &Config{Feedback: FeedbackConfig{StallRounds: 4, DownshiftFactor: 0.5}}
	d := Diff(old, new)
	if !d.FeedbackChanged {
		t.Error("expected feedback changed")
	}
	if d.NewFeedback.StallRounds != 4 {
		t.Errorf("expected stall_rounds 4, got %d", d.NewFeedback.StallRounds)
	}
}

func TestDiff_SchedulerChanged(t *testing.T) {
	old := &Config{Scheduler: SchedulerConfig{PollInterval: 30 * time.Second}}
	new := &Config{Scheduler: SchedulerConfig{PollInterval: 60 * time.Second}}
	d := Diff(old, new)
	if !d.SchedulerChanged {
		t.Error("expected scheduler changed")
	}
}

func TestDiff_NonReloadable(t *testing.T) {
	old := &Config{
		Telegram: TelegramConfig{Token: "old-token"},
		Web:      WebConfig{Port: 8080},
		Worker:   WorkerConfig{Runtime: "process"},
	}
	new := &Config{
		Telegram: TelegramConfig{Token: "new-token"},
		Web:      WebConfig{Port: 9090},
		Worker:   WorkerConfig{Runtime: "docker"},
	}
	d := Diff(old, new)
	if len(d.NonReloadable) != 3 {
		t.Errorf("expected 3 non-reloadable warnings, got %v", d.NonReloadable)
	}
}
