package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Swarm.MinAgents != 1 {
		t.Errorf("expected min_agents 1, got %d", cfg.Swarm.MinAgents)
	}
	if cfg.Swarm.MaxAgents != 10 {
		t.Errorf("expected max_agents 10, got %d", cfg.Swarm.MaxAgents)
	}
	if !cfg.Swarm.Adaptive {
		t.Error("expected adaptive sizing by default")
	}
	if cfg.Swarm.MaxConcurrency != 4 {
		t.Errorf("expected max_concurrency 4, got %d", cfg.Swarm.MaxConcurrency)
	}
	if cfg.Worker.Runtime != "process" {
		t.Errorf("expected worker runtime process, got %s", cfg.Worker.Runtime)
	}
	if cfg.Worker.Image != "sminos-worker:latest" {
		t.Errorf("expected default image sminos-worker:latest, got %s", cfg.Worker.Image)
	}
	if cfg.Worker.Timeout != 20*time.Minute {
		t.Errorf("expected worker timeout 20m, got %v", cfg.Worker.Timeout)
	}
	if cfg.Feedback.NoSignalRounds != 2 {
		t.Errorf("expected no_signal_rounds 2, got %d", cfg.Feedback.NoSignalRounds)
	}
	if cfg.Feedback.DownshiftFactor != 0.5 {
		t.Errorf("expected downshift_factor 0.5, got %g", cfg.Feedback.DownshiftFactor)
	}
	if len(cfg.Feedback.NoSignalReasons) != 2 {
		t.Errorf("expected 2 default no-signal reasons, got %v", cfg.Feedback.NoSignalReasons)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Store.Path != "data/sminos.db" {
		t.Errorf("expected store path data/sminos.db, got %s", cfg.Store.Path)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Point config to a non-existent file so we use defaults
	t.Setenv("SMINOS_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("SMINOS_TELEGRAM_TOKEN", "test-token-123")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	t.Setenv("SMINOS_WEB_PASSWORD", "secret")
	t.Setenv("SMINOS_WEB_PORT", "9090")
	t.Setenv("SMINOS_MAX_AGENTS", "15")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Telegram.Token != "test-token-123" {
		t.Errorf("expected telegram token test-token-123, got %s", cfg.Telegram.Token)
	}
	if cfg.Worker.AnthropicAPIKey != "sk-test-key" {
		t.Errorf("expected anthropic key sk-test-key, got %s", cfg.Worker.AnthropicAPIKey)
	}
	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Swarm.MaxAgents != 15 {
		t.Errorf("expected max_agents 15, got %d", cfg.Swarm.MaxAgents)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
plan:
  path: "audits/plan.yaml"
  base_ref: "origin/main"
swarm:
  min_agents: 2
  max_agents: 16
  max_concurrency: 6
  reviewer: false
worker:
  image: "custom-worker:v1"
  command: ["fixbot", "--json"]
feedback:
  no_signal_reasons: ["offline", "dry-run", "skipped"]
web:
  port: 3000
  enabled: false
profiles:
  gosec:
    description: "Security remediation"
    workspace: gosec
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SMINOS_CONFIG", cfgPath)
	// Clear any env overrides
	t.Setenv("SMINOS_TELEGRAM_TOKEN", "")
	t.Setenv("SMINOS_MAX_AGENTS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Plan.Path != "audits/plan.yaml" {
		t.Errorf("expected plan path audits/plan.yaml, got %s", cfg.Plan.Path)
	}
	if cfg.Swarm.MinAgents != 2 || cfg.Swarm.MaxAgents != 16 {
		t.Errorf("expected bounds [2,16], got [%d,%d]", cfg.Swarm.MinAgents, cfg.Swarm.MaxAgents)
	}
	if cfg.Swarm.Reviewer {
		t.Error("expected reviewer disabled")
	}
	if cfg.Worker.Image != "custom-worker:v1" {
		t.Errorf("expected custom-worker:v1, got %s", cfg.Worker.Image)
	}
	if len(cfg.Worker.Command) != 2 || cfg.Worker.Command[0] != "fixbot" {
		t.Errorf("expected fixbot command, got %v", cfg.Worker.Command)
	}
	if len(cfg.Feedback.NoSignalReasons) != 3 {
		t.Errorf("expected 3 no-signal reasons, got %v", cfg.Feedback.NoSignalReasons)
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
	if _, ok := cfg.Profiles["gosec"]; !ok {
		t.Error("expected gosec profile loaded")
	}
}

func TestValidateBounds(t *testing.T) {
	cfg := defaults()
	cfg.Swarm.MinAgents = 8
	cfg.Swarm.MaxAgents = 4
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for max_agents < min_agents")
	}

	cfg = defaults()
	cfg.Swarm.MaxConcurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero max_concurrency")
	}

	cfg = defaults()
	cfg.Feedback.DownshiftFactor = 1.2
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for downshift_factor >= 1")
	}

	cfg = defaults()
	cfg.Worker.Runtime = "lambda"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown runtime")
	}

	cfg = defaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}
