package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtzanidakis/sminos/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSwarmRunCRUD(t *testing.T) {
	s := newTestStore(t)

	run := &SwarmRun{
		ID:      "run-1",
		Request: "fix the flaky integration tests",
		Profile: "fixer",
		Mode:    "continuous",
		Status:  "running",
	}

	if err := s.SaveSwarmRun(run); err != nil {
		t.Fatalf("save swarm run: %v", err)
	}

	got, err := s.GetSwarmRun("run-1")
	if err != nil {
		t.Fatalf("get swarm run: %v", err)
	}
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.Status != "running" {
		t.Errorf("expected status 'running', got '%s'", got.Status)
	}
	if got.CompletedAt != nil {
		t.Error("expected nil completed_at for running run")
	}

	// Not found
	got, err = s.GetSwarmRun("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent run")
	}

	// Terminal update sets completed_at
	summary, _ := json.Marshal(map[string]int{"ok_count": 3})
	results, _ := json.Marshal([]map[string]any{{"agent_name": "worker-1", "ok": true}})
	if err := s.UpdateSwarmRun("run-1", "completed", "plan_complete", 2, summary, results); err != nil {
		t.Fatalf("update swarm run: %v", err)
	}

	got, _ = s.GetSwarmRun("run-1")
	if got.Status != "completed" {
		t.Errorf("expected status 'completed', got '%s'", got.Status)
	}
	if got.StopReason != "plan_complete" {
		t.Errorf("expected stop reason 'plan_complete', got '%s'", got.StopReason)
	}
	if got.CyclesCompleted != 2 {
		t.Errorf("expected 2 cycles completed, got %d", got.CyclesCompleted)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if len(got.Summary) == 0 {
		t.Error("expected summary to round-trip")
	}

	runs, err := s.ListSwarmRuns()
	if err != nil {
		t.Fatalf("list swarm runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

func TestCycleCRUD(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveSwarmRun(&SwarmRun{ID: "run-1", Request: "r", Mode: "single", Status: "running"})

	signal, _ := json.Marshal(map[string]int{"lines_changed": 2400})
	c := &Cycle{
		ID:     "cycle-1",
		RunID:  "run-1",
		Seq:    1,
		Status: "running",
		Signal: signal,
	}
	if err := s.SaveCycle(c); err != nil {
		t.Fatalf("save cycle: %v", err)
	}

	got, err := s.GetCycle("cycle-1")
	if err != nil {
		t.Fatalf("get cycle: %v", err)
	}
	if got.Seq != 1 {
		t.Errorf("expected seq 1, got %d", got.Seq)
	}
	if len(got.Signal) == 0 {
		t.Error("expected signal to round-trip")
	}

	c.Status = "completed"
	if err := s.SaveCycle(c); err != nil {
		t.Fatalf("update cycle: %v", err)
	}
	got, _ = s.GetCycle("cycle-1")
	if got.CompletedAt == nil {
		t.Error("expected completed_at after terminal status")
	}

	_ = s.SaveCycle(&Cycle{ID: "cycle-2", RunID: "run-1", Seq: 2, Status: "running"})
	cycles, err := s.ListCycles("run-1")
	if err != nil {
		t.Fatalf("list cycles: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("expected 2 cycles, got %d", len(cycles))
	}
	if cycles[0].Seq != 1 || cycles[1].Seq != 2 {
		t.Errorf("expected cycles ordered by seq, got %d then %d", cycles[0].Seq, cycles[1].Seq)
	}
}

func TestFeedbackRecords(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveSwarmRun(&SwarmRun{ID: "run-1", Request: "r", Mode: "continuous", Status: "running"})

	r1 := &FeedbackRecord{
		RunID: "run-1", Cycle: 1, Decision: "hold",
		CurrentAgents: 6, NextAgents: 6, WorkerAgents: 5, SignalWorkers: 5,
		UnresolvedTotal: 12,
	}
	if err := s.SaveFeedbackRecord(r1); err != nil {
		t.Fatalf("save feedback record: %v", err)
	}
	if r1.ID == 0 {
		t.Error("expected insert id to be set")
	}

	delta := -4
	r2 := &FeedbackRecord{
		RunID: "run-1", Cycle: 2, Decision: "upshift",
		CurrentAgents: 6, NextAgents: 8, WorkerAgents: 5, SignalWorkers: 5,
		UnresolvedTotal: 8, DeltaUnresolved: &delta, ImproveStreak: 0,
	}
	if err := s.SaveFeedbackRecord(r2); err != nil {
		t.Fatalf("save feedback record: %v", err)
	}

	records, err := s.ListFeedbackRecords("run-1")
	if err != nil {
		t.Fatalf("list feedback records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].DeltaUnresolved != nil {
		t.Error("expected nil delta on first cycle")
	}
	if records[1].DeltaUnresolved == nil || *records[1].DeltaUnresolved != -4 {
		t.Errorf("expected delta -4, got %v", records[1].DeltaUnresolved)
	}

	recent, err := s.ListRecentFeedback(10)
	if err != nil {
		t.Fatalf("list recent feedback: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent records, got %d", len(recent))
	}
	if recent[0].Cycle != 1 {
		t.Errorf("expected chronological order, first cycle %d", recent[0].Cycle)
	}
}

func TestProfileCRUD(t *testing.T) {
	s := newTestStore(t)

	p := &WorkerProfile{
		ID:          "fixer",
		Name:        "Fixer",
		Description: "General remediation worker",
		Command:     []string{"claude", "-p"},
		Workspace:   "fixer",
	}
	if err := s.SaveProfile(p); err != nil {
		t.Fatalf("save profile: %v", err)
	}

	got, err := s.GetProfile("fixer")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got == nil {
		t.Fatal("expected profile, got nil")
	}
	if got.Name != "Fixer" {
		t.Errorf("expected name 'Fixer', got '%s'", got.Name)
	}
	if len(got.Command) != 2 || got.Command[0] != "claude" {
		t.Errorf("expected command to round-trip, got %v", got.Command)
	}

	// Update
	p.Name = "Updated Fixer"
	if err := s.SaveProfile(p); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	got, _ = s.GetProfile("fixer")
	if got.Name != "Updated Fixer" {
		t.Errorf("expected 'Updated Fixer', got '%s'", got.Name)
	}

	// Not found
	got, err = s.GetProfile("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent profile")
	}

	// DeleteProfilesNotIn
	_ = s.SaveProfile(&WorkerProfile{ID: "auditor", Name: "Auditor", Workspace: "auditor"})
	_ = s.SaveProfile(&WorkerProfile{ID: "migrator", Name: "Migrator", Workspace: "migrator"})
	if err := s.DeleteProfilesNotIn([]string{"fixer", "auditor"}); err != nil {
		t.Fatalf("delete profiles not in: %v", err)
	}
	profiles, _ := s.ListProfiles()
	if len(profiles) != 2 {
		t.Errorf("expected 2 profiles after delete, got %d", len(profiles))
	}
}

func TestScheduledRunCRUD(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	nextRun := now.Add(-1 * time.Minute) // Due now
	r := &ScheduledRun{
		ID:        "sched-1",
		ProfileID: "fixer",
		Name:      "Nightly remediation",
		Schedule:  `{"kind":"cron","cron_expr":"0 2 * * *"}`,
		Request:   "work through the open plan items",
		Mode:      "continuous",
		Status:    "active",
		NextRunAt: &nextRun,
	}

	if err := s.SaveScheduledRun(r); err != nil {
		t.Fatalf("save scheduled run: %v", err)
	}

	got, err := s.GetScheduledRun("sched-1")
	if err != nil {
		t.Fatalf("get scheduled run: %v", err)
	}
	if got.Name != "Nightly remediation" {
		t.Errorf("expected 'Nightly remediation', got '%s'", got.Name)
	}
	if got.Mode != "continuous" {
		t.Errorf("expected mode 'continuous', got '%s'", got.Mode)
	}

	// Due
	due, err := s.GetDueScheduledRuns(time.Now())
	if err != nil {
		t.Fatalf("get due scheduled runs: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("expected 1 due scheduled run, got %d", len(due))
	}

	// Pause
	_ = s.UpdateScheduledRunStatus("sched-1", "paused")
	due, _ = s.GetDueScheduledRuns(time.Now())
	if len(due) != 0 {
		t.Errorf("expected 0 due after pause, got %d", len(due))
	}

	// Record a run result
	next := now.Add(time.Hour)
	if err := s.UpdateScheduledRunResult("sched-1", "success", "", &next); err != nil {
		t.Fatalf("update scheduled run result: %v", err)
	}
	got, _ = s.GetScheduledRun("sched-1")
	if got.LastStatus != "success" {
		t.Errorf("expected last status 'success', got '%s'", got.LastStatus)
	}
	if got.LastRunAt == nil {
		t.Error("expected last_run_at to be set")
	}
}

func TestRunEvents(t *testing.T) {
	s := newTestStore(t)
	_ = s.SaveSwarmRun(&SwarmRun{ID: "run-1", Request: "r", Mode: "single", Status: "running"})

	for i := 0; i < 5; i++ {
		payload, _ := json.Marshal(map[string]int{"seq": i})
		if err := s.SaveRunEvent(&RunEvent{RunID: "run-1", Type: "cycle_started", Payload: payload}); err != nil {
			t.Fatalf("save run event: %v", err)
		}
	}

	events, err := s.GetRunEvents("run-1", 10)
	if err != nil {
		t.Fatalf("get run events: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	// Should be in chronological order
	var first map[string]int
	_ = json.Unmarshal(events[0].Payload, &first)
	if first["seq"] != 0 {
		t.Errorf("expected first event seq 0, got %d", first["seq"])
	}

	// Limit
	events, err = s.GetRunEvents("run-1", 2)
	if err != nil {
		t.Fatalf("get run events limited: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
}

func TestSecretCRUD(t *testing.T) {
	s := newTestStore(t)

	sec := &Secret{
		ID:    "api-token",
		Name:  "api-token",
		Kind:  "string",
		Value: []byte("ciphertext"),
		Nonce: []byte("nonce"),
	}
	if err := s.SaveSecret(sec); err != nil {
		t.Fatalf("save secret: %v", err)
	}

	got, err := s.GetSecret("api-token")
	if err != nil {
		t.Fatalf("get secret: %v", err)
	}
	if got == nil {
		t.Fatal("expected secret, got nil")
	}
	if string(got.Value) != "ciphertext" {
		t.Errorf("expected value to round-trip, got %q", got.Value)
	}

	// Profile assignment
	if err := s.AddProfileSecret("fixer", "api-token"); err != nil {
		t.Fatalf("add profile secret: %v", err)
	}
	secrets, err := s.GetProfileSecrets("fixer")
	if err != nil {
		t.Fatalf("get profile secrets: %v", err)
	}
	if len(secrets) != 1 {
		t.Fatalf("expected 1 profile secret, got %d", len(secrets))
	}

	// Unassigned profile sees only globals
	secrets, _ = s.GetProfileSecrets("auditor")
	if len(secrets) != 0 {
		t.Errorf("expected 0 secrets for unassigned profile, got %d", len(secrets))
	}

	// Global secret visible to every profile
	_ = s.SaveSecret(&Secret{ID: "shared", Name: "shared", Kind: "string", Value: []byte("v"), Nonce: []byte("n"), Global: true})
	secrets, _ = s.GetProfileSecrets("auditor")
	if len(secrets) != 1 {
		t.Errorf("expected 1 global secret for auditor, got %d", len(secrets))
	}

	// With value via profile scope
	full, err := s.GetProfileSecret("fixer", "api-token")
	if err != nil {
		t.Fatalf("get profile secret: %v", err)
	}
	if full == nil || string(full.Value) != "ciphertext" {
		t.Error("expected full secret via profile scope")
	}

	// Out of scope
	full, _ = s.GetProfileSecret("auditor", "api-token")
	if full != nil {
		t.Error("expected nil for secret outside profile scope")
	}

	// Replace assignments
	if err := s.SetSecretProfiles("api-token", []string{"auditor"}); err != nil {
		t.Fatalf("set secret profiles: %v", err)
	}
	ids, _ := s.GetSecretProfileIDs("api-token")
	if len(ids) != 1 || ids[0] != "auditor" {
		t.Errorf("expected [auditor], got %v", ids)
	}

	if err := s.DeleteSecret("api-token"); err != nil {
		t.Fatalf("delete secret: %v", err)
	}
	got, _ = s.GetSecret("api-token")
	if got != nil {
		t.Error("expected nil after delete")
	}
}
