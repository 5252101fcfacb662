package cycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/container"
	"github.com/mtzanidakis/sminos/internal/feedback"
	"github.com/mtzanidakis/sminos/internal/metadata"
	"github.com/mtzanidakis/sminos/internal/natsbus"
	"github.com/mtzanidakis/sminos/internal/plan"
	"github.com/mtzanidakis/sminos/internal/registry"
	"github.com/mtzanidakis/sminos/internal/sizing"
	"github.com/mtzanidakis/sminos/internal/store"
	"github.com/mtzanidakis/sminos/internal/swarm"
	"github.com/mtzanidakis/sminos/internal/toolkit"
	"github.com/mtzanidakis/sminos/internal/vault"
	"github.com/mtzanidakis/sminos/internal/worker"
	"github.com/mtzanidakis/sminos/internal/workspace"
)

// Terminal stop reasons for a run.
const (
	StopPlanComplete = "plan_complete"
	StopCycleFailed  = "cycle_failed"
	StopMaxCycles    = "max_cycles_reached"
	StopSingleCycle  = "single_cycle_complete"
)

// Run modes recorded on the run row.
const (
	ModeContinuous = "continuous"
	ModeSingle     = "single"
)

// RunRequest describes one driver invocation.
type RunRequest struct {
	RunID   string // empty generates one
	Request string // free-text description stored on the run
	Profile string // worker profile; empty uses the configured defaults
	Mode    string // ModeContinuous or ModeSingle; empty follows config
}

// RunReport is the driver's structured output: how the run stopped plus the
// last cycle's swarm report and the full feedback history.
type RunReport struct {
	RunID           string               `json:"run_id"`
	StopReason      string               `json:"stop_reason"`
	CyclesCompleted int                  `json:"cycles_completed"`
	AllCyclesOK     bool                 `json:"all_cycles_ok"`
	LastSummary     swarm.SwarmSummary   `json:"last_summary"`
	Results         []swarm.WorkerResult `json:"results,omitempty"`
	History         []feedback.Record    `json:"history,omitempty"`
}

// Succeeded reports whether the run as a whole counts as a success: every
// executed cycle was ok and the driver stopped for an allowed reason.
func (r *RunReport) Succeeded() bool {
	if !r.AllCyclesOK {
		return false
	}
	switch r.StopReason {
	case StopPlanComplete, StopMaxCycles, StopSingleCycle:
		return true
	}
	return false
}

// Driver owns the sequential remediation loop: re-derive the remaining plan,
// size the swarm, execute it, feed the outcome back, persist everything,
// repeat until a terminal state. Runs are serialized; a second Run blocks
// until the first finishes so two swarms never claim the same plan items.
type Driver struct {
	mu         sync.RWMutex
	cfg        *config.Config
	runMu      sync.Mutex
	busy       atomic.Bool
	store      *store.Store
	ws         *workspace.Manager
	client     *natsbus.Client
	registry   *registry.Registry
	vault      *vault.Vault
	containers *container.Manager
}

// New wires a driver. The store and workspace manager are required; client,
// registry, vault, and container manager may be nil when the surrounding
// service does not carry them.
func New(cfg *config.Config, s *store.Store, ws *workspace.Manager, client *natsbus.Client,
	reg *registry.Registry, v *vault.Vault, containers *container.Manager) *Driver {
	return &Driver{
		cfg:        cfg,
		store:      s,
		ws:         ws,
		client:     client,
		registry:   reg,
		vault:      v,
		containers: containers,
	}
}

// UpdateConfig swaps the config used by subsequent runs. The in-flight run,
// if any, keeps its snapshot.
func (d *Driver) UpdateConfig(cfg *config.Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

func (d *Driver) snapshot() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Busy reports whether a run is currently executing.
func (d *Driver) Busy() bool {
	return d.busy.Load()
}

// Run executes one full driver invocation and blocks until it reaches a
// terminal state. The returned report is non-nil whenever a run row was
// created, even on error.
func (d *Driver) Run(ctx context.Context, req RunRequest) (*RunReport, error) {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	d.busy.Store(true)
	defer d.busy.Store(false)

	cfg := d.snapshot()

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	continuous := cfg.Cycle.Continuous
	switch req.Mode {
	case ModeSingle:
		continuous = false
	case ModeContinuous:
		continuous = true
	}
	if cfg.Swarm.PlanOnly {
		// Nothing mutates the plan in a plan-only pass, so looping would
		// re-run the same sizing against the same items until the cap.
		continuous = false
	}
	mode := ModeSingle
	if continuous {
		mode = ModeContinuous
	}

	if err := d.store.SaveSwarmRun(&store.SwarmRun{
		ID:      runID,
		Request: req.Request,
		Profile: req.Profile,
		Mode:    mode,
		Status:  "running",
	}); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}

	var (
		model, image, notesDir, toolkitJSON string
		command                             []string
		secretEnv                           map[string]string
	)
	if d.registry != nil {
		model = d.registry.ResolveModel(req.Profile)
		image = d.registry.ResolveImage(req.Profile)
		command = d.registry.ResolveCommand(req.Profile, nil)
		if req.Profile != "" {
			notesDir = d.ws.ProfilePath(d.registry.ResolveWorkspace(req.Profile))
			toolkitJSON = d.profileToolkit(req.Profile)
			secretEnv = d.secretEnv(req.Profile)
		}
	}

	fb := feedback.NewController(cfg.Feedback, cfg.Swarm.MinAgents, cfg.Swarm.MaxAgents, d.client)
	planSrc := plan.NewSource(cfg.Plan)
	collector := metadata.NewCollector("", cfg.DifficultyKeywords)

	report := &RunReport{RunID: runID, AllCyclesOK: true}

	slog.Info("run started", "run_id", runID, "mode", mode, "profile", req.Profile)
	d.publishEvent(runID, "run_started", map[string]any{"mode": mode, "profile": req.Profile})

	for seq := 1; ; seq++ {
		p, err := planSrc.Load(ctx)
		if err != nil {
			d.failRun(runID, report)
			return report, fmt.Errorf("load plan: %w", err)
		}
		items := p.Open()
		if len(items) == 0 {
			report.StopReason = StopPlanComplete
			slog.Info("plan complete", "run_id", runID, "cycles", report.CyclesCompleted)
			break
		}

		sig := collector.Collect(ctx, planSrc.BaseRef(p), items)

		pol := sizing.Policy{
			MinAgents:         cfg.Swarm.MinAgents,
			MaxAgents:         cfg.Swarm.MaxAgents,
			Adaptive:          cfg.Swarm.Adaptive,
			Override:          cfg.Swarm.Agents,
			TokenBudget:       cfg.Swarm.TokenBudget,
			PerAgentTokenCost: cfg.Swarm.PerAgentTokenCost,
		}
		if fb.Enabled() && seq > 1 && pol.Override == 0 {
			pol.Seed = fb.NextAgents()
		}
		dec := sizing.Recommend(sig, pol)

		runDir, err := d.ws.EnsureRun(runID)
		if err != nil {
			d.failRun(runID, report)
			return report, fmt.Errorf("cycle %d: %w", seq, err)
		}

		runner, err := d.buildRunner(cfg.Worker, worker.Opts{
			Queue:    plan.NewClaimQueue(items),
			Cycle:    seq,
			Model:    model,
			Image:    image,
			Command:  command,
			NotesDir: notesDir,
			Toolkit:  toolkitJSON,
			ExtraEnv: secretEnv,
		})
		if err != nil {
			d.failRun(runID, report)
			return report, fmt.Errorf("cycle %d: %w", seq, err)
		}

		reviewer := worker.NewReviewRunner(cfg.Reviewer, runDir, items)
		executor := swarm.NewExecutor(swarm.Config{
			ReviewEnabled: cfg.Swarm.Reviewer,
			PlanOnly:      cfg.Swarm.PlanOnly,
			TaskTimeout:   cfg.Worker.Timeout,
			ReviewTimeout: cfg.Reviewer.Timeout,
		}, runner, reviewer, d.client)

		slog.Info("cycle started", "run_id", runID, "cycle", seq,
			"target", dec.TargetCount, "open_items", len(items))
		d.publishEvent(runID, "cycle_started", map[string]any{
			"cycle":      seq,
			"target":     dec.TargetCount,
			"open_items": len(items),
		})

		requested := 0
		if cfg.Swarm.Agents > 0 {
			requested = cfg.Swarm.Agents
		}
		summary, results, err := executor.Execute(ctx, swarm.Request{
			RunID:             runID,
			BaseDir:           runDir,
			TargetCount:       dec.TargetCount,
			RequestedCount:    requested,
			MaxConcurrency:    cfg.Swarm.MaxConcurrency,
			ReviewerRequested: cfg.Swarm.Reviewer,
		})
		if err != nil {
			report.StopReason = StopCycleFailed
			report.AllCyclesOK = false
			d.failRun(runID, report)
			return report, fmt.Errorf("cycle %d: %w", seq, err)
		}

		rec := fb.Update(runID, seq, summary, results)

		execOK := summary.AllOK()
		status := "completed"
		if !execOK {
			status = "failed"
		}
		persistErr := d.persistCycle(&store.Cycle{
			ID:       uuid.NewString(),
			RunID:    runID,
			Seq:      seq,
			Status:   status,
			Signal:   asJSON(sig),
			Decision: asJSON(dec),
			Summary:  asJSON(summary),
			Feedback: asJSON(rec),
		}, rec)
		if persistErr != nil {
			slog.Error("cycle bookkeeping failed", "run_id", runID, "cycle", seq, "error", persistErr)
		}

		report.CyclesCompleted = seq
		report.LastSummary = summary
		report.Results = results
		report.History = fb.History()

		cycleOK := execOK && persistErr == nil
		if !cycleOK {
			report.AllCyclesOK = false
		}

		slog.Info("cycle completed", "run_id", runID, "cycle", seq,
			"ok", cycleOK, "resolved", summary.ResolvedCount, "decision", rec.Decision, "next", rec.NextAgents)
		d.publishEvent(runID, "cycle_completed", map[string]any{
			"cycle":       seq,
			"ok":          cycleOK,
			"executed":    summary.ExecutedAgents,
			"resolved":    summary.ResolvedCount,
			"decision":    rec.Decision,
			"next_agents": rec.NextAgents,
		})

		if err := d.store.UpdateSwarmRun(runID, "running", "", seq, asJSON(summary), asJSON(results)); err != nil {
			slog.Warn("update run progress failed", "run_id", runID, "error", err)
		}

		if !cycleOK {
			report.StopReason = StopCycleFailed
			break
		}
		if !continuous {
			report.StopReason = StopSingleCycle
			break
		}
		if seq >= cfg.Cycle.MaxCycles {
			report.StopReason = StopMaxCycles
			break
		}
	}

	status := "failed"
	if report.Succeeded() {
		status = "completed"
	}
	var summaryJSON, resultsJSON json.RawMessage
	if report.CyclesCompleted > 0 {
		summaryJSON = asJSON(report.LastSummary)
		resultsJSON = asJSON(report.Results)
	}
	if err := d.store.UpdateSwarmRun(runID, status, report.StopReason, report.CyclesCompleted, summaryJSON, resultsJSON); err != nil {
		slog.Error("update run failed", "run_id", runID, "error", err)
	}

	slog.Info("run finished", "run_id", runID, "stop_reason", report.StopReason,
		"cycles", report.CyclesCompleted, "ok", report.Succeeded())
	d.publishEvent(runID, "run_completed", map[string]any{
		"stop_reason": report.StopReason,
		"cycles":      report.CyclesCompleted,
		"ok":          report.Succeeded(),
	})

	return report, nil
}

func (d *Driver) buildRunner(cfg config.WorkerConfig, opts worker.Opts) (swarm.TaskRunner, error) {
	if cfg.Runtime == "docker" {
		if d.containers == nil {
			return nil, fmt.Errorf("worker runtime is docker but no container manager is attached")
		}
		return d.containers.Runner(opts), nil
	}
	return worker.NewProcessRunner(cfg, opts), nil
}

// persistCycle writes the cycle audit row and the feedback history row.
// Failure here counts against the cycle: the audit trail is part of the
// contract, not best effort.
func (d *Driver) persistCycle(c *store.Cycle, rec feedback.Record) error {
	if err := d.store.SaveCycle(c); err != nil {
		return err
	}
	return d.store.SaveFeedbackRecord(&store.FeedbackRecord{
		RunID:           rec.RunID,
		Cycle:           rec.Cycle,
		Decision:        rec.Decision,
		CurrentAgents:   rec.CurrentAgents,
		NextAgents:      rec.NextAgents,
		WorkerAgents:    rec.WorkerAgents,
		SignalWorkers:   rec.SignalWorkers,
		UnresolvedTotal: rec.UnresolvedTotal,
		DeltaUnresolved: rec.DeltaUnresolved,
		NoSignalStreak:  rec.NoSignalStreak,
		StallStreak:     rec.StallStreak,
		ImproveStreak:   rec.ImproveStreak,
	})
}

func (d *Driver) failRun(runID string, report *RunReport) {
	var summaryJSON, resultsJSON json.RawMessage
	if report.CyclesCompleted > 0 {
		summaryJSON = asJSON(report.LastSummary)
		resultsJSON = asJSON(report.Results)
	}
	if err := d.store.UpdateSwarmRun(runID, "failed", report.StopReason, report.CyclesCompleted, summaryJSON, resultsJSON); err != nil {
		slog.Error("update run failed", "run_id", runID, "error", err)
	}
}

// publishEvent persists the event to the run timeline and mirrors it onto
// the cycle topic. The timeline write is best effort; the audit rows in
// persistCycle are the authoritative record.
func (d *Driver) publishEvent(runID, eventType string, data map[string]any) {
	payload := asJSON(map[string]any{
		"type":      eventType,
		"run_id":    runID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	})
	if payload == nil {
		return
	}
	if err := d.store.SaveRunEvent(&store.RunEvent{RunID: runID, Type: eventType, Payload: payload}); err != nil {
		slog.Warn("save run event failed", "run_id", runID, "type", eventType, "error", err)
	}
	if d.client != nil {
		_ = d.client.Publish(natsbus.TopicEventsCycle(runID), payload)
	}
}

// secretEnv decrypts the env-kind secrets visible to a profile. A missing
// vault or a decrypt failure skips the secret with a warning; workers never
// see ciphertext.
func (d *Driver) secretEnv(profileID string) map[string]string {
	if d.vault == nil {
		return nil
	}
	metas, err := d.store.GetProfileSecrets(profileID)
	if err != nil {
		slog.Warn("list profile secrets failed", "profile", profileID, "error", err)
		return nil
	}
	env := make(map[string]string, len(metas))
	for _, meta := range metas {
		if meta.Kind != "env" {
			continue
		}
		sec, err := d.store.GetSecret(meta.ID)
		if err != nil || sec == nil {
			slog.Warn("load secret failed", "secret", meta.ID, "error", err)
			continue
		}
		plaintext, err := d.vault.Decrypt(sec.Value, sec.Nonce)
		if err != nil {
			slog.Warn("decrypt secret failed", "secret", meta.ID, "error", err)
			continue
		}
		env[sec.Name] = string(plaintext)
	}
	if len(env) == 0 {
		return nil
	}
	return env
}

// profileToolkit loads the profile's toolkit and resolves secret references
// so workers receive usable values. Any failure degrades to no toolkit.
func (d *Driver) profileToolkit(profileID string) string {
	raw, err := d.store.GetProfileToolkit(profileID)
	if err != nil {
		slog.Warn("load profile toolkit failed", "profile", profileID, "error", err)
		return ""
	}
	tk, err := toolkit.Parse(raw)
	if err != nil {
		slog.Warn("parse profile toolkit failed", "profile", profileID, "error", err)
		return ""
	}
	if tk.IsEmpty() {
		return ""
	}
	if d.vault != nil {
		err := tk.ResolveSecretRefs(func(name string) (string, error) {
			sec, err := d.store.GetSecret(name)
			if err != nil {
				return "", err
			}
			if sec == nil {
				return "", fmt.Errorf("secret %q not found", name)
			}
			plaintext, err := d.vault.Decrypt(sec.Value, sec.Nonce)
			if err != nil {
				return "", err
			}
			return string(plaintext), nil
		})
		if err != nil {
			slog.Warn("resolve toolkit secrets failed", "profile", profileID, "error", err)
		}
	}
	data, err := json.Marshal(tk)
	if err != nil {
		return ""
	}
	return string(data)
}

func asJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
