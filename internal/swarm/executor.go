package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/mtzanidakis/sminos/internal/natsbus"
)

// TaskRunner executes one worker task to completion. Implementations fold
// launch and parse failures into a failed WorkerResult; they must stop the
// underlying process when ctx is cancelled.
type TaskRunner interface {
	RunWorker(ctx context.Context, runID string, task WorkerTask) WorkerResult
}

// Reviewer runs the post-hoc review pass over the completed worker results.
type Reviewer interface {
	Review(ctx context.Context, runID string, tasks []WorkerTask, results []WorkerResult) ReviewOutcome
}

type Config struct {
	ReviewEnabled bool
	PlanOnly      bool
	TaskTimeout   time.Duration
	ReviewTimeout time.Duration
	WorkerPrefix  string // worker task name prefix, default "worker"
}

// Request describes one swarm execution.
type Request struct {
	RunID             string
	BaseDir           string // run workspace; task working dirs live beneath it
	TargetCount       int
	RequestedCount    int // pre-clamp request for the summary; 0 falls back to TargetCount
	MaxConcurrency    int
	ReviewerRequested bool
}

type Executor struct {
	cfg      Config
	runner   TaskRunner
	reviewer Reviewer
	client   *natsbus.Client
}

func NewExecutor(cfg Config, runner TaskRunner, reviewer Reviewer, client *natsbus.Client) *Executor {
	if cfg.WorkerPrefix == "" {
		cfg.WorkerPrefix = "worker"
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 20 * time.Minute
	}
	if cfg.ReviewTimeout <= 0 {
		cfg.ReviewTimeout = 10 * time.Minute
	}
	return &Executor{cfg: cfg, runner: runner, reviewer: reviewer, client: client}
}

// Execute runs target_count lanes: target-1 worker tasks plus the reviewer
// lane when it is active, otherwise target worker tasks. Worker tasks run
// under a bounded pool; the reviewer runs strictly after every worker task
// has returned. The returned results are ordered by task index with the
// reviewer row, when present, appended last.
func (e *Executor) Execute(ctx context.Context, req Request) (SwarmSummary, []WorkerResult, error) {
	if req.TargetCount < 1 && !e.cfg.PlanOnly {
		return SwarmSummary{}, nil, fmt.Errorf("target count must be >= 1, got %d", req.TargetCount)
	}
	if req.MaxConcurrency < 1 {
		req.MaxConcurrency = 1
	}

	reviewerActive := req.ReviewerRequested && e.cfg.ReviewEnabled && !e.cfg.PlanOnly
	if reviewerActive && req.TargetCount == 1 {
		// A single lane leaves no slot to reserve; run it as a worker.
		slog.Warn("reviewer lane disabled: no slot to reserve", "run_id", req.RunID, "target", req.TargetCount)
		reviewerActive = false
	}

	workerSlots := req.TargetCount
	if reviewerActive {
		workerSlots--
	}

	requested := req.RequestedCount
	if requested == 0 {
		requested = req.TargetCount
	}

	if e.cfg.PlanOnly {
		slog.Info("plan-only pass, skipping execution", "run_id", req.RunID, "worker_slots", workerSlots)
		summary := SwarmSummary{
			RequestedAgents:     requested,
			SelectedAgents:      req.TargetCount,
			WorkerAgents:        workerSlots,
			ReviewerLaneEnabled: false,
		}
		return summary, nil, nil
	}

	if workerSlots < 1 {
		return SwarmSummary{}, nil, fmt.Errorf("no worker slots to launch (target %d)", req.TargetCount)
	}

	tasks := make([]WorkerTask, workerSlots)
	for i := range tasks {
		name := fmt.Sprintf("%s-%d", e.cfg.WorkerPrefix, i+1)
		workDir := ""
		if req.BaseDir != "" {
			workDir = filepath.Join(req.BaseDir, name)
		}
		tasks[i] = WorkerTask{Index: i + 1, Name: name, WorkDir: workDir}
	}

	slog.Info("launching swarm", "run_id", req.RunID,
		"worker_slots", workerSlots, "reviewer", reviewerActive, "max_concurrency", req.MaxConcurrency)
	e.publishEvent(req.RunID, "swarm_started", map[string]any{
		"worker_slots": workerSlots,
		"reviewer":     reviewerActive,
	})

	// Bounded pool: each task writes its own slot, so the slice needs no lock.
	results := make([]WorkerResult, workerSlots)
	sem := make(chan struct{}, min(workerSlots, req.MaxConcurrency))
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task WorkerTask) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[task.Index-1] = e.runTask(ctx, req.RunID, task)
		}(task)
	}
	wg.Wait()

	if reviewerActive {
		rev := e.runReviewer(ctx, req.RunID, tasks, results)
		rev.Index = workerSlots + 1
		results = append(results, rev)
	}

	summary := summarize(requested, req.TargetCount, workerSlots, reviewerActive, results)

	e.publishEvent(req.RunID, "swarm_completed", map[string]any{
		"executed": summary.ExecutedAgents,
		"ok":       summary.AllOK(),
		"resolved": summary.ResolvedCount,
	})
	slog.Info("swarm finished", "run_id", req.RunID,
		"executed", summary.ExecutedAgents, "ok_count", summary.OKCount, "all_ok", summary.AllOK())

	return summary, results, nil
}

// runTask runs one worker under its wall-clock timeout. Expiry or
// cancellation synthesizes a failed result for this task only.
func (e *Executor) runTask(ctx context.Context, runID string, task WorkerTask) WorkerResult {
	e.publishEvent(runID, "worker_started", map[string]any{
		"index": task.Index,
		"name":  task.Name,
	})

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan WorkerResult, 1)
	go func() {
		done <- e.runner.RunWorker(taskCtx, runID, task)
	}()

	var res WorkerResult
	select {
	case r := <-done:
		res = r
	case <-time.After(e.cfg.TaskTimeout):
		cancel()
		slog.Warn("worker timed out", "run_id", runID, "worker", task.Name, "timeout", e.cfg.TaskTimeout)
		res = WorkerResult{
			ExitCode: -1,
			Reason:   fmt.Sprintf("timeout after %ds", int(e.cfg.TaskTimeout.Seconds())),
		}
	case <-ctx.Done():
		res = WorkerResult{
			ExitCode: -1,
			Reason:   "cancelled",
		}
	}

	res.AgentName = task.Name
	res.Index = task.Index

	e.publishEvent(runID, "worker_completed", map[string]any{
		"index":    task.Index,
		"name":     task.Name,
		"ok":       res.OK,
		"resolved": res.Resolved,
		"reason":   truncate(res.Reason, 200),
	})
	return res
}

func (e *Executor) runReviewer(ctx context.Context, runID string, tasks []WorkerTask, results []WorkerResult) WorkerResult {
	e.publishEvent(runID, "reviewer_started", map[string]any{"workers": len(results)})

	revCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan ReviewOutcome, 1)
	go func() {
		done <- e.reviewer.Review(revCtx, runID, tasks, results)
	}()

	var outcome ReviewOutcome
	select {
	case o := <-done:
		outcome = o
	case <-time.After(e.cfg.ReviewTimeout):
		cancel()
		slog.Warn("reviewer timed out", "run_id", runID, "timeout", e.cfg.ReviewTimeout)
		outcome = ReviewOutcome{OK: false, Errors: []string{fmt.Sprintf("timeout after %ds", int(e.cfg.ReviewTimeout.Seconds()))}}
	case <-ctx.Done():
		outcome = ReviewOutcome{OK: false, Errors: []string{"cancelled"}}
	}

	rev := WorkerResult{
		AgentName: ReviewerName,
		OK:        outcome.OK,
		Resolved:  outcome.OK,
	}
	if !outcome.OK {
		rev.Reason = outcome.FailureReason()
	}

	e.publishEvent(runID, "reviewer_completed", map[string]any{
		"ok":     outcome.OK,
		"errors": len(outcome.Errors),
	})
	return rev
}

func summarize(requested, selected, workerSlots int, reviewerActive bool, results []WorkerResult) SwarmSummary {
	s := SwarmSummary{
		RequestedAgents:     requested,
		SelectedAgents:      selected,
		WorkerAgents:        workerSlots,
		ReviewerLaneEnabled: reviewerActive,
		ExecutedAgents:      len(results),
	}
	for _, r := range results {
		if r.OK {
			s.OKCount++
		}
		if r.Resolved {
			s.ResolvedCount++
		}
	}
	return s
}

func (e *Executor) publishEvent(runID, eventType string, data map[string]any) {
	if e.client == nil {
		return
	}

	event := map[string]any{
		"type":      eventType,
		"run_id":    runID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = e.client.Publish(natsbus.TopicEventsSwarm(runID), payload)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
