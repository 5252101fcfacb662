package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/cycle"
	"github.com/mtzanidakis/sminos/internal/natsbus"
	"github.com/mtzanidakis/sminos/internal/schedule"
	"github.com/mtzanidakis/sminos/internal/store"
)

// Scheduler polls the store for due scheduled runs and hands them to the
// cycle driver one at a time. A long run delays later triggers rather than
// overlapping them; anything still due fires on the next poll.
type Scheduler struct {
	store        *store.Store
	driver       *cycle.Driver
	client       *natsbus.Client
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, driver *cycle.Driver, client *natsbus.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		driver:       driver,
		client:       client,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig updates the scheduler's poll interval, then signals the run
// loop to reset its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.pollInterval = pollInterval
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler config reloaded", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.GetDueScheduledRuns(time.Now())
	if err != nil {
		slog.Error("failed to get due scheduled runs", "error", err)
		return
	}

	for _, sched := range due {
		s.execute(ctx, sched)
	}
}

func (s *Scheduler) execute(ctx context.Context, sched store.ScheduledRun) {
	slog.Info("triggering scheduled run", "id", sched.ID, "name", sched.Name, "profile", sched.ProfileID)

	report, err := s.driver.Run(ctx, cycle.RunRequest{
		Request: sched.Request,
		Profile: sched.ProfileID,
		Mode:    sched.Mode,
	})

	var lastStatus, lastError string
	switch {
	case err != nil:
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled run failed", "id", sched.ID, "error", err)
	case !report.Succeeded():
		lastStatus = "failed"
		lastError = report.StopReason
	default:
		lastStatus = "success"
	}

	nextRun := schedule.CalculateNextRun(sched.Schedule)

	if err := s.store.UpdateScheduledRunResult(sched.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update scheduled run", "id", sched.ID, "error", err)
	}

	s.publishTriggered(sched, lastStatus, report)

	// One-shot schedules with no next run are done for good.
	if nextRun == nil {
		slog.Info("no next run, completing schedule", "id", sched.ID, "name", sched.Name)
		if err := s.store.UpdateScheduledRunStatus(sched.ID, "completed"); err != nil {
			slog.Error("failed to complete schedule", "id", sched.ID, "error", err)
		}
	}
}

func (s *Scheduler) publishTriggered(sched store.ScheduledRun, status string, report *cycle.RunReport) {
	if s.client == nil {
		return
	}

	data := map[string]any{
		"id":     sched.ID,
		"name":   sched.Name,
		"status": status,
	}
	if report != nil {
		data["run_id"] = report.RunID
		data["stop_reason"] = report.StopReason
	}

	_ = s.client.PublishJSON(natsbus.TopicEventsSchedule, map[string]any{
		"type":      "schedule_triggered",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	})
}
