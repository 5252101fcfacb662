package feedback

import (
	"fmt"
	"testing"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/swarm"
)

func testConfig() config.FeedbackConfig {
	return config.FeedbackConfig{
		Enabled:         true,
		StallRounds:     3,
		NoSignalRounds:  2,
		DownshiftFactor: 0.5,
		UpshiftRounds:   2,
		UpshiftFactor:   1.25,
		NoSignalReasons: []string{"unreachable/non-blocking", "dry-run"},
	}
}

func workerRows(n int, reason string, unresolved int) []swarm.WorkerResult {
	rows := make([]swarm.WorkerResult, n)
	for i := range rows {
		rows[i] = swarm.WorkerResult{
			AgentName:  fmt.Sprintf("worker-%d", i+1),
			Index:      i + 1,
			OK:         true,
			Reason:     reason,
			Unresolved: unresolved,
		}
	}
	return rows
}

func TestNoSignalDownshift(t *testing.T) {
	c := NewController(testConfig(), 4, 20, nil)
	summary := swarm.SwarmSummary{SelectedAgents: 20, WorkerAgents: 19}
	rows := workerRows(19, "dry-run", 0)

	rec := c.Update("run1", 1, summary, rows)
	if rec.Decision != DecisionHold {
		t.Errorf("expected hold on first no-signal cycle, got %s", rec.Decision)
	}
	if rec.NoSignalStreak != 1 {
		t.Errorf("expected no_signal_streak 1, got %d", rec.NoSignalStreak)
	}
	if rec.NextAgents != 20 {
		t.Errorf("expected next_agents held at 20, got %d", rec.NextAgents)
	}

	rec = c.Update("run1", 2, summary, rows)
	if rec.Decision != DecisionDownshift {
		t.Errorf("expected downshift on second no-signal cycle, got %s", rec.Decision)
	}
	if rec.NextAgents != 10 {
		t.Errorf("expected next_agents 10, got %d", rec.NextAgents)
	}
	if rec.NoSignalStreak != 0 {
		t.Errorf("expected no_signal_streak reset after firing, got %d", rec.NoSignalStreak)
	}
	if len(c.History()) != 2 {
		t.Errorf("expected 2 history records, got %d", len(c.History()))
	}
}

func TestImproveUpshift(t *testing.T) {
	cfg := testConfig()
	cfg.UpshiftRounds = 1
	cfg.UpshiftFactor = 1.5
	c := NewController(cfg, 2, 12, nil)
	summary := swarm.SwarmSummary{SelectedAgents: 6, WorkerAgents: 6}

	rec := c.Update("run1", 1, summary, workerRows(6, "failing-tests", 1))
	if rec.Decision != DecisionHold {
		t.Errorf("expected hold with no prior unresolved total, got %s", rec.Decision)
	}
	if rec.UnresolvedTotal != 6 {
		t.Errorf("expected unresolved_total 6, got %d", rec.UnresolvedTotal)
	}
	if rec.DeltaUnresolved != nil {
		t.Errorf("expected nil delta on first cycle, got %d", *rec.DeltaUnresolved)
	}

	rows := workerRows(6, "failing-tests", 0)
	rows[0].Unresolved = 2
	rec = c.Update("run1", 2, summary, rows)
	if rec.Decision != DecisionUpshift {
		t.Errorf("expected upshift after improvement, got %s", rec.Decision)
	}
	if rec.NextAgents != 9 {
		t.Errorf("expected next_agents 9, got %d", rec.NextAgents)
	}
	if rec.DeltaUnresolved == nil || *rec.DeltaUnresolved != -4 {
		t.Errorf("expected delta -4, got %v", rec.DeltaUnresolved)
	}
	if rec.ImproveStreak != 0 {
		t.Errorf("expected improve_streak reset after firing, got %d", rec.ImproveStreak)
	}
}

func TestUpshiftRequiresSignalAndWork(t *testing.T) {
	cfg := testConfig()
	cfg.UpshiftRounds = 1
	c := NewController(cfg, 2, 12, nil)
	summary := swarm.SwarmSummary{SelectedAgents: 6, WorkerAgents: 6}

	c.Update("run1", 1, summary, workerRows(6, "failing-tests", 1))

	// Everything resolved: improvement with nothing left to do holds.
	rec := c.Update("run1", 2, summary, workerRows(6, "failing-tests", 0))
	if rec.Decision != DecisionHold {
		t.Errorf("expected hold with zero unresolved, got %s", rec.Decision)
	}
	if rec.ImproveStreak != 1 {
		t.Errorf("expected improve_streak preserved at 1, got %d", rec.ImproveStreak)
	}
}

func TestOnlyFiringTriggerResets(t *testing.T) {
	cfg := testConfig()
	cfg.NoSignalRounds = 1
	cfg.StallRounds = 1
	c := NewController(cfg, 1, 20, nil)
	summary := swarm.SwarmSummary{SelectedAgents: 8, WorkerAgents: 4}

	c.Update("run1", 1, summary, workerRows(4, "failing-tests", 2))

	// Second cycle stalls and has no signal. The no-signal trigger wins;
	// the stall streak is left untouched.
	rec := c.Update("run1", 2, summary, workerRows(4, "dry-run", 2))
	if rec.Decision != DecisionDownshift {
		t.Errorf("expected downshift, got %s", rec.Decision)
	}
	if rec.NoSignalStreak != 0 {
		t.Errorf("expected no_signal_streak reset, got %d", rec.NoSignalStreak)
	}
	if rec.StallStreak != 1 {
		t.Errorf("expected stall_streak preserved at 1, got %d", rec.StallStreak)
	}
}

func TestStallDownshift(t *testing.T) {
	cfg := testConfig()
	cfg.StallRounds = 2
	c := NewController(cfg, 2, 16, nil)
	summary := swarm.SwarmSummary{SelectedAgents: 8, WorkerAgents: 8}
	rows := workerRows(8, "failing-tests", 1)

	c.Update("run1", 1, summary, rows)
	rec := c.Update("run1", 2, summary, rows)
	if rec.Decision != DecisionHold {
		t.Errorf("expected hold at stall_streak 1, got %s", rec.Decision)
	}
	rec = c.Update("run1", 3, summary, rows)
	if rec.Decision != DecisionDownshift {
		t.Errorf("expected downshift at stall_streak 2, got %s", rec.Decision)
	}
	if rec.NextAgents != 4 {
		t.Errorf("expected next_agents 4, got %d", rec.NextAgents)
	}
}

func TestReviewerRowExcluded(t *testing.T) {
	c := NewController(testConfig(), 1, 20, nil)
	rows := append(workerRows(3, "failing-tests", 1), swarm.WorkerResult{
		AgentName: swarm.ReviewerName,
		Index:     4,
		OK:        true,
		Reason:    "dry-run",
	})

	rec := c.Update("run1", 1, swarm.SwarmSummary{SelectedAgents: 4, WorkerAgents: 3}, rows)
	if rec.WorkerAgents != 3 {
		t.Errorf("expected 3 worker agents, got %d", rec.WorkerAgents)
	}
	if rec.SignalWorkers != 3 {
		t.Errorf("expected 3 signal workers, got %d", rec.SignalWorkers)
	}
	if rec.UnresolvedTotal != 3 {
		t.Errorf("expected unresolved_total 3, got %d", rec.UnresolvedTotal)
	}
}

func TestNestedRoundsResolution(t *testing.T) {
	c := NewController(testConfig(), 1, 20, nil)
	rows := workerRows(2, "failing-tests", 9)
	rows[0].Rounds = []swarm.RoundReport{
		{Round: 1, Reason: "failing-tests", Unresolved: 5},
		{Round: 2, Reason: "dry-run", Unresolved: 2},
	}
	// Corrupt final round entry falls back to the top-level fields.
	rows[1].Rounds = []swarm.RoundReport{{Round: 0}}

	rec := c.Update("run1", 1, swarm.SwarmSummary{SelectedAgents: 2, WorkerAgents: 2}, rows)
	if rec.SignalWorkers != 1 {
		t.Errorf("expected 1 signal worker (nested dry-run excluded), got %d", rec.SignalWorkers)
	}
	if rec.UnresolvedTotal != 11 {
		t.Errorf("expected unresolved_total 11 (nested 2 + top-level 9), got %d", rec.UnresolvedTotal)
	}
}

func TestDisabledStillRecordsHistory(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := NewController(cfg, 2, 12, nil)

	rec := c.Update("run1", 1, swarm.SwarmSummary{SelectedAgents: 6, WorkerAgents: 6}, workerRows(6, "dry-run", 0))
	if rec.Decision != DecisionDisabled {
		t.Errorf("expected disabled decision, got %s", rec.Decision)
	}
	if len(c.History()) != 1 {
		t.Errorf("expected history appended while disabled, got %d records", len(c.History()))
	}
	if c.NextAgents() != 0 {
		t.Errorf("expected no next_agents while disabled, got %d", c.NextAgents())
	}
}

func TestCurrentAgentsFallback(t *testing.T) {
	c := NewController(testConfig(), 3, 12, nil)

	// Zero selected agents with no prior decision falls back to min.
	rec := c.Update("run1", 1, swarm.SwarmSummary{}, nil)
	if rec.CurrentAgents != 3 {
		t.Errorf("expected current_agents fallback to min 3, got %d", rec.CurrentAgents)
	}

	// Out-of-range selected agents clamp into bounds.
	rec = c.Update("run1", 2, swarm.SwarmSummary{SelectedAgents: 40, WorkerAgents: 2}, workerRows(2, "failing-tests", 1))
	if rec.CurrentAgents != 12 {
		t.Errorf("expected current_agents clamped to 12, got %d", rec.CurrentAgents)
	}
}

func TestDownshiftBounds(t *testing.T) {
	const min, max = 2, 24
	cfg := testConfig()
	c := NewController(cfg, min, max, nil)

	for current := min; current <= max; current++ {
		next, fired := c.downshift(current)
		if !fired {
			if current != min {
				t.Errorf("downshift from %d did not fire above min", current)
			}
			continue
		}
		if next >= current {
			t.Errorf("downshift from %d yielded %d, want < current", current, next)
		}
		if next < min {
			t.Errorf("downshift from %d yielded %d, want >= min %d", current, next, min)
		}
	}
}

func TestUpshiftBounds(t *testing.T) {
	const min, max = 2, 24
	cfg := testConfig()
	c := NewController(cfg, min, max, nil)

	for current := min; current <= max; current++ {
		next, fired := c.upshift(current)
		if !fired {
			if current != max {
				t.Errorf("upshift from %d did not fire below max", current)
			}
			continue
		}
		if next <= current {
			t.Errorf("upshift from %d yielded %d, want > current", current, next)
		}
		if next > max {
			t.Errorf("upshift from %d yielded %d, want <= max %d", current, next, max)
		}
	}
}
