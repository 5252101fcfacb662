package feedback

import (
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/natsbus"
	"github.com/mtzanidakis/sminos/internal/swarm"
)

// Decisions recorded per cycle.
const (
	DecisionHold      = "hold"
	DecisionDownshift = "downshift"
	DecisionUpshift   = "upshift"
	DecisionDisabled  = "disabled"
)

// Record is the audit entry appended to history after every cycle. The
// streak fields carry the resulting counters, after any trigger reset.
type Record struct {
	RunID           string `json:"run_id"`
	Cycle           int    `json:"cycle"`
	Decision        string `json:"decision"`
	CurrentAgents   int    `json:"current_agents"`
	NextAgents      int    `json:"next_agents"`
	WorkerAgents    int    `json:"worker_agents"`
	SignalWorkers   int    `json:"signal_workers"`
	UnresolvedTotal int    `json:"unresolved_total"`
	DeltaUnresolved *int   `json:"delta_unresolved,omitempty"`
	NoSignalStreak  int    `json:"no_signal_streak"`
	StallStreak     int    `json:"stall_streak"`
	ImproveStreak   int    `json:"improve_streak"`
}

// Controller owns the cross-cycle sizing state for one run. It is driven
// sequentially by the cycle driver and is not safe for concurrent use.
type Controller struct {
	enabled         bool
	stallRounds     int
	noSignalRounds  int
	downshiftFactor float64
	upshiftRounds   int
	upshiftFactor   float64
	minAgents       int
	maxAgents       int
	noSignal        map[string]struct{}

	noSignalStreak int
	stallStreak    int
	improveStreak  int
	lastUnresolved *int
	nextAgents     *int
	history        []Record

	client *natsbus.Client
}

// NewController builds a controller from the feedback settings and the
// swarm's sizing bounds. client may be nil when event publishing is off.
func NewController(cfg config.FeedbackConfig, minAgents, maxAgents int, client *natsbus.Client) *Controller {
	noSignal := make(map[string]struct{}, len(cfg.NoSignalReasons))
	for _, r := range cfg.NoSignalReasons {
		noSignal[strings.TrimSpace(r)] = struct{}{}
	}
	return &Controller{
		enabled:         cfg.Enabled,
		stallRounds:     cfg.StallRounds,
		noSignalRounds:  cfg.NoSignalRounds,
		downshiftFactor: cfg.DownshiftFactor,
		upshiftRounds:   cfg.UpshiftRounds,
		upshiftFactor:   cfg.UpshiftFactor,
		minAgents:       minAgents,
		maxAgents:       maxAgents,
		noSignal:        noSignal,
		client:          client,
	}
}

func (c *Controller) Enabled() bool { return c.enabled }

// NextAgents returns the count decided for the following cycle, or 0 when
// no decision has been made yet.
func (c *Controller) NextAgents() int {
	if c.nextAgents == nil {
		return 0
	}
	return *c.nextAgents
}

// History returns all records appended so far, oldest first.
func (c *Controller) History() []Record {
	return c.history
}

// Update ingests one completed swarm cycle, updates the hysteresis streaks,
// decides the worker count for the next cycle, and appends the audit record.
// The reviewer row never counts as a worker for sizing.
func (c *Controller) Update(runID string, cycle int, summary swarm.SwarmSummary, results []swarm.WorkerResult) Record {
	workerAgents := 0
	signalWorkers := 0
	unresolvedTotal := 0
	for i := range results {
		r := &results[i]
		if r.IsReviewer() {
			continue
		}
		workerAgents++
		reason, unresolved := c.observe(r)
		if _, noSig := c.noSignal[strings.TrimSpace(reason)]; !noSig {
			signalWorkers++
		}
		unresolvedTotal += unresolved
	}
	if workerAgents == 0 {
		workerAgents = summary.WorkerAgents
	}
	noSignalCycle := workerAgents > 0 && signalWorkers == 0

	var delta *int
	if c.lastUnresolved != nil {
		d := unresolvedTotal - *c.lastUnresolved
		delta = &d
	}

	// Streaks move every cycle, before any decision is evaluated.
	if noSignalCycle {
		c.noSignalStreak++
	} else {
		c.noSignalStreak = 0
	}
	if c.lastUnresolved != nil {
		if unresolvedTotal < *c.lastUnresolved {
			c.improveStreak++
			c.stallStreak = 0
		} else {
			c.stallStreak++
			c.improveStreak = 0
		}
	} else {
		c.improveStreak = 0
		c.stallStreak = 0
	}
	last := unresolvedTotal
	c.lastUnresolved = &last

	current := summary.SelectedAgents
	if current == 0 {
		if c.nextAgents != nil {
			current = *c.nextAgents
		} else {
			current = c.minAgents
		}
	}
	current = c.clamp(current)

	decision := DecisionDisabled
	next := current
	if c.enabled {
		decision, next = c.decide(current, signalWorkers, unresolvedTotal)
		c.nextAgents = &next
	}

	rec := Record{
		RunID:           runID,
		Cycle:           cycle,
		Decision:        decision,
		CurrentAgents:   current,
		NextAgents:      next,
		WorkerAgents:    workerAgents,
		SignalWorkers:   signalWorkers,
		UnresolvedTotal: unresolvedTotal,
		DeltaUnresolved: delta,
		NoSignalStreak:  c.noSignalStreak,
		StallStreak:     c.stallStreak,
		ImproveStreak:   c.improveStreak,
	}
	c.history = append(c.history, rec)

	slog.Info("feedback decision", "run_id", runID, "cycle", cycle,
		"decision", decision, "current", current, "next", next,
		"signal_workers", signalWorkers, "unresolved", unresolvedTotal)
	c.publish(rec)
	return rec
}

// decide evaluates the triggers in strict priority order. A trigger whose
// streak gate matches but whose candidate cannot move the count does not
// fire and does not reset its streak.
func (c *Controller) decide(current, signalWorkers, unresolvedTotal int) (string, int) {
	if c.noSignalStreak >= c.noSignalRounds && c.noSignalRounds > 0 {
		if next, ok := c.downshift(current); ok {
			c.noSignalStreak = 0
			return DecisionDownshift, next
		}
	}
	if c.stallStreak >= c.stallRounds && c.stallRounds > 0 {
		if next, ok := c.downshift(current); ok {
			c.stallStreak = 0
			return DecisionDownshift, next
		}
	}
	if c.improveStreak >= c.upshiftRounds && c.upshiftRounds > 0 && signalWorkers > 0 && unresolvedTotal > 0 {
		if next, ok := c.upshift(current); ok {
			c.improveStreak = 0
			return DecisionUpshift, next
		}
	}
	return DecisionHold, current
}

func (c *Controller) downshift(current int) (int, bool) {
	candidate := int(math.Floor(float64(current) * c.downshiftFactor))
	if candidate >= current {
		candidate = current - 1
	}
	if candidate < c.minAgents {
		candidate = c.minAgents
	}
	if candidate >= current {
		return current, false
	}
	return candidate, true
}

func (c *Controller) upshift(current int) (int, bool) {
	candidate := int(math.Ceil(float64(current) * c.upshiftFactor))
	if candidate <= current {
		candidate = current + 1
	}
	if candidate > c.maxAgents {
		candidate = c.maxAgents
	}
	if candidate <= current {
		return current, false
	}
	return candidate, true
}

// observe resolves one worker's latest triage reason and unresolved count.
// A corrupt nested round entry downgrades to the top-level fields with a
// warning rather than failing the cycle.
func (c *Controller) observe(r *swarm.WorkerResult) (string, int) {
	if n := len(r.Rounds); n > 0 && r.Rounds[n-1].Round <= 0 {
		slog.Warn("worker round history malformed, using top-level fields",
			"agent", r.AgentName, "rounds", n)
		unresolved := r.Unresolved
		if r.Resolved {
			unresolved = 0
		}
		return r.Reason, unresolved
	}
	return r.LastReason(), r.LastUnresolved()
}

func (c *Controller) clamp(v int) int {
	if v < c.minAgents {
		return c.minAgents
	}
	if c.maxAgents > 0 && v > c.maxAgents {
		return c.maxAgents
	}
	return v
}

func (c *Controller) publish(rec Record) {
	if c.client == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"type":      "feedback_decision",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      rec,
	})
	if err != nil {
		return
	}
	_ = c.client.Publish(natsbus.TopicEventsFeedback, payload)
}
