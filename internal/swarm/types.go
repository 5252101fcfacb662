package swarm

// ReviewerName is the agent name recorded for the reviewer lane's result row.
const ReviewerName = "REVIEWER"

type WorkerTask struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	WorkDir string `json:"working_directory"`
}

// RoundReport is one entry of a worker's per-round history.
type RoundReport struct {
	Round      int    `json:"round"`
	Reason     string `json:"reason"`
	Unresolved int    `json:"unresolved"`
}

// WorkerResult records the outcome of one worker task. Rounds is optional
// nested per-round detail; readers resolve the latest reason and unresolved
// count through LastReason/LastUnresolved rather than probing fields directly.
type WorkerResult struct {
	AgentName       string        `json:"agent_name"`
	Index           int           `json:"index"`
	ExitCode        int           `json:"exit_code"`
	OK              bool          `json:"ok"`
	Resolved        bool          `json:"resolved"`
	Reason          string        `json:"reason"`
	RoundsCompleted int           `json:"rounds_completed"`
	TasksCompleted  int           `json:"tasks_completed"`
	Unresolved      int           `json:"unresolved"`
	ArtifactPaths   []string      `json:"artifact_paths,omitempty"`
	Rounds          []RoundReport `json:"rounds,omitempty"`
}

// LastReason returns the most recent triage reason: the final nested round's
// reason when round history is present, else the top-level reason.
func (r *WorkerResult) LastReason() string {
	if len(r.Rounds) > 0 {
		return r.Rounds[len(r.Rounds)-1].Reason
	}
	return r.Reason
}

// LastUnresolved returns the worker's last-known unresolved count. A fully
// resolved worker always contributes zero.
func (r *WorkerResult) LastUnresolved() int {
	if r.Resolved {
		return 0
	}
	if len(r.Rounds) > 0 {
		return r.Rounds[len(r.Rounds)-1].Unresolved
	}
	return r.Unresolved
}

func (r *WorkerResult) IsReviewer() bool {
	return r.AgentName == ReviewerName
}

// SwarmSummary is derived from the final result list and never mutated.
type SwarmSummary struct {
	RequestedAgents     int  `json:"requested_agents"`
	SelectedAgents      int  `json:"selected_agents"`
	WorkerAgents        int  `json:"worker_agents"`
	ReviewerLaneEnabled bool `json:"reviewer_lane_enabled"`
	ExecutedAgents      int  `json:"executed_agents"`
	OKCount             int  `json:"ok_count"`
	ResolvedCount       int  `json:"resolved_count"`
}

// AllOK reports whether every executed result (reviewer included) succeeded.
// Vacuously true when nothing executed, as in a plan-only pass.
func (s SwarmSummary) AllOK() bool {
	return s.OKCount == s.ExecutedAgents
}

// ReviewOutcome is the reviewer pass contract consumed by the executor.
type ReviewOutcome struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

// FailureReason returns the reason string recorded for a failed review.
func (o ReviewOutcome) FailureReason() string {
	if len(o.Errors) > 0 {
		return o.Errors[0]
	}
	return "post_audit_failed"
}
