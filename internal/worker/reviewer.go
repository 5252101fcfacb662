package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/plan"
	"github.com/mtzanidakis/sminos/internal/swarm"
)

const (
	digestFileName = "REVIEW_DIGEST.json"
	reviewFileName = "REVIEW_RESULT.json"
)

// ReviewRunner runs the post-hoc review command over one cycle's combined
// worker output. Built per cycle alongside the process runner.
type ReviewRunner struct {
	cfg     config.ReviewerConfig
	baseDir string
	pending []plan.Item
}

func NewReviewRunner(cfg config.ReviewerConfig, baseDir string, pending []plan.Item) *ReviewRunner {
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"claude", "-p"}
	}
	return &ReviewRunner{cfg: cfg, baseDir: baseDir, pending: pending}
}

// Review writes the digest file, runs the reviewer command, and parses its
// {ok, errors} outcome. Any failure along the way is a failed review, never
// an error to the executor.
func (r *ReviewRunner) Review(ctx context.Context, runID string, tasks []swarm.WorkerTask, results []swarm.WorkerResult) swarm.ReviewOutcome {
	if err := os.MkdirAll(r.baseDir, 0o755); err != nil {
		return failedOutcome(fmt.Sprintf("create review directory: %v", err))
	}

	digest := map[string]any{
		"run_id":        runID,
		"workers":       results,
		"pending_items": r.pending,
	}
	digestPath := filepath.Join(r.baseDir, digestFileName)
	raw, err := json.MarshalIndent(digest, "", "  ")
	if err != nil {
		return failedOutcome(fmt.Sprintf("marshal digest: %v", err))
	}
	if err := os.WriteFile(digestPath, raw, 0o644); err != nil {
		return failedOutcome(fmt.Sprintf("write digest: %v", err))
	}

	outcomePath := filepath.Join(r.baseDir, reviewFileName)

	cmd := exec.CommandContext(ctx, r.cfg.Command[0], r.cfg.Command[1:]...)
	cmd.Dir = r.baseDir
	cmd.Env = append(os.Environ(),
		"SMINOS_REVIEW_DIGEST="+digestPath,
		"SMINOS_RESULT_FILE="+outcomePath,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	cmd.WaitDelay = 5 * time.Second

	runErr := cmd.Run()

	if outcome, ok := readOutcome(outcomePath, stdout.Bytes()); ok {
		return outcome
	}

	reason := FallbackReason(stderr.Bytes(), stdout.Bytes(), runErr)
	if reason == "" {
		reason = "reviewer produced no result"
	}
	slog.Warn("review pass degraded to failure", "run_id", runID, "reason", reason)
	return failedOutcome(reason)
}

func readOutcome(outcomePath string, stdout []byte) (swarm.ReviewOutcome, bool) {
	if raw, err := os.ReadFile(outcomePath); err == nil {
		var outcome swarm.ReviewOutcome
		if err := json.Unmarshal(raw, &outcome); err == nil {
			return outcome, true
		}
		slog.Warn("review result file is not valid JSON", "path", outcomePath, "error", err)
	}

	lines := strings.Split(string(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var outcome swarm.ReviewOutcome
		if err := json.Unmarshal([]byte(line), &outcome); err == nil {
			return outcome, true
		}
	}
	return swarm.ReviewOutcome{}, false
}

func failedOutcome(reason string) swarm.ReviewOutcome {
	if len(reason) > 200 {
		reason = reason[:200] + "..."
	}
	return swarm.ReviewOutcome{OK: false, Errors: []string{reason}}
}
