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

// Well-known file names inside a worker's working directory.
const (
	ResultFileName  = "RESULT.json"
	ToolkitFileName = "TOOLKIT.json"
)

// Opts carries the per-cycle execution inputs shared by the process and
// docker runtimes.
type Opts struct {
	Queue    *plan.ClaimQueue
	Cycle    int
	Model    string
	Image    string   // docker image override; empty keeps the configured one
	Command  []string // worker argv override; empty keeps the configured one
	NotesDir string   // profile notes directory, exposed read-only to workers
	Toolkit  string   // profile toolkit JSON, written into each working directory
	ExtraEnv map[string]string
}

// ProcessRunner executes worker tasks as local subprocesses. One runner is
// built per cycle so it can hand out plan items from that cycle's claim
// queue; a nil queue means the run carries no itemized plan.
type ProcessRunner struct {
	cfg  config.WorkerConfig
	opts Opts
	mode string
}

func NewProcessRunner(cfg config.WorkerConfig, opts Opts) *ProcessRunner {
	if len(opts.Command) > 0 {
		cfg.Command = opts.Command
	}
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"claude", "-p"}
	}
	return &ProcessRunner{cfg: cfg, opts: opts, mode: "fix"}
}

// RunWorker launches one worker subprocess in its own working directory and
// folds every failure mode into the returned result. The executor owns the
// wall-clock timeout; cancellation of ctx kills the whole process group.
func (p *ProcessRunner) RunWorker(ctx context.Context, runID string, task swarm.WorkerTask) swarm.WorkerResult {
	if err := os.MkdirAll(task.WorkDir, 0o755); err != nil {
		return FailedResult(-1, fmt.Sprintf("create working directory: %v", err))
	}

	assignmentPath, items, err := ClaimAssignment(p.opts.Queue, p.cfg.MaxTasks, p.opts.Cycle, runID, task)
	if err != nil {
		return FailedResult(-1, err.Error())
	}
	if p.opts.Queue != nil && len(items) == 0 {
		slog.Info("worker has no pending items", "run_id", runID, "worker", task.Name)
		return swarm.WorkerResult{OK: true, Resolved: true, Reason: "no pending items"}
	}

	toolkitPath, err := WriteToolkit(task.WorkDir, p.opts.Toolkit)
	if err != nil {
		return FailedResult(-1, err.Error())
	}

	resultPath := filepath.Join(task.WorkDir, ResultFileName)

	cmd := exec.CommandContext(ctx, p.cfg.Command[0], p.cfg.Command[1:]...)
	cmd.Dir = task.WorkDir
	cmd.Env = p.environ(assignmentPath, resultPath, toolkitPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	} else if runErr != nil {
		exitCode = -1
	}

	slog.Debug("worker process finished", "run_id", runID, "worker", task.Name,
		"exit_code", exitCode, "elapsed", elapsed.Round(time.Second))

	if res, ok := ParseResult(resultPath, stdout.Bytes()); ok {
		res.ExitCode = exitCode
		return res
	}

	reason := FallbackReason(stderr.Bytes(), stdout.Bytes(), runErr)
	if reason == "" {
		reason = "worker produced no result"
	}
	return FailedResult(exitCode, reason)
}

func (p *ProcessRunner) environ(assignmentPath, resultPath, toolkitPath string) []string {
	env := append(os.Environ(),
		"SMINOS_MODE="+p.mode,
		fmt.Sprintf("SMINOS_MAX_ROUNDS=%d", p.cfg.MaxRounds),
		fmt.Sprintf("SMINOS_MAX_TASKS=%d", p.cfg.MaxTasks),
		"SMINOS_RESULT_FILE="+resultPath,
	)
	if assignmentPath != "" {
		env = append(env, "SMINOS_ASSIGNMENT="+assignmentPath)
	}
	if toolkitPath != "" {
		env = append(env, "SMINOS_TOOLKIT="+toolkitPath)
	}
	if p.opts.NotesDir != "" {
		env = append(env, "SMINOS_NOTES="+p.opts.NotesDir)
	}
	if p.opts.Model != "" {
		env = append(env, "CLAUDE_MODEL="+p.opts.Model)
	}
	if p.cfg.AnthropicAPIKey != "" {
		env = append(env, "ANTHROPIC_API_KEY="+p.cfg.AnthropicAPIKey)
	}
	if p.cfg.OAuthToken != "" {
		env = append(env, "CLAUDE_CODE_OAUTH_TOKEN="+p.cfg.OAuthToken)
	}
	for k, v := range p.opts.ExtraEnv {
		env = append(env, k+"="+v)
	}
	return env
}

// WriteToolkit drops the profile toolkit JSON into a worker's working
// directory. Empty toolkits write nothing.
func WriteToolkit(workDir, toolkitJSON string) (string, error) {
	if toolkitJSON == "" || toolkitJSON == "{}" {
		return "", nil
	}
	path := filepath.Join(workDir, ToolkitFileName)
	if err := os.WriteFile(path, []byte(toolkitJSON), 0o644); err != nil {
		return "", fmt.Errorf("write toolkit: %w", err)
	}
	return path, nil
}

// ParseResult parses a worker's structured result: the result file wins,
// otherwise the last JSON object line of stdout is tried.
func ParseResult(resultPath string, stdout []byte) (swarm.WorkerResult, bool) {
	if raw, err := os.ReadFile(resultPath); err == nil {
		var res swarm.WorkerResult
		if err := json.Unmarshal(raw, &res); err == nil {
			return res, true
		}
		slog.Warn("result file is not valid JSON", "path", resultPath, "error", err)
	}

	lines := strings.Split(string(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var res swarm.WorkerResult
		if err := json.Unmarshal([]byte(line), &res); err == nil {
			return res, true
		}
	}
	return swarm.WorkerResult{}, false
}

// FallbackReason derives a failure reason from captured output when no
// structured result was produced: stderr head line, then stdout head line,
// then the process error.
func FallbackReason(stderr, stdout []byte, runErr error) string {
	if s := headLine(stderr); s != "" {
		return s
	}
	if s := headLine(stdout); s != "" {
		return s
	}
	if runErr != nil {
		return runErr.Error()
	}
	return ""
}

// FailedResult builds the degraded result recorded when a worker crashed or
// produced no parseable output.
func FailedResult(exitCode int, reason string) swarm.WorkerResult {
	if len(reason) > 200 {
		reason = reason[:200] + "..."
	}
	return swarm.WorkerResult{
		ExitCode: exitCode,
		OK:       false,
		Resolved: false,
		Reason:   reason,
	}
}

func headLine(b []byte) string {
	for _, line := range strings.Split(string(b), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return ""
}
