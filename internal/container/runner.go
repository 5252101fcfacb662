package container

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/mtzanidakis/sminos/internal/plan"
	"github.com/mtzanidakis/sminos/internal/swarm"
	"github.com/mtzanidakis/sminos/internal/worker"
)

const (
	workspaceMount  = "/workspace"
	notesMount      = "/notes"
	assignmentMount = workspaceMount + "/" + plan.AssignmentFile
	resultMount     = workspaceMount + "/" + worker.ResultFileName
)

// Runner executes worker tasks as docker containers, one container per
// slot named sminos-worker-<run>-<index>. It implements swarm.TaskRunner.
type Runner struct {
	m    *Manager
	opts worker.Opts
}

func (m *Manager) Runner(opts worker.Opts) *Runner {
	return &Runner{m: m, opts: opts}
}

// RunWorker starts one worker container, waits for it to exit or for ctx to
// be cancelled, and reads the result file back from the bind-mounted
// workspace. Every failure mode folds into the returned result.
func (r *Runner) RunWorker(ctx context.Context, runID string, task swarm.WorkerTask) swarm.WorkerResult {
	if err := os.MkdirAll(task.WorkDir, 0o755); err != nil {
		return worker.FailedResult(-1, fmt.Sprintf("create working directory: %v", err))
	}

	_, items, err := worker.ClaimAssignment(r.opts.Queue, r.m.cfg.MaxTasks, r.opts.Cycle, runID, task)
	if err != nil {
		return worker.FailedResult(-1, err.Error())
	}
	if r.opts.Queue != nil && len(items) == 0 {
		slog.Info("worker has no pending items", "run_id", runID, "worker", task.Name)
		return swarm.WorkerResult{OK: true, Resolved: true, Reason: "no pending items"}
	}
	toolkitPath, err := worker.WriteToolkit(task.WorkDir, r.opts.Toolkit)
	if err != nil {
		return worker.FailedResult(-1, err.Error())
	}

	containerName := fmt.Sprintf("sminos-worker-%s-%d", runID, task.Index)

	// Remove any stale container with the same name.
	stopTimeout := 5
	_ = r.m.docker.ContainerStop(ctx, containerName, dockercontainer.StopOptions{Timeout: &stopTimeout})
	_ = r.m.docker.ContainerRemove(ctx, containerName, dockercontainer.RemoveOptions{Force: true})

	image := r.m.cfg.Image
	if r.opts.Image != "" {
		image = r.opts.Image
	}
	command := r.m.cfg.Command
	if len(r.opts.Command) > 0 {
		command = r.opts.Command
	}

	containerCfg := &dockercontainer.Config{
		Image:      image,
		Cmd:        command,
		Env:        r.environ(toolkitPath != ""),
		WorkingDir: workspaceMount,
		Labels: map[string]string{
			labelPrefix + ".managed": "true",
			labelPrefix + ".run":     runID,
			labelPrefix + ".worker":  task.Name,
		},
	}
	hostCfg := &dockercontainer.HostConfig{
		Binds: buildBinds(task.WorkDir, r.opts.NotesDir),
	}

	resp, err := r.m.docker.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, containerName)
	if err != nil {
		return worker.FailedResult(-1, fmt.Sprintf("create container: %v", err))
	}

	info := &ContainerInfo{
		ID:        resp.ID,
		RunID:     runID,
		Name:      containerName,
		Worker:    task.Name,
		StartedAt: time.Now(),
	}
	if !r.m.track(info) {
		_ = r.m.docker.ContainerRemove(ctx, resp.ID, dockercontainer.RemoveOptions{Force: true})
		return worker.FailedResult(-1, fmt.Sprintf("max containers (%d) reached", r.m.cfg.MaxContainers))
	}
	defer func() {
		_ = r.m.docker.ContainerRemove(context.WithoutCancel(ctx), resp.ID, dockercontainer.RemoveOptions{Force: true})
		r.m.untrack(containerName)
	}()

	if err := r.m.docker.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return worker.FailedResult(-1, fmt.Sprintf("start container: %v", err))
	}
	slog.Info("worker container started", "run_id", runID, "worker", task.Name, "container", resp.ID[:12])

	exitCode, waitErr := r.wait(ctx, resp.ID)
	if waitErr != nil {
		_ = r.m.docker.ContainerKill(context.WithoutCancel(ctx), resp.ID, "KILL")
		return worker.FailedResult(-1, waitErr.Error())
	}

	stdout, stderr := r.logs(context.WithoutCancel(ctx), resp.ID)

	resultPath := filepath.Join(task.WorkDir, worker.ResultFileName)
	if res, ok := worker.ParseResult(resultPath, stdout); ok {
		res.ExitCode = exitCode
		return res
	}

	reason := worker.FallbackReason(stderr, stdout, nil)
	if reason == "" {
		reason = fmt.Sprintf("container exited with code %d and no result", exitCode)
	}
	return worker.FailedResult(exitCode, reason)
}

func (r *Runner) wait(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := r.m.docker.ContainerWait(ctx, containerID, dockercontainer.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("container wait: %s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	case err := <-errCh:
		return -1, fmt.Errorf("container wait: %w", err)
	case <-ctx.Done():
		return -1, fmt.Errorf("cancelled: %w", ctx.Err())
	}
}

// logs fetches the container's output for result fallback parsing. Best
// effort; missing logs just mean a thinner failure reason.
func (r *Runner) logs(ctx context.Context, containerID string) (stdout, stderr []byte) {
	reader, err := r.m.docker.ContainerLogs(ctx, containerID, dockercontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		slog.Debug("container logs unavailable", "container", containerID[:12], "error", err)
		return nil, nil
	}
	defer reader.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, reader); err != nil {
		slog.Debug("container log demux failed", "container", containerID[:12], "error", err)
	}
	return outBuf.Bytes(), errBuf.Bytes()
}

func (r *Runner) environ(withToolkit bool) []string {
	env := []string{
		"SMINOS_MODE=fix",
		fmt.Sprintf("SMINOS_MAX_ROUNDS=%d", r.m.cfg.MaxRounds),
		fmt.Sprintf("SMINOS_MAX_TASKS=%d", r.m.cfg.MaxTasks),
		"SMINOS_ASSIGNMENT=" + assignmentMount,
		"SMINOS_RESULT_FILE=" + resultMount,
	}
	if withToolkit {
		env = append(env, "SMINOS_TOOLKIT="+workspaceMount+"/"+worker.ToolkitFileName)
	}
	if r.opts.NotesDir != "" {
		env = append(env, "SMINOS_NOTES="+notesMount)
	}
	if r.m.cfg.AnthropicAPIKey != "" {
		env = append(env, "ANTHROPIC_API_KEY="+r.m.cfg.AnthropicAPIKey)
	}
	if r.m.cfg.OAuthToken != "" {
		env = append(env, "CLAUDE_CODE_OAUTH_TOKEN="+r.m.cfg.OAuthToken)
	}
	if r.opts.Model != "" {
		env = append(env, "CLAUDE_MODEL="+r.opts.Model)
	}
	if tz := os.Getenv("TZ"); tz != "" {
		env = append(env, "TZ="+tz)
	}
	for k, v := range r.opts.ExtraEnv {
		env = append(env, k+"="+v)
	}
	return env
}
