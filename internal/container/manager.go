package container

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/mtzanidakis/sminos/internal/config"
)

const labelPrefix = "sminos"

// Manager owns the docker client and tracks the containers it has started.
// It outlives individual runs; per-cycle execution state lives on Runner.
type Manager struct {
	docker *client.Client
	cfg    config.WorkerConfig
	mu     sync.RWMutex
	active map[string]*ContainerInfo // container name -> info
}

type ContainerInfo struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	Worker    string    `json:"worker"`
	StartedAt time.Time `json:"started_at"`
}

func NewManager(cfg config.WorkerConfig) (*Manager, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	return &Manager{
		docker: docker,
		cfg:    cfg,
		active: make(map[string]*ContainerInfo),
	}, nil
}

func (m *Manager) track(info *ContainerInfo) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxContainers > 0 && len(m.active) >= m.cfg.MaxContainers {
		return false
	}
	m.active[info.Name] = info
	return true
}

func (m *Manager) untrack(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, name)
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

func (m *Manager) ListRunning() []ContainerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ContainerInfo, 0, len(m.active))
	for _, info := range m.active {
		result = append(result, *info)
	}
	return result
}

// StopAll force-removes every container this manager started.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	infos := make([]*ContainerInfo, 0, len(m.active))
	for _, info := range m.active {
		infos = append(infos, info)
	}
	m.active = make(map[string]*ContainerInfo)
	m.mu.Unlock()

	for _, info := range infos {
		if err := m.docker.ContainerRemove(ctx, info.ID, dockercontainer.RemoveOptions{Force: true}); err != nil {
			slog.Warn("failed to remove container", "container", info.Name, "error", err)
		}
	}
}

// CleanupStale removes leftover worker containers from earlier processes,
// identified by the managed label.
func (m *Manager) CleanupStale(ctx context.Context) error {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", labelPrefix+".managed=true")

	containers, err := m.docker.ContainerList(ctx, dockercontainer.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	m.mu.RLock()
	activeIDs := make(map[string]bool)
	for _, info := range m.active {
		activeIDs[info.ID] = true
	}
	m.mu.RUnlock()

	for _, c := range containers {
		if !activeIDs[c.ID] {
			slog.Info("cleaning up stale container", "container", c.ID[:12])
			_ = m.docker.ContainerRemove(ctx, c.ID, dockercontainer.RemoveOptions{Force: true})
		}
	}
	return nil
}

// BuildImage builds the worker image from the given context directory.
func (m *Manager) BuildImage(ctx context.Context, contextDir string) error {
	return BuildWorkerImage(ctx, m.docker, contextDir, m.cfg.Image)
}
