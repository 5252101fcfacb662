package registry

import (
	"fmt"
	"sync"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/store"
	"github.com/mtzanidakis/sminos/internal/workspace"
)

// Registry syncs configured worker profiles into the store and resolves
// per-profile settings against the defaults.
type Registry struct {
	mu       sync.RWMutex
	store    *store.Store
	profiles map[string]config.ProfileDefinition
	cfg      config.DefaultsConfig
	ws       *workspace.Manager
}

func New(s *store.Store, profiles map[string]config.ProfileDefinition, cfg config.DefaultsConfig, ws *workspace.Manager) *Registry {
	return &Registry{
		store:    s,
		profiles: profiles,
		cfg:      cfg,
		ws:       ws,
	}
}

// Reload swaps the configured profiles and defaults, then re-syncs the
// store. An in-flight run keeps resolving against whichever set it started
// with.
func (r *Registry) Reload(profiles map[string]config.ProfileDefinition, cfg config.DefaultsConfig) error {
	r.mu.Lock()
	r.profiles = profiles
	r.cfg = cfg
	r.mu.Unlock()
	return r.Sync()
}

func (r *Registry) Sync() error {
	r.mu.RLock()
	profiles := r.profiles
	r.mu.RUnlock()

	ids := make([]string, 0, len(profiles))
	for name, def := range profiles {
		ids = append(ids, name)

		p := &store.WorkerProfile{
			ID:          name,
			Name:        name,
			Description: def.Description,
			Model:       def.Model,
			Image:       def.Image,
			Command:     def.Command,
			Workspace:   def.Workspace,
		}
		if p.Workspace == "" {
			p.Workspace = name
		}

		if err := r.store.SaveProfile(p); err != nil {
			return fmt.Errorf("save profile %s: %w", name, err)
		}

		if err := r.ws.EnsureProfile(p.Workspace); err != nil {
			return fmt.Errorf("ensure workspace for %s: %w", name, err)
		}
	}

	if err := r.store.DeleteProfilesNotIn(ids); err != nil {
		return fmt.Errorf("delete stale profiles: %w", err)
	}

	return r.ws.EnsureGlobal()
}

func (r *Registry) Get(profileID string) (*store.WorkerProfile, error) {
	return r.store.GetProfile(profileID)
}

func (r *Registry) List() ([]store.WorkerProfile, error) {
	return r.store.ListProfiles()
}

func (r *Registry) GetDefinition(profileID string) (config.ProfileDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.profiles[profileID]
	return def, ok
}

func (r *Registry) ResolveModel(profileID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.profiles[profileID]; ok && def.Model != "" {
		return def.Model
	}
	return r.cfg.Model
}

func (r *Registry) ResolveImage(profileID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.profiles[profileID]; ok && def.Image != "" {
		return def.Image
	}
	return r.cfg.Image
}

// ResolveCommand returns the profile's worker command, falling back to the
// supplied default when the profile does not override it.
func (r *Registry) ResolveCommand(profileID string, fallback []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.profiles[profileID]; ok && len(def.Command) > 0 {
		return def.Command
	}
	return fallback
}

// ResolveWorkspace returns the profile's workspace folder, defaulting to the
// profile name.
func (r *Registry) ResolveWorkspace(profileID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.profiles[profileID]; ok && def.Workspace != "" {
		return def.Workspace
	}
	return profileID
}

func (r *Registry) GetNotes(profileID string) (string, error) {
	return r.ws.GetNotes(r.ResolveWorkspace(profileID))
}

func (r *Registry) GetGlobalNotes() (string, error) {
	return r.ws.GetGlobalNotes()
}

func (r *Registry) ProfileDescriptions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs := make(map[string]string, len(r.profiles))
	for name, def := range r.profiles {
		descs[name] = def.Description
	}
	return descs
}
