package router

import (
	"fmt"
	"strings"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/registry"
)

// Router maps a free-text run request to a worker profile.
type Router struct {
	registry       *registry.Registry
	defaultProfile string
}

func New(reg *registry.Registry, cfg config.RouterConfig) *Router {
	return &Router{
		registry:       reg,
		defaultProfile: cfg.DefaultProfile,
	}
}

// Route resolves the profile for a request. An @profile prefix wins when the
// profile exists; an unknown prefix falls through to the default with the
// original request preserved.
func (r *Router) Route(request string) (profileID string, cleanedRequest string, err error) {
	if strings.HasPrefix(request, "@") {
		parts := strings.SplitN(request, " ", 2)
		name := strings.TrimPrefix(parts[0], "@")
		if _, ok := r.registry.GetDefinition(name); ok {
			cleaned := ""
			if len(parts) > 1 {
				cleaned = parts[1]
			}
			return name, cleaned, nil
		}
		// Unknown profile name in prefix, fall through to the default
	}

	if r.defaultProfile == "" {
		return "", request, fmt.Errorf("no default profile configured")
	}
	return r.defaultProfile, request, nil
}

func (r *Router) DefaultProfile() string {
	return r.defaultProfile
}

// SetDefaultProfile updates the default profile used for routing.
func (r *Router) SetDefaultProfile(profile string) {
	r.defaultProfile = profile
}
