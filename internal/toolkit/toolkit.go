package toolkit

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ProfileToolkit holds the worker tooling configuration for a profile.
type ProfileToolkit struct {
	MCPServers map[string]MCPServerConfig `json:"mcp_servers,omitempty"`
	Playbooks  map[string]PlaybookConfig  `json:"playbooks,omitempty"`
}

// MCPServerConfig defines an MCP server (stdio or http).
type MCPServerConfig struct {
	Type    string            `json:"type"`              // "stdio", "http"
	Command string            `json:"command,omitempty"` // for stdio
	Args    []string          `json:"args,omitempty"`    // for stdio
	URL     string            `json:"url,omitempty"`     // for http
	Env     map[string]string `json:"env,omitempty"`     // for stdio
	Headers map[string]string `json:"headers,omitempty"` // for http
}

// PlaybookConfig defines a named remediation playbook (PLAYBOOK.md).
type PlaybookConfig struct {
	Description string   `json:"description"`
	Content     string   `json:"content"`
	Requires    []string `json:"requires,omitempty"` // packages needed in the worker image
}

// IsEmpty returns true if no tooling is configured.
func (t *ProfileToolkit) IsEmpty() bool {
	return len(t.MCPServers) == 0 && len(t.Playbooks) == 0
}

var (
	validMCPTypes     = map[string]bool{"stdio": true, "http": true}
	playbookNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)
)

// Validate checks the toolkit for correctness.
func (t *ProfileToolkit) Validate() error {
	for name, srv := range t.MCPServers {
		if !validMCPTypes[srv.Type] {
			return fmt.Errorf("mcp server %q: invalid type %q (must be stdio or http)", name, srv.Type)
		}
		if srv.Type == "stdio" && srv.Command == "" {
			return fmt.Errorf("mcp server %q: stdio type requires command", name)
		}
		if srv.Type == "http" && srv.URL == "" {
			return fmt.Errorf("mcp server %q: http type requires url", name)
		}
	}

	for name, pb := range t.Playbooks {
		if !playbookNameRegex.MatchString(name) {
			return fmt.Errorf("playbook %q: name must be alphanumeric with hyphens/underscores", name)
		}
		if pb.Content == "" {
			return fmt.Errorf("playbook %q: content is required", name)
		}
	}

	return nil
}

// Parse parses a JSON string into a ProfileToolkit.
func Parse(data string) (*ProfileToolkit, error) {
	if data == "" || data == "{}" {
		return &ProfileToolkit{}, nil
	}
	var tk ProfileToolkit
	if err := json.Unmarshal([]byte(data), &tk); err != nil {
		return nil, fmt.Errorf("parse toolkit: %w", err)
	}
	return &tk, nil
}

// ResolveSecretRefs resolves secret:name references in MCP server env and
// headers values using the provided resolver function.
func (t *ProfileToolkit) ResolveSecretRefs(resolve func(name string) (string, error)) error {
	for srvName, srv := range t.MCPServers {
		for k, v := range srv.Env {
			if secretName, ok := strings.CutPrefix(v, "secret:"); ok {
				val, err := resolve(secretName)
				if err != nil {
					return fmt.Errorf("mcp server %q env %q: %w", srvName, k, err)
				}
				srv.Env[k] = val
			}
		}
		for k, v := range srv.Headers {
			if secretName, ok := strings.CutPrefix(v, "secret:"); ok {
				val, err := resolve(secretName)
				if err != nil {
					return fmt.Errorf("mcp server %q header %q: %w", srvName, k, err)
				}
				srv.Headers[k] = val
			}
		}
		t.MCPServers[srvName] = srv
	}
	return nil
}
