package plan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mtzanidakis/sminos/internal/config"
	"gopkg.in/yaml.v3"
)

// Item statuses. Anything else is treated as open so a typo in the plan
// file surfaces as extra work rather than silently dropped items.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
	StatusDeferred = "deferred"
)

// Item is one remediation work item from the plan.
type Item struct {
	ID       string   `yaml:"id" json:"id"`
	Title    string   `yaml:"title" json:"title"`
	Area     string   `yaml:"area,omitempty" json:"area,omitempty"`
	Severity string   `yaml:"severity,omitempty" json:"severity,omitempty"`
	Status   string   `yaml:"status,omitempty" json:"status,omitempty"`
	Paths    []string `yaml:"paths,omitempty" json:"paths,omitempty"`
}

// Plan is the full remediation plan document.
type Plan struct {
	BaseRef string `yaml:"base_ref,omitempty" json:"base_ref,omitempty"`
	Items   []Item `yaml:"items" json:"items"`
}

// Open returns the items still waiting for work.
func (p *Plan) Open() []Item {
	var open []Item
	for _, it := range p.Items {
		switch it.Status {
		case StatusResolved, StatusDeferred:
		default:
			open = append(open, it)
		}
	}
	return open
}

// Source loads the plan from a YAML file or an external command. The plan is
// re-read on every call so external edits between cycles are picked up.
type Source struct {
	cfg config.PlanConfig
}

func NewSource(cfg config.PlanConfig) *Source {
	return &Source{cfg: cfg}
}

func (s *Source) Load(ctx context.Context) (*Plan, error) {
	if len(s.cfg.Command) > 0 {
		return s.loadCommand(ctx)
	}
	return s.loadFile()
}

// Remaining returns the open items of a fresh plan read.
func (s *Source) Remaining(ctx context.Context) ([]Item, error) {
	p, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return p.Open(), nil
}

// BaseRef resolves the git comparison ref: explicit config wins over the
// plan-level value.
func (s *Source) BaseRef(p *Plan) string {
	if s.cfg.BaseRef != "" {
		return s.cfg.BaseRef
	}
	if p != nil {
		return p.BaseRef
	}
	return ""
}

func (s *Source) loadFile() (*Plan, error) {
	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	if err := validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Source) loadCommand(ctx context.Context) (*Plan, error) {
	cmd := exec.CommandContext(ctx, s.cfg.Command[0], s.cfg.Command[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("plan command: %s", msg)
	}

	out := bytes.TrimSpace(stdout.Bytes())

	// A bare JSON array of items or a full plan object are both accepted.
	var p Plan
	if len(out) > 0 && out[0] == '[' {
		if err := json.Unmarshal(out, &p.Items); err != nil {
			return nil, fmt.Errorf("parse plan command output: %w", err)
		}
	} else if err := json.Unmarshal(out, &p); err != nil {
		return nil, fmt.Errorf("parse plan command output: %w", err)
	}
	if err := validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func validate(p *Plan) error {
	seen := make(map[string]bool, len(p.Items))
	for i, it := range p.Items {
		if it.ID == "" {
			return fmt.Errorf("plan item %d: id is required", i)
		}
		if seen[it.ID] {
			return fmt.Errorf("plan item %q: duplicate id", it.ID)
		}
		seen[it.ID] = true
	}
	return nil
}
