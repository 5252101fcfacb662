package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Plan               PlanConfig                   `yaml:"plan"`
	Workspace          WorkspaceConfig              `yaml:"workspace"`
	Swarm              SwarmConfig                  `yaml:"swarm"`
	Worker             WorkerConfig                 `yaml:"worker"`
	Reviewer           ReviewerConfig               `yaml:"reviewer"`
	Feedback           FeedbackConfig               `yaml:"feedback"`
	Cycle              CycleConfig                  `yaml:"cycle"`
	Profiles           map[string]ProfileDefinition `yaml:"profiles"`
	Defaults           DefaultsConfig               `yaml:"defaults"`
	Router             RouterConfig                 `yaml:"router"`
	DifficultyKeywords []string                     `yaml:"difficulty_keywords"`
	Store              StoreConfig                  `yaml:"store"`
	NATS               NATSConfig                   `yaml:"nats"`
	Web                WebConfig                    `yaml:"web"`
	Telegram           TelegramConfig               `yaml:"telegram"`
	Scheduler          SchedulerConfig              `yaml:"scheduler"`
	Vault              VaultConfig                  `yaml:"vault"`
}

type PlanConfig struct {
	Path    string   `yaml:"path"`
	Command []string `yaml:"command"`
	BaseRef string   `yaml:"base_ref"`
}

type WorkspaceConfig struct {
	BasePath string `yaml:"base_path"`
}

type SwarmConfig struct {
	MinAgents         int  `yaml:"min_agents"`
	MaxAgents         int  `yaml:"max_agents"`
	Adaptive          bool `yaml:"adaptive"`
	Agents            int  `yaml:"agents"` // explicit override; 0 = unset
	MaxConcurrency    int  `yaml:"max_concurrency"`
	Reviewer          bool `yaml:"reviewer"`
	PlanOnly          bool `yaml:"plan_only"`
	TokenBudget       int  `yaml:"token_budget"` // 0 = no budget
	PerAgentTokenCost int  `yaml:"per_agent_token_cost"`
}

type WorkerConfig struct {
	Runtime         string        `yaml:"runtime"` // "process" or "docker"
	Command         []string      `yaml:"command"`
	Image           string        `yaml:"image"`
	MaxContainers   int           `yaml:"max_containers"`
	MaxRounds       int           `yaml:"max_rounds"`
	MaxTasks        int           `yaml:"max_tasks"`
	Timeout         time.Duration `yaml:"timeout"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	OAuthToken      string        `yaml:"oauth_token"`
}

type ReviewerConfig struct {
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

type FeedbackConfig struct {
	Enabled         bool     `yaml:"enabled"`
	StallRounds     int      `yaml:"stall_rounds"`
	NoSignalRounds  int      `yaml:"no_signal_rounds"`
	DownshiftFactor float64  `yaml:"downshift_factor"`
	UpshiftRounds   int      `yaml:"upshift_rounds"`
	UpshiftFactor   float64  `yaml:"upshift_factor"`
	NoSignalReasons []string `yaml:"no_signal_reasons"`
}

type CycleConfig struct {
	Continuous bool `yaml:"continuous"`
	MaxCycles  int  `yaml:"max_cycles"`
}

type ProfileDefinition struct {
	Description string   `yaml:"description"`
	Model       string   `yaml:"model"`
	Image       string   `yaml:"image"`
	Command     []string `yaml:"command"`
	Workspace   string   `yaml:"workspace"`
}

type DefaultsConfig struct {
	Model string `yaml:"model"`
	Image string `yaml:"image"`
}

type RouterConfig struct {
	DefaultProfile string `yaml:"default_profile"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type NATSConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	ChatID    int64   `yaml:"chat_id"`
	AllowFrom []int64 `yaml:"allow_from"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		Plan: PlanConfig{
			Path: "plan.yaml",
		},
		Workspace: WorkspaceConfig{
			BasePath: "data/workspaces",
		},
		Swarm: SwarmConfig{
			MinAgents:         1,
			MaxAgents:         10,
			Adaptive:          true,
			MaxConcurrency:    4,
			Reviewer:          true,
			PerAgentTokenCost: 4000,
		},
		Worker: WorkerConfig{
			Runtime:       "process",
			Command:       []string{"claude", "-p"},
			Image:         "sminos-worker:latest",
			MaxContainers: 10,
			MaxRounds:     3,
			MaxTasks:      5,
			Timeout:       20 * time.Minute,
		},
		Reviewer: ReviewerConfig{
			Timeout: 10 * time.Minute,
		},
		Feedback: FeedbackConfig{
			Enabled:         true,
			StallRounds:     3,
			NoSignalRounds:  2,
			DownshiftFactor: 0.5,
			UpshiftRounds:   2,
			UpshiftFactor:   1.25,
			NoSignalReasons: []string{"unreachable/non-blocking", "dry-run"},
		},
		Cycle: CycleConfig{
			Continuous: true,
			MaxCycles:  8,
		},
		Router: RouterConfig{
			DefaultProfile: "fixer",
		},
		Store: StoreConfig{
			Path: "data/sminos.db",
		},
		NATS: NATSConfig{
			Host:    "127.0.0.1",
			Port:    4222,
			DataDir: "data/nats",
		},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("SMINOS_CONFIG")
	if path == "" {
		path = "config/sminos.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SMINOS_PLAN"); v != "" {
		cfg.Plan.Path = v
	}
	if v := os.Getenv("SMINOS_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Worker.AnthropicAPIKey = v
	}
	if v := os.Getenv("CLAUDE_CODE_OAUTH_TOKEN"); v != "" {
		cfg.Worker.OAuthToken = v
	}
	if v := os.Getenv("SMINOS_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("SMINOS_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("SMINOS_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("SMINOS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SMINOS_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("SMINOS_MIN_AGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Swarm.MinAgents = n
		}
	}
	if v := os.Getenv("SMINOS_MAX_AGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Swarm.MaxAgents = n
		}
	}
	if v := os.Getenv("SMINOS_AGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Swarm.Agents = n
		}
	}
}

// Validate rejects parameter combinations that cannot produce a runnable
// swarm. These are fatal before anything launches.
func (c *Config) Validate() error {
	if c.Swarm.MinAgents < 1 {
		return fmt.Errorf("swarm.min_agents must be >= 1, got %d", c.Swarm.MinAgents)
	}
	if c.Swarm.MaxAgents < c.Swarm.MinAgents {
		return fmt.Errorf("swarm.max_agents (%d) must be >= swarm.min_agents (%d)",
			c.Swarm.MaxAgents, c.Swarm.MinAgents)
	}
	if c.Swarm.MaxConcurrency < 1 {
		return fmt.Errorf("swarm.max_concurrency must be >= 1, got %d", c.Swarm.MaxConcurrency)
	}
	if c.Swarm.Agents < 0 {
		return fmt.Errorf("swarm.agents must be >= 0, got %d", c.Swarm.Agents)
	}
	if c.Swarm.TokenBudget > 0 && c.Swarm.PerAgentTokenCost < 1 {
		return fmt.Errorf("swarm.per_agent_token_cost must be >= 1 when a token budget is set")
	}
	if c.Feedback.DownshiftFactor <= 0 || c.Feedback.DownshiftFactor >= 1 {
		return fmt.Errorf("feedback.downshift_factor must be in (0, 1), got %g", c.Feedback.DownshiftFactor)
	}
	if c.Feedback.UpshiftFactor <= 1 {
		return fmt.Errorf("feedback.upshift_factor must be > 1, got %g", c.Feedback.UpshiftFactor)
	}
	switch c.Worker.Runtime {
	case "process", "docker":
	default:
		return fmt.Errorf("worker.runtime must be \"process\" or \"docker\", got %q", c.Worker.Runtime)
	}
	if c.Cycle.MaxCycles < 1 {
		return fmt.Errorf("cycle.max_cycles must be >= 1, got %d", c.Cycle.MaxCycles)
	}
	return nil
}
