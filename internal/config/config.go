package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Backends  map[string]BackendConfig `yaml:"backends"`
	Modes     map[string]ModeConfig    `yaml:"modes"`
	NATS      NATSConfig               `yaml:"nats"`
	Store     StoreConfig              `yaml:"store"`
	Web       WebConfig                `yaml:"web"`
	Scheduler SchedulerConfig          `yaml:"scheduler"`
	Vault     VaultConfig              `yaml:"vault"`
}

// BackendConfig describes one remote model provider. The API key is resolved
// from APIKeyEnv at load time; backends with an empty APIKeyEnv (local
// deployments) require no credential.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// Resolved at load time, never serialized.
	APIKey string `yaml:"-"`
}

// AgentDef is one configured (backend, model) dispatch slot.
type AgentDef struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Backend    string   `yaml:"backend"`
	Model      string   `yaml:"model"`
	AltModels  []string `yaml:"alt_models"`
	Generalist bool     `yaml:"generalist"`
}

// ModeConfig groups the agent sets and delivery pacing for one operating mode.
type ModeConfig struct {
	Agents         []AgentDef    `yaml:"agents"`
	FallbackAgents []AgentDef    `yaml:"fallback_agents"`
	MaxTokens      int           `yaml:"max_tokens"`
	ChunkSize      int           `yaml:"chunk_size"`
	ChunkDelay     time.Duration `yaml:"chunk_delay"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type VaultConfig struct {
	Passphrase string `yaml:"-"` // env only, never from file
}

func defaults() Config {
	return Config{
		Backends: map[string]BackendConfig{
			"openai": {
				BaseURL:        "https://api.openai.com/v1",
				APIKeyEnv:      "OPENAI_API_KEY",
				MaxConcurrent:  4,
				RequestTimeout: 90 * time.Second,
				MaxAttempts:    3,
				RetryBaseDelay: 500 * time.Millisecond,
			},
			"local": {
				BaseURL:        "http://localhost:11434/v1",
				MaxConcurrent:  1,
				RequestTimeout: 180 * time.Second,
				MaxAttempts:    2,
				RetryBaseDelay: time.Second,
			},
		},
		Modes: map[string]ModeConfig{
			"quick": {
				Agents: []AgentDef{
					{ID: "generalist", Name: "Generalist", Backend: "openai", Model: "gpt-4o-mini", Generalist: true},
					{ID: "analyst", Name: "Analyst", Backend: "openai", Model: "gpt-4o"},
				},
				FallbackAgents: []AgentDef{
					{ID: "fallback-local", Name: "Local fallback", Backend: "local", Model: "llama3.1", AltModels: []string{"mistral"}},
				},
				MaxTokens:  1024,
				ChunkSize:  1600,
				ChunkDelay: 40 * time.Millisecond,
			},
			"council": {
				Agents: []AgentDef{
					{ID: "generalist", Name: "Generalist", Backend: "openai", Model: "gpt-4o", Generalist: true},
					{ID: "analyst", Name: "Analyst", Backend: "openai", Model: "gpt-4o-mini"},
					{ID: "skeptic", Name: "Skeptic", Backend: "openai", Model: "o3-mini", AltModels: []string{"gpt-4o-mini"}},
					{ID: "local-senior", Name: "Local senior", Backend: "local", Model: "llama3.1:70b", AltModels: []string{"llama3.1"}},
				},
				FallbackAgents: []AgentDef{
					{ID: "fallback-mini", Name: "Fallback mini", Backend: "openai", Model: "gpt-4o-mini"},
					{ID: "fallback-local", Name: "Local fallback", Backend: "local", Model: "llama3.1"},
				},
				MaxTokens:  2048,
				ChunkSize:  2800,
				ChunkDelay: 25 * time.Millisecond,
			},
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/quorum.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("QUORUM_CONFIG")
	if path == "" {
		path = "config/quorum.yaml"
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

	applyEnv(&cfg)
	resolveKeys(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("QUORUM_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("QUORUM_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("QUORUM_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("QUORUM_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("QUORUM_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
}

func resolveKeys(cfg *Config) {
	for name, b := range cfg.Backends {
		if b.APIKeyEnv != "" {
			b.APIKey = os.Getenv(b.APIKeyEnv)
		}
		cfg.Backends[name] = b
	}
}

// Validate checks the preconditions for running a pipeline in the given mode:
// the mode exists, has at least one agent, and every referenced backend is
// configured with a credential where one is required. It runs before any
// dispatch so a misconfiguration never burns a backend call.
func (c *Config) Validate(mode string) error {
	mc, ok := c.Modes[mode]
	if !ok {
		return fmt.Errorf("unknown mode %q", mode)
	}
	if len(mc.Agents) == 0 {
		return fmt.Errorf("mode %q has no agents configured", mode)
	}

	all := make([]AgentDef, 0, len(mc.Agents)+len(mc.FallbackAgents))
	all = append(all, mc.Agents...)
	all = append(all, mc.FallbackAgents...)

	for _, a := range all {
		if a.ID == "" || a.Model == "" {
			return fmt.Errorf("mode %q: agent with empty id or model", mode)
		}
		b, ok := c.Backends[a.Backend]
		if !ok {
			return fmt.Errorf("mode %q: agent %q references unknown backend %q", mode, a.ID, a.Backend)
		}
		if b.APIKeyEnv != "" && b.APIKey == "" {
			return fmt.Errorf("backend %q requires credential from %s which is not set", a.Backend, b.APIKeyEnv)
		}
	}
	return nil
}

// Generalist returns the designated generalist agent of a mode, falling back
// to the first agent when none is flagged.
func (c *Config) Generalist(mode string) (AgentDef, bool) {
	mc, ok := c.Modes[mode]
	if !ok || len(mc.Agents) == 0 {
		return AgentDef{}, false
	}
	for _, a := range mc.Agents {
		if a.Generalist {
			return a, true
		}
	}
	return mc.Agents[0], true
}
