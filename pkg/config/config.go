// Package config loads and validates the engine configuration from YAML
// and provides encrypted secret storage for provider API keys.
//
// Configuration is explicit: callers load a *Config once and pass it (or
// its sub-configs) down. Nothing in the engine reads module-level policy
// state, so tests can run with varied enforcement policies.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default values applied when the YAML omits a field.
const (
	DefaultDatabaseFile        = "agentflow.db"
	DefaultListenAddr          = "127.0.0.1:8844"
	DefaultMaxSimultaneous     = 1
	DefaultMaxAutoContinues    = 10
	DefaultContextTokenBudget  = 8192
	DefaultProvider            = "anthropic"
	DefaultAnthropicModel      = "claude-sonnet-4-20250514"
	DefaultOpenAIModel         = "gpt-4.1"
	DefaultOllamaHost          = "http://localhost:11434"
	DefaultOllamaModel         = "qwen3:8b"
	DefaultGeminiModel         = "gemini-2.5-flash"
)

// Enforcement is the one-task policy configuration consumed by the
// workflow engine. Immutable after load.
type Enforcement struct {
	// OneTaskRule limits a single response to at most one completed todo.
	OneTaskRule bool `yaml:"one_task_rule"`

	// LogEnforcementActions writes a system log entry for every dropped
	// update. Drop diagnostics are returned to callers regardless.
	LogEnforcementActions bool `yaml:"log_enforcement_actions"`

	// MaxSimultaneousStarts bounds in-progress transitions observed in
	// one sanitized batch before the engine logs a defensive warning.
	MaxSimultaneousStarts int `yaml:"max_simultaneous_starts"`

	// AutoAdvanceDefault seeds the auto-advance flag on new workflows.
	AutoAdvanceDefault bool `yaml:"auto_advance_default"`

	// MaxAutoContinues bounds automatic continue turns issued in a row.
	MaxAutoContinues int `yaml:"max_auto_continues"`
}

// Database configures the SQLite store.
type Database struct {
	Path string `yaml:"path"`
}

// Provider configures one LLM backend.
type Provider struct {
	Model string `yaml:"model"`
	// Host is only meaningful for the ollama provider.
	Host string `yaml:"host,omitempty"`
}

// LLM selects and configures the model backend used to drive turns.
type LLM struct {
	// Provider is one of: anthropic, openai, ollama, gemini, mock.
	Provider  string   `yaml:"provider"`
	Anthropic Provider `yaml:"anthropic"`
	OpenAI    Provider `yaml:"openai"`
	Ollama    Provider `yaml:"ollama"`
	Gemini    Provider `yaml:"gemini"`

	// ContextTokenBudget caps the serialized workflow context payload;
	// over-budget payloads get their todo free-text fields truncated.
	ContextTokenBudget int `yaml:"context_token_budget"`
}

// Server configures the localhost HTTP surface for the desktop shell.
type Server struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Audit configures the append-only JSONL audit export.
type Audit struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	// RotationHours sets how often a new audit file is started.
	RotationHours int `yaml:"rotation_hours"`
}

// Config is the root engine configuration.
type Config struct {
	Enforcement Enforcement `yaml:"enforcement"`
	Database    Database    `yaml:"database"`
	LLM         LLM         `yaml:"llm"`
	Server      Server      `yaml:"server"`
	Audit       Audit       `yaml:"audit"`
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Enforcement: Enforcement{
			OneTaskRule:           true,
			LogEnforcementActions: true,
			MaxSimultaneousStarts: DefaultMaxSimultaneous,
			MaxAutoContinues:      DefaultMaxAutoContinues,
		},
		Database: Database{Path: DefaultDatabaseFile},
		LLM: LLM{
			Provider:           DefaultProvider,
			Anthropic:          Provider{Model: DefaultAnthropicModel},
			OpenAI:             Provider{Model: DefaultOpenAIModel},
			Ollama:             Provider{Model: DefaultOllamaModel, Host: DefaultOllamaHost},
			Gemini:             Provider{Model: DefaultGeminiModel},
			ContextTokenBudget: DefaultContextTokenBudget,
		},
		Server: Server{ListenAddr: DefaultListenAddr},
		Audit: Audit{
			Enabled:       true,
			Dir:           "audit",
			RotationHours: 24,
		},
	}
}

// Load reads the YAML config at path, applying defaults for omitted
// fields. A missing file yields the default config.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints and fills derived defaults.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic", "openai", "ollama", "gemini", "mock":
	case "":
		c.LLM.Provider = DefaultProvider
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	if c.Enforcement.MaxSimultaneousStarts <= 0 {
		c.Enforcement.MaxSimultaneousStarts = DefaultMaxSimultaneous
	}
	if c.Enforcement.MaxAutoContinues <= 0 {
		c.Enforcement.MaxAutoContinues = DefaultMaxAutoContinues
	}
	if c.LLM.ContextTokenBudget <= 0 {
		c.LLM.ContextTokenBudget = DefaultContextTokenBudget
	}
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabaseFile
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Audit.RotationHours <= 0 {
		c.Audit.RotationHours = 24
	}
	return nil
}

// Save writes the config back to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
