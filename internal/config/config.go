package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "parc.yml"

// Config models parc.yml.
type Config struct {
	Simulation struct {
		Key       string `yaml:"key" json:"key"`
		MaxEvents int    `yaml:"max_events" json:"max_events"`
	} `yaml:"simulation" json:"simulation"`
	Generator struct {
		Provider               string `yaml:"provider" json:"provider"`
		Model                  string `yaml:"model" json:"model"`
		BaseURL                string `yaml:"base_url" json:"base_url,omitempty"`
		OllamaEndpoint         string `yaml:"ollama_endpoint" json:"ollama_endpoint"`
		OllamaModel            string `yaml:"ollama_model" json:"ollama_model"`
		Fixture                string `yaml:"fixture" json:"fixture,omitempty"`
		ThinkingBudget         int    `yaml:"thinking_budget" json:"thinking_budget"`
		TimeoutSeconds         int    `yaml:"timeout_seconds" json:"timeout_seconds"`
		BreakerThreshold       int    `yaml:"breaker_threshold" json:"breaker_threshold"`
		BreakerCooldownSeconds int    `yaml:"breaker_cooldown_seconds" json:"breaker_cooldown_seconds"`
	} `yaml:"generator" json:"generator"`
	Playback struct {
		BaseIntervalMS int     `yaml:"base_interval_ms" json:"base_interval_ms"`
		Speed          float64 `yaml:"speed" json:"speed"`
	} `yaml:"playback" json:"playback"`
	Autopilot struct {
		IntervalSeconds int `yaml:"interval_seconds" json:"interval_seconds"`
		SessionMinutes  int `yaml:"session_minutes" json:"session_minutes"`
	} `yaml:"autopilot" json:"autopilot"`
	Logging struct {
		Environment string `yaml:"environment" json:"environment"`
		Level       string `yaml:"level" json:"level,omitempty"`
	} `yaml:"logging" json:"logging"`
	Server struct {
		Addr               string `yaml:"addr" json:"addr"`
		SessionIdleMinutes int    `yaml:"session_idle_minutes" json:"session_idle_minutes"`
	} `yaml:"server" json:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"-"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

var providers = map[string]bool{"gemini": true, "ollama": true, "static": true}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with parc init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the default config when the file does not exist.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Simulation.Key) == "" {
		return fmt.Errorf("config.simulation.key is required")
	}
	if c.Simulation.MaxEvents <= 0 {
		return fmt.Errorf("config.simulation.max_events must be positive")
	}
	if !providers[c.Generator.Provider] {
		return fmt.Errorf("config.generator.provider must be one of gemini, ollama, static")
	}
	if c.Generator.Provider == "ollama" && c.Generator.OllamaModel == "" && c.Generator.Model == "" {
		return fmt.Errorf("config.generator.ollama_model is required for the ollama provider")
	}
	if c.Generator.Provider == "static" && c.Generator.Fixture == "" {
		return fmt.Errorf("config.generator.fixture is required for the static provider")
	}
	if c.Generator.TimeoutSeconds < 0 || c.Generator.BreakerThreshold < 0 || c.Generator.BreakerCooldownSeconds < 0 {
		return fmt.Errorf("config.generator timeouts and thresholds must not be negative")
	}
	if c.Playback.BaseIntervalMS <= 0 {
		return fmt.Errorf("config.playback.base_interval_ms must be positive")
	}
	if c.Playback.Speed <= 0 {
		return fmt.Errorf("config.playback.speed must be positive")
	}
	if c.Autopilot.IntervalSeconds < 0 || c.Autopilot.SessionMinutes < 0 {
		return fmt.Errorf("config.autopilot values must not be negative")
	}
	if c.Server.SessionIdleMinutes < 0 {
		return fmt.Errorf("config.server.session_idle_minutes must not be negative")
	}
	switch c.Logging.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("config.logging.environment must be development or production")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

func (c *Config) BaseInterval() time.Duration {
	return time.Duration(c.Playback.BaseIntervalMS) * time.Millisecond
}

func (c *Config) GeneratorTimeout() time.Duration {
	return time.Duration(c.Generator.TimeoutSeconds) * time.Second
}

func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Generator.BreakerCooldownSeconds) * time.Second
}

func (c *Config) AutopilotInterval() time.Duration {
	return time.Duration(c.Autopilot.IntervalSeconds) * time.Second
}

// SessionLength is the autopilot time budget, zero when unlimited.
func (c *Config) SessionLength() time.Duration {
	return time.Duration(c.Autopilot.SessionMinutes) * time.Minute
}

// SessionIdle is how long the API keeps an untouched live session.
func (c *Config) SessionIdle() time.Duration {
	return time.Duration(c.Server.SessionIdleMinutes) * time.Minute
}

// APIKey reads the Gemini key from GEMINI_API_KEY, falling back to API_KEY.
func APIKey() string {
	if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv("API_KEY"))
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config from raw YAML bytes over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `simulation:
  key: parc-autonomous-simulation
  max_events: 100

generator:
  # gemini reads GEMINI_API_KEY (or API_KEY) from the environment.
  provider: gemini
  model: gemini-2.5-flash
  ollama_endpoint: http://localhost:11434
  ollama_model: ""
  thinking_budget: 0
  timeout_seconds: 300
  breaker_threshold: 3
  breaker_cooldown_seconds: 60

playback:
  base_interval_ms: 2000
  speed: 1

autopilot:
  interval_seconds: 5
  session_minutes: 0

logging:
  environment: development

server:
  addr: 127.0.0.1:8080
  session_idle_minutes: 30

webhooks: []
`
