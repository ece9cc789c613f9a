// Package config loads node configuration from a YAML file with
// environment-variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("agentmesh.yaml").
//	    WithEnvPrefix("AGENTMESH").
//	    Load()
//
// Precedence: defaults -> YAML file -> environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full node configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Delegation DelegationConfig `yaml:"delegation"`
	Providers  []ProviderConfig `yaml:"providers"`
	DataDir    string           `yaml:"data_dir" env:"DATA_DIR"`
}

// ProviderConfig describes one OpenAI-compatible model backend.
type ProviderConfig struct {
	Name    string   `yaml:"name"`
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Models  []string `yaml:"models"`
}

// ServerConfig configures the network-facing server.
type ServerConfig struct {
	Port             int      `yaml:"port" env:"PORT"`
	BindHost         string   `yaml:"bind_host" env:"BIND_HOST"`
	RequireAuth      bool     `yaml:"require_auth" env:"REQUIRE_AUTH"`
	APIKey           string   `yaml:"api_key" env:"API_KEY"`
	EnableWebSocket  bool     `yaml:"enable_websocket" env:"ENABLE_WEBSOCKET"`
	MaxSessions      int      `yaml:"max_sessions" env:"MAX_SESSIONS"`
	CORSOrigins      []string `yaml:"cors_origins" env:"CORS_ORIGINS"`
	DiscoveryEnabled bool     `yaml:"discovery_enabled" env:"DISCOVERY_ENABLED"`
	ServerName       string   `yaml:"server_name" env:"SERVER_NAME"`
	RateLimitRPS     float64  `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json or console
}

// DelegationConfig tunes the delegation orchestrator.
type DelegationConfig struct {
	Enabled             bool    `yaml:"enabled" env:"DELEGATION_ENABLED"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" env:"DELEGATION_CONFIDENCE_THRESHOLD"`
	MaxSubTasks         int     `yaml:"max_sub_tasks" env:"DELEGATION_MAX_SUB_TASKS"`
	MinMessageLength    int     `yaml:"min_message_length" env:"DELEGATION_MIN_MESSAGE_LENGTH"`
	MinSegmentLength    int     `yaml:"min_segment_length" env:"DELEGATION_MIN_SEGMENT_LENGTH"`
}

// DefaultConfig returns the documented defaults: port 3939, bind-all,
// auth disabled.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             3939,
			BindHost:         "0.0.0.0",
			RequireAuth:      false,
			EnableWebSocket:  true,
			MaxSessions:      32,
			DiscoveryEnabled: true,
			ServerName:       "agentmesh-node",
			RateLimitRPS:     0, // disabled
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Delegation: DelegationConfig{
			Enabled:             true,
			ConfidenceThreshold: 0.6,
			MaxSubTasks:         5,
			MinMessageLength:    80,
			MinSegmentLength:    20,
		},
		DataDir: "./data",
	}
}

// Loader loads configuration using the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a Loader with the AGENTMESH env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "AGENTMESH"}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation function run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. A missing config file is not an error;
// defaults apply.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	l.applyEnv(cfg)

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// applyEnv overrides fields from PREFIX_* environment variables. Unparseable
// values are ignored so one bad variable does not take the node down.
func (l *Loader) applyEnv(cfg *Config) {
	l.envString("DATA_DIR", &cfg.DataDir)

	l.envInt("PORT", &cfg.Server.Port)
	l.envString("BIND_HOST", &cfg.Server.BindHost)
	l.envBool("REQUIRE_AUTH", &cfg.Server.RequireAuth)
	l.envString("API_KEY", &cfg.Server.APIKey)
	l.envBool("ENABLE_WEBSOCKET", &cfg.Server.EnableWebSocket)
	l.envInt("MAX_SESSIONS", &cfg.Server.MaxSessions)
	l.envStringSlice("CORS_ORIGINS", &cfg.Server.CORSOrigins)
	l.envBool("DISCOVERY_ENABLED", &cfg.Server.DiscoveryEnabled)
	l.envString("SERVER_NAME", &cfg.Server.ServerName)
	l.envFloat("RATE_LIMIT_RPS", &cfg.Server.RateLimitRPS)

	// A single backend can be configured entirely from the environment.
	if base, ok := l.lookup("PROVIDER_BASE_URL"); ok {
		p := ProviderConfig{Name: "default", BaseURL: base}
		l.envString("PROVIDER_NAME", &p.Name)
		l.envString("PROVIDER_API_KEY", &p.APIKey)
		l.envStringSlice("PROVIDER_MODELS", &p.Models)
		cfg.Providers = append(cfg.Providers, p)
	}

	l.envString("LOG_LEVEL", &cfg.Logging.Level)
	l.envString("LOG_FORMAT", &cfg.Logging.Format)

	l.envBool("DELEGATION_ENABLED", &cfg.Delegation.Enabled)
	l.envFloat("DELEGATION_CONFIDENCE_THRESHOLD", &cfg.Delegation.ConfidenceThreshold)
	l.envInt("DELEGATION_MAX_SUB_TASKS", &cfg.Delegation.MaxSubTasks)
	l.envInt("DELEGATION_MIN_MESSAGE_LENGTH", &cfg.Delegation.MinMessageLength)
	l.envInt("DELEGATION_MIN_SEGMENT_LENGTH", &cfg.Delegation.MinSegmentLength)
}

func (l *Loader) lookup(key string) (string, bool) {
	return os.LookupEnv(l.envPrefix + "_" + key)
}

func (l *Loader) envString(key string, dst *string) {
	if v, ok := l.lookup(key); ok {
		*dst = v
	}
}

func (l *Loader) envStringSlice(key string, dst *[]string) {
	if v, ok := l.lookup(key); ok {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		*dst = out
	}
}

func (l *Loader) envInt(key string, dst *int) {
	if v, ok := l.lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (l *Loader) envFloat(key string, dst *float64) {
	if v, ok := l.lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func (l *Loader) envBool(key string, dst *bool) {
	if v, ok := l.lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
