// Package config provides configuration management for the agent runtime.
// It supports loading configuration from environment variables, config files,
// and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Audit     AuditConfig     `mapstructure:"audit"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// RuntimeConfig holds agent runtime defaults.
type RuntimeConfig struct {
	// DefaultModel is used for agents whose config does not name a model.
	DefaultModel string `mapstructure:"defaultModel"`

	// MaxIterations caps the tool-call loop for agents that do not set one.
	MaxIterations int `mapstructure:"maxIterations"`

	// TimeoutSeconds bounds a single agent run end to end.
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`

	// DefaultCapabilitySet names the capability set granted to agents
	// spawned without explicit capabilities (minimal, basic, standard, full).
	DefaultCapabilitySet string `mapstructure:"defaultCapabilitySet"`
}

// SandboxConfig holds sandbox executor configuration.
type SandboxConfig struct {
	// BaseTempDir is where per-execution scratch directories are created.
	// Empty means the OS temp directory.
	BaseTempDir string `mapstructure:"baseTempDir"`

	// DefaultPolicy names the policy applied when a caller does not pass
	// a config (unrestricted, standard, strict, network_only, filesystem_only).
	DefaultPolicy string `mapstructure:"defaultPolicy"`

	// MaxConcurrent bounds the number of simultaneously running sandboxed
	// commands across all agents.
	MaxConcurrent int `mapstructure:"maxConcurrent"`
}

// MemoryConfig holds memory store configuration.
type MemoryConfig struct {
	// DBPath is the SQLite database file for long-term memory.
	DBPath string `mapstructure:"dbPath"`
}

// AuditConfig holds audit logger configuration.
type AuditConfig struct {
	// DBPath is the SQLite database file for audit events.
	DBPath string `mapstructure:"dbPath"`

	// MinSeverity filters out events below this level (debug, info,
	// warning, error, critical).
	MinSeverity string `mapstructure:"minSeverity"`
}

// NATSConfig holds the optional NATS event forwarding configuration.
// An empty URL disables forwarding; runtime events stay in-process.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subjectPrefix"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AnthropicConfig holds inference service client configuration.
type AnthropicConfig struct {
	APIKey  string `mapstructure:"apiKey"`
	BaseURL string `mapstructure:"baseUrl"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTOS_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Runtime defaults
	v.SetDefault("runtime.defaultModel", "claude-sonnet-4-20250514")
	v.SetDefault("runtime.maxIterations", 100)
	v.SetDefault("runtime.timeoutSeconds", 300)
	v.SetDefault("runtime.defaultCapabilitySet", "basic")

	// Sandbox defaults
	v.SetDefault("sandbox.baseTempDir", "")
	v.SetDefault("sandbox.defaultPolicy", "standard")
	v.SetDefault("sandbox.maxConcurrent", 16)

	// Memory defaults
	v.SetDefault("memory.dbPath", defaultDataPath("memory.db"))

	// Audit defaults
	v.SetDefault("audit.dbPath", defaultDataPath("audit.db"))
	v.SetDefault("audit.minSeverity", "info")

	// NATS defaults - empty URL means events stay in-process
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subjectPrefix", "agentos")
	v.SetDefault("nats.maxReconnects", 10)

	// Anthropic defaults - API key normally comes from the environment
	v.SetDefault("anthropic.apiKey", "")
	v.SetDefault("anthropic.baseUrl", "")
}

// defaultDataPath returns a file path under ~/.agent-os, falling back to
// the working directory when the home directory cannot be resolved.
func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return name
	}
	return home + "/.agent-os/" + name
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTOS_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/agentos/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("AGENTOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("anthropic.apiKey", "ANTHROPIC_API_KEY", "AGENTOS_ANTHROPIC_API_KEY")
	_ = v.BindEnv("runtime.defaultModel", "AGENTOS_RUNTIME_DEFAULT_MODEL")
	_ = v.BindEnv("sandbox.maxConcurrent", "AGENTOS_SANDBOX_MAX_CONCURRENT")
	_ = v.BindEnv("memory.dbPath", "AGENTOS_MEMORY_DB_PATH")
	_ = v.BindEnv("audit.dbPath", "AGENTOS_AUDIT_DB_PATH")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentos/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are sensible.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Runtime.MaxIterations <= 0 {
		errs = append(errs, "runtime.maxIterations must be positive")
	}
	if cfg.Sandbox.MaxConcurrent <= 0 {
		errs = append(errs, "sandbox.maxConcurrent must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
