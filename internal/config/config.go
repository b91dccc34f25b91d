// Package config loads the arbor configuration file. Values support
// environment variable expansion via ${VAR} so secrets stay out of the
// file itself.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for arbor.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Assistant AssistantConfig `yaml:"assistant"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	// Path to the SQLite database file. ":memory:" keeps everything
	// in-process, useful for tests and one-off sessions.
	Path string `yaml:"path"`
}

type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

type LLMProviderConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

type AssistantConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	MaxTokens     int    `yaml:"max_tokens"`
	Model         string `yaml:"model"`
	SystemPrompt  string `yaml:"system_prompt"`

	// ToolStrategy selects the query tool surface: "granular",
	// "unified" or "dynamic".
	ToolStrategy string `yaml:"tool_strategy"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file, expanding environment
// variables and applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with all defaults applied, for use
// when no config file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "arbor.db"
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Assistant.MaxIterations == 0 {
		cfg.Assistant.MaxIterations = 10
	}
	if cfg.Assistant.MaxTokens == 0 {
		cfg.Assistant.MaxTokens = 4096
	}
	if cfg.Assistant.ToolStrategy == "" {
		cfg.Assistant.ToolStrategy = "granular"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
