package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix for all settings.
const Prefix = "AGENT_DESK"

// Config holds the configuration for agent-desk.
// Variables are read with the AGENT_DESK_ prefix, e.g. AGENT_DESK_DATA_DIR.
type Config struct {
	// Storage
	DataDir     string `split_words:"true"`
	MemoryFile  string `split_words:"true"`
	ProfileFile string `split_words:"true"`
	RunlogDB    string `split_words:"true"`

	// Automation worker
	WorkerCmd string        `split_words:"true" default:"python3 agent_worker.py"`
	WorkerDir string        `split_words:"true"`
	StopGrace time.Duration `split_words:"true" default:"5s"`

	// Language model
	LLMProvider string        `split_words:"true"`
	LLMModel    string        `split_words:"true"`
	LLMTimeout  time.Duration `split_words:"true" default:"30s"`
	OllamaHost  string        `split_words:"true" default:"http://localhost:11434"`

	// Only the credentials fall back to their unprefixed names.
	OpenAIAPIKey    string `envconfig:"OPENAI_API_KEY"`
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`

	// Logging
	LogFile  string `split_words:"true"`
	LogLevel string `split_words:"true" default:"INFO"`

	// Bridge
	Listen string `split_words:"true" default:"127.0.0.1:8765"`
}

var providers = map[string]bool{
	"":          true,
	"openai":    true,
	"anthropic": true,
	"ollama":    true,
}

// Load reads .env (when present) and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveDefaults derives file paths from DataDir when they are unset.
func (c *Config) ResolveDefaults() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		c.DataDir = filepath.Join(home, ".agent-desk")
	}
	if c.MemoryFile == "" {
		c.MemoryFile = filepath.Join(c.DataDir, "memory.json")
	}
	if c.ProfileFile == "" {
		c.ProfileFile = filepath.Join(c.DataDir, "profile.json")
	}
	if c.RunlogDB == "" {
		c.RunlogDB = filepath.Join(c.DataDir, "runs.db")
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DataDir, "agent-desk.log")
	}
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	return nil
}

// Validate rejects unknown providers and non-positive durations.
func (c *Config) Validate() error {
	if !providers[c.LLMProvider] {
		return fmt.Errorf("unsupported LLM_PROVIDER: %s", c.LLMProvider)
	}
	if c.StopGrace <= 0 {
		return fmt.Errorf("STOP_GRACE must be positive, got %s", c.StopGrace)
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive, got %s", c.LLMTimeout)
	}
	if len(c.WorkerArgv()) == 0 {
		return fmt.Errorf("WORKER_CMD is empty")
	}
	return nil
}

// WorkerArgv splits WorkerCmd on whitespace.
func (c *Config) WorkerArgv() []string {
	return strings.Fields(c.WorkerCmd)
}

// Level returns the parsed log level.
func (c *Config) Level() slog.Level {
	return ParseLogLevel(c.LogLevel)
}

// ParseLogLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
