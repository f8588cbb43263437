// Package config loads server settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the server settings.
type Config struct {
	Port     string `yaml:"port"`
	WorkDir  string `yaml:"work_dir"`
	DBPath   string `yaml:"db_path"`
	LogDir   string `yaml:"log_dir"`
	LogLevel string `yaml:"log_level"`
	EnvFile  string `yaml:"env_file"`

	// StaticDir, when set, is served as a single-page app for unmatched routes.
	StaticDir string `yaml:"static_dir"`

	Agent   AgentConfig   `yaml:"agent"`
	LiveKit LiveKitConfig `yaml:"livekit"`
}

// AgentConfig selects and configures the agent driver.
type AgentConfig struct {
	Driver           string        `yaml:"driver"`
	ClaudeBinary     string        `yaml:"claude_bin"`
	Model            string        `yaml:"model"`
	MaxTurns         int           `yaml:"max_turns"`
	PartialMessages  bool          `yaml:"partial_messages"`
	RoutePermissions bool          `yaml:"route_permissions"`
	APIKey           string        `yaml:"-"`
	ReplayFile       string        `yaml:"replay_file"`
	ReplayDelay      time.Duration `yaml:"replay_delay"`
}

// LiveKitConfig holds screen-share credentials.
type LiveKitConfig struct {
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
	WSURL     string `yaml:"ws_url"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:     "3000",
		WorkDir:  ".",
		DBPath:   "data/tasks.db",
		LogDir:   "data/logs",
		LogLevel: "info",
		EnvFile:  ".env",
		Agent: AgentConfig{
			Driver:       "claude",
			ClaudeBinary: "claude",
			MaxTurns:     50,
		},
	}
}

// Load reads path over the defaults and then applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.WorkDir = getEnv("WORK_DIR", c.WorkDir)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.LogDir = getEnv("LOG_DIR", c.LogDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.EnvFile = getEnv("ENV_FILE", c.EnvFile)
	c.StaticDir = getEnv("STATIC_DIR", c.StaticDir)

	c.Agent.Driver = getEnv("AGENT_DRIVER", c.Agent.Driver)
	c.Agent.ClaudeBinary = getEnv("CLAUDE_BIN", c.Agent.ClaudeBinary)
	c.Agent.Model = getEnv("CLAUDE_MODEL", c.Agent.Model)
	c.Agent.APIKey = getEnv("ANTHROPIC_API_KEY", c.Agent.APIKey)
	c.Agent.ReplayFile = getEnv("REPLAY_FILE", c.Agent.ReplayFile)

	if v := os.Getenv("CLAUDE_MAX_TURNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CLAUDE_MAX_TURNS %q: %w", v, err)
		}
		c.Agent.MaxTurns = n
	}
	if v := os.Getenv("CLAUDE_PARTIAL_MESSAGES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CLAUDE_PARTIAL_MESSAGES %q: %w", v, err)
		}
		c.Agent.PartialMessages = b
	}

	c.LiveKit.APIKey = getEnv("LIVEKIT_API_KEY", c.LiveKit.APIKey)
	c.LiveKit.APISecret = getEnv("LIVEKIT_API_SECRET", c.LiveKit.APISecret)
	c.LiveKit.WSURL = getEnv("LIVEKIT_WS_URL", c.LiveKit.WSURL)
	return nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
