// Package driver exposes the agent drivers for embedding the session server
// in other programs.
package driver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/claude-collab/backend/internal/driver"
)

// Re-export types from internal/driver for external use
type (
	Agent          = driver.Agent
	Stream         = driver.Stream
	Event          = driver.Event
	EventKind      = driver.EventKind
	Result         = driver.Result
	Options        = driver.Options
	PermissionFunc = driver.PermissionFunc
)

// Driver names accepted by New.
const (
	Claude    = "claude"
	Anthropic = "anthropic"
	Replay    = "replay"
)

// Config selects and configures a driver.
type Config struct {
	Kind string

	// Claude Code CLI
	ClaudeBinary    string
	WorkDir         string
	MaxTurns        int
	PartialMessages bool

	// Shared
	Model string

	// Anthropic Messages API
	APIKey string

	// Replay
	ReplayFile  string
	ReplayDelay time.Duration

	Logger *slog.Logger
}

// New creates the driver named by config.Kind. An empty kind selects the Claude CLI.
func New(config Config) (Agent, error) {
	switch config.Kind {
	case "", Claude:
		return driver.NewClaudeDriver(driver.ClaudeConfig{
			Binary:          config.ClaudeBinary,
			Model:           config.Model,
			MaxTurns:        config.MaxTurns,
			WorkDir:         config.WorkDir,
			PartialMessages: config.PartialMessages,
			Logger:          config.Logger,
		}), nil
	case Anthropic:
		return driver.NewAnthropicDriver(driver.AnthropicConfig{
			APIKey: config.APIKey,
			Model:  config.Model,
		}), nil
	case Replay:
		if config.ReplayFile == "" {
			return nil, fmt.Errorf("replay driver requires a transcript file")
		}
		return driver.NewReplayDriver(config.ReplayFile, config.ReplayDelay, config.Logger), nil
	default:
		return nil, fmt.Errorf("unknown agent driver %q", config.Kind)
	}
}
