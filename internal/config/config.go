// Package config holds yui's runtime configuration.
// Flag parsing is done in cmd/yui; this package is data plus env and
// optional YAML file loading.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rhino88/yui/pkg/audioio"
	"github.com/rhino88/yui/pkg/playback"
)

// DefaultInstructions is used when no system prompt is given.
const DefaultInstructions = "You always greet the user with 'Top of the morning to you'."

// Config holds all configuration for the yui client.
type Config struct {
	// Voice is the assistant voice identifier.
	Voice string `yaml:"voice"`

	// SystemPrompt is the session instructions.
	SystemPrompt string `yaml:"system_prompt"`

	// AudioEnabled selects duplex audio (true) or text-only transcript
	// mode (false).
	AudioEnabled bool `yaml:"audio_enabled"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// DrainTimeout bounds the shutdown playback drain.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// Audio configures the capture/playback devices.
	Audio audioio.Config `yaml:"audio"`

	// Playback configures the output buffering.
	Playback playback.Config `yaml:"playback"`

	// APIKey is the bearer credential, from OPENAI_API_KEY. Never read
	// from the config file.
	APIKey string `yaml:"-"`
}

// Default returns sensible defaults for yui.
func Default() Config {
	return Config{
		Voice:        "marin",
		SystemPrompt: DefaultInstructions,
		AudioEnabled: true,
		LogLevel:     "info",
		DrainTimeout: 2 * time.Second,
		Audio:        audioio.DefaultConfig(),
		Playback:     playback.DefaultConfig(),
	}
}

// LoadEnv applies environment variable overrides.
func (c *Config) LoadEnv() {
	c.APIKey = os.Getenv("OPENAI_API_KEY")
}

// LoadFile overlays settings from a YAML file onto the config.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	return nil
}
