// Package audioio provides microphone capture and speaker playback for yui.
//
// Two backends are supported:
//   - PortAudio - real devices on Linux/macOS/Windows
//   - Mock - CI/testing without hardware
//
// The backend is selected automatically, or can be explicitly specified
// via configuration. Both directions run fixed-format PCM16 mono audio.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendPortAudio uses PortAudio for cross-platform audio I/O.
	BackendPortAudio Backend = "portaudio"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto" (PortAudio)
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 24000 (required by the Realtime API)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the size of capture buffers.
	// Default: 20ms (480 samples at 24kHz)
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the platform-specific device identifier.
	// Empty selects the system default.
	Device string `yaml:"device" json:"device"`

	// SilenceThreshold is the normalized RMS level (0..1) below which
	// a capture chunk counts as silence.
	// Default: 0.015
	SilenceThreshold float64 `yaml:"silence_threshold" json:"silence_threshold"`

	// SilenceDuration is how long input must stay below SilenceThreshold
	// before the source reports a silent stretch. Zero disables reporting.
	// Default: 2s
	SilenceDuration time.Duration `yaml:"silence_duration" json:"silence_duration"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:          BackendAuto,
		SampleRate:       24000, // Realtime API requirement
		Channels:         1,     // Mono
		BufferDuration:   20 * time.Millisecond,
		Device:           "",
		SilenceThreshold: 0.015,
		SilenceDuration:  2 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be in [0,1], got %v", c.SilenceThreshold)
	}
	switch c.Backend {
	case BackendAuto, BackendPortAudio, BackendMock, "":
	default:
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	return nil
}

// BufferSize returns the number of samples per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes (assuming int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2 // 2 bytes per int16 sample
}
