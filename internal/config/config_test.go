package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Voice != "marin" {
		t.Errorf("Voice = %q, want marin", cfg.Voice)
	}
	if cfg.SystemPrompt != DefaultInstructions {
		t.Errorf("SystemPrompt = %q", cfg.SystemPrompt)
	}
	if !cfg.AudioEnabled {
		t.Error("AudioEnabled should default to true")
	}
	if cfg.DrainTimeout != 2*time.Second {
		t.Errorf("DrainTimeout = %v, want 2s", cfg.DrainTimeout)
	}
	if cfg.Audio.SampleRate != 24000 {
		t.Errorf("Audio.SampleRate = %d, want 24000", cfg.Audio.SampleRate)
	}
	if cfg.Playback.QueueCeiling != 25 {
		t.Errorf("Playback.QueueCeiling = %d, want 25", cfg.Playback.QueueCeiling)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := Default()
	cfg.LoadEnv()

	if cfg.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", cfg.APIKey)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yui.yaml")
	content := []byte(`
voice: cedar
log_level: debug
audio:
  backend: mock
  silence_threshold: 0.02
playback:
  queue_ceiling: 50
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}

	if cfg.Voice != "cedar" {
		t.Errorf("Voice = %q, want cedar", cfg.Voice)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if string(cfg.Audio.Backend) != "mock" {
		t.Errorf("Audio.Backend = %q, want mock", cfg.Audio.Backend)
	}
	if cfg.Audio.SilenceThreshold != 0.02 {
		t.Errorf("SilenceThreshold = %v, want 0.02", cfg.Audio.SilenceThreshold)
	}
	if cfg.Playback.QueueCeiling != 50 {
		t.Errorf("QueueCeiling = %d, want 50", cfg.Playback.QueueCeiling)
	}

	// Untouched fields keep their defaults.
	if cfg.SystemPrompt != DefaultInstructions {
		t.Errorf("SystemPrompt was clobbered: %q", cfg.SystemPrompt)
	}
	if cfg.Audio.SampleRate != 24000 {
		t.Errorf("SampleRate was clobbered: %d", cfg.Audio.SampleRate)
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg := Default()
	if err := cfg.LoadFile("/nonexistent/yui.yaml"); err == nil {
		t.Error("LoadFile() should fail for a missing file")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail without an API key")
	}

	cfg.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}

	cfg.Audio.SampleRate = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail for invalid audio config")
	}
}
