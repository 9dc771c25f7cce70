package audioio

import (
	"context"
	"io"
	"time"
)

// Source captures audio from a microphone or other input device.
//
// Once started a source is live and non-restartable: it produces chunks
// at real-time pace until stopped. Device errors are surfaced via the
// OnError callback and do not necessarily terminate the stream.
type Source interface {
	// Start begins audio capture.
	// After calling Start, audio chunks will be available via Read or Stream.
	Start(ctx context.Context) error

	// Stop halts audio capture.
	// It is safe to call Stop multiple times.
	Stop() error

	// Read reads the next audio chunk, blocking if necessary.
	// Returns io.EOF when the source is stopped.
	Read(ctx context.Context) (Chunk, error)

	// Stream returns a channel that receives audio chunks.
	// The channel is closed when the source is stopped.
	Stream() <-chan Chunk

	// OnSilence registers a callback fired once per silent stretch, after
	// input has stayed below the configured threshold for the configured
	// duration. The stream keeps running.
	OnSilence(fn func(d time.Duration))

	// OnError registers a callback for device-level capture errors.
	// Errors are non-fatal; the stream continues where possible.
	OnError(fn func(err error))

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "portaudio", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	// ChunksRead is the total number of chunks read.
	ChunksRead int64 `json:"chunks_read"`

	// SamplesRead is the total number of samples read.
	SamplesRead int64 `json:"samples_read"`

	// Overruns is the number of buffer overruns (dropped audio).
	Overruns int64 `json:"overruns"`

	// Running indicates if the source is currently capturing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

// silenceTracker accumulates silent capture time and decides when a
// silent stretch should be reported. It is not goroutine-safe; each
// source owns one and feeds it from its capture loop.
type silenceTracker struct {
	threshold float64
	target    time.Duration

	accumulated time.Duration
	reported    bool
}

func newSilenceTracker(cfg Config) *silenceTracker {
	return &silenceTracker{
		threshold: cfg.SilenceThreshold,
		target:    cfg.SilenceDuration,
	}
}

// observe feeds one chunk into the tracker. It returns the length of the
// silent stretch exactly once when the stretch first crosses the target.
func (t *silenceTracker) observe(c Chunk) (time.Duration, bool) {
	if t.target <= 0 {
		return 0, false
	}
	if c.RMS() >= t.threshold {
		t.accumulated = 0
		t.reported = false
		return 0, false
	}
	t.accumulated += time.Duration(c.Duration() * float64(time.Second))
	if t.accumulated >= t.target && !t.reported {
		t.reported = true
		return t.accumulated, true
	}
	return 0, false
}
