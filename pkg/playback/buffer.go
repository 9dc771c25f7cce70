// Package playback buffers assistant audio between the remote stream and
// the output device.
//
// Audio arrives in irregular bursts from the network while the device
// consumes it at a strict real-time pace. The Buffer absorbs that mismatch:
// frames flow straight to the sink while it has room, queue up FIFO when it
// is saturated, and drain back out when the sink signals space. Sustained
// overload drops the oldest queued frames so latency stays bounded, and a
// run of device write failures degrades the process to text-only output
// instead of killing the session.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sink is the device-facing surface the buffer writes to.
// audioio.Sink satisfies it.
type Sink interface {
	// TryWrite offers a frame. (true, nil) = accepted, (false, nil) =
	// saturated and not taken, (false, err) = device write failure.
	TryWrite(frame []byte) (bool, error)

	// Clear discards audio buffered inside the device layer.
	Clear() error
}

// Config holds playback buffer tuning.
type Config struct {
	// QueueCeiling bounds the pending queue. When a new frame arrives at
	// the ceiling the oldest queued frames are dropped first.
	// Default: 25
	QueueCeiling int `yaml:"queue_ceiling" json:"queue_ceiling"`

	// FailureThreshold is the number of consecutive sink write failures
	// after which audio output is disabled for the rest of the process.
	// Default: 10
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// KeepaliveInterval is how often a silent frame is written while idle
	// so the device buffer does not starve between utterances.
	// Zero disables keepalive.
	// Default: 250ms
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" json:"keepalive_interval"`

	// KeepaliveSamples is the size of each silent keepalive frame.
	// Default: 480 (20ms at 24kHz)
	KeepaliveSamples int `yaml:"keepalive_samples" json:"keepalive_samples"`

	// IdleAfter is how long the pipeline must go without real audio
	// before it counts as between utterances. Keepalive waits this long
	// after the last real frame, and pre-roll pads only utterances that
	// start after an idle stretch.
	// Default: 1s
	IdleAfter time.Duration `yaml:"idle_after" json:"idle_after"`

	// PrerollFrames is the number of silent frames written ahead of the
	// first frame of a fresh utterance, priming the device buffer
	// against burst-start jitter. Zero disables pre-roll.
	// Default: 3
	PrerollFrames int `yaml:"preroll_frames" json:"preroll_frames"`
}

// DefaultConfig returns sensible playback defaults.
func DefaultConfig() Config {
	return Config{
		QueueCeiling:      25,
		FailureThreshold:  10,
		KeepaliveInterval: 250 * time.Millisecond,
		KeepaliveSamples:  480,
		IdleAfter:         time.Second,
		PrerollFrames:     3,
	}
}

// Buffer mediates between bursty frame arrival and paced sink consumption.
//
// All entry points (Enqueue from the stream reader, HandleDrain and
// HandleWriteError from the sink, Flush from the interruption path) are
// serialized on one mutex, so queue, flag, and counter form a single
// consistent state machine no matter which goroutine calls in.
type Buffer struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger

	mu            sync.Mutex
	queue         [][]byte
	backpressured bool
	draining      bool
	failures      int
	disabled      bool
	lastReal      time.Time // last time a real frame arrived or played

	// Stats
	enqueued     atomic.Int64
	dropped      atomic.Int64
	delivered    atomic.Int64
	flushes      atomic.Int64
	disabledOnce atomic.Bool
}

// New creates a playback buffer in front of sink.
func New(cfg Config, sink Sink, logger *slog.Logger) *Buffer {
	if cfg.QueueCeiling <= 0 {
		cfg.QueueCeiling = DefaultConfig().QueueCeiling
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.KeepaliveSamples <= 0 {
		cfg.KeepaliveSamples = DefaultConfig().KeepaliveSamples
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = DefaultConfig().IdleAfter
	}
	if cfg.PrerollFrames < 0 {
		cfg.PrerollFrames = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
	}
}

// Enqueue hands one PCM frame to the playback pipeline.
//
// If the sink is saturated or frames are already queued, the frame joins
// the back of the queue (FIFO preserved). Otherwise it is written to the
// sink immediately; a rejected write sets the backpressure flag and queues
// the frame, since a rejected frame was never taken by the device layer.
// The first frame after an idle stretch is preceded by the configured
// pre-roll of silence, priming the device against burst-start jitter.
func (b *Buffer) Enqueue(frame []byte) {
	if len(frame) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disabled {
		return
	}
	b.enqueued.Add(1)
	fresh := b.idleLocked()
	b.lastReal = time.Now()

	if b.backpressured || len(b.queue) > 0 {
		b.appendLocked(frame)
		return
	}

	if fresh && b.cfg.PrerollFrames > 0 {
		b.prerollLocked()
	}

	accepted, err := b.sink.TryWrite(frame)
	if err != nil {
		b.recordFailureLocked(err)
		return
	}
	if !accepted {
		b.backpressured = true
		b.appendLocked(frame)
		return
	}

	b.failures = 0
	b.delivered.Add(1)
}

// appendLocked adds a frame to the back of the queue, dropping the oldest
// frames first when the ceiling is exceeded. Caller must hold b.mu.
func (b *Buffer) appendLocked(frame []byte) {
	if over := len(b.queue) - b.cfg.QueueCeiling + 1; over > 0 {
		b.queue = b.queue[over:]
		b.dropped.Add(int64(over))
		b.logger.Debug("playback queue overflow, dropped oldest frames",
			"dropped", over,
			"ceiling", b.cfg.QueueCeiling,
		)
	}
	b.queue = append(b.queue, frame)
}

// HandleDrain is the sink's drain signal handler: the device can accept
// audio again. It clears the backpressure flag and pushes queued frames to
// the sink in FIFO order until the queue empties or a write is rejected.
// Re-entrant invocations while a pass is mid-loop are dropped.
func (b *Buffer) HandleDrain() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.draining {
		return
	}
	b.draining = true
	defer func() { b.draining = false }()

	b.backpressured = false

	for len(b.queue) > 0 && !b.disabled {
		frame := b.queue[0]
		accepted, err := b.sink.TryWrite(frame)
		if err != nil {
			// A failed write consumes the frame; the device took no audio
			// but replaying it would stall the queue behind a broken sink.
			b.queue = b.queue[1:]
			if b.recordFailureLocked(err) {
				return
			}
			continue
		}
		if !accepted {
			b.backpressured = true
			return
		}
		b.failures = 0
		b.delivered.Add(1)
		b.lastReal = time.Now()
		b.queue = b.queue[1:]
	}
}

// idleLocked reports whether the pipeline has been without real audio for
// at least IdleAfter. Caller must hold b.mu.
func (b *Buffer) idleLocked() bool {
	return b.lastReal.IsZero() || time.Since(b.lastReal) >= b.cfg.IdleAfter
}

// prerollLocked writes the configured run of silent frames ahead of a
// fresh utterance. Best effort: a rejected or failed write just stops the
// padding, never the real audio behind it. Caller must hold b.mu.
func (b *Buffer) prerollLocked() {
	silent := make([]byte, b.cfg.KeepaliveSamples*2)
	for i := 0; i < b.cfg.PrerollFrames; i++ {
		if accepted, err := b.sink.TryWrite(silent); err != nil || !accepted {
			return
		}
	}
}

// HandleWriteError is the sink's asynchronous error handler. Post-hoc
// device failures feed the same consecutive-failure counter as synchronous
// TryWrite errors.
func (b *Buffer) HandleWriteError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordFailureLocked(err)
}

// recordFailureLocked counts one write failure and disables audio output
// once the threshold is crossed. Returns true when output is disabled.
// Caller must hold b.mu.
func (b *Buffer) recordFailureLocked(err error) bool {
	if b.disabled {
		return true
	}

	b.failures++
	b.logger.Warn("audio sink write failed",
		"error", err,
		"consecutive_failures", b.failures,
		"threshold", b.cfg.FailureThreshold,
	)

	if b.failures >= b.cfg.FailureThreshold {
		b.disabled = true
		b.disabledOnce.Store(true)
		b.queue = nil
		b.backpressured = false
		b.logger.Error("audio output disabled after repeated sink failures, continuing in text-only mode",
			"failures", b.failures,
		)
	}
	return b.disabled
}

// Flush discards all queued frames and resets the backpressure flag,
// then clears the device layer's own buffer.
//
// Cut policy: this is a soft cut of the pipeline (queued-but-unwritten
// audio is dropped) combined with a device-buffer clear, so interruption
// silences playback promptly without closing and reopening the stream.
func (b *Buffer) Flush() {
	b.mu.Lock()
	b.queue = nil
	b.backpressured = false
	b.flushes.Add(1)
	b.mu.Unlock()

	if err := b.sink.Clear(); err != nil {
		b.logger.Warn("sink clear failed", "error", err)
	}
}

// Keepalive periodically writes a small silent frame once the pipeline
// has gone IdleAfter without real audio, so output devices prone to
// underrun do not starve between utterances. It never runs while real
// audio is queued, backpressured, or recently written; frames of one
// utterance separated by short network gaps are never padded with
// silence. Returns when ctx is cancelled. Call in its own goroutine.
func (b *Buffer) Keepalive(ctx context.Context) {
	if b.cfg.KeepaliveInterval <= 0 {
		return
	}

	silent := make([]byte, b.cfg.KeepaliveSamples*2)
	ticker := time.NewTicker(b.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			idle := len(b.queue) == 0 && !b.backpressured && !b.disabled && !b.draining &&
				b.idleLocked()
			if idle {
				// Reject and failure are both ignored here: keepalive is
				// best-effort padding, not part of the audio stream.
				b.sink.TryWrite(silent)
			}
			b.mu.Unlock()
		}
	}
}

// DrainIdle waits until the queue empties or ctx expires. Used on shutdown
// to give buffered audio a bounded chance to play out.
func (b *Buffer) DrainIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if b.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Pending returns the number of queued frames.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Backpressured reports whether the sink rejected the most recent write.
func (b *Buffer) Backpressured() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backpressured
}

// Enabled reports whether audio output is still active.
func (b *Buffer) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.disabled
}

// Stats is a snapshot of buffer counters.
type Stats struct {
	Enqueued  int64 `json:"enqueued"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Flushes   int64 `json:"flushes"`
	Pending   int   `json:"pending"`
	Disabled  bool  `json:"disabled"`
}

// Stats returns a snapshot of buffer counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	pending := len(b.queue)
	disabled := b.disabled
	b.mu.Unlock()

	return Stats{
		Enqueued:  b.enqueued.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Flushes:   b.flushes.Load(),
		Pending:   pending,
		Disabled:  disabled,
	}
}
