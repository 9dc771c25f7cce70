package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures audio from the default input device via PortAudio.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan Chunk
	stopCh   chan struct{}
	doneCh   chan struct{}

	stream *portaudio.Stream
	buf    []int16

	onSilence func(time.Duration)
	onError   func(error)
	tracker   *silenceTracker

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// newPortAudioSource creates a new PortAudio capture source.
func newPortAudioSource(cfg Config, logger *slog.Logger) (*PortAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	s := &PortAudioSource{
		cfg:      cfg,
		logger:   logger,
		buf:      make([]int16, cfg.BufferSize()*cfg.Channels),
		streamCh: make(chan Chunk, 10),
		stopCh:   make(chan struct{}),
		tracker:  newSilenceTracker(cfg),
	}

	logger.Info("portaudio source created",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"frames_per_buffer", cfg.BufferSize(),
	)

	return s, nil
}

// Start begins audio capture.
func (s *PortAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	stream, err := portaudio.OpenDefaultStream(
		s.cfg.Channels, 0, float64(s.cfg.SampleRate), len(s.buf)/s.cfg.Channels, s.buf)
	if err != nil {
		return fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start capture stream: %w", err)
	}

	s.stream = stream
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.streamCh = make(chan Chunk, 10)

	go s.captureLoop(ctx, stream, s.stopCh, s.doneCh, s.streamCh)

	s.logger.Info("portaudio source started")

	return nil
}

// captureLoop reads frames until stopped. It owns the stream and streamCh
// and tears both down on exit, so Stop never races a read in flight.
func (s *PortAudioSource) captureLoop(ctx context.Context, stream *portaudio.Stream, stopCh, doneCh chan struct{}, streamCh chan Chunk) {
	defer func() {
		stream.Stop()
		stream.Close()
		close(streamCh)
		close(doneCh)
	}()

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-stopCh:
			return
		default:
		}

		err := stream.Read()
		if err != nil {
			if err == portaudio.InputOverflowed {
				// The device dropped audio; the frame in buf is still usable.
				s.overruns.Add(1)
			} else {
				s.reportError(fmt.Errorf("capture read: %w", err))
				continue
			}
		}

		samples := make([]int16, len(s.buf))
		copy(samples, s.buf)
		chunk := Chunk{
			Samples:    samples,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
		}

		s.observeSilence(chunk)

		select {
		case streamCh <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(chunk.Samples)))
		default:
			s.overruns.Add(1)
			s.logger.Debug("portaudio source: buffer full, dropping chunk")
		}
	}
}

func (s *PortAudioSource) observeSilence(chunk Chunk) {
	s.mu.Lock()
	fn := s.onSilence
	d, fire := s.tracker.observe(chunk)
	s.mu.Unlock()

	if fire && fn != nil {
		fn(d)
	}
}

func (s *PortAudioSource) reportError(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()

	if fn != nil {
		fn(err)
	} else {
		s.logger.Warn("capture device error", "error", err)
	}
}

// Stop halts audio capture.
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	close(s.stopCh)
	s.stream = nil

	s.logger.Info("portaudio source stopped")

	return nil
}

// Read reads the next audio chunk.
func (s *PortAudioSource) Read(ctx context.Context) (Chunk, error) {
	select {
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	case chunk, ok := <-s.streamCh:
		if !ok {
			return Chunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (s *PortAudioSource) Stream() <-chan Chunk {
	return s.streamCh
}

// OnSilence registers the silence-stretch callback.
func (s *PortAudioSource) OnSilence(fn func(time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSilence = fn
}

// OnError registers the device error callback.
func (s *PortAudioSource) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Config returns the audio configuration.
func (s *PortAudioSource) Config() Config {
	return s.cfg
}

// Name returns "portaudio".
func (s *PortAudioSource) Name() string {
	return "portaudio"
}

// Close releases resources. It waits for the capture loop to release the
// stream before tearing the library down.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	doneCh := s.doneCh
	s.mu.Unlock()

	s.Stop()
	if doneCh != nil {
		select {
		case <-doneCh:
		case <-time.After(time.Second):
			s.logger.Warn("capture loop did not exit in time")
		}
	}
	return portaudio.Terminate()
}

// Stats returns source statistics.
func (s *PortAudioSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "portaudio",
	}
}

var _ SourceWithStats = (*PortAudioSource)(nil)

// PortAudioSink plays audio on the default output device via PortAudio.
//
// TryWrite checks the device's writable space first, so a saturated device
// rejects the frame instead of blocking. After a rejection a watcher
// goroutine polls the device and fires the drain callback once space opens
// up again.
type PortAudioSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool

	stream *portaudio.Stream
	out    []int16 // registered by pointer so writes can vary in length

	onDrain  func()
	onError  func(error)
	watching bool

	// Stats
	framesAccepted atomic.Int64
	framesRejected atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
}

// drainPollInterval is how often the drain watcher checks device space.
const drainPollInterval = 5 * time.Millisecond

// newPortAudioSink creates a new PortAudio playback sink.
func newPortAudioSink(cfg Config, logger *slog.Logger) (*PortAudioSink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	s := &PortAudioSink{
		cfg:    cfg,
		logger: logger,
	}

	logger.Info("portaudio sink created",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	return s, nil
}

// Start opens the output stream and begins playback.
func (s *PortAudioSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	stream, err := portaudio.OpenDefaultStream(
		0, s.cfg.Channels, float64(s.cfg.SampleRate), portaudio.FramesPerBufferUnspecified, &s.out)
	if err != nil {
		return fmt.Errorf("open playback stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start playback stream: %w", err)
	}

	s.stream = stream
	s.running = true

	s.logger.Info("portaudio sink started")

	return nil
}

// Stop halts playback.
func (s *PortAudioSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
		s.stream = nil
	}

	s.logger.Info("portaudio sink stopped")

	return nil
}

// TryWrite offers a PCM16 frame to the output device.
func (s *PortAudioSink) TryWrite(frame []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.running || s.stream == nil {
		return false, io.ErrClosedPipe
	}

	var chunk Chunk
	chunk.FromBytes(frame, s.cfg.SampleRate, s.cfg.Channels)
	samples := chunk.Samples

	avail, err := s.stream.AvailableToWrite()
	if err != nil {
		return false, fmt.Errorf("playback query: %w", err)
	}
	if avail < len(samples)/s.cfg.Channels {
		s.framesRejected.Add(1)
		s.watchDrainLocked(len(samples) / s.cfg.Channels)
		return false, nil
	}

	s.out = samples
	if err := s.stream.Write(); err != nil {
		if err == portaudio.OutputUnderflowed {
			// The device starved before this write; the frame still played.
			s.underruns.Add(1)
		} else {
			return false, fmt.Errorf("playback write: %w", err)
		}
	}

	s.framesAccepted.Add(1)
	s.samplesWritten.Add(int64(len(samples)))

	return true, nil
}

// watchDrainLocked starts the drain watcher if one is not already running.
// Caller must hold s.mu.
func (s *PortAudioSink) watchDrainLocked(wantFrames int) {
	if s.watching {
		return
	}
	s.watching = true

	go func() {
		ticker := time.NewTicker(drainPollInterval)
		defer ticker.Stop()

		for range ticker.C {
			s.mu.Lock()
			if !s.running || s.stream == nil {
				s.watching = false
				s.mu.Unlock()
				return
			}
			avail, err := s.stream.AvailableToWrite()
			if err != nil {
				s.watching = false
				fn := s.onError
				s.mu.Unlock()
				if fn != nil {
					fn(fmt.Errorf("playback drain query: %w", err))
				}
				return
			}
			if avail >= wantFrames {
				s.watching = false
				fn := s.onDrain
				s.mu.Unlock()
				if fn != nil {
					fn()
				}
				return
			}
			s.mu.Unlock()
		}
	}()
}

// OnDrain registers the drain callback.
func (s *PortAudioSink) OnDrain(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrain = fn
}

// OnError registers the asynchronous error callback.
func (s *PortAudioSink) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Clear discards audio buffered inside the device immediately.
// The stream is aborted and restarted, which drops device-buffered
// samples without the reopen cost of a full close.
func (s *PortAudioSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.stream == nil {
		return nil
	}

	if err := s.stream.Abort(); err != nil {
		return fmt.Errorf("playback abort: %w", err)
	}
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("playback restart: %w", err)
	}

	s.logger.Debug("portaudio sink cleared")

	return nil
}

// Config returns the audio configuration.
func (s *PortAudioSink) Config() Config {
	return s.cfg
}

// Name returns "portaudio".
func (s *PortAudioSink) Name() string {
	return "portaudio"
}

// Close releases resources.
func (s *PortAudioSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Stop()
	return portaudio.Terminate()
}

// Stats returns sink statistics.
func (s *PortAudioSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	// PortAudio reports free space rather than queued samples, so
	// BufferedSamples is not tracked for this backend.
	return SinkStats{
		FramesAccepted: s.framesAccepted.Load(),
		FramesRejected: s.framesRejected.Load(),
		SamplesWritten: s.samplesWritten.Load(),
		Underruns:      s.underruns.Load(),
		Running:        running,
		Backend:        "portaudio",
	}
}

var _ SinkWithStats = (*PortAudioSink)(nil)
