package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// It generates synthetic audio (silence or sine wave).
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan Chunk
	stopCh   chan struct{}

	onSilence func(time.Duration)
	onError   func(error)
	tracker   *silenceTracker

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64

	// Synthetic audio generation
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		streamCh:  make(chan Chunk, 10),
		stopCh:    make(chan struct{}),
		tracker:   newSilenceTracker(cfg),
		frequency: 0, // Silence by default
		amplitude: 0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan Chunk, 10)

	go m.generateLoop(ctx, m.stopCh, m.streamCh)

	m.logger.Info("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
	)

	return nil
}

// generateLoop produces chunks until stopped. It owns streamCh and closes
// it on exit, so Stop never races a send in flight.
func (m *MockSource) generateLoop(ctx context.Context, stopCh chan struct{}, streamCh chan Chunk) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()
	defer close(streamCh)

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			chunk := m.generateChunk()
			m.observeSilence(chunk)
			select {
			case streamCh <- chunk:
				m.chunksRead.Add(1)
				m.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				// Buffer full, drop chunk (overrun)
				m.logger.Debug("mock source: buffer full, dropping chunk")
			}
		}
	}
}

func (m *MockSource) observeSilence(chunk Chunk) {
	m.mu.Lock()
	fn := m.onSilence
	d, fire := m.tracker.observe(chunk)
	m.mu.Unlock()

	if fire && fn != nil {
		fn(d)
	}
}

func (m *MockSource) generateChunk() Chunk {
	bufferSize := m.cfg.BufferSize()
	samples := make([]int16, bufferSize*m.cfg.Channels)

	if m.frequency > 0 {
		// Generate sine wave
		for i := 0; i < bufferSize; i++ {
			sample := m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate))
			sampleInt := int16(sample * 32767)

			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = sampleInt
			}

			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}
	// else: samples are already zero (silence)

	return Chunk{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
	}
}

// Stop halts audio generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false
	close(m.stopCh)

	m.logger.Info("mock audio source stopped")

	return nil
}

// Read reads the next audio chunk.
func (m *MockSource) Read(ctx context.Context) (Chunk, error) {
	select {
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	case chunk, ok := <-m.streamCh:
		if !ok {
			return Chunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (m *MockSource) Stream() <-chan Chunk {
	return m.streamCh
}

// OnSilence registers the silence-stretch callback.
func (m *MockSource) OnSilence(fn func(time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSilence = fn
}

// OnError registers the device error callback.
func (m *MockSource) OnError(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = fn
}

// EmitError invokes the error callback, simulating a device error.
func (m *MockSource) EmitError(err error) {
	m.mu.Lock()
	fn := m.onError
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.Stop()
	return nil
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    0,
		Running:     running,
		Backend:     "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)

// MockSink is a mock audio sink for testing.
// Its device buffer, write rejections, write failures, and drain signals
// are all scriptable so playback scenarios can be driven deterministically.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	capacity int // frames the simulated device holds; 0 = unlimited
	buffer   [][]byte

	rejectNext int   // reject this many upcoming writes
	failNext   int   // fail this many upcoming writes
	failErr    error // error returned for scripted failures

	onDrain func()
	onError func(error)

	// Stats
	framesAccepted atomic.Int64
	framesRejected atomic.Int64
	samplesWritten atomic.Int64
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &MockSink{
		cfg:    cfg,
		logger: logger,
		buffer: make([][]byte, 0, 100),
	}
}

// SetCapacity bounds the simulated device buffer at n frames.
// Writes beyond the bound are rejected until frames are consumed.
func (m *MockSink) SetCapacity(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = n
}

// RejectNext makes the next n TryWrite calls report saturation.
func (m *MockSink) RejectNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectNext = n
}

// FailNext makes the next n TryWrite calls fail with err.
func (m *MockSink) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// Start begins accepting audio.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}

	m.running = true
	m.logger.Info("mock audio sink started")

	return nil
}

// Stop halts audio acceptance.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false
	m.logger.Info("mock audio sink stopped")

	return nil
}

// TryWrite offers a frame to the simulated device.
func (m *MockSink) TryWrite(frame []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.running {
		return false, io.ErrClosedPipe
	}

	if m.failNext > 0 {
		m.failNext--
		return false, m.failErr
	}

	if m.rejectNext > 0 {
		m.rejectNext--
		m.framesRejected.Add(1)
		return false, nil
	}

	if m.capacity > 0 && len(m.buffer) >= m.capacity {
		m.framesRejected.Add(1)
		return false, nil
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)
	m.buffer = append(m.buffer, cp)

	m.framesAccepted.Add(1)
	m.samplesWritten.Add(int64(len(frame) / 2))

	return true, nil
}

// OnDrain registers the drain callback.
func (m *MockSink) OnDrain(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDrain = fn
}

// OnError registers the asynchronous error callback.
func (m *MockSink) OnError(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = fn
}

// SignalDrain fires the drain callback, simulating the device becoming
// writable again.
func (m *MockSink) SignalDrain() {
	m.mu.Lock()
	fn := m.onDrain
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// EmitError fires the error callback, simulating an asynchronous device
// write failure.
func (m *MockSink) EmitError(err error) {
	m.mu.Lock()
	fn := m.onError
	m.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// ConsumeFrames simulates the device playing out n buffered frames.
func (m *MockSink) ConsumeFrames(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.buffer) {
		n = len(m.buffer)
	}
	m.buffer = m.buffer[n:]
}

// Written returns a copy of the frames currently buffered in the device.
func (m *MockSink) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.buffer))
	copy(out, m.buffer)
	return out
}

// Clear discards buffered audio.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffer = m.buffer[:0]
	m.logger.Debug("mock audio sink cleared")

	return nil
}

// Config returns the audio configuration.
func (m *MockSink) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.Stop()
	return nil
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	m.mu.Lock()
	running := m.running
	buffered := int64(0)
	for _, frame := range m.buffer {
		buffered += int64(len(frame) / 2)
	}
	m.mu.Unlock()

	return SinkStats{
		FramesAccepted:  m.framesAccepted.Load(),
		FramesRejected:  m.framesRejected.Load(),
		SamplesWritten:  m.samplesWritten.Load(),
		Underruns:       0,
		Running:         running,
		Backend:         "mock",
		BufferedSamples: buffered,
	}
}

// Ensure MockSink implements SinkWithStats.
var _ SinkWithStats = (*MockSink)(nil)
