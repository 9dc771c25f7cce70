package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rhino88/yui/pkg/audioio"
	"github.com/rhino88/yui/pkg/playback"
	"github.com/rhino88/yui/pkg/realtime"
)

// ErrCaptureEnded reports a capture stream that closed while the session
// was still live. The session cannot continue without a microphone.
var ErrCaptureEnded = errors.New("capture stream ended unexpectedly")

// Lifecycle is the controller's lifecycle state.
type Lifecycle int32

const (
	LifecycleIdle Lifecycle = iota
	LifecycleConnecting
	LifecycleConnected
	LifecycleShuttingDown
	LifecycleStopped
)

// String returns the lifecycle state name.
func (l Lifecycle) String() string {
	switch l {
	case LifecycleIdle:
		return "idle"
	case LifecycleConnecting:
		return "connecting"
	case LifecycleConnected:
		return "connected"
	case LifecycleShuttingDown:
		return "shutting-down"
	case LifecycleStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds controller settings.
type Config struct {
	// APIKey is the bearer credential for the remote service.
	// Its absence is a fatal precondition failure.
	APIKey string

	// Voice is the assistant voice identifier.
	Voice string

	// Instructions is the system prompt.
	Instructions string

	// DrainTimeout bounds how long shutdown waits for buffered playback
	// to finish before discarding it.
	// Default: 2s
	DrainTimeout time.Duration
}

// Controller owns startup, graceful shutdown, and fatal-error policy for
// one conversation session.
//
// Startup order: connect, configure, then arm devices; audio hardware is
// never opened before the handshake succeeds. Shutdown order: stop capture
// first so no new frames arrive mid-teardown, give buffered playback a
// bounded chance to drain, then close the sink and release the session.
type Controller struct {
	cfg    Config
	client *realtime.Client
	source audioio.Source
	sink   audioio.Sink // nil when audio output is disabled
	buffer *playback.Buffer
	bridge *Bridge
	logger *slog.Logger

	lifecycle atomic.Int32
	stopOnce  sync.Once
	stopCh    chan struct{}
	closedCh  chan error
}

// NewController assembles a controller. sink and buffer may be nil when
// audio output is disabled; source may be nil in text-only mode.
func NewController(cfg Config, client *realtime.Client, source audioio.Source, sink audioio.Sink, buffer *playback.Buffer, bridge *Bridge, logger *slog.Logger) *Controller {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		client:   client,
		source:   source,
		sink:     sink,
		buffer:   buffer,
		bridge:   bridge,
		logger:   logger,
		stopCh:   make(chan struct{}),
		closedCh: make(chan error, 1),
	}
}

// Lifecycle returns the current lifecycle state.
func (c *Controller) Lifecycle() Lifecycle {
	return Lifecycle(c.lifecycle.Load())
}

func (c *Controller) setLifecycle(l Lifecycle) {
	c.lifecycle.Store(int32(l))
	c.logger.Debug("lifecycle transition", "state", l.String())
}

// Stop requests shutdown. It is idempotent and safe to call from a signal
// handler; it returns immediately and Run performs the actual teardown.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// Run connects, arms the audio devices, and processes the conversation
// until ctx is cancelled, Stop is called, or the stream ends. The returned
// error is nil on graceful shutdown and non-nil on fatal failure.
func (c *Controller) Run(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		c.setLifecycle(LifecycleStopped)
		return realtime.ErrMissingAPIKey
	}

	c.setLifecycle(LifecycleConnecting)
	c.bridge.SetState(StateConnecting)

	c.client.OnClosed = func(err error) {
		select {
		case c.closedCh <- err:
		default:
		}
	}
	c.bridge.Wire(c.client)

	c.logger.Info("connecting, may take a few seconds...")
	if err := c.client.Connect(ctx); err != nil {
		c.logger.Error("connection failed; check OPENAI_API_KEY and network access",
			"error", err,
		)
		c.shutdown(nil)
		return fmt.Errorf("connect: %w", err)
	}

	if err := c.client.ConfigureSession(realtime.SessionConfig{
		Instructions: c.cfg.Instructions,
		Voice:        c.cfg.Voice,
	}); err != nil {
		c.shutdown(nil)
		return fmt.Errorf("configure session: %w", err)
	}

	// Devices are armed only after the handshake succeeds.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.armDevices(runCtx); err != nil {
		c.shutdown(nil)
		return fmt.Errorf("arm devices: %w", err)
	}

	c.setLifecycle(LifecycleConnected)
	c.bridge.SetState(StateConnected)
	c.logger.Info("connected, speak when ready")

	g, gctx := errgroup.WithContext(runCtx)

	workers := 0
	if c.source != nil {
		workers++
		g.Go(func() error {
			return c.capturePump(gctx)
		})
	}
	if c.buffer != nil {
		workers++
		g.Go(func() error {
			c.buffer.Keepalive(gctx)
			return nil
		})
	}

	// Nil when no workers run, so the select never takes this branch.
	var groupDone chan error
	if workers > 0 {
		groupDone = make(chan error, 1)
		go func() {
			groupDone <- g.Wait()
		}()
	}

	var fatal error
	select {
	case <-ctx.Done():
		c.logger.Info("interrupt received, shutting down")
	case <-c.stopCh:
		c.logger.Info("stop requested, shutting down")
	case err := <-groupDone:
		groupDone = nil
		if err != nil {
			c.logger.Error("audio pipeline failed", "error", err)
			fatal = err
		} else {
			c.logger.Info("audio pipeline ended")
		}
	case err := <-c.closedCh:
		if err != nil {
			c.logger.Error("session stream ended unexpectedly", "error", err)
			fatal = err
		} else {
			c.logger.Info("session stream closed")
		}
	}

	cancel()
	if groupDone != nil {
		<-groupDone
	}
	c.shutdown(fatal)

	if fatal != nil {
		return fmt.Errorf("session: %w", fatal)
	}
	return nil
}

// armDevices wires and starts the sink and source.
func (c *Controller) armDevices(ctx context.Context) error {
	if c.sink != nil && c.buffer != nil {
		c.sink.OnDrain(c.buffer.HandleDrain)
		c.sink.OnError(c.buffer.HandleWriteError)
		if err := c.sink.Start(ctx); err != nil {
			return fmt.Errorf("start sink: %w", err)
		}
	}

	if c.source != nil {
		c.source.OnSilence(func(d time.Duration) {
			c.logger.Info("no speech detected", "silent_for", d.Round(time.Millisecond))
		})
		c.source.OnError(func(err error) {
			// Capture errors never stop the stream; frames simply cease
			// until the device recovers.
			c.logger.Warn("capture device error", "error", err)
		})
		if err := c.source.Start(ctx); err != nil {
			return fmt.Errorf("start source: %w", err)
		}
	}

	return nil
}

// capturePump forwards capture chunks to the bridge in production order.
// A stream that closes before shutdown begins is a fatal device loss.
func (c *Controller) capturePump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-c.source.Stream():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrCaptureEnded
			}
			c.bridge.HandleCapture(chunk)
		}
	}
}

// shutdown tears the session down in order: capture first, then playback
// drain (bounded), then the sink, then the remote session.
func (c *Controller) shutdown(fatal error) {
	c.setLifecycle(LifecycleShuttingDown)
	c.bridge.SetState(StateClosing)

	if c.source != nil {
		c.source.Stop()
		c.source.Close()
	}

	if c.buffer != nil {
		if fatal == nil {
			drainCtx, cancel := context.WithTimeout(context.Background(), c.cfg.DrainTimeout)
			if err := c.buffer.DrainIdle(drainCtx); err != nil {
				c.logger.Debug("playback drain timed out, discarding remainder")
				c.buffer.Flush()
			}
			cancel()
		} else {
			c.buffer.Flush()
		}
	}

	if c.sink != nil {
		c.sink.Close()
	}

	c.client.Close()
	c.bridge.SetState(StateDisconnected)
	c.setLifecycle(LifecycleStopped)
	c.logger.Info("session ended")
}
