// Package session connects the local audio pipeline to the remote
// conversational stream and owns the client lifecycle.
package session

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/rhino88/yui/pkg/audioio"
	"github.com/rhino88/yui/pkg/playback"
	"github.com/rhino88/yui/pkg/realtime"
)

// State is the session connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Conn is the outbound surface the bridge uses on the remote session.
// *realtime.Client satisfies it.
type Conn interface {
	SendAudio(pcm []byte) error
	CancelResponse() error
}

// Bridge translates between local audio components and the remote event
// stream: capture frames flow out as audio-append events, and inbound
// events are demultiplexed into playback audio, transcript output, turn
// logging, and interruption handling.
type Bridge struct {
	conn   Conn
	buffer *playback.Buffer // nil when audio output is disabled
	logger *slog.Logger

	state        atomic.Int32
	audioEnabled bool
	transcript   io.Writer

	framesSent    atomic.Int64
	framesDropped atomic.Int64
}

// NewBridge creates a bridge between conn and buffer. buffer may be nil
// when audio output is disabled; inbound audio deltas are then discarded.
func NewBridge(conn Conn, buffer *playback.Buffer, transcript io.Writer, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		conn:         conn,
		buffer:       buffer,
		logger:       logger,
		audioEnabled: buffer != nil,
		transcript:   transcript,
	}
	b.state.Store(int32(StateDisconnected))
	return b
}

// SetState updates the session connection state.
func (b *Bridge) SetState(s State) {
	b.state.Store(int32(s))
}

// State returns the session connection state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// HandleCapture forwards one capture chunk to the remote stream. Frames
// arriving while the session is not connected are dropped; microphone
// audio is never buffered for later sending.
func (b *Bridge) HandleCapture(chunk audioio.Chunk) {
	if len(chunk.Samples) == 0 {
		return
	}
	if b.State() != StateConnected {
		b.framesDropped.Add(1)
		return
	}

	if err := b.conn.SendAudio(chunk.Bytes()); err != nil {
		b.framesDropped.Add(1)
		b.logger.Warn("capture frame send failed", "error", err)
		return
	}
	b.framesSent.Add(1)
}

// HandleAudioDelta routes an inbound audio frame to the playback buffer.
func (b *Bridge) HandleAudioDelta(pcm []byte) {
	if !b.audioEnabled || len(pcm) == 0 {
		return
	}
	b.buffer.Enqueue(pcm)
}

// HandleTranscript streams transcript text to the output writer as it
// arrives. Final user transcripts get their own line.
func (b *Bridge) HandleTranscript(text string, isFinal bool) {
	if b.transcript == nil {
		return
	}
	if isFinal {
		fmt.Fprintf(b.transcript, "\nyou: %s\n", text)
		return
	}
	fmt.Fprint(b.transcript, text)
}

// HandleInterruption discards pending playback: the user is speaking over
// the assistant, so everything queued is stale the moment this arrives.
func (b *Bridge) HandleInterruption() {
	b.logger.Debug("user speech started, discarding pending playback")
	if b.buffer != nil {
		b.buffer.Flush()
	}
	if err := b.conn.CancelResponse(); err != nil {
		b.logger.Warn("response cancel failed", "error", err)
	}
}

// HandleTurnStarted logs a conversational turn opening.
func (b *Bridge) HandleTurnStarted(role string) {
	b.logger.Debug("turn started", "role", role)
}

// HandleTurnCompleted logs a conversational turn closing.
func (b *Bridge) HandleTurnCompleted(role string) {
	if role == "assistant" && b.transcript != nil {
		fmt.Fprintln(b.transcript)
	}
	b.logger.Debug("turn completed", "role", role)
}

// Wire binds the bridge's handlers onto the client's callbacks. Call once
// before Connect.
func (b *Bridge) Wire(client *realtime.Client) {
	client.OnAudioDelta = b.HandleAudioDelta
	client.OnTranscript = b.HandleTranscript
	client.OnTurnStarted = b.HandleTurnStarted
	client.OnTurnCompleted = b.HandleTurnCompleted
	client.OnSpeechStarted = b.HandleInterruption
	client.OnSpeechStopped = func() {
		b.logger.Debug("user speech stopped")
	}
	client.OnAudioDone = func() {
		b.logger.Debug("assistant audio complete")
	}
}

// FramesSent returns the number of capture frames forwarded.
func (b *Bridge) FramesSent() int64 {
	return b.framesSent.Load()
}

// FramesDropped returns the number of capture frames dropped.
func (b *Bridge) FramesDropped() int64 {
	return b.framesDropped.Load()
}
