// Package realtime provides a client for the OpenAI Realtime API
// for low-latency speech-to-speech conversations with tool use.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Default connection parameters.
const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview"

	handshakeTimeout = 10 * time.Second
	readTimeout      = 120 * time.Second
	pingInterval     = 30 * time.Second
)

// Client manages the WebSocket connection to the Realtime API.
//
// Inbound events are demultiplexed by kind onto the callback fields; set
// them before calling Connect. Each callback invocation is fault-isolated:
// a panic in one handler is logged and the read loop continues.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	logger  *slog.Logger

	ws   *websocket.Conn
	wsMu sync.Mutex

	tools    []Tool
	toolsMap map[string]Tool

	mu           sync.Mutex
	connected    bool
	closed       bool
	sessionReady bool
	closeOnce    sync.Once

	// Callbacks
	OnSessionCreated  func()
	OnAudioDelta      func(pcm []byte)
	OnAudioDone       func()
	OnTranscript      func(text string, isFinal bool)
	OnTurnStarted     func(role string)
	OnTurnCompleted   func(role string)
	OnSpeechStarted   func() // User started speaking (interruption)
	OnSpeechStopped   func() // User stopped speaking
	OnErrorEvent      func(apiErr *APIError)
	OnClosed          func(err error) // Read loop terminated
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new Realtime API client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:   apiKey,
		model:    DefaultModel,
		baseURL:  DefaultURL,
		logger:   slog.Default(),
		toolsMap: make(map[string]Tool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the WebSocket connection and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)

	header := http.Header{
		"Authorization": []string{"Bearer " + c.apiKey},
		"OpenAI-Beta":   []string{"realtime=v1"},
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("realtime: dial %s: %w", c.baseURL, err)
	}

	ws.SetPingHandler(func(appData string) error {
		c.wsMu.Lock()
		defer c.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	ws.SetReadDeadline(time.Now().Add(readTimeout))

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()
	go c.keepAlive()

	return nil
}

// keepAlive sends periodic pings to keep the connection alive.
func (c *Client) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		c.wsMu.Lock()
		err := c.ws.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
		c.wsMu.Unlock()
		if err != nil {
			return
		}
	}
}

// SessionConfig carries the session parameters sent on session.update.
type SessionConfig struct {
	Instructions string
	Voice        string
}

// ConfigureSession sets up the session with voice, instructions, and the
// registered tools. Turn detection runs server-side with interruption
// enabled, mirroring the semantic VAD configuration yui has always used.
func (c *Client) ConfigureSession(cfg SessionConfig) error {
	voice := cfg.Voice
	if voice == "" {
		voice = "marin"
	}

	apiTools := make([]map[string]any, len(c.tools))
	for i, tool := range c.tools {
		apiTools[i] = map[string]any{
			"type":        "function",
			"name":        tool.Name,
			"description": tool.Description,
			"parameters": map[string]any{
				"type":       "object",
				"properties": tool.Parameters,
				"required":   []string{},
			},
		}
	}

	msg := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        cfg.Instructions,
			"voice":               voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
			"turn_detection": map[string]any{
				"type":               "semantic_vad",
				"interrupt_response": true,
				"create_response":    true,
			},
			"tools":       apiTools,
			"tool_choice": "auto",
		},
	}

	return c.sendJSON(msg)
}

// SendAudio forwards one PCM16 capture frame as an audio-append event.
// Frames are sent in call order, one event per frame.
func (c *Client) SendAudio(pcm []byte) error {
	c.mu.Lock()
	connected := c.connected && !c.closed
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	msg := map[string]any{
		"event_id": uuid.NewString(),
		"type":     "input_audio_buffer.append",
		"audio":    base64.StdEncoding.EncodeToString(pcm),
	}

	return c.sendJSON(msg)
}

// SendText sends a text message and requests a response, for hybrid or
// text-only input.
func (c *Client) SendText(text string) error {
	msg := map[string]any{
		"event_id": uuid.NewString(),
		"type":     "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}

	if err := c.sendJSON(msg); err != nil {
		return err
	}

	return c.sendJSON(map[string]any{
		"event_id": uuid.NewString(),
		"type":     "response.create",
	})
}

// CancelResponse interrupts the current assistant response.
func (c *Client) CancelResponse() error {
	return c.sendJSON(map[string]any{
		"event_id": uuid.NewString(),
		"type":     "response.cancel",
	})
}

// Close closes the WebSocket connection. It is safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		ws := c.ws
		c.mu.Unlock()

		if ws != nil {
			c.wsMu.Lock()
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.wsMu.Unlock()
			ws.Close()
		}
	})
	return nil
}

// readLoop processes incoming WebSocket messages until the connection ends.
func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		closed := c.closed
		ws := c.ws
		c.mu.Unlock()
		if closed {
			c.notifyClosed(nil)
			return
		}

		ws.SetReadDeadline(time.Now().Add(readTimeout))

		_, message, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.connected = false
			c.mu.Unlock()
			if closed {
				c.notifyClosed(nil)
			} else {
				c.notifyClosed(fmt.Errorf("realtime: read: %w", err))
			}
			return
		}

		ev, err := parseServerEvent(message)
		if err != nil {
			c.logger.Warn("discarding malformed server event", "error", err)
			continue
		}

		c.dispatch(ev)
	}
}

func (c *Client) notifyClosed(err error) {
	if c.OnClosed != nil {
		c.OnClosed(err)
	}
}

// dispatch routes one server event to its handler. The call is wrapped so
// a failure processing one event never aborts the stream or the other
// handlers.
func (c *Client) dispatch(ev ServerEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked",
				"event_type", ev.Type,
				"panic", r,
			)
		}
	}()

	switch ev.Type {
	case EventSessionCreated:
		c.mu.Lock()
		c.sessionReady = true
		c.mu.Unlock()
		if c.OnSessionCreated != nil {
			c.OnSessionCreated()
		}

	case EventSessionUpdated:
		c.logger.Debug("session configuration confirmed")

	case EventSpeechStarted:
		if c.OnSpeechStarted != nil {
			c.OnSpeechStarted()
		}

	case EventSpeechStopped:
		if c.OnSpeechStopped != nil {
			c.OnSpeechStopped()
		}

	case EventBufferCommitted:
		// Input audio accepted for the next turn; nothing to do locally.

	case EventItemCreated:
		if ev.Item != nil && ev.Item.Role != "" && c.OnTurnStarted != nil {
			c.OnTurnStarted(ev.Item.Role)
		}

	case EventResponseCreated:
		if c.OnTurnStarted != nil {
			c.OnTurnStarted("assistant")
		}

	case EventResponseDone:
		if c.OnTurnCompleted != nil {
			c.OnTurnCompleted("assistant")
		}

	case EventInputTranscriptDone:
		if c.OnTurnCompleted != nil {
			c.OnTurnCompleted("user")
		}
		if ev.Transcript != "" && c.OnTranscript != nil {
			c.OnTranscript(ev.Transcript, true)
		}

	case EventAudioDelta:
		if ev.Delta == "" || c.OnAudioDelta == nil {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			c.logger.Warn("discarding undecodable audio delta", "error", err)
			return
		}
		c.OnAudioDelta(pcm)

	case EventAudioDone:
		if c.OnAudioDone != nil {
			c.OnAudioDone()
		}

	case EventTranscriptDelta:
		if ev.Delta != "" && c.OnTranscript != nil {
			c.OnTranscript(ev.Delta, false)
		}

	case EventFunctionCallArgsDone:
		c.handleFunctionCall(ev)

	case EventError:
		c.handleErrorEvent(ev.Error)

	default:
		c.logger.Debug("unhandled server event", "event_type", ev.Type)
	}
}

// handleErrorEvent applies the error taxonomy to a remote error event.
func (c *Client) handleErrorEvent(apiErr *APIError) {
	if apiErr == nil {
		return
	}

	switch Classify(apiErr) {
	case SeveritySuppress:
		// Benign race, e.g. cancelling a response that already completed.
	case SeverityWarn:
		c.logger.Warn("remote rejected request",
			"code", apiErr.Code,
			"message", apiErr.Message,
		)
	case SeverityConnection:
		c.logger.Error("connection-level error from remote; check network and API status",
			"code", apiErr.Code,
			"message", apiErr.Message,
		)
	default:
		c.logger.Error("session error from remote",
			"code", apiErr.Code,
			"message", apiErr.Message,
		)
	}

	if c.OnErrorEvent != nil {
		c.OnErrorEvent(apiErr)
	}
}

// sendJSON sends one JSON message over the WebSocket.
func (c *Client) sendJSON(v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if c.ws == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

// IsReady returns whether the session is ready for conversation.
func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionReady
}
