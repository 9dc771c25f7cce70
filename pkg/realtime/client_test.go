package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newTestServer runs handler against each upgraded connection and returns a
// connected client plus the server. The handler runs in its own goroutine.
func newTestServer(t *testing.T, handler func(*websocket.Conn)) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer ws.Close()
		handler(ws)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewClient("test-key", WithBaseURL(url))

	return client, srv
}

// sendEvent writes one server event as JSON.
func sendEvent(t *testing.T, ws *websocket.Conn, ev map[string]any) {
	t.Helper()
	if err := ws.WriteJSON(ev); err != nil {
		t.Errorf("server write failed: %v", err)
	}
}

// readClientEvent reads and decodes one client event.
func readClientEvent(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("server read failed: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("client sent invalid JSON: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestConnectRequiresAPIKey(t *testing.T) {
	client := NewClient("")
	if err := client.Connect(context.Background()); err != ErrMissingAPIKey {
		t.Errorf("Connect() = %v, want ErrMissingAPIKey", err)
	}
}

func TestConnectRejectsDoubleConnect(t *testing.T) {
	block := make(chan struct{})
	client, _ := newTestServer(t, func(ws *websocket.Conn) {
		<-block
	})
	defer close(block)
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if err := client.Connect(context.Background()); err != ErrAlreadyConnected {
		t.Errorf("second Connect() = %v, want ErrAlreadyConnected", err)
	}
}

func TestConnectSendsAuthHeaders(t *testing.T) {
	var gotAuth, gotBeta, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBeta = r.Header.Get("OpenAI-Beta")
		gotModel = r.URL.Query().Get("model")
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.Close()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewClient("secret-key", WithBaseURL(url), WithModel("gpt-test"))
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer client.Close()

	if gotAuth != "Bearer secret-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBeta != "realtime=v1" {
		t.Errorf("OpenAI-Beta = %q", gotBeta)
	}
	if gotModel != "gpt-test" {
		t.Errorf("model = %q", gotModel)
	}
}

func TestSessionCreated(t *testing.T) {
	block := make(chan struct{})
	client, _ := newTestServer(t, func(ws *websocket.Conn) {
		sendEvent(t, ws, map[string]any{"type": "session.created"})
		<-block
	})
	defer close(block)
	defer client.Close()

	created := make(chan struct{})
	client.OnSessionCreated = func() { close(created) }

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	waitFor(t, created, "session.created")
	if !client.IsReady() {
		t.Error("IsReady() = false after session.created")
	}
}

func TestSendAudioWireFormat(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	got := make(chan map[string]any, 1)
	client, _ := newTestServer(t, func(ws *websocket.Conn) {
		got <- readClientEvent(t, ws)
	})
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if err := client.SendAudio(pcm); err != nil {
		t.Fatalf("SendAudio() error: %v", err)
	}

	var msg map[string]any
	select {
	case msg = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the audio event")
	}

	if msg["type"] != "input_audio_buffer.append" {
		t.Errorf("type = %v", msg["type"])
	}
	if msg["event_id"] == "" || msg["event_id"] == nil {
		t.Error("event_id missing")
	}
	audio, _ := msg["audio"].(string)
	decoded, err := base64.StdEncoding.DecodeString(audio)
	if err != nil {
		t.Fatalf("audio field not base64: %v", err)
	}
	if string(decoded) != string(pcm) {
		t.Errorf("decoded audio = %v, want %v", decoded, pcm)
	}
}

func TestSendAudioWhenDisconnected(t *testing.T) {
	client := NewClient("test-key")
	if err := client.SendAudio([]byte{1, 2}); err != ErrNotConnected {
		t.Errorf("SendAudio() = %v, want ErrNotConnected", err)
	}
}

func TestConfigureSessionWireFormat(t *testing.T) {
	got := make(chan map[string]any, 1)
	client, _ := newTestServer(t, func(ws *websocket.Conn) {
		got <- readClientEvent(t, ws)
	})
	defer client.Close()

	client.RegisterTool(WeatherTool())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if err := client.ConfigureSession(SessionConfig{
		Instructions: "Be terse.",
		Voice:        "marin",
	}); err != nil {
		t.Fatalf("ConfigureSession() error: %v", err)
	}

	var msg map[string]any
	select {
	case msg = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("server never received session.update")
	}

	if msg["type"] != "session.update" {
		t.Fatalf("type = %v", msg["type"])
	}
	sess, _ := msg["session"].(map[string]any)
	if sess == nil {
		t.Fatal("missing session object")
	}
	if sess["voice"] != "marin" {
		t.Errorf("voice = %v", sess["voice"])
	}
	if sess["instructions"] != "Be terse." {
		t.Errorf("instructions = %v", sess["instructions"])
	}
	if sess["input_audio_format"] != "pcm16" || sess["output_audio_format"] != "pcm16" {
		t.Errorf("audio formats = %v / %v", sess["input_audio_format"], sess["output_audio_format"])
	}
	td, _ := sess["turn_detection"].(map[string]any)
	if td == nil || td["type"] != "semantic_vad" {
		t.Errorf("turn_detection = %v", td)
	}
	if td["interrupt_response"] != true {
		t.Error("interrupt_response should be enabled")
	}
	tools, _ := sess["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("tools = %v", tools)
	}
	tool, _ := tools[0].(map[string]any)
	if tool["name"] != "get_weather" {
		t.Errorf("tool name = %v", tool["name"])
	}
}

func TestDispatchAudioAndTranscript(t *testing.T) {
	pcm := []byte{0x10, 0x20, 0x30}
	block := make(chan struct{})
	client, _ := newTestServer(t, func(ws *websocket.Conn) {
		sendEvent(t, ws, map[string]any{
			"type":  "response.audio.delta",
			"delta": base64.StdEncoding.EncodeToString(pcm),
		})
		sendEvent(t, ws, map[string]any{
			"type":  "response.audio_transcript.delta",
			"delta": "hello",
		})
		sendEvent(t, ws, map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "hi there",
		})
		sendEvent(t, ws, map[string]any{"type": "response.audio.done"})
		<-block
	})
	defer close(block)
	defer client.Close()

	var (
		gotAudio      []byte
		gotDelta      string
		gotFinal      string
		userCompleted bool
	)
	done := make(chan struct{})
	client.OnAudioDelta = func(p []byte) { gotAudio = p }
	client.OnTranscript = func(text string, isFinal bool) {
		if isFinal {
			gotFinal = text
		} else {
			gotDelta = text
		}
	}
	client.OnTurnCompleted = func(role string) {
		if role == "user" {
			userCompleted = true
		}
	}
	client.OnAudioDone = func() { close(done) }

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitFor(t, done, "response.audio.done")

	if string(gotAudio) != string(pcm) {
		t.Errorf("audio delta = %v, want %v", gotAudio, pcm)
	}
	if gotDelta != "hello" {
		t.Errorf("transcript delta = %q", gotDelta)
	}
	if gotFinal != "hi there" {
		t.Errorf("final transcript = %q", gotFinal)
	}
	if !userCompleted {
		t.Error("user turn completion not dispatched")
	}
}

func TestDispatchSpeechStarted(t *testing.T) {
	block := make(chan struct{})
	client, _ := newTestServer(t, func(ws *websocket.Conn) {
		sendEvent(t, ws, map[string]any{"type": "input_audio_buffer.speech_started"})
		<-block
	})
	defer close(block)
	defer client.Close()

	started := make(chan struct{})
	client.OnSpeechStarted = func() { close(started) }

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitFor(t, started, "speech_started")
}

func TestHandlerPanicDoesNotKillStream(t *testing.T) {
	block := make(chan struct{})
	client, _ := newTestServer(t, func(ws *websocket.Conn) {
		sendEvent(t, ws, map[string]any{
			"type":  "response.audio.delta",
			"delta": base64.StdEncoding.EncodeToString([]byte{1}),
		})
		sendEvent(t, ws, map[string]any{
			"type":  "response.audio_transcript.delta",
			"delta": "still alive",
		})
		<-block
	})
	defer close(block)
	defer client.Close()

	client.OnAudioDelta = func([]byte) { panic("handler bug") }

	got := make(chan string, 1)
	client.OnTranscript = func(text string, _ bool) { got <- text }

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	select {
	case text := <-got:
		if text != "still alive" {
			t.Errorf("transcript = %q", text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream died after handler panic")
	}
}

func TestMalformedEventIsDiscarded(t *testing.T) {
	block := make(chan struct{})
	client, _ := newTestServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage, []byte("{not json"))
		sendEvent(t, ws, map[string]any{"type": "session.created"})
		<-block
	})
	defer close(block)
	defer client.Close()

	created := make(chan struct{})
	client.OnSessionCreated = func() { close(created) }

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	waitFor(t, created, "event after malformed message")
}

func TestFunctionCallRoundTrip(t *testing.T) {
	events := make(chan map[string]any, 2)
	client, _ := newTestServer(t, func(ws *websocket.Conn) {
		sendEvent(t, ws, map[string]any{
			"type":      "response.function_call_arguments.done",
			"name":      "get_weather",
			"call_id":   "call-1",
			"arguments": `{"city":"Dublin"}`,
		})
		events <- readClientEvent(t, ws)
		events <- readClientEvent(t, ws)
	})
	defer client.Close()

	client.RegisterTool(WeatherTool())
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	var output, followup map[string]any
	select {
	case output = <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("no tool output sent")
	}
	select {
	case followup = <-events:
	case <-time.After(5 * time.Second):
		t.Fatal("no response.create sent after tool output")
	}

	if output["type"] != "conversation.item.create" {
		t.Errorf("first message type = %v", output["type"])
	}
	item, _ := output["item"].(map[string]any)
	if item["type"] != "function_call_output" || item["call_id"] != "call-1" {
		t.Errorf("item = %v", item)
	}
	if out, _ := item["output"].(string); !strings.Contains(out, "Dublin") {
		t.Errorf("tool output = %q", out)
	}
	if followup["type"] != "response.create" {
		t.Errorf("second message type = %v", followup["type"])
	}
}

func TestCloseNotifiesGracefully(t *testing.T) {
	block := make(chan struct{})
	client, _ := newTestServer(t, func(ws *websocket.Conn) {
		<-block
	})
	defer close(block)

	closed := make(chan error, 1)
	client.OnClosed = func(err error) { closed <- err }

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	client.Close()

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("OnClosed got %v after local Close, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnClosed never fired")
	}

	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestServerDropReportsError(t *testing.T) {
	client, _ := newTestServer(t, func(ws *websocket.Conn) {
		// Drop the connection without a close handshake.
		ws.Close()
	})
	defer client.Close()

	closed := make(chan error, 1)
	client.OnClosed = func(err error) { closed <- err }

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	select {
	case err := <-closed:
		if err == nil {
			t.Error("OnClosed got nil for an unexpected drop, want error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnClosed never fired")
	}
}
