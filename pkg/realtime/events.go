package realtime

import "encoding/json"

// Server event types dispatched by the read loop.
const (
	EventSessionCreated       = "session.created"
	EventSessionUpdated       = "session.updated"
	EventSpeechStarted        = "input_audio_buffer.speech_started"
	EventSpeechStopped        = "input_audio_buffer.speech_stopped"
	EventBufferCommitted      = "input_audio_buffer.committed"
	EventInputTranscriptDone  = "conversation.item.input_audio_transcription.completed"
	EventItemCreated          = "conversation.item.created"
	EventResponseCreated      = "response.created"
	EventResponseDone         = "response.done"
	EventAudioDelta           = "response.audio.delta"
	EventAudioDone            = "response.audio.done"
	EventTranscriptDelta      = "response.audio_transcript.delta"
	EventFunctionCallArgsDone = "response.function_call_arguments.done"
	EventError                = "error"
)

// ServerEvent is the wire shape of an inbound event. One struct covers all
// event kinds; only the fields for the tagged kind are populated.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	// Audio and transcript payloads.
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	ItemID     string `json:"item_id,omitempty"`

	// conversation.item.created
	Item *ConversationItem `json:"item,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// error
	Error *APIError `json:"error,omitempty"`
}

// ConversationItem is the subset of conversation item fields yui uses.
type ConversationItem struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`
	Role string `json:"role,omitempty"`
}

// parseServerEvent decodes one inbound message.
func parseServerEvent(data []byte) (ServerEvent, error) {
	var ev ServerEvent
	err := json.Unmarshal(data, &ev)
	return ev, err
}
