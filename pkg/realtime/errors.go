package realtime

import (
	"errors"
	"fmt"
)

// Sentinel errors for the realtime package.
var (
	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("realtime: API key is required")

	// ErrNotConnected indicates the client is not connected.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrAlreadyConnected indicates Connect was called twice.
	ErrAlreadyConnected = errors.New("realtime: already connected")

	// ErrConnectionClosed indicates the connection was closed.
	ErrConnectionClosed = errors.New("realtime: connection closed")
)

// APIError is an error event from the remote service.
type APIError struct {
	// Type is the error category reported by the API.
	Type string `json:"type,omitempty"`

	// Code is the machine-readable error code.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message,omitempty"`

	// EventID references the client event that triggered the error.
	EventID string `json:"event_id,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: API error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("realtime: API error: %s", e.Message)
}

// Severity classifies how an error event should be handled.
type Severity int

const (
	// SeveritySuppress: a known benign race, not worth logging.
	SeveritySuppress Severity = iota
	// SeverityWarn: a malformed request, logged as a warning.
	SeverityWarn
	// SeverityConnection: connection-level, logged with remediation guidance.
	SeverityConnection
	// SeveritySession: everything else; logged, session continues.
	SeveritySession
)

// Classify maps a remote error event to a handling severity. The process
// never terminates on a remote error event; the severity only decides how
// loudly it is reported.
func Classify(e *APIError) Severity {
	if e == nil {
		return SeveritySession
	}
	switch {
	case e.Code == "response_cancel_not_active":
		// Cancelling a response that already finished is a normal race
		// between barge-in and response completion.
		return SeveritySuppress
	case e.Type == "invalid_request_error":
		return SeverityWarn
	case e.Type == "connection_error" || e.Code == "session_expired":
		return SeverityConnection
	default:
		return SeveritySession
	}
}
