// Package protocol defines the wire format shared by the reviewbus
// daemon and its clients: newline-framed JSON with request/response
// correlation by id.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types handled by the daemon itself. Anything else is an
// application message forwarded to the downstream handler.
const (
	// TypeAnnounce is the handshake message a client must send before
	// any application traffic.
	TypeAnnounce = "announce"

	// TypeStatus asks the daemon for its active-terminal snapshot and
	// basic runtime info.
	TypeStatus = "status"

	// TypeShutdown asks the daemon to stop.
	TypeShutdown = "shutdown"
)

// Roles a connection can announce as.
const (
	// RoleAgent is an AI-assistant session. Resolved agent sessions
	// appear in the active-terminal set.
	RoleAgent = "agent"

	// RoleEditor attaches the connection as the single downstream
	// handler for application messages.
	RoleEditor = "editor"

	// RoleObserver is a status/observability client. It is never added
	// to the active-terminal set.
	RoleObserver = "observer"
)

// Message is the request wire unit, flowing client→daemon and, for
// daemon-initiated requests, daemon→client.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	ID      string          `json:"id,omitempty"`
}

// Response correlates back to the Message carrying the same ID. The ID
// is the sole correlation key; arrival order means nothing.
type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Ack is the handshake acknowledgment, daemon→client only. TerminalID
// is null when identity resolution failed and the session proceeds
// anonymously.
type Ack struct {
	SessionID  string  `json:"sessionId"`
	TerminalID *string `json:"terminalId"`
}

// AnnouncePayload is the payload of a TypeAnnounce message. PID is the
// client's own process id; on transports that carry peer credentials
// the daemon prefers the observed pid over the reported one.
type AnnouncePayload struct {
	PID  int    `json:"pid"`
	Role string `json:"role,omitempty"`
}

// StatusData is the data of a successful TypeStatus response.
type StatusData struct {
	ActiveTerminals []string `json:"activeTerminals"`
	Sessions        int      `json:"sessions"`
	EditorAttached  bool     `json:"editorAttached"`
	Version         string   `json:"version"`
	UptimeSeconds   int64    `json:"uptimeSeconds"`
}

// SuccessResponse builds a success response carrying pre-encoded data.
func SuccessResponse(id string, data json.RawMessage) *Response {
	return &Response{ID: id, Success: true, Data: data}
}

// ErrorResponse builds a failure response.
func ErrorResponse(id, msg string) *Response {
	return &Response{ID: id, Success: false, Error: msg}
}

// ErrMalformedFrame marks a frame that could not be decoded. Framing
// errors are recoverable: the caller logs and drops the frame, and the
// connection stays open.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one decoded wire frame. Exactly one field is non-nil.
type Frame struct {
	Message  *Message
	Response *Response
	Ack      *Ack
}

// DecodeFrame classifies and decodes a single raw frame. Messages carry
// a "type" field, responses a "success" field, acks a "sessionId"
// field; anything else is malformed.
func DecodeFrame(data []byte) (*Frame, error) {
	var probe struct {
		Type      *string `json:"type"`
		Success   *bool   `json:"success"`
		SessionID *string `json:"sessionId"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch {
	case probe.Type != nil:
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &Frame{Message: &m}, nil
	case probe.Success != nil:
		var r Response
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &Frame{Response: &r}, nil
	case probe.SessionID != nil:
		var a Ack
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &Frame{Ack: &a}, nil
	default:
		return nil, fmt.Errorf("%w: no type, success, or sessionId field", ErrMalformedFrame)
	}
}
