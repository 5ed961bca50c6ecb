// Package wire defines the tagged JSON frames exchanged between the
// collaboration hub and its clients. Both the server and the Go client
// library depend on this package and nothing else in the repository.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of WebSocket frame
type MessageType string

// Client -> Server message types
const (
	MessageTypeJoin          MessageType = "join"
	MessageTypeLeave         MessageType = "leave"
	MessageTypeOperation     MessageType = "operation"
	MessageTypeCursor        MessageType = "cursor"
	MessageTypePing          MessageType = "ping"
	MessageTypeSaveDiagram   MessageType = "save_diagram"
	MessageTypeGetDiagram    MessageType = "get_diagram"
	MessageTypeCreateDiagram MessageType = "create_diagram"
)

// Server -> Client message types
const (
	MessageTypePong           MessageType = "pong"
	MessageTypeJoined         MessageType = "joined"
	MessageTypeUserJoined     MessageType = "user_joined"
	MessageTypeUserLeft       MessageType = "user_left"
	MessageTypeDiagramUpdated MessageType = "diagram_updated"
	MessageTypeError          MessageType = "error"
)

// Error codes carried by ErrorMessage.Code
const (
	ErrorCodeNotFound           = "not_found"
	ErrorCodeVersionConflict    = "version_conflict"
	ErrorCodeUnauthorized       = "unauthorized"
	ErrorCodeInvalidMessage     = "invalid_message"
	ErrorCodeUnsupportedMessage = "unsupported_message_type"
	ErrorCodeServerOnlyMessage  = "server_only_message_type"
	ErrorCodeInternal           = "internal_error"
	ErrorCodeSessionEvicted     = "session_evicted"
)

// Envelope is the minimal frame shape used to sniff the message type and
// request correlation id before routing to a typed decoder.
type Envelope struct {
	MessageType MessageType `json:"message_type"`
	RequestID   string      `json:"request_id,omitempty"`
}

// Presence describes one session's membership in a room as seen by peers.
type Presence struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Color       string    `json:"color"`
	JoinedAt    time.Time `json:"joined_at"`
	// Idle is decided server-side from observed frames, not client reports
	Idle bool `json:"idle"`
}

// LeaveMessage is a client's explicit departure notice.
type LeaveMessage struct {
	MessageType MessageType `json:"message_type"`
}

// OperationMessage carries one diagram operation to or from the hub.
type OperationMessage struct {
	MessageType MessageType `json:"message_type"`
	Operation   Operation   `json:"operation"`
}

// CursorMessage carries a transient pointer position.
type CursorMessage struct {
	MessageType MessageType `json:"message_type"`
	SessionID   string      `json:"session_id,omitempty"`
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
}

// PingMessage is a client liveness probe; the hub echoes a pong.
type PingMessage struct {
	MessageType MessageType `json:"message_type"`
	RequestID   string      `json:"request_id,omitempty"`
}

// PongMessage answers a ping, echoing its request id when present.
type PongMessage struct {
	MessageType MessageType `json:"message_type"`
	RequestID   string      `json:"request_id,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// SaveDiagramMessage requests a version-checked write of diagram content.
type SaveDiagramMessage struct {
	MessageType MessageType     `json:"message_type"`
	RequestID   string          `json:"request_id"`
	DiagramID   string          `json:"diagram_id"`
	Content     json.RawMessage `json:"content"`
	Version     int64           `json:"version"`
}

// GetDiagramMessage requests the current stored state of a diagram.
type GetDiagramMessage struct {
	MessageType MessageType `json:"message_type"`
	RequestID   string      `json:"request_id"`
	DiagramID   string      `json:"diagram_id"`
}

// CreateDiagramMessage requests allocation of a new diagram record.
type CreateDiagramMessage struct {
	MessageType MessageType     `json:"message_type"`
	RequestID   string          `json:"request_id"`
	Content     json.RawMessage `json:"content"`
}

// JoinedMessage is the hub's reply to a successful auto-join.
type JoinedMessage struct {
	MessageType  MessageType `json:"message_type"`
	SessionID    string      `json:"session_id"`
	DiagramID    string      `json:"diagram_id"`
	Presence     []Presence  `json:"presence"`
	LastModified time.Time   `json:"last_modified"`
}

// UserJoinedMessage announces a new room member to existing members.
type UserJoinedMessage struct {
	MessageType MessageType `json:"message_type"`
	Session     Presence    `json:"session"`
	Presence    []Presence  `json:"presence"`
}

// UserLeftMessage announces a departure, carrying the updated presence list.
type UserLeftMessage struct {
	MessageType MessageType `json:"message_type"`
	SessionID   string      `json:"session_id"`
	UserID      string      `json:"user_id"`
	Presence    []Presence  `json:"presence"`
}

// DiagramUpdatedMessage answers save/get/create requests. Content is only
// populated for get and create replies.
type DiagramUpdatedMessage struct {
	MessageType  MessageType     `json:"message_type"`
	RequestID    string          `json:"request_id,omitempty"`
	DiagramID    string          `json:"diagram_id"`
	Version      int64           `json:"version"`
	Content      json.RawMessage `json:"content,omitempty"`
	LastModified time.Time       `json:"last_modified"`
}

// ErrorMessage reports a failure to one client. CurrentVersion is set only
// for version conflicts and carries the server's authoritative version.
type ErrorMessage struct {
	MessageType    MessageType `json:"message_type"`
	RequestID      string      `json:"request_id,omitempty"`
	Code           string      `json:"code"`
	Message        string      `json:"message"`
	CurrentVersion *int64      `json:"current_version,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// ParseEnvelope extracts the message type and request id from a raw frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed frame: %w", err)
	}
	if env.MessageType == "" {
		return Envelope{}, fmt.Errorf("frame missing message_type")
	}
	return env, nil
}

// IsServerOnly reports whether a message type may only originate from the hub.
func (t MessageType) IsServerOnly() bool {
	switch t {
	case MessageTypePong, MessageTypeJoined, MessageTypeUserJoined,
		MessageTypeUserLeft, MessageTypeDiagramUpdated, MessageTypeError:
		return true
	}
	return false
}
