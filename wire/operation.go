package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationType classifies a diagram operation.
type OperationType string

const (
	OperationAdd      OperationType = "add"
	OperationUpdate   OperationType = "update"
	OperationDelete   OperationType = "delete"
	OperationMove     OperationType = "move"
	OperationCursor   OperationType = "cursor"
	OperationSnapshot OperationType = "snapshot"
	OperationSave     OperationType = "save"
	OperationCreate   OperationType = "create"
	OperationGet      OperationType = "get"
)

// Priority orders operations in the client-side buffer and decides which
// inbound updates the reconciler may shed under load.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Operation is one tagged change or presence update relayed through the hub.
// Operations are transient: the hub retains at most the room's bounded
// history and never persists them.
type Operation struct {
	Type            OperationType   `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	SenderSessionID string          `json:"sender_session_id,omitempty"`
	OperationID     string          `json:"operation_id"`
	Timestamp       time.Time       `json:"timestamp"`
	Priority        Priority        `json:"priority"`
	Batchable       bool            `json:"batchable"`
	Drag            bool            `json:"drag"`
}

// Validate checks that an inbound operation is well formed enough to relay.
func (o *Operation) Validate() error {
	switch o.Type {
	case OperationAdd, OperationUpdate, OperationDelete, OperationMove,
		OperationCursor, OperationSnapshot, OperationSave, OperationCreate, OperationGet:
	default:
		return fmt.Errorf("unknown operation type %q", o.Type)
	}
	if o.OperationID == "" {
		return fmt.Errorf("operation missing operation_id")
	}
	if o.Priority < PriorityLow || o.Priority > PriorityHigh {
		return fmt.Errorf("operation priority %d out of range", o.Priority)
	}
	return nil
}

// Transient reports whether the operation only affects ephemeral view state
// (cursor positions, in-flight drags) rather than durable diagram content.
func (o *Operation) Transient() bool {
	return o.Type == OperationCursor || (o.Type == OperationMove && o.Drag)
}
