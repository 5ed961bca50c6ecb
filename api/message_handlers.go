package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/drawdock/drawdock/internal/slogging"
	"github.com/drawdock/drawdock/wire"
)

// persistTimeout bounds one gateway call made on behalf of a frame.
const persistTimeout = 10 * time.Second

// OperationHandler relays diagram operations to the rest of the room.
type OperationHandler struct{}

func (h *OperationHandler) MessageType() wire.MessageType {
	return wire.MessageTypeOperation
}

func (h *OperationHandler) HandleMessage(hub *Hub, room *Room, client *Client, message []byte) error {
	var msg wire.OperationMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("malformed operation frame: %w", err)
	}
	if err := msg.Operation.Validate(); err != nil {
		return err
	}
	hub.RelayOperation(room.DiagramID, client.session, msg.Operation)
	return nil
}

// JoinHandler answers an explicit join frame. Membership is established
// at upgrade time, so the reply restates the current session; a repeated
// join changes nothing.
type JoinHandler struct{}

func (h *JoinHandler) MessageType() wire.MessageType {
	return wire.MessageTypeJoin
}

func (h *JoinHandler) HandleMessage(hub *Hub, room *Room, client *Client, message []byte) error {
	client.trySend(mustMarshal(wire.JoinedMessage{
		MessageType:  wire.MessageTypeJoined,
		SessionID:    client.session.ID,
		DiagramID:    room.DiagramID,
		Presence:     hub.Presence(room.DiagramID),
		LastModified: hub.LastModified(room.DiagramID),
	}))
	return nil
}

// CursorHandler relays transient pointer positions.
type CursorHandler struct{}

func (h *CursorHandler) MessageType() wire.MessageType {
	return wire.MessageTypeCursor
}

func (h *CursorHandler) HandleMessage(hub *Hub, room *Room, client *Client, message []byte) error {
	var msg wire.CursorMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("malformed cursor frame: %w", err)
	}
	hub.RelayCursor(room.DiagramID, client.session, msg)
	return nil
}

// PingHandler answers client liveness probes.
type PingHandler struct{}

func (h *PingHandler) MessageType() wire.MessageType {
	return wire.MessageTypePing
}

func (h *PingHandler) HandleMessage(hub *Hub, room *Room, client *Client, message []byte) error {
	var msg wire.PingMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("malformed ping frame: %w", err)
	}
	client.trySend(mustMarshal(wire.PongMessage{
		MessageType: wire.MessageTypePong,
		RequestID:   msg.RequestID,
		Timestamp:   time.Now().UTC(),
	}))
	return nil
}

// LeaveHandler processes an explicit departure notice.
type LeaveHandler struct{}

func (h *LeaveHandler) MessageType() wire.MessageType {
	return wire.MessageTypeLeave
}

func (h *LeaveHandler) HandleMessage(hub *Hub, room *Room, client *Client, message []byte) error {
	hub.Leave(client.session)
	client.shutdown()
	return nil
}

// SaveDiagramHandler applies a version-checked write for the requester.
// The reply, success or conflict, goes to the requester only and is never
// broadcast.
type SaveDiagramHandler struct{}

func (h *SaveDiagramHandler) MessageType() wire.MessageType {
	return wire.MessageTypeSaveDiagram
}

func (h *SaveDiagramHandler) HandleMessage(hub *Hub, room *Room, client *Client, message []byte) error {
	var msg wire.SaveDiagramMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("malformed save_diagram frame: %w", err)
	}
	if msg.DiagramID == "" {
		msg.DiagramID = room.DiagramID
	}

	// Persistence is asynchronous: the room loop moves on while the write
	// is in flight, and the reply targets the requester alone.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		record, err := hub.store.Update(ctx, msg.DiagramID, msg.Content, msg.Version)
		if err != nil {
			replyStoreError(hub, client, msg.RequestID, msg.DiagramID, err)
			return
		}
		client.trySend(mustMarshal(wire.DiagramUpdatedMessage{
			MessageType:  wire.MessageTypeDiagramUpdated,
			RequestID:    msg.RequestID,
			DiagramID:    record.ID,
			Version:      record.Version,
			LastModified: record.LastModified,
		}))
	}()
	return nil
}

// GetDiagramHandler returns the current stored state of a diagram.
type GetDiagramHandler struct{}

func (h *GetDiagramHandler) MessageType() wire.MessageType {
	return wire.MessageTypeGetDiagram
}

func (h *GetDiagramHandler) HandleMessage(hub *Hub, room *Room, client *Client, message []byte) error {
	var msg wire.GetDiagramMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("malformed get_diagram frame: %w", err)
	}
	if msg.DiagramID == "" {
		msg.DiagramID = room.DiagramID
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		record, err := hub.store.Get(ctx, msg.DiagramID)
		if err != nil {
			replyStoreError(hub, client, msg.RequestID, msg.DiagramID, err)
			return
		}
		client.trySend(mustMarshal(wire.DiagramUpdatedMessage{
			MessageType:  wire.MessageTypeDiagramUpdated,
			RequestID:    msg.RequestID,
			DiagramID:    record.ID,
			Version:      record.Version,
			Content:      record.Content,
			LastModified: record.LastModified,
		}))
	}()
	return nil
}

// CreateDiagramHandler allocates a fresh diagram at version 0.
type CreateDiagramHandler struct{}

func (h *CreateDiagramHandler) MessageType() wire.MessageType {
	return wire.MessageTypeCreateDiagram
}

func (h *CreateDiagramHandler) HandleMessage(hub *Hub, room *Room, client *Client, message []byte) error {
	var msg wire.CreateDiagramMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("malformed create_diagram frame: %w", err)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		record, err := hub.store.Create(ctx, msg.Content)
		if err != nil {
			replyStoreError(hub, client, msg.RequestID, "", err)
			return
		}
		client.trySend(mustMarshal(wire.DiagramUpdatedMessage{
			MessageType:  wire.MessageTypeDiagramUpdated,
			RequestID:    msg.RequestID,
			DiagramID:    record.ID,
			Version:      record.Version,
			Content:      record.Content,
			LastModified: record.LastModified,
		}))
	}()
	return nil
}

// replyStoreError converts a gateway failure into an error frame for the
// requester only. Version conflicts carry the authoritative version.
func replyStoreError(hub *Hub, client *Client, requestID, diagramID string, err error) {
	logger := slogging.Get()

	if conflict, ok := AsVersionConflict(err); ok {
		hub.metrics.SaveConflicts.Inc()
		logger.Info("Version conflict on diagram %s: expected %d, stored %d",
			conflict.DiagramID, conflict.Expected, conflict.Current)
		current := conflict.Current
		client.trySend(mustMarshal(wire.ErrorMessage{
			MessageType:    wire.MessageTypeError,
			RequestID:      requestID,
			Code:           wire.ErrorCodeVersionConflict,
			Message:        conflict.Error(),
			CurrentVersion: &current,
			Timestamp:      time.Now().UTC(),
		}))
		return
	}

	code := wire.ErrorCodeInternal
	if errors.Is(err, ErrNotFound) {
		code = wire.ErrorCodeNotFound
	} else {
		logger.Error("Gateway error for diagram %s: %v", diagramID, err)
	}
	client.trySend(mustMarshal(wire.ErrorMessage{
		MessageType: wire.MessageTypeError,
		RequestID:   requestID,
		Code:        code,
		Message:     err.Error(),
		Timestamp:   time.Now().UTC(),
	}))
}
