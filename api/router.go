package api

import (
	"runtime/debug"
	"time"

	"github.com/drawdock/drawdock/internal/slogging"
	"github.com/drawdock/drawdock/wire"
)

// MessageHandler defines the interface for handling WebSocket frames
type MessageHandler interface {
	HandleMessage(hub *Hub, room *Room, client *Client, message []byte) error
	MessageType() wire.MessageType
}

// MessageRouter routes inbound frames to the handler for their type.
type MessageRouter struct {
	handlers map[wire.MessageType]MessageHandler
}

// NewMessageRouter creates a router with the default handlers registered.
func NewMessageRouter() *MessageRouter {
	router := &MessageRouter{
		handlers: make(map[wire.MessageType]MessageHandler),
	}

	router.RegisterHandler(&JoinHandler{})
	router.RegisterHandler(&OperationHandler{})
	router.RegisterHandler(&CursorHandler{})
	router.RegisterHandler(&PingHandler{})
	router.RegisterHandler(&LeaveHandler{})
	router.RegisterHandler(&SaveDiagramHandler{})
	router.RegisterHandler(&GetDiagramHandler{})
	router.RegisterHandler(&CreateDiagramHandler{})

	return router
}

// RegisterHandler registers a handler for its message type.
func (r *MessageRouter) RegisterHandler(handler MessageHandler) {
	r.handlers[handler.MessageType()] = handler
}

// Route dispatches one frame. Failures are reported to the sender only:
// they never terminate the connection or touch other sessions.
func (r *MessageRouter) Route(hub *Hub, room *Room, client *Client, message []byte) {
	logger := slogging.Get()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("PANIC routing frame - Room: %s, Session: %s, Error: %v, Stack: %s",
				room.DiagramID, client.sessionID(), rec, debug.Stack())
			sendError(client, "", wire.ErrorCodeInternal, "internal error handling message")
		}
	}()

	env, err := wire.ParseEnvelope(message)
	if err != nil {
		logger.Warn("Malformed frame from session %s: %v", client.sessionID(), err)
		sendError(client, "", wire.ErrorCodeInvalidMessage, "malformed frame")
		return
	}

	hub.metrics.FramesReceived.WithLabelValues(string(env.MessageType)).Inc()
	hub.touchActivity(room, client)

	if env.MessageType.IsServerOnly() {
		logger.Warn("Session %s sent server-only message type %q", client.sessionID(), env.MessageType)
		sendError(client, env.RequestID, wire.ErrorCodeServerOnlyMessage,
			"message type '"+string(env.MessageType)+"' is server-only and cannot be sent by clients")
		return
	}

	handler, exists := r.handlers[env.MessageType]
	if !exists {
		logger.Warn("Unsupported message type %q from session %s", env.MessageType, client.sessionID())
		sendError(client, env.RequestID, wire.ErrorCodeUnsupportedMessage,
			"message type '"+string(env.MessageType)+"' is not supported")
		return
	}

	if err := handler.HandleMessage(hub, room, client, message); err != nil {
		logger.Warn("Handler error for %q from session %s: %v", env.MessageType, client.sessionID(), err)
		sendError(client, env.RequestID, wire.ErrorCodeInvalidMessage, err.Error())
	}
}

// touchActivity stamps the session's last observed activity; this is the
// sole input to the server-side idle decision.
func (h *Hub) touchActivity(room *Room, client *Client) {
	if client == nil || client.session == nil {
		return
	}
	room.mu.Lock()
	if live, ok := room.sessions[client.session.ID]; ok {
		live.lastActivity = time.Now().UTC()
	}
	room.mu.Unlock()
}

// sendError delivers an error frame to one client, best-effort.
func sendError(client *Client, requestID, code, message string) {
	if client == nil {
		return
	}
	client.trySend(mustMarshal(wire.ErrorMessage{
		MessageType: wire.MessageTypeError,
		RequestID:   requestID,
		Code:        code,
		Message:     message,
		Timestamp:   time.Now().UTC(),
	}))
}
