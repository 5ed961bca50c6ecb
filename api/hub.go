package api

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drawdock/drawdock/internal/config"
	"github.com/drawdock/drawdock/internal/ratepolicy"
	"github.com/drawdock/drawdock/internal/slogging"
	"github.com/drawdock/drawdock/internal/uuidgen"
	"github.com/drawdock/drawdock/wire"
)

// Session is one client's membership in one diagram's collaboration room.
// Sessions are owned by the Hub: created on join, destroyed on disconnect
// or eviction.
type Session struct {
	ID          string
	DiagramID   string
	UserID      string
	DisplayName string
	Color       string
	JoinedAt    time.Time

	// lastActivity is stamped from frames actually observed on the
	// connection; guarded by the owning room's mutex.
	lastActivity time.Time

	client *Client
}

// Room is the set of sessions collaborating on one diagram plus its bounded
// operation history. A room exists iff its membership is non-empty: it is
// created lazily on first join and deleted when the last member leaves.
type Room struct {
	DiagramID string

	mu             sync.RWMutex
	sessions       map[string]*Session
	history        *OperationHistory
	lastModifiedAt time.Time

	// inbound serializes all frames from this room's members so each
	// handler runs to completion before the next frame is dispatched.
	inbound chan inboundFrame
	done    chan struct{}
}

type inboundFrame struct {
	client *Client
	data   []byte
}

// JoinCandidate carries the identity extracted from connection parameters.
type JoinCandidate struct {
	DiagramID   string
	UserID      string
	DisplayName string
}

// Hub owns all live connections, per-diagram room membership, presence and
// broadcast. All hub state hangs off this value; there is no package-level
// mutable state.
type Hub struct {
	cfg     config.WebSocketConfig
	store   DiagramStore
	metrics *Metrics
	freq    *ratepolicy.FrequencyWindow
	router  *MessageRouter

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewHub creates a hub over the given persistence gateway. Metrics are
// registered on reg; pass a fresh registry in tests.
func NewHub(store DiagramStore, cfg config.WebSocketConfig, reg prometheus.Registerer) *Hub {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	return &Hub{
		cfg:     cfg,
		store:   store,
		metrics: NewMetrics(reg),
		freq:    ratepolicy.New(cfg.RateLimitWindow, cfg.RateLimitThreshold),
		router:  NewMessageRouter(),
		rooms:   make(map[string]*Room),
	}
}

// Join verifies the target diagram exists, evicts any stale session with
// the same user identifier, registers the new session (lazily creating the
// room) and announces it to the rest of the room. The returned JoinedMessage
// is the reply for the joining client.
func (h *Hub) Join(ctx context.Context, candidate JoinCandidate, client *Client) (*Session, *wire.JoinedMessage, error) {
	logger := slogging.Get()

	exists, err := h.store.Exists(ctx, candidate.DiagramID)
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, ErrNotFound
	}

	room := h.getOrCreateRoom(candidate.DiagramID)
	now := time.Now().UTC()

	session := &Session{
		ID:           uuidgen.MustNewForEntity(uuidgen.EntityTypeSession).String(),
		DiagramID:    candidate.DiagramID,
		UserID:       candidate.UserID,
		DisplayName:  candidate.DisplayName,
		Color:        colorForUser(candidate.UserID),
		JoinedAt:     now,
		lastActivity: now,
		client:       client,
	}

	room.mu.Lock()
	// At most one active session per (diagram, user identifier): a new
	// join with the same identifier evicts the prior one.
	var evicted *Session
	for _, existing := range room.sessions {
		if existing.UserID == candidate.UserID {
			evicted = existing
			break
		}
	}
	if evicted != nil {
		delete(room.sessions, evicted.ID)
	}

	room.sessions[session.ID] = session
	if client != nil {
		client.session = session
		client.room = room
	}

	joined := &wire.JoinedMessage{
		MessageType:  wire.MessageTypeJoined,
		SessionID:    session.ID,
		DiagramID:    candidate.DiagramID,
		Presence:     room.presenceLocked(now, h.cfg.IdleAfter),
		LastModified: room.lastModifiedAt,
	}
	announcement := wire.UserJoinedMessage{
		MessageType: wire.MessageTypeUserJoined,
		Session:     session.presence(now, h.cfg.IdleAfter),
		Presence:    joined.Presence,
	}
	room.mu.Unlock()

	if evicted != nil {
		h.metrics.SessionsEvicted.Inc()
		logger.Info("Evicting stale session %s for user %s on diagram %s",
			evicted.ID, evicted.UserID, candidate.DiagramID)
		h.notifyEvicted(evicted)
	} else {
		h.metrics.ActiveSessions.Inc()
	}

	h.broadcast(candidate.DiagramID, mustMarshal(announcement), session.ID)

	logger.Info("Session %s joined diagram %s as %s", session.ID, candidate.DiagramID, candidate.UserID)
	return session, joined, nil
}

// notifyEvicted tells the stale session why it is going away, then tears
// down its connection.
func (h *Hub) notifyEvicted(evicted *Session) {
	if evicted.client == nil {
		return
	}
	evicted.client.trySend(mustMarshal(wire.ErrorMessage{
		MessageType: wire.MessageTypeError,
		Code:        wire.ErrorCodeSessionEvicted,
		Message:     "session replaced by a newer connection for the same user",
		Timestamp:   time.Now().UTC(),
	}))
	evicted.client.shutdown()
}

// Leave removes the session, deletes the room when it empties, and
// broadcasts updated presence to the remaining members.
func (h *Hub) Leave(session *Session) {
	if session == nil {
		return
	}
	logger := slogging.Get()

	h.mu.Lock()
	room, ok := h.rooms[session.DiagramID]
	if !ok {
		h.mu.Unlock()
		return
	}

	room.mu.Lock()
	if _, member := room.sessions[session.ID]; !member {
		// Already removed (eviction raced the disconnect)
		room.mu.Unlock()
		h.mu.Unlock()
		return
	}
	delete(room.sessions, session.ID)
	empty := len(room.sessions) == 0

	var departure []byte
	if !empty {
		departure = mustMarshal(wire.UserLeftMessage{
			MessageType: wire.MessageTypeUserLeft,
			SessionID:   session.ID,
			UserID:      session.UserID,
			Presence:    room.presenceLocked(time.Now().UTC(), h.cfg.IdleAfter),
		})
	}
	room.mu.Unlock()

	if empty {
		delete(h.rooms, session.DiagramID)
		close(room.done)
		h.metrics.ActiveRooms.Dec()
		logger.Info("Deleted empty room for diagram %s", session.DiagramID)
	}
	h.mu.Unlock()

	h.metrics.ActiveSessions.Dec()
	h.freq.Forget(session.ID)

	if !empty {
		h.broadcast(session.DiagramID, departure, session.ID)
	}
	logger.Info("Session %s left diagram %s", session.ID, session.DiagramID)
}

// RelayOperation appends the operation to the room's history, bumps the
// room's last-modified time, and re-broadcasts to every other session.
// A relay for a diagram with no room is a no-op, not an error.
func (h *Hub) RelayOperation(diagramID string, sender *Session, op wire.Operation) {
	room := h.room(diagramID)
	if room == nil {
		slogging.Get().Debug("Dropping relay for diagram %s with no room", diagramID)
		return
	}

	now := time.Now().UTC()
	if sender != nil {
		op.SenderSessionID = sender.ID
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = now
	}

	room.mu.Lock()
	room.history.Append(op)
	if now.After(room.lastModifiedAt) {
		room.lastModifiedAt = now
	}
	if sender != nil {
		if live, ok := room.sessions[sender.ID]; ok {
			live.lastActivity = now
		}
	}
	room.mu.Unlock()

	if sender != nil && h.freq.Observe(sender.ID, now) {
		h.metrics.HighFrequencyFlags.Inc()
	}

	excludeID := ""
	if sender != nil {
		excludeID = sender.ID
	}
	h.broadcast(diagramID, mustMarshal(wire.OperationMessage{
		MessageType: wire.MessageTypeOperation,
		Operation:   op,
	}), excludeID)
	h.metrics.OperationsRelayed.Inc()
}

// RelayCursor fans a transient cursor position out to the rest of the room
// without touching history.
func (h *Hub) RelayCursor(diagramID string, sender *Session, msg wire.CursorMessage) {
	room := h.room(diagramID)
	if room == nil {
		return
	}
	if sender != nil {
		msg.SessionID = sender.ID
		room.mu.Lock()
		if live, ok := room.sessions[sender.ID]; ok {
			live.lastActivity = time.Now().UTC()
		}
		room.mu.Unlock()
	}
	msg.MessageType = wire.MessageTypeCursor
	excludeID := ""
	if sender != nil {
		excludeID = sender.ID
	}
	h.broadcast(diagramID, mustMarshal(msg), excludeID)
}

// broadcast fans a frame out to every session in the room except excludeID.
// Delivery is best-effort: one recipient's full queue is logged and skipped
// without blocking delivery to the rest.
func (h *Hub) broadcast(diagramID string, frame []byte, excludeID string) {
	room := h.room(diagramID)
	if room == nil {
		return
	}

	room.mu.RLock()
	recipients := make([]*Client, 0, len(room.sessions))
	for id, session := range room.sessions {
		if id == excludeID || session.client == nil {
			continue
		}
		recipients = append(recipients, session.client)
	}
	room.mu.RUnlock()

	for _, client := range recipients {
		if !client.trySend(frame) {
			h.metrics.BroadcastFailures.Inc()
			slogging.Get().Warn("Dropping frame for slow session %s on diagram %s",
				client.sessionID(), diagramID)
		}
	}
}

// Presence returns the room's current presence list, oldest join first.
func (h *Hub) Presence(diagramID string) []wire.Presence {
	room := h.room(diagramID)
	if room == nil {
		return nil
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.presenceLocked(time.Now().UTC(), h.cfg.IdleAfter)
}

// History returns a copy of the room's operation history, oldest first.
func (h *Hub) History(diagramID string) []wire.Operation {
	room := h.room(diagramID)
	if room == nil {
		return nil
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.history.Operations()
}

// RoomExists reports whether a room currently exists for the diagram.
func (h *Hub) RoomExists(diagramID string) bool {
	return h.room(diagramID) != nil
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// LastModified returns the room's last-modified time, or zero when the room
// does not exist.
func (h *Hub) LastModified(diagramID string) time.Time {
	room := h.room(diagramID)
	if room == nil {
		return time.Time{}
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.lastModifiedAt
}

// StartSweeper launches a background loop that periodically closes rooms
// idle past the configured window, as a backstop against leaked membership
// tracking. It returns immediately; the loop stops when ctx is canceled.
func (h *Hub) StartSweeper(ctx context.Context) {
	interval := h.cfg.RoomSweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				h.CleanupIdleRooms()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// CleanupIdleRooms removes rooms idle past RoomMaxIdle or with no members.
func (h *Hub) CleanupIdleRooms() {
	cutoff := time.Now().UTC().Add(-h.cfg.RoomMaxIdle)

	h.mu.Lock()
	defer h.mu.Unlock()

	for diagramID, room := range h.rooms {
		room.mu.RLock()
		stale := room.lastModifiedAt.Before(cutoff)
		for _, s := range room.sessions {
			if s.lastActivity.After(cutoff) {
				stale = false
				break
			}
		}
		empty := len(room.sessions) == 0
		clients := make([]*Client, 0, len(room.sessions))
		for _, s := range room.sessions {
			if s.client != nil {
				clients = append(clients, s.client)
			}
		}
		room.mu.RUnlock()

		if !stale && !empty {
			continue
		}
		for _, c := range clients {
			c.shutdown()
		}
		delete(h.rooms, diagramID)
		close(room.done)
		h.metrics.ActiveRooms.Dec()
		slogging.Get().Info("Swept idle room for diagram %s", diagramID)
	}
}

// Shutdown tears down every room and connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for diagramID, room := range h.rooms {
		room.mu.RLock()
		for _, s := range room.sessions {
			if s.client != nil {
				s.client.shutdown()
			}
		}
		room.mu.RUnlock()
		delete(h.rooms, diagramID)
		close(room.done)
	}
}

func (h *Hub) room(diagramID string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[diagramID]
}

func (h *Hub) getOrCreateRoom(diagramID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[diagramID]; ok {
		return room
	}

	room := &Room{
		DiagramID:      diagramID,
		sessions:       make(map[string]*Session),
		history:        NewOperationHistory(h.cfg.HistorySize),
		lastModifiedAt: time.Now().UTC(),
		inbound:        make(chan inboundFrame, 64),
		done:           make(chan struct{}),
	}
	h.rooms[diagramID] = room
	h.metrics.ActiveRooms.Inc()
	go room.run(h)

	slogging.Get().Info("Created room for diagram %s", diagramID)
	return room
}

// run is the room's dispatch loop: one frame at a time, each handler to
// completion, so handlers touch room state without further locking.
func (r *Room) run(h *Hub) {
	for {
		select {
		case frame := <-r.inbound:
			h.router.Route(h, r, frame.client, frame.data)
		case <-r.done:
			return
		}
	}
}

// presenceLocked builds the presence list; callers hold r.mu.
func (r *Room) presenceLocked(now time.Time, idleAfter time.Duration) []wire.Presence {
	list := make([]wire.Presence, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s.presence(now, idleAfter))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].SessionID < list[j].SessionID
		}
		return list[i].JoinedAt.Before(list[j].JoinedAt)
	})
	return list
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Frame types are marshal-safe by construction
		panic(err)
	}
	return data
}
