package api

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawdock/drawdock/internal/config"
	"github.com/drawdock/drawdock/wire"
)

// memStore is an in-memory DiagramStore for hub tests.
type memStore struct {
	records map[string]*DiagramRecord
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{records: make(map[string]*DiagramRecord)}
	for _, id := range ids {
		s.records[id] = &DiagramRecord{
			ID:           id,
			Version:      0,
			Content:      json.RawMessage(`{}`),
			LastModified: time.Now().UTC(),
		}
	}
	return s
}

func (s *memStore) Get(_ context.Context, id string) (*DiagramRecord, error) {
	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return record, nil
}

func (s *memStore) Exists(_ context.Context, id string) (bool, error) {
	_, ok := s.records[id]
	return ok, nil
}

func (s *memStore) Create(_ context.Context, content json.RawMessage) (*DiagramRecord, error) {
	id := fmt.Sprintf("diagram-%d", len(s.records)+1)
	record := &DiagramRecord{ID: id, Version: 0, Content: content, LastModified: time.Now().UTC()}
	s.records[id] = record
	return record, nil
}

func (s *memStore) Update(_ context.Context, id string, content json.RawMessage, expectedVersion int64) (*DiagramRecord, error) {
	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if record.Version != expectedVersion {
		return nil, &VersionConflictError{DiagramID: id, Expected: expectedVersion, Current: record.Version}
	}
	record.Version++
	record.Content = content
	record.LastModified = time.Now().UTC()
	return record, nil
}

func testHubConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		HistorySize:        50,
		MaxMessageSize:     64 * 1024,
		WriteTimeout:       time.Second,
		PongTimeout:        5 * time.Second,
		PingInterval:       time.Second,
		IdleAfter:          2 * time.Minute,
		RoomSweepInterval:  time.Minute,
		RoomMaxIdle:        15 * time.Minute,
		RateLimitWindow:    10 * time.Second,
		RateLimitThreshold: 40,
	}
}

func newTestHub(diagramIDs ...string) *Hub {
	return NewHub(newMemStore(diagramIDs...), testHubConfig(), prometheus.NewRegistry())
}

func joinTestSession(t *testing.T, hub *Hub, diagramID, userID string) (*Session, *Client, *wire.JoinedMessage) {
	t.Helper()
	client := NewClient(hub, nil)
	session, joined, err := hub.Join(context.Background(), JoinCandidate{
		DiagramID:   diagramID,
		UserID:      userID,
		DisplayName: userID,
	}, client)
	require.NoError(t, err)
	return session, client, joined
}

func recvFrame(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case frame, ok := <-ch:
		require.True(t, ok, "send channel closed while expecting a frame")
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestJoinUnknownDiagramIsRejected(t *testing.T) {
	hub := newTestHub("d1")

	_, _, err := hub.Join(context.Background(), JoinCandidate{DiagramID: "missing", UserID: "alice"}, NewClient(hub, nil))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, hub.RoomExists("missing"))
}

func TestJoinCreatesRoomAndAnnounces(t *testing.T) {
	hub := newTestHub("d1")

	session1, client1, joined1 := joinTestSession(t, hub, "d1", "alice")
	assert.True(t, hub.RoomExists("d1"))
	assert.Equal(t, wire.MessageTypeJoined, joined1.MessageType)
	assert.Equal(t, session1.ID, joined1.SessionID)
	require.Len(t, joined1.Presence, 1)
	assert.Equal(t, "alice", joined1.Presence[0].UserID)
	assert.NotEmpty(t, joined1.Presence[0].Color)

	session2, _, joined2 := joinTestSession(t, hub, "d1", "bob")
	require.Len(t, joined2.Presence, 2)
	// Oldest join first
	assert.Equal(t, session1.ID, joined2.Presence[0].SessionID)
	assert.Equal(t, session2.ID, joined2.Presence[1].SessionID)

	// The existing member sees the arrival
	var announcement wire.UserJoinedMessage
	require.NoError(t, json.Unmarshal(recvFrame(t, client1.Send()), &announcement))
	assert.Equal(t, wire.MessageTypeUserJoined, announcement.MessageType)
	assert.Equal(t, session2.ID, announcement.Session.SessionID)
	assert.Len(t, announcement.Presence, 2)
}

func TestJoinEvictsSameUserIdentifier(t *testing.T) {
	hub := newTestHub("d1")

	stale, staleClient, _ := joinTestSession(t, hub, "d1", "alice")
	fresh, _, joined := joinTestSession(t, hub, "d1", "alice")

	assert.NotEqual(t, stale.ID, fresh.ID)
	require.Len(t, joined.Presence, 1)
	assert.Equal(t, fresh.ID, joined.Presence[0].SessionID)

	// The stale session is told why before its connection goes away
	var evictNotice wire.ErrorMessage
	require.NoError(t, json.Unmarshal(recvFrame(t, staleClient.Send()), &evictNotice))
	assert.Equal(t, wire.MessageTypeError, evictNotice.MessageType)
	assert.Equal(t, wire.ErrorCodeSessionEvicted, evictNotice.Code)

	// Its outbound queue is closed by the shutdown
	_, open := <-staleClient.Send()
	assert.False(t, open)

	presence := hub.Presence("d1")
	require.Len(t, presence, 1)
	assert.Equal(t, fresh.ID, presence[0].SessionID)
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	hub := newTestHub("d1")

	session, _, _ := joinTestSession(t, hub, "d1", "alice")
	require.True(t, hub.RoomExists("d1"))

	hub.Leave(session)
	assert.False(t, hub.RoomExists("d1"))
	assert.Equal(t, 0, hub.RoomCount())
}

func TestLeaveBroadcastsDeparture(t *testing.T) {
	hub := newTestHub("d1")

	session1, _, _ := joinTestSession(t, hub, "d1", "alice")
	session2, client2, _ := joinTestSession(t, hub, "d1", "bob")

	hub.Leave(session1)
	require.True(t, hub.RoomExists("d1"))

	var departure wire.UserLeftMessage
	require.NoError(t, json.Unmarshal(recvFrame(t, client2.Send()), &departure))
	assert.Equal(t, wire.MessageTypeUserLeft, departure.MessageType)
	assert.Equal(t, session1.ID, departure.SessionID)
	assert.Equal(t, "alice", departure.UserID)
	require.Len(t, departure.Presence, 1)
	assert.Equal(t, session2.ID, departure.Presence[0].SessionID)
}

func TestLeaveAfterEvictionIsNoOp(t *testing.T) {
	hub := newTestHub("d1")

	stale, _, _ := joinTestSession(t, hub, "d1", "alice")
	fresh, _, _ := joinTestSession(t, hub, "d1", "alice")

	// The evicted connection's disconnect must not tear down the live session
	hub.Leave(stale)
	require.True(t, hub.RoomExists("d1"))
	presence := hub.Presence("d1")
	require.Len(t, presence, 1)
	assert.Equal(t, fresh.ID, presence[0].SessionID)
}

func TestRelayOperationWithoutRoomIsNoOp(t *testing.T) {
	hub := newTestHub("d1")

	hub.RelayOperation("d1", nil, wire.Operation{Type: wire.OperationAdd, OperationID: "op-1"})
	assert.Nil(t, hub.History("d1"))
	assert.False(t, hub.RoomExists("d1"))
}

func TestRelayOperationBroadcastsToOthers(t *testing.T) {
	hub := newTestHub("d1")

	session1, client1, _ := joinTestSession(t, hub, "d1", "alice")
	_, client2, _ := joinTestSession(t, hub, "d1", "bob")

	// Drain alice's user_joined announcement
	recvFrame(t, client1.Send())

	hub.RelayOperation("d1", session1, wire.Operation{
		Type:        wire.OperationAdd,
		OperationID: "op-1",
		Payload:     json.RawMessage(`{"id":"n1"}`),
	})

	var msg wire.OperationMessage
	require.NoError(t, json.Unmarshal(recvFrame(t, client2.Send()), &msg))
	assert.Equal(t, wire.MessageTypeOperation, msg.MessageType)
	assert.Equal(t, "op-1", msg.Operation.OperationID)
	// The hub stamps the sender, clients cannot forge it
	assert.Equal(t, session1.ID, msg.Operation.SenderSessionID)
	assert.False(t, msg.Operation.Timestamp.IsZero())

	// The sender never receives its own operation back
	select {
	case frame := <-client1.Send():
		t.Fatalf("sender received unexpected frame: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}

	history := hub.History("d1")
	require.Len(t, history, 1)
	assert.Equal(t, "op-1", history[0].OperationID)
}

func TestRelayOperationHistoryIsBounded(t *testing.T) {
	hub := newTestHub("d1")
	session, _, _ := joinTestSession(t, hub, "d1", "alice")

	for i := 0; i < 60; i++ {
		hub.RelayOperation("d1", session, wire.Operation{
			Type:        wire.OperationUpdate,
			OperationID: fmt.Sprintf("op-%d", i),
		})
	}

	history := hub.History("d1")
	require.Len(t, history, 50)
	assert.Equal(t, "op-10", history[0].OperationID)
	assert.Equal(t, "op-59", history[49].OperationID)
}

func TestRelayCursorSkipsHistory(t *testing.T) {
	hub := newTestHub("d1")

	session1, _, _ := joinTestSession(t, hub, "d1", "alice")
	_, client2, _ := joinTestSession(t, hub, "d1", "bob")

	hub.RelayCursor("d1", session1, wire.CursorMessage{X: 10, Y: 20})

	var msg wire.CursorMessage
	require.NoError(t, json.Unmarshal(recvFrame(t, client2.Send()), &msg))
	assert.Equal(t, wire.MessageTypeCursor, msg.MessageType)
	assert.Equal(t, session1.ID, msg.SessionID)
	assert.Equal(t, float64(10), msg.X)
	assert.Empty(t, hub.History("d1"))
}

func TestCleanupIdleRooms(t *testing.T) {
	store := newMemStore("d1", "d2")
	cfg := testHubConfig()
	cfg.RoomMaxIdle = time.Nanosecond
	hub := NewHub(store, cfg, prometheus.NewRegistry())

	client := NewClient(hub, nil)
	_, _, err := hub.Join(context.Background(), JoinCandidate{DiagramID: "d1", UserID: "alice"}, client)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	hub.CleanupIdleRooms()

	assert.False(t, hub.RoomExists("d1"))
	assert.Equal(t, 0, hub.RoomCount())
}

func TestStartSweeperRunsInBackground(t *testing.T) {
	store := newMemStore("d1")
	cfg := testHubConfig()
	cfg.RoomMaxIdle = time.Nanosecond
	cfg.RoomSweepInterval = 5 * time.Millisecond
	hub := NewHub(store, cfg, prometheus.NewRegistry())

	client := NewClient(hub, nil)
	_, _, err := hub.Join(context.Background(), JoinCandidate{DiagramID: "d1", UserID: "alice"}, client)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	returned := make(chan struct{})
	go func() {
		hub.StartSweeper(ctx)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("StartSweeper blocked its caller")
	}

	assert.Eventually(t, func() bool { return !hub.RoomExists("d1") },
		time.Second, 5*time.Millisecond)
}

func TestShutdownClosesEverything(t *testing.T) {
	hub := newTestHub("d1", "d2")

	_, client1, _ := joinTestSession(t, hub, "d1", "alice")
	_, client2, _ := joinTestSession(t, hub, "d2", "bob")

	hub.Shutdown()
	assert.Equal(t, 0, hub.RoomCount())

	for _, client := range []*Client{client1, client2} {
		for {
			if _, open := <-client.Send(); !open {
				break
			}
		}
	}
}
