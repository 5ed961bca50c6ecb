package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drawdock/drawdock/wire"
)

// fakeCollabServer is a minimal hub endpoint for manager tests: it
// authenticates on a fixed token, auto-joins, answers pings and
// version-checked saves, and can evict the session on demand.
type fakeCollabServer struct {
	ts       *httptest.Server
	upgrades atomic.Int64

	mu      sync.Mutex
	version int64

	evictOnJoin  bool
	swallowSaves bool
}

func newFakeCollabServer(t *testing.T) *fakeCollabServer {
	t.Helper()
	f := &fakeCollabServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	f.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.upgrades.Add(1)
		defer func() { _ = conn.Close() }()

		parts := strings.Split(r.URL.Path, "/")
		diagramID := parts[len(parts)-1]

		_ = conn.WriteJSON(wire.JoinedMessage{
			MessageType: wire.MessageTypeJoined,
			SessionID:   "sess-1",
			DiagramID:   diagramID,
			Presence: []wire.Presence{{
				SessionID: "sess-1",
				UserID:    "alice",
			}},
		})

		if f.evictOnJoin {
			_ = conn.WriteJSON(wire.ErrorMessage{
				MessageType: wire.MessageTypeError,
				Code:        wire.ErrorCodeSessionEvicted,
				Message:     "session replaced by a newer connection for the same user",
				Timestamp:   time.Now().UTC(),
			})
			return
		}

		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := wire.ParseEnvelope(frame)
			if err != nil {
				continue
			}
			switch env.MessageType {
			case wire.MessageTypePing:
				if env.RequestID != "" {
					_ = conn.WriteJSON(wire.PongMessage{
						MessageType: wire.MessageTypePong,
						RequestID:   env.RequestID,
						Timestamp:   time.Now().UTC(),
					})
				}
			case wire.MessageTypeSaveDiagram:
				if f.swallowSaves {
					continue
				}
				var msg wire.SaveDiagramMessage
				if err := json.Unmarshal(frame, &msg); err != nil {
					continue
				}
				f.mu.Lock()
				if msg.Version == f.version {
					f.version++
					current := f.version
					f.mu.Unlock()
					_ = conn.WriteJSON(wire.DiagramUpdatedMessage{
						MessageType:  wire.MessageTypeDiagramUpdated,
						RequestID:    msg.RequestID,
						DiagramID:    msg.DiagramID,
						Version:      current,
						LastModified: time.Now().UTC(),
					})
				} else {
					current := f.version
					f.mu.Unlock()
					_ = conn.WriteJSON(wire.ErrorMessage{
						MessageType:    wire.MessageTypeError,
						RequestID:      msg.RequestID,
						Code:           wire.ErrorCodeVersionConflict,
						Message:        "stored version does not match",
						CurrentVersion: &current,
						Timestamp:      time.Now().UTC(),
					})
				}
			case wire.MessageTypeLeave:
				return
			}
		}
	}))
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fakeCollabServer) wsURL() string {
	return "ws" + strings.TrimPrefix(f.ts.URL, "http")
}

func testManagerOptions(f *fakeCollabServer, token string) Options {
	return Options{
		URL:                  f.wsURL(),
		Token:                token,
		ConnectTimeout:       2 * time.Second,
		HeartbeatInterval:    time.Minute,
		RequestTimeout:       time.Second,
		BackoffBase:          20 * time.Millisecond,
		BackoffMax:           100 * time.Millisecond,
		MaxReconnectAttempts: 2,
		DisconnectGrace:      100 * time.Millisecond,
		Buffer:               DefaultBufferConfig(),
		Reconciler:           DefaultReconcilerConfig(),
	}
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State() == want
	}, 3*time.Second, 10*time.Millisecond, "state never reached %s", want)
}

func TestConnectReachesOpenAndJoins(t *testing.T) {
	f := newFakeCollabServer(t)

	var joinedMu sync.Mutex
	var joinedMsg *wire.JoinedMessage
	m := NewManager(testManagerOptions(f, "good"), Callbacks{
		OnConnected: func(diagramID string, joined wire.JoinedMessage) {
			joinedMu.Lock()
			defer joinedMu.Unlock()
			joinedMsg = &joined
		},
	})

	require.NoError(t, m.Connect("d1"))
	waitForState(t, m, StateOpen)

	require.Eventually(t, func() bool {
		joinedMu.Lock()
		defer joinedMu.Unlock()
		return joinedMsg != nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "sess-1", m.SessionID())
	require.Len(t, m.PresenceList(), 1)
	assert.Equal(t, "alice", m.PresenceList()[0].UserID)

	m.Disconnect(true)
	assert.Equal(t, StateIdle, m.State())
}

func TestConnectCooldownRejectsRapidRetry(t *testing.T) {
	f := newFakeCollabServer(t)
	opts := testManagerOptions(f, "good")
	opts.GlobalCooldown = time.Minute
	m := NewManager(opts, Callbacks{})

	require.NoError(t, m.Connect("d1"))
	err := m.Connect("d2")
	assert.ErrorIs(t, err, ErrCooldown)

	m.Disconnect(true)
}

func TestConnectReusesInFlightAttemptForSameDiagram(t *testing.T) {
	f := newFakeCollabServer(t)
	opts := testManagerOptions(f, "good")
	opts.GlobalCooldown = time.Minute
	opts.DiagramCooldown = time.Minute
	m := NewManager(opts, Callbacks{})

	require.NoError(t, m.Connect("d1"))
	// Same target, no cooldown rejection: the in-flight attempt is shared
	require.NoError(t, m.Connect("d1"))

	waitForState(t, m, StateOpen)
	assert.Equal(t, int64(1), f.upgrades.Load())

	m.Disconnect(true)
}

func TestAuthFailureIsTerminalUntilReset(t *testing.T) {
	f := newFakeCollabServer(t)
	m := NewManager(testManagerOptions(f, "bad"), Callbacks{})

	require.NoError(t, m.Connect("d1"))
	waitForState(t, m, StateAuthFailed)
	assert.ErrorIs(t, m.LastError(), ErrAuthFailed)

	// No reconnection happens from the terminal state
	err := m.Connect("d1")
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, int64(0), f.upgrades.Load())

	m.Reset("good")
	assert.Equal(t, StateIdle, m.State())
	require.NoError(t, m.Connect("d1"))
	waitForState(t, m, StateOpen)

	m.Disconnect(true)
}

func TestSaveDiagramCorrelatesReplies(t *testing.T) {
	f := newFakeCollabServer(t)
	m := NewManager(testManagerOptions(f, "good"), Callbacks{})

	require.NoError(t, m.Connect("d1"))
	waitForState(t, m, StateOpen)

	updated, err := m.SaveDiagram(json.RawMessage(`{"elements":[]}`), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	// A stale save surfaces the authoritative version to this requester
	_, err = m.SaveDiagram(json.RawMessage(`{"elements":[]}`), 0)
	require.Error(t, err)
	conflict, ok := AsVersionConflict(err)
	require.True(t, ok)
	assert.Equal(t, "d1", conflict.DiagramID)
	assert.Equal(t, int64(1), conflict.CurrentVersion)

	m.Disconnect(true)
}

func TestRequestTimesOutWithoutReply(t *testing.T) {
	f := newFakeCollabServer(t)
	f.swallowSaves = true
	opts := testManagerOptions(f, "good")
	opts.RequestTimeout = 100 * time.Millisecond
	m := NewManager(opts, Callbacks{})

	require.NoError(t, m.Connect("d1"))
	waitForState(t, m, StateOpen)

	_, err := m.SaveDiagram(json.RawMessage(`{}`), 0)
	assert.ErrorIs(t, err, ErrRequestTimeout)

	m.Disconnect(true)
}

func TestDeferredDisconnectCanceledByFastReconnect(t *testing.T) {
	f := newFakeCollabServer(t)
	m := NewManager(testManagerOptions(f, "good"), Callbacks{})

	require.NoError(t, m.Connect("d1"))
	waitForState(t, m, StateOpen)

	m.Disconnect(false)
	// Reconnecting inside the grace window keeps the connection alive
	require.NoError(t, m.Connect("d1"))

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, StateOpen, m.State())
	assert.Equal(t, int64(1), f.upgrades.Load())

	m.Disconnect(true)
}

func TestSwitchingDiagramsCancelsPendingDeferredDisconnect(t *testing.T) {
	f := newFakeCollabServer(t)
	m := NewManager(testManagerOptions(f, "good"), Callbacks{})

	require.NoError(t, m.Connect("d1"))
	waitForState(t, m, StateOpen)

	m.Disconnect(false)
	// Connecting to another diagram supersedes the prior lifecycle; the
	// armed grace timer must not tear the new connection down
	require.NoError(t, m.Connect("d2"))
	waitForState(t, m, StateOpen)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, StateOpen, m.State())

	m.Disconnect(true)
}

func TestDeferredDisconnectFiresAfterGrace(t *testing.T) {
	f := newFakeCollabServer(t)
	m := NewManager(testManagerOptions(f, "good"), Callbacks{})

	require.NoError(t, m.Connect("d1"))
	waitForState(t, m, StateOpen)

	m.Disconnect(false)
	waitForState(t, m, StateIdle)
}

func TestLeaseLifecycle(t *testing.T) {
	f := newFakeCollabServer(t)
	m := NewManager(testManagerOptions(f, "good"), Callbacks{})

	require.NoError(t, m.Acquire("d1"))
	waitForState(t, m, StateOpen)

	// A second consumer holds the connection open past the first release
	require.NoError(t, m.Acquire("d1"))
	m.Release()
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, StateOpen, m.State())

	// The last release lets the deferred teardown fire
	m.Release()
	waitForState(t, m, StateIdle)
}

func TestEvictionStopsAutomaticReconnect(t *testing.T) {
	f := newFakeCollabServer(t)
	f.evictOnJoin = true

	var errMu sync.Mutex
	var connErrs []error
	m := NewManager(testManagerOptions(f, "good"), Callbacks{
		OnConnectionError: func(err error) {
			errMu.Lock()
			defer errMu.Unlock()
			connErrs = append(connErrs, err)
		},
	})

	require.NoError(t, m.Connect("d1"))
	waitForState(t, m, StateIdle)

	require.Eventually(t, func() bool {
		errMu.Lock()
		defer errMu.Unlock()
		for _, err := range connErrs {
			if err == ErrEvicted {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, m.LastError(), ErrEvicted)

	// The eviction is not retried: one upgrade, no backoff loop
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int64(1), f.upgrades.Load())
}

func TestSendBuffersOperationsThroughConnection(t *testing.T) {
	f := newFakeCollabServer(t)
	m := NewManager(testManagerOptions(f, "good"), Callbacks{})

	require.NoError(t, m.Connect("d1"))
	waitForState(t, m, StateOpen)

	op := wire.Operation{
		Type:      wire.OperationAdd,
		Payload:   json.RawMessage(`{"id":"n1"}`),
		Priority:  wire.PriorityHigh,
		Batchable: true,
	}
	require.NoError(t, m.Send(op))

	m.Disconnect(true)
	assert.ErrorIs(t, m.Send(op), ErrNotConnected)
}
