package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drawdock/drawdock/internal/slogging"
	"github.com/drawdock/drawdock/internal/uuidgen"
	"github.com/drawdock/drawdock/wire"
)

// State is the connection lifecycle state.
type State int

const (
	// StateIdle means no connection exists or is being attempted
	StateIdle State = iota
	// StateConnecting means a dial is in flight
	StateConnecting
	// StateOpen means the connection is established and joined
	StateOpen
	// StateAuthFailed is terminal: no automatic reconnection happens
	// until Reset is called
	StateAuthFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// Callbacks surface connection events to the consumer. They are invoked
// from the manager's internal goroutines and must not block.
type Callbacks struct {
	OnConnected       func(diagramID string, joined wire.JoinedMessage)
	OnDisconnected    func(diagramID string, reason error)
	OnMessage         func(frame []byte)
	OnConnectionError func(err error)
}

// Options tunes the connection manager.
type Options struct {
	// URL is the server base, e.g. "ws://localhost:8080"
	URL string
	// Token is the opaque auth token presented as a connection parameter
	Token string

	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration

	BackoffBase          time.Duration
	BackoffMax           time.Duration
	MaxReconnectAttempts int

	// GlobalCooldown and DiagramCooldown reject connect calls made too
	// soon after a previous one (connection storm prevention)
	GlobalCooldown  time.Duration
	DiagramCooldown time.Duration

	// DisconnectGrace delays a deferred disconnect so a fast reconnect
	// to the same diagram can cancel the teardown
	DisconnectGrace time.Duration

	Buffer     BufferConfig
	Reconciler ReconcilerConfig

	// Dialer overrides the websocket dialer, mainly for tests
	Dialer *websocket.Dialer
}

// DefaultOptions returns the standard manager tuning.
func DefaultOptions(url, token string) Options {
	return Options{
		URL:                  url,
		Token:                token,
		ConnectTimeout:       15 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		RequestTimeout:       15 * time.Second,
		BackoffBase:          2 * time.Second,
		BackoffMax:           30 * time.Second,
		MaxReconnectAttempts: 8,
		GlobalCooldown:       time.Second,
		DiagramCooldown:      3 * time.Second,
		DisconnectGrace:      2 * time.Second,
		Buffer:               DefaultBufferConfig(),
		Reconciler:           DefaultReconcilerConfig(),
	}
}

// Manager owns one outbound connection: its lifecycle state machine,
// cooldowns, backoff and reconnection, heartbeat, and request/reply
// correlation. All outgoing edits flow through its operation buffer and
// all inbound operations through its reconciler.
type Manager struct {
	opts      Options
	callbacks Callbacks
	dialer    *websocket.Dialer

	buffer     *OperationBuffer
	reconciler *Reconciler
	pending    *pendingRequests

	mu        sync.Mutex
	state     State
	diagramID string
	sessionID string
	conn      *websocket.Conn
	// connEpoch invalidates goroutines belonging to a superseded connection
	connEpoch   int
	attempts    int
	presence    []wire.Presence
	lastError   error
	manualClose bool
	evicted     bool

	lastConnectGlobal    time.Time
	lastConnectByDiagram map[string]time.Time

	// leases reference-count consumers of the connection; the last
	// release triggers a deferred disconnect
	leases     int
	graceTimer *time.Timer

	reconnectTimer *time.Timer

	writeMu sync.Mutex
}

// NewManager creates a connection manager.
func NewManager(opts Options, callbacks Callbacks) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 15 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = 8
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: opts.ConnectTimeout}
	}

	m := &Manager{
		opts:                 opts,
		callbacks:            callbacks,
		dialer:               dialer,
		pending:              newPendingRequests(),
		reconciler:           NewReconciler(opts.Reconciler, nil),
		lastConnectByDiagram: make(map[string]time.Time),
	}
	m.buffer = NewOperationBuffer(opts.Buffer, m.sendOperations, m.onFlushError)
	return m
}

// Reconciler returns the inbound reconciler.
func (m *Manager) Reconciler() *Reconciler {
	return m.reconciler
}

// Connect opens a connection to the given diagram. A call inside a
// cooldown window is rejected; a call for the same diagram while a dial
// is already in flight reuses that attempt; a call for a different
// diagram unconditionally tears down the prior connection first.
func (m *Manager) Connect(diagramID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateAuthFailed {
		return ErrAuthFailed
	}

	// Any newer connect cancels a pending deferred teardown, whichever
	// diagram armed it; only the prior connection may be torn down, and
	// the teardown below handles that when the diagram changes.
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
		if diagramID == m.diagramID && (m.state == StateOpen || m.state == StateConnecting) {
			return nil
		}
	}

	if m.state == StateConnecting && diagramID == m.diagramID {
		// Reuse the in-flight attempt
		return nil
	}
	if m.state == StateOpen && diagramID == m.diagramID {
		return nil
	}

	now := time.Now()
	if m.opts.GlobalCooldown > 0 && now.Sub(m.lastConnectGlobal) < m.opts.GlobalCooldown {
		return fmt.Errorf("%w: global window %v", ErrCooldown, m.opts.GlobalCooldown)
	}
	if m.opts.DiagramCooldown > 0 {
		if last, ok := m.lastConnectByDiagram[diagramID]; ok && now.Sub(last) < m.opts.DiagramCooldown {
			return fmt.Errorf("%w: diagram window %v", ErrCooldown, m.opts.DiagramCooldown)
		}
	}
	m.lastConnectGlobal = now
	m.lastConnectByDiagram[diagramID] = now

	// A newer connect unconditionally tears down the prior connection
	m.teardownLocked(ErrNotConnected)
	m.manualClose = false
	m.evicted = false
	m.attempts = 0
	m.diagramID = diagramID
	m.startAttemptLocked()
	return nil
}

// Disconnect closes the connection. Immediate mode sends a best-effort
// leave notice and tears down synchronously; deferred mode delays teardown
// by a short grace window so a fast reconnect to the same diagram can
// cancel it.
func (m *Manager) Disconnect(immediate bool) {
	if !immediate {
		m.mu.Lock()
		if m.graceTimer != nil {
			m.graceTimer.Stop()
		}
		m.graceTimer = time.AfterFunc(m.opts.DisconnectGrace, func() {
			m.Disconnect(true)
		})
		m.mu.Unlock()
		return
	}

	// Best-effort leave notice before teardown
	_ = m.writeFrame(wire.LeaveMessage{MessageType: wire.MessageTypeLeave})

	m.mu.Lock()
	m.manualClose = true
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
	diagramID := m.diagramID
	wasOpen := m.state == StateOpen
	m.teardownLocked(ErrNotConnected)
	m.mu.Unlock()

	if wasOpen && m.callbacks.OnDisconnected != nil {
		m.callbacks.OnDisconnected(diagramID, nil)
	}
}

// Acquire takes a lease on a connection to the diagram, connecting if this
// is the first lease. Connection lifetime follows the lease count, not any
// caller-side timer.
func (m *Manager) Acquire(diagramID string) error {
	m.mu.Lock()
	m.leases++
	first := m.leases == 1
	changed := m.diagramID != "" && m.diagramID != diagramID
	m.mu.Unlock()

	if first || changed || !m.Connected() {
		return m.Connect(diagramID)
	}
	return nil
}

// Release drops one lease; releasing the last lease triggers a deferred
// disconnect.
func (m *Manager) Release() {
	m.mu.Lock()
	if m.leases > 0 {
		m.leases--
	}
	last := m.leases == 0
	m.mu.Unlock()

	if last {
		m.Disconnect(false)
	}
}

// Reset clears a terminal auth failure so connecting can be retried with,
// presumably, fresh credentials.
func (m *Manager) Reset(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token != "" {
		m.opts.Token = token
	}
	if m.state == StateAuthFailed {
		m.state = StateIdle
	}
	m.attempts = 0
	m.lastError = nil
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the connection is open.
func (m *Manager) Connected() bool {
	return m.State() == StateOpen
}

// SessionID returns the hub-assigned session id for the open connection.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// PresenceList returns the current room presence.
func (m *Manager) PresenceList() []wire.Presence {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wire.Presence, len(m.presence))
	copy(out, m.presence)
	return out
}

// LastError returns the most recent connection-level error.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// Send routes one local operation through the operation buffer. The
// operation id is tracked for echo suppression before it leaves.
func (m *Manager) Send(op wire.Operation) error {
	if !m.Connected() {
		return ErrNotConnected
	}
	if op.OperationID == "" {
		op.OperationID = uuidgen.MustNewForEntity(uuidgen.EntityTypeOperation).String()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now().UTC()
	}
	m.reconciler.TrackLocal(op.OperationID)
	return m.buffer.Enqueue(op)
}

// Flush forces the operation buffer to drain.
func (m *Manager) Flush() {
	m.buffer.Flush()
}

// SaveDiagram performs a version-checked save. A rejection carries the
// server's authoritative version as a VersionConflictError; the caller
// must decide whether to reload or force-overwrite.
func (m *Manager) SaveDiagram(content json.RawMessage, version int64) (*wire.DiagramUpdatedMessage, error) {
	m.mu.Lock()
	diagramID := m.diagramID
	m.mu.Unlock()

	requestID := uuidgen.MustNewForEntity(uuidgen.EntityTypeRequest).String()
	reply, err := m.sendRequest(requestID, wire.SaveDiagramMessage{
		MessageType: wire.MessageTypeSaveDiagram,
		RequestID:   requestID,
		DiagramID:   diagramID,
		Content:     content,
		Version:     version,
	})
	if err != nil {
		return nil, err
	}
	return m.parseDiagramReply(reply)
}

// GetDiagram fetches the full stored state of the joined diagram. This is
// the reconnect path: there is no missed-operation replay, a returning
// client always re-fetches full state.
func (m *Manager) GetDiagram() (*wire.DiagramUpdatedMessage, error) {
	m.mu.Lock()
	diagramID := m.diagramID
	m.mu.Unlock()

	requestID := uuidgen.MustNewForEntity(uuidgen.EntityTypeRequest).String()
	reply, err := m.sendRequest(requestID, wire.GetDiagramMessage{
		MessageType: wire.MessageTypeGetDiagram,
		RequestID:   requestID,
		DiagramID:   diagramID,
	})
	if err != nil {
		return nil, err
	}
	return m.parseDiagramReply(reply)
}

// CreateDiagram allocates a fresh diagram at version 0.
func (m *Manager) CreateDiagram(content json.RawMessage) (*wire.DiagramUpdatedMessage, error) {
	requestID := uuidgen.MustNewForEntity(uuidgen.EntityTypeRequest).String()
	reply, err := m.sendRequest(requestID, wire.CreateDiagramMessage{
		MessageType: wire.MessageTypeCreateDiagram,
		RequestID:   requestID,
		Content:     content,
	})
	if err != nil {
		return nil, err
	}
	return m.parseDiagramReply(reply)
}

// Ping round-trips a correlated liveness probe.
func (m *Manager) Ping() error {
	requestID := uuidgen.MustNewForEntity(uuidgen.EntityTypeRequest).String()
	_, err := m.sendRequest(requestID, wire.PingMessage{
		MessageType: wire.MessageTypePing,
		RequestID:   requestID,
	})
	return err
}

// --- internals ---

func (m *Manager) startAttemptLocked() {
	m.state = StateConnecting
	m.connEpoch++
	epoch := m.connEpoch
	diagramID := m.diagramID
	go m.dial(diagramID, epoch)
}

func (m *Manager) dial(diagramID string, epoch int) {
	logger := slogging.Get()
	url := fmt.Sprintf("%s/ws/diagrams/%s?token=%s", m.opts.URL, diagramID, m.opts.Token)

	conn, resp, err := m.dialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			m.authFailed(epoch)
			return
		}
		m.connectFailed(epoch, err)
		return
	}

	m.mu.Lock()
	if epoch != m.connEpoch {
		// A newer connect superseded this attempt
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.state = StateOpen
	m.attempts = 0
	m.lastError = nil
	m.mu.Unlock()

	logger.Debug("Connected to diagram %s", diagramID)
	go m.readLoop(conn, epoch)
	go m.heartbeat(epoch)
}

func (m *Manager) authFailed(epoch int) {
	m.mu.Lock()
	if epoch != m.connEpoch {
		m.mu.Unlock()
		return
	}
	m.state = StateAuthFailed
	m.lastError = ErrAuthFailed
	m.mu.Unlock()

	slogging.Get().Warn("Authentication failed; automatic reconnection stopped")
	if m.callbacks.OnConnectionError != nil {
		m.callbacks.OnConnectionError(ErrAuthFailed)
	}
}

func (m *Manager) connectFailed(epoch int, err error) {
	m.mu.Lock()
	if epoch != m.connEpoch {
		m.mu.Unlock()
		return
	}
	m.state = StateIdle
	m.lastError = err
	m.mu.Unlock()

	if m.callbacks.OnConnectionError != nil {
		m.callbacks.OnConnectionError(err)
	}
	m.scheduleReconnect()
}

// connectionLost handles a dead open connection: teardown, then backoff
// into reconnection unless the close was deliberate or terminal.
func (m *Manager) connectionLost(epoch int, cause error) {
	m.mu.Lock()
	if epoch != m.connEpoch {
		m.mu.Unlock()
		return
	}
	diagramID := m.diagramID
	evicted := m.evicted
	manual := m.manualClose
	m.teardownLocked(cause)
	if evicted {
		m.lastError = ErrEvicted
	} else if cause != nil && !manual {
		m.lastError = cause
	}
	m.mu.Unlock()

	slogging.Get().Debug("Connection lost for diagram %s: %v", diagramID, cause)
	if m.callbacks.OnDisconnected != nil {
		m.callbacks.OnDisconnected(diagramID, cause)
	}

	if manual {
		return
	}
	if evicted {
		if m.callbacks.OnConnectionError != nil {
			m.callbacks.OnConnectionError(ErrEvicted)
		}
		return
	}
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.state != StateIdle || m.manualClose {
		m.mu.Unlock()
		return
	}
	m.attempts++
	if m.attempts > m.opts.MaxReconnectAttempts {
		m.lastError = ErrTooManyAttempts
		m.mu.Unlock()
		slogging.Get().Warn("Giving up after %d reconnect attempts", m.opts.MaxReconnectAttempts)
		if m.callbacks.OnConnectionError != nil {
			m.callbacks.OnConnectionError(ErrTooManyAttempts)
		}
		return
	}

	delay := backoffDelay(m.attempts, m.opts.BackoffBase, m.opts.BackoffMax)
	attempt := m.attempts
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.state != StateIdle || m.manualClose || m.diagramID == "" {
			m.mu.Unlock()
			return
		}
		m.startAttemptLocked()
		m.mu.Unlock()
	})
	m.mu.Unlock()

	slogging.Get().Debug("Reconnect attempt %d scheduled in %v", attempt, delay)
}

// teardownLocked closes the current connection and cancels everything that
// belongs to it. Callers hold m.mu.
func (m *Manager) teardownLocked(cause error) {
	m.connEpoch++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = StateIdle
	m.sessionID = ""
	m.presence = nil
	m.buffer.Reset()
	if cause == nil {
		cause = ErrNotConnected
	}
	m.pending.failAll(cause)
}

func (m *Manager) heartbeat(epoch int) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		live := epoch == m.connEpoch && m.state == StateOpen
		m.mu.Unlock()
		if !live {
			return
		}
		// A failed probe means the connection is dead
		if err := m.writeFrame(wire.PingMessage{MessageType: wire.MessageTypePing}); err != nil {
			m.connectionLost(epoch, fmt.Errorf("heartbeat failed: %w", err))
			return
		}
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, epoch int) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(epoch, err)
			return
		}
		m.dispatch(frame)
	}
}

// dispatch handles one inbound frame: presence bookkeeping, request
// correlation and reconciliation happen here; everything the manager
// applied is then surfaced through OnMessage.
func (m *Manager) dispatch(frame []byte) {
	logger := slogging.Get()

	env, err := wire.ParseEnvelope(frame)
	if err != nil {
		logger.Warn("Discarding malformed frame: %v", err)
		return
	}

	switch env.MessageType {
	case wire.MessageTypeJoined:
		var joined wire.JoinedMessage
		if err := json.Unmarshal(frame, &joined); err != nil {
			logger.Warn("Discarding malformed joined frame: %v", err)
			return
		}
		m.mu.Lock()
		m.sessionID = joined.SessionID
		m.presence = joined.Presence
		m.mu.Unlock()
		if m.callbacks.OnConnected != nil {
			m.callbacks.OnConnected(joined.DiagramID, joined)
		}
		return

	case wire.MessageTypeUserJoined:
		var msg wire.UserJoinedMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			return
		}
		m.mu.Lock()
		m.presence = msg.Presence
		m.mu.Unlock()

	case wire.MessageTypeUserLeft:
		var msg wire.UserLeftMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			return
		}
		m.mu.Lock()
		m.presence = msg.Presence
		m.mu.Unlock()

	case wire.MessageTypeOperation:
		var msg wire.OperationMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			return
		}
		result, err := m.reconciler.Apply(msg.Operation)
		if err != nil {
			logger.Warn("Failed to apply operation %s: %v", msg.Operation.OperationID, err)
		}
		if result != ResultApplied {
			// Echoes, duplicates and shed updates never reach the consumer
			return
		}

	case wire.MessageTypePong:
		if env.RequestID != "" {
			m.pending.resolve(env.RequestID, frame)
		}
		return

	case wire.MessageTypeDiagramUpdated:
		if env.RequestID != "" && m.pending.resolve(env.RequestID, frame) {
			return
		}

	case wire.MessageTypeError:
		m.handleErrorFrame(env, frame)
		return
	}

	if m.callbacks.OnMessage != nil {
		m.callbacks.OnMessage(frame)
	}
}

func (m *Manager) handleErrorFrame(env wire.Envelope, frame []byte) {
	var msg wire.ErrorMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return
	}

	if msg.Code == wire.ErrorCodeSessionEvicted {
		m.mu.Lock()
		m.evicted = true
		m.lastError = ErrEvicted
		m.mu.Unlock()
		// Teardown follows when the server closes the socket
		return
	}

	if env.RequestID != "" {
		// The requester interprets the error when parsing its reply
		if m.pending.resolve(env.RequestID, frame) {
			return
		}
	}

	err := fmt.Errorf("server error %s: %s", msg.Code, msg.Message)
	m.mu.Lock()
	m.lastError = err
	m.mu.Unlock()
	if m.callbacks.OnConnectionError != nil {
		m.callbacks.OnConnectionError(err)
	}
}

// sendRequest attaches a pending continuation to requestID, writes the
// frame, and waits for the matching reply or the request deadline.
func (m *Manager) sendRequest(requestID string, frame any) ([]byte, error) {
	ch := m.pending.add(requestID)
	if err := m.writeFrame(frame); err != nil {
		m.pending.fail(requestID, err)
		res := <-ch
		return nil, res.err
	}
	res := m.pending.await(requestID, ch, m.opts.RequestTimeout)
	return res.frame, res.err
}

// parseDiagramReply interprets a correlated reply as either a
// diagram_updated result or a typed error.
func (m *Manager) parseDiagramReply(frame []byte) (*wire.DiagramUpdatedMessage, error) {
	env, err := wire.ParseEnvelope(frame)
	if err != nil {
		return nil, err
	}

	if env.MessageType == wire.MessageTypeError {
		var msg wire.ErrorMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			return nil, err
		}
		switch msg.Code {
		case wire.ErrorCodeVersionConflict:
			var current int64
			if msg.CurrentVersion != nil {
				current = *msg.CurrentVersion
			}
			m.mu.Lock()
			diagramID := m.diagramID
			m.mu.Unlock()
			return nil, &VersionConflictError{DiagramID: diagramID, CurrentVersion: current}
		case wire.ErrorCodeNotFound:
			return nil, ErrNotFound
		default:
			return nil, errors.New(msg.Message)
		}
	}

	var updated wire.DiagramUpdatedMessage
	if err := json.Unmarshal(frame, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// sendOperations is the buffer's sink: each flushed operation goes out as
// one operation frame, already coalesced by the buffer.
func (m *Manager) sendOperations(ops []wire.Operation) error {
	for _, op := range ops {
		if err := m.writeFrame(wire.OperationMessage{
			MessageType: wire.MessageTypeOperation,
			Operation:   op,
		}); err != nil {
			return err
		}
	}
	return nil
}

// onFlushError surfaces an asynchronous batched-send failure; buffered
// sends are never silently retried.
func (m *Manager) onFlushError(ops []wire.Operation, err error) {
	slogging.Get().Warn("Failed to send %d buffered operations: %v", len(ops), err)
	m.mu.Lock()
	m.lastError = err
	m.mu.Unlock()
	if m.callbacks.OnConnectionError != nil {
		m.callbacks.OnConnectionError(err)
	}
}

// writeFrame serializes one frame onto the connection.
func (m *Manager) writeFrame(v any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}
