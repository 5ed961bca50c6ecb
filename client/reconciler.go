package client

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/drawdock/drawdock/internal/ratepolicy"
	"github.com/drawdock/drawdock/wire"
)

// ApplyResult classifies what the reconciler did with an inbound operation.
type ApplyResult int

const (
	// ResultApplied means the operation changed local state
	ResultApplied ApplyResult = iota
	// ResultEcho means the operation was one this client itself emitted
	ResultEcho
	// ResultDuplicate means the operation was already seen recently
	ResultDuplicate
	// ResultShed means a transient update was dropped under load
	ResultShed
)

// ReconcilerConfig tunes echo suppression, de-duplication and load shedding.
type ReconcilerConfig struct {
	// EchoTTL is how long locally-emitted operation ids are remembered
	EchoTTL time.Duration
	// DedupWindow is how long inbound operation ids are remembered
	DedupWindow time.Duration
	// FreqWindow / FreqThreshold classify a high-frequency sender
	FreqWindow    time.Duration
	FreqThreshold int
	// ShedProbability is the chance a sheddable update from a
	// high-frequency sender is dropped
	ShedProbability float64
}

// DefaultReconcilerConfig returns the standard reconciler tuning.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		EchoTTL:         30 * time.Second,
		DedupWindow:     10 * time.Second,
		FreqWindow:      2 * time.Second,
		FreqThreshold:   30,
		ShedProbability: 0.5,
	}
}

// Reconciler applies inbound operations to local document state. It
// suppresses echoes of this client's own operations, discards duplicates
// inside a short window, and under sustained high message frequency may
// probabilistically shed low-priority, batchable, transient updates.
// Non-transient operations are never shed.
type Reconciler struct {
	cfg   ReconcilerConfig
	state *DocumentState
	freq  *ratepolicy.FrequencyWindow

	mu   sync.Mutex
	own  map[string]time.Time
	seen map[string]time.Time

	// randFloat is swappable in tests
	randFloat func() float64
}

// NewReconciler creates a reconciler over the given document state.
func NewReconciler(cfg ReconcilerConfig, state *DocumentState) *Reconciler {
	if cfg.EchoTTL <= 0 {
		cfg.EchoTTL = 30 * time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 10 * time.Second
	}
	if cfg.ShedProbability <= 0 || cfg.ShedProbability > 1 {
		cfg.ShedProbability = 0.5
	}
	if state == nil {
		state = NewDocumentState()
	}
	return &Reconciler{
		cfg:       cfg,
		state:     state,
		freq:      ratepolicy.New(cfg.FreqWindow, cfg.FreqThreshold),
		own:       make(map[string]time.Time),
		seen:      make(map[string]time.Time),
		randFloat: rand.Float64,
	}
}

// State returns the reconciled document state.
func (r *Reconciler) State() *DocumentState {
	return r.state
}

// TrackLocal records an operation id this client emitted so its echo is
// discarded when the hub relays it back.
func (r *Reconciler) TrackLocal(operationID string) {
	now := time.Now()
	r.mu.Lock()
	r.prune(now)
	r.own[operationID] = now
	r.mu.Unlock()
}

// Apply reconciles one inbound operation.
func (r *Reconciler) Apply(op wire.Operation) (ApplyResult, error) {
	now := time.Now()

	r.mu.Lock()
	r.prune(now)
	if _, isOwn := r.own[op.OperationID]; isOwn {
		r.mu.Unlock()
		return ResultEcho, nil
	}
	if _, isDup := r.seen[op.OperationID]; isDup {
		r.mu.Unlock()
		return ResultDuplicate, nil
	}
	r.seen[op.OperationID] = now
	r.mu.Unlock()

	highFrequency := r.freq.Observe(op.SenderSessionID, now)
	if highFrequency && op.Priority == wire.PriorityLow && op.Batchable && op.Transient() {
		if r.randFloat() < r.cfg.ShedProbability {
			return ResultShed, nil
		}
	}

	if err := r.apply(op); err != nil {
		return ResultApplied, err
	}
	return ResultApplied, nil
}

func (r *Reconciler) apply(op wire.Operation) error {
	switch op.Type {
	case wire.OperationSnapshot:
		return r.state.ReplaceAll(op.Payload)
	case wire.OperationDelete:
		id, err := payloadID(op.Payload)
		if err != nil {
			return err
		}
		r.state.Delete(id)
		return nil
	case wire.OperationAdd, wire.OperationUpdate, wire.OperationMove:
		id, err := payloadID(op.Payload)
		if err != nil {
			return err
		}
		r.state.Upsert(id, op.Payload)
		return nil
	case wire.OperationCursor:
		// Cursor positions are view state, not document state
		return nil
	default:
		return fmt.Errorf("operation type %q is not applicable locally", op.Type)
	}
}

// prune ages out remembered operation ids; callers hold r.mu.
func (r *Reconciler) prune(now time.Time) {
	ownCutoff := now.Add(-r.cfg.EchoTTL)
	for id, t := range r.own {
		if t.Before(ownCutoff) {
			delete(r.own, id)
		}
	}
	seenCutoff := now.Add(-r.cfg.DedupWindow)
	for id, t := range r.seen {
		if t.Before(seenCutoff) {
			delete(r.seen, id)
		}
	}
}

func payloadID(payload json.RawMessage) (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", fmt.Errorf("operation payload is not an object: %w", err)
	}
	if probe.ID == "" {
		return "", fmt.Errorf("operation payload missing id")
	}
	return probe.ID, nil
}
