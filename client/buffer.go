package client

import (
	"sort"
	"sync"
	"time"

	"github.com/drawdock/drawdock/wire"
)

// BufferConfig tunes the outgoing operation buffer.
type BufferConfig struct {
	// FlushCount forces a flush once this many operations are buffered
	FlushCount int
	// TypeThreshold forces a flush once one type accumulates this many
	TypeThreshold int
	// MaxDelay bounds how long any buffered operation can wait
	MaxDelay time.Duration
	// IdleDelay flushes after the sender goes quiet for this long
	IdleDelay time.Duration
}

// DefaultBufferConfig returns the standard buffer tuning.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		FlushCount:    8,
		TypeThreshold: 5,
		MaxDelay:      250 * time.Millisecond,
		IdleDelay:     100 * time.Millisecond,
	}
}

// OperationBuffer coalesces and prioritizes outgoing edits. High-priority
// and non-batchable operations bypass it entirely. Batchable operations
// accumulate by type; same-type drag/move operations collapse to the
// latest only. A flush fires on whichever trigger comes first: total
// count, per-type count, max delay since the oldest buffered operation,
// or an idle gap in the edit stream.
type OperationBuffer struct {
	cfg  BufferConfig
	sink func(ops []wire.Operation) error
	// onError surfaces an asynchronous flush failure to the caller side;
	// failed sends are not silently retried.
	onError func(ops []wire.Operation, err error)

	mu       sync.Mutex
	groups   map[wire.OperationType][]bufferedOp
	seq      uint64
	total    int
	flushing bool

	idleTimer *time.Timer
	maxTimer  *time.Timer
}

// bufferedOp tags an operation with its arrival order so equal-priority
// operations leave a flush in the order they were enqueued.
type bufferedOp struct {
	op  wire.Operation
	seq uint64
}

// NewOperationBuffer creates a buffer that delivers batches through sink.
func NewOperationBuffer(cfg BufferConfig, sink func([]wire.Operation) error, onError func([]wire.Operation, error)) *OperationBuffer {
	if cfg.FlushCount <= 0 {
		cfg.FlushCount = 8
	}
	if cfg.TypeThreshold <= 0 {
		cfg.TypeThreshold = 5
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 250 * time.Millisecond
	}
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = 100 * time.Millisecond
	}
	if onError == nil {
		onError = func([]wire.Operation, error) {}
	}
	return &OperationBuffer{
		cfg:     cfg,
		sink:    sink,
		onError: onError,
		groups:  make(map[wire.OperationType][]bufferedOp),
	}
}

// Enqueue accepts one local operation. High-priority and non-batchable
// operations are sent immediately and their send error returned to the
// caller; buffered operations return nil and surface failures through the
// error callback.
func (b *OperationBuffer) Enqueue(op wire.Operation) error {
	if op.Priority == wire.PriorityHigh || !op.Batchable {
		return b.sink([]wire.Operation{op})
	}

	b.mu.Lock()

	group := b.groups[op.Type]
	if op.Drag && len(group) > 0 && group[len(group)-1].op.Drag {
		// A continuing drag supersedes the buffered position
		group[len(group)-1].op = op
	} else {
		b.seq++
		b.groups[op.Type] = append(group, bufferedOp{op: op, seq: b.seq})
		b.total++
	}

	shouldFlush := b.total >= b.cfg.FlushCount || len(b.groups[op.Type]) >= b.cfg.TypeThreshold

	if b.maxTimer == nil {
		b.maxTimer = time.AfterFunc(b.cfg.MaxDelay, b.Flush)
	}
	if b.idleTimer != nil {
		b.idleTimer.Stop()
	}
	b.idleTimer = time.AfterFunc(b.cfg.IdleDelay, b.Flush)

	b.mu.Unlock()

	if shouldFlush {
		b.Flush()
	}
	return nil
}

// Flush drains the buffer, sending higher-priority groups before lower.
// A flush in progress is never re-entered; concurrent triggers coalesce.
func (b *OperationBuffer) Flush() {
	b.mu.Lock()
	if b.flushing || b.total == 0 {
		b.mu.Unlock()
		return
	}
	b.flushing = true

	entries := make([]bufferedOp, 0, b.total)
	for _, group := range b.groups {
		entries = append(entries, group...)
	}
	b.groups = make(map[wire.OperationType][]bufferedOp)
	b.total = 0
	b.stopTimersLocked()
	b.mu.Unlock()

	// Priority descending, enqueue order within a priority
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].op.Priority != entries[j].op.Priority {
			return entries[i].op.Priority > entries[j].op.Priority
		}
		return entries[i].seq < entries[j].seq
	})
	batch := make([]wire.Operation, len(entries))
	for i, entry := range entries {
		batch[i] = entry.op
	}

	err := b.sink(batch)

	b.mu.Lock()
	b.flushing = false
	b.mu.Unlock()

	if err != nil {
		b.onError(batch, err)
	}
}

// Pending returns the number of buffered operations.
func (b *OperationBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Reset discards buffered operations without sending, used on teardown.
func (b *OperationBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groups = make(map[wire.OperationType][]bufferedOp)
	b.total = 0
	b.stopTimersLocked()
}

func (b *OperationBuffer) stopTimersLocked() {
	if b.idleTimer != nil {
		b.idleTimer.Stop()
		b.idleTimer = nil
	}
	if b.maxTimer != nil {
		b.maxTimer.Stop()
		b.maxTimer = nil
	}
}
