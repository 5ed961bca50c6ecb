package api

import (
	"github.com/drawdock/drawdock/wire"
)

// OperationHistory is a bounded FIFO buffer of the most recent operations
// relayed through one room. When full, appending evicts the oldest entry.
// It is not a replay log: a reconnecting client re-fetches full state via
// get_diagram instead of reading history.
//
// Not safe for concurrent use; the owning room serializes access.
type OperationHistory struct {
	entries  []wire.Operation
	capacity int
	start    int
	count    int
}

// NewOperationHistory creates a history buffer with the given capacity.
func NewOperationHistory(capacity int) *OperationHistory {
	if capacity <= 0 {
		capacity = 1
	}
	return &OperationHistory{
		entries:  make([]wire.Operation, capacity),
		capacity: capacity,
	}
}

// Append records an operation, evicting the oldest entry when full.
// It reports whether an eviction occurred.
func (h *OperationHistory) Append(op wire.Operation) bool {
	if h.count < h.capacity {
		h.entries[(h.start+h.count)%h.capacity] = op
		h.count++
		return false
	}
	h.entries[h.start] = op
	h.start = (h.start + 1) % h.capacity
	return true
}

// Len returns the number of buffered operations.
func (h *OperationHistory) Len() int {
	return h.count
}

// Capacity returns the fixed buffer capacity.
func (h *OperationHistory) Capacity() int {
	return h.capacity
}

// Operations returns the buffered operations oldest-first.
func (h *OperationHistory) Operations() []wire.Operation {
	out := make([]wire.Operation, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.entries[(h.start+i)%h.capacity]
	}
	return out
}
