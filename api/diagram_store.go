package api

import (
	"context"
	"encoding/json"
	"time"
)

// DiagramRecord is the persisted state of one diagram. Version starts at 0
// and increases by exactly 1 per accepted write; a rejected write never
// mutates the record.
type DiagramRecord struct {
	ID           string          `json:"id"`
	Version      int64           `json:"version"`
	Content      json.RawMessage `json:"content"`
	LastModified time.Time       `json:"last_modified"`
}

// DiagramStore is the persistence gateway. All writes are version-checked:
// the stored version must equal the caller's expected version or the write
// is rejected with a VersionConflictError carrying the authoritative
// version. The check and the write are an optimistic-concurrency pair, not
// mutual exclusion; two writers that read the same version can both believe
// it current, and only the second write is rejected.
type DiagramStore interface {
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, id string) (*DiagramRecord, error)
	// Exists reports whether the diagram exists without loading content.
	Exists(ctx context.Context, id string) (bool, error)
	// Create allocates a fresh collision-checked id and writes version 0.
	Create(ctx context.Context, content json.RawMessage) (*DiagramRecord, error)
	// Update applies content when expectedVersion matches the stored
	// version, setting version = expectedVersion+1. Returns the updated
	// record, or ErrNotFound, or a VersionConflictError.
	Update(ctx context.Context, id string, content json.RawMessage, expectedVersion int64) (*DiagramRecord, error)
}
