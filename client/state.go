package client

import (
	"encoding/json"
	"fmt"
	"sync"
)

// DocumentState is the client's reconciled view of a diagram: a map of
// element id to the latest payload applied for it. Snapshot operations
// replace the whole map; incremental operations apply by id.
type DocumentState struct {
	mu       sync.RWMutex
	elements map[string]json.RawMessage
}

// NewDocumentState creates an empty document state.
func NewDocumentState() *DocumentState {
	return &DocumentState{elements: make(map[string]json.RawMessage)}
}

// Upsert stores the latest payload for an element.
func (s *DocumentState) Upsert(id string, payload json.RawMessage) {
	clone := make(json.RawMessage, len(payload))
	copy(clone, payload)
	s.mu.Lock()
	s.elements[id] = clone
	s.mu.Unlock()
}

// Delete removes an element.
func (s *DocumentState) Delete(id string) {
	s.mu.Lock()
	delete(s.elements, id)
	s.mu.Unlock()
}

// ReplaceAll swaps in a whole snapshot: the payload's elements list
// replaces the current state wholesale.
func (s *DocumentState) ReplaceAll(payload json.RawMessage) error {
	var snapshot struct {
		Elements []json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return fmt.Errorf("malformed snapshot payload: %w", err)
	}

	next := make(map[string]json.RawMessage, len(snapshot.Elements))
	for _, element := range snapshot.Elements {
		id, err := payloadID(element)
		if err != nil {
			return fmt.Errorf("snapshot element: %w", err)
		}
		next[id] = element
	}

	s.mu.Lock()
	s.elements = next
	s.mu.Unlock()
	return nil
}

// Element returns the stored payload for id.
func (s *DocumentState) Element(id string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.elements[id]
	return payload, ok
}

// Len returns the number of elements.
func (s *DocumentState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.elements)
}
