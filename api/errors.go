package api

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the persistence gateway.
var (
	// ErrNotFound indicates the requested diagram does not exist
	ErrNotFound = errors.New("diagram not found")
	// ErrDiagramExists indicates an id collision during create
	ErrDiagramExists = errors.New("diagram already exists")
)

// VersionConflictError is returned when a version-checked write loses the
// optimistic-concurrency race. Current carries the authoritative stored
// version so the requester can decide to reload or force-overwrite.
type VersionConflictError struct {
	DiagramID string
	Expected  int64
	Current   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on diagram %s: expected %d, stored %d",
		e.DiagramID, e.Expected, e.Current)
}

// AsVersionConflict unwraps err into a VersionConflictError if it is one.
func AsVersionConflict(err error) (*VersionConflictError, bool) {
	var vc *VersionConflictError
	if errors.As(err, &vc) {
		return vc, true
	}
	return nil, false
}
