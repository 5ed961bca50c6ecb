package client

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailed indicates a terminal authentication failure; no further
	// automatic reconnection happens until Reset is called.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrTooManyAttempts is surfaced when reconnection exhausts its allowed attempts.
	ErrTooManyAttempts = errors.New("reconnect attempts exhausted")
	// ErrCooldown rejects a connect made inside a cooldown window.
	ErrCooldown = errors.New("connect attempted within cooldown window")
	// ErrRequestTimeout rejects a correlated request whose reply never came.
	ErrRequestTimeout = errors.New("request timed out")
	// ErrNotConnected rejects sends while no connection is open.
	ErrNotConnected = errors.New("not connected")
	// ErrNotFound reports that the target diagram does not exist.
	ErrNotFound = errors.New("diagram not found")
	// ErrEvicted reports that the session was replaced by a newer
	// connection for the same user.
	ErrEvicted = errors.New("session evicted by a newer connection")
)

// VersionConflictError reports a save rejected by the server's version
// check. CurrentVersion is the authoritative stored version; the caller
// must choose to reload or force-overwrite, never both silently.
type VersionConflictError struct {
	DiagramID      string
	CurrentVersion int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("save rejected for diagram %s: server is at version %d",
		e.DiagramID, e.CurrentVersion)
}

// AsVersionConflict unwraps err into a VersionConflictError if it is one.
func AsVersionConflict(err error) (*VersionConflictError, bool) {
	var vc *VersionConflictError
	if errors.As(err, &vc) {
		return vc, true
	}
	return nil, false
}
