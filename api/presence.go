package api

import (
	"hash/fnv"
	"time"

	"github.com/drawdock/drawdock/wire"
)

// sessionColors is the palette assigned to joining sessions. Assignment is
// a stable hash of the user identifier so a user keeps their color across
// reconnects.
var sessionColors = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
	"#008080", "#e6beff", "#9a6324", "#800000", "#aaffc3",
}

// colorForUser picks a palette color for a user identifier.
func colorForUser(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return sessionColors[int(h.Sum32())%len(sessionColors)]
}

// presence converts a session into its wire representation. The idle flag
// is decided here, server-side, from the last frame actually observed on
// the connection; client self-reports are not consulted.
func (s *Session) presence(now time.Time, idleAfter time.Duration) wire.Presence {
	return wire.Presence{
		SessionID:   s.ID,
		UserID:      s.UserID,
		DisplayName: s.DisplayName,
		Color:       s.Color,
		JoinedAt:    s.JoinedAt,
		Idle:        idleAfter > 0 && now.Sub(s.lastActivity) > idleAfter,
	}
}
