package domain

import "time"

type SessionID string

// Role identifies which side of a session a connection speaks for.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleStreamer Role = "streamer"
)

// Valid reports whether the role is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleStreamer
}

type SessionStatus string

const (
	// StatusWaiting means no streamer is currently bound.
	StatusWaiting SessionStatus = "waiting"
	// StatusConnected means a streamer is bound; viewer presence does not matter.
	StatusConnected SessionStatus = "connected"
)

// Session is the unit of pairing between one viewer and one streamer.
// At most one connection handle per role is bound at any instant.
type Session struct {
	ID        SessionID
	CreatedAt time.Time
	Status    SessionStatus
	// FrameCount counts snapshots dispatched to detection for this session.
	FrameCount int64
}
