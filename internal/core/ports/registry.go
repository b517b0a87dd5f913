package ports

import (
	"context"

	"lenslink/internal/core/domain"
)

// Conn is a live transport connection handle bound to a session role. The
// registry only ever sends to or closes a handle; it never reads from one.
type Conn interface {
	Send(v interface{}) error
	Close() error
}

// SessionEvents receives lifecycle side effects from the registry. Callers
// format and deliver the actual wire notifications; hooks are invoked outside
// the session lock and must not call back into the registry synchronously.
type SessionEvents interface {
	StreamerConnected(sessionID domain.SessionID, viewer Conn)
	StreamerDisconnected(sessionID domain.SessionID, viewer Conn)
	ViewerDisconnected(sessionID domain.SessionID, streamer Conn)
	ConnReplaced(sessionID domain.SessionID, role domain.Role, old Conn)
}

// SessionRegistry owns session records for their full lifetime. All role
// mutations on one session are serialized; a session with both roles unbound
// is destroyed after a grace period unless a rebind intervenes.
type SessionRegistry interface {
	Create(ctx context.Context) (*domain.Session, error)
	Get(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	List(ctx context.Context) ([]*domain.Session, error)

	// BindRole binds conn to the role, replacing any prior handle
	// (last-bind-wins). The replaced handle, if any, is returned so the
	// transport can retire it.
	BindRole(ctx context.Context, id domain.SessionID, conn Conn, role domain.Role) (replaced Conn, err error)

	// UnbindRole clears whichever role currently holds conn. It is a no-op
	// when the handle has already been superseded by a reconnect.
	UnbindRole(ctx context.Context, id domain.SessionID, conn Conn) error

	// RoleConn returns the live handle for the role, or nil when unbound.
	RoleConn(id domain.SessionID, role domain.Role) Conn

	// AddFrame increments the session's dispatched-frame counter.
	AddFrame(ctx context.Context, id domain.SessionID) error

	Close()
}
