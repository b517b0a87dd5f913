package registry

import (
	"context"
	"sync"
	"time"

	"lenslink/internal/core/domain"
	"lenslink/internal/core/ports"
	"lenslink/pkg/utils"

	"go.uber.org/zap"
)

// entry guards one session record. All role mutations go through mu; gen is
// bumped on every bind so a stale grace timer from an earlier unbind cannot
// destroy a session that was repopulated in between.
type entry struct {
	mu       sync.Mutex
	session  *domain.Session
	viewer   ports.Conn
	streamer ports.Conn
	gen      uint64
}

func (e *entry) empty() bool {
	return e.viewer == nil && e.streamer == nil
}

// MemoryRegistry is the in-memory SessionRegistry. Sessions live until both
// roles stay unbound for the grace period.
type MemoryRegistry struct {
	sessions map[domain.SessionID]*entry
	mu       sync.RWMutex

	grace       time.Duration
	events      ports.SessionEvents
	onDestroyed func(domain.SessionID)
	logger      *zap.SugaredLogger

	closed chan struct{}
	once   sync.Once
}

func NewMemoryRegistry(grace time.Duration, events ports.SessionEvents, logger *zap.SugaredLogger) *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[domain.SessionID]*entry),
		grace:    grace,
		events:   events,
		logger:   logger,
		closed:   make(chan struct{}),
	}
}

// SetEvents installs the lifecycle hook. Must be called before any bind
// activity; the relay and registry reference each other, so wiring happens in
// two steps at startup.
func (r *MemoryRegistry) SetEvents(events ports.SessionEvents) {
	r.events = events
}

// SetOnDestroyed installs a hook invoked after a session is removed by the
// grace timer. Used for metrics.
func (r *MemoryRegistry) SetOnDestroyed(fn func(domain.SessionID)) {
	r.onDestroyed = fn
}

func (r *MemoryRegistry) Create(ctx context.Context) (*domain.Session, error) {
	session := &domain.Session{
		ID:        domain.SessionID(utils.GenerateSessionID()),
		CreatedAt: time.Now(),
		Status:    domain.StatusWaiting,
	}

	e := &entry{session: session}
	r.mu.Lock()
	r.sessions[session.ID] = e
	r.mu.Unlock()

	// A session nobody ever joins must not outlive the grace period; the
	// first bind bumps gen and invalidates this timer.
	r.scheduleDestroy(session.ID, e, 0)

	r.logger.Infow("session created", "session_id", session.ID)
	return snapshot(session), nil
}

func (r *MemoryRegistry) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.session), nil
}

func (r *MemoryRegistry) List(ctx context.Context) ([]*domain.Session, error) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sessions := make([]*domain.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		sessions = append(sessions, snapshot(e.session))
		e.mu.Unlock()
	}
	return sessions, nil
}

func (r *MemoryRegistry) BindRole(ctx context.Context, id domain.SessionID, conn ports.Conn, role domain.Role) (ports.Conn, error) {
	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}

	e, ok := r.lookup(id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	e.mu.Lock()
	e.gen++

	var replaced ports.Conn
	var notifyViewer ports.Conn

	switch role {
	case domain.RoleViewer:
		replaced = e.viewer
		e.viewer = conn
	case domain.RoleStreamer:
		replaced = e.streamer
		e.streamer = conn
		e.session.Status = domain.StatusConnected
		notifyViewer = e.viewer
	}
	e.mu.Unlock()

	if replaced != nil && replaced != conn && r.events != nil {
		r.events.ConnReplaced(id, role, replaced)
	}
	if notifyViewer != nil && r.events != nil {
		r.events.StreamerConnected(id, notifyViewer)
	}

	r.logger.Infow("role bound",
		"session_id", id,
		"role", role,
		"superseded", replaced != nil,
	)
	return replaced, nil
}

func (r *MemoryRegistry) UnbindRole(ctx context.Context, id domain.SessionID, conn ports.Conn) error {
	e, ok := r.lookup(id)
	if !ok {
		return domain.ErrSessionNotFound
	}

	e.mu.Lock()

	var role domain.Role
	var notify ports.Conn
	switch conn {
	case e.viewer:
		role = domain.RoleViewer
		e.viewer = nil
		notify = e.streamer
	case e.streamer:
		role = domain.RoleStreamer
		e.streamer = nil
		e.session.Status = domain.StatusWaiting
		notify = e.viewer
	default:
		// Already superseded by a reconnect; nothing to clear.
		e.mu.Unlock()
		return nil
	}

	if e.empty() {
		r.scheduleDestroy(id, e, e.gen)
	}
	e.mu.Unlock()

	if r.events != nil {
		switch role {
		case domain.RoleViewer:
			if notify != nil {
				r.events.ViewerDisconnected(id, notify)
			}
		case domain.RoleStreamer:
			if notify != nil {
				r.events.StreamerDisconnected(id, notify)
			}
		}
	}

	r.logger.Infow("role unbound", "session_id", id, "role", role)
	return nil
}

func (r *MemoryRegistry) RoleConn(id domain.SessionID, role domain.Role) ports.Conn {
	e, ok := r.lookup(id)
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch role {
	case domain.RoleViewer:
		return e.viewer
	case domain.RoleStreamer:
		return e.streamer
	}
	return nil
}

func (r *MemoryRegistry) AddFrame(ctx context.Context, id domain.SessionID) error {
	e, ok := r.lookup(id)
	if !ok {
		return domain.ErrSessionNotFound
	}

	e.mu.Lock()
	e.session.FrameCount++
	e.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) Close() {
	r.once.Do(func() {
		close(r.closed)
	})
}

// scheduleDestroy arms the grace timer, at creation and whenever both roles
// go unbound. The timer callback re-checks both emptiness and generation
// under the entry lock, so an intervening bind (even one followed by another
// unbind) invalidates this timer.
func (r *MemoryRegistry) scheduleDestroy(id domain.SessionID, e *entry, gen uint64) {
	time.AfterFunc(r.grace, func() {
		select {
		case <-r.closed:
			return
		default:
		}

		e.mu.Lock()
		stale := !e.empty() || e.gen != gen
		e.mu.Unlock()
		if stale {
			return
		}

		r.mu.Lock()
		cur, ok := r.sessions[id]
		removed := ok && cur == e
		if removed {
			delete(r.sessions, id)
		}
		r.mu.Unlock()

		if !removed {
			return
		}

		if r.onDestroyed != nil {
			r.onDestroyed(id)
		}
		r.logger.Infow("session destroyed after grace period", "session_id", id)
	})
}

func (r *MemoryRegistry) lookup(id domain.SessionID) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e, ok
}

// snapshot copies the record so callers never observe concurrent mutation.
func snapshot(s *domain.Session) *domain.Session {
	copied := *s
	return &copied
}
