package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"lenslink/internal/core/domain"
	"lenslink/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []interface{}
	closed bool
}

func (c *fakeConn) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type eventLog struct {
	mu                  sync.Mutex
	streamerConnected   int
	streamerDisconnects int
	viewerDisconnects   int
	replaced            int
}

func (e *eventLog) StreamerConnected(id domain.SessionID, viewer ports.Conn) {
	e.mu.Lock()
	e.streamerConnected++
	e.mu.Unlock()
}

func (e *eventLog) StreamerDisconnected(id domain.SessionID, viewer ports.Conn) {
	e.mu.Lock()
	e.streamerDisconnects++
	e.mu.Unlock()
}

func (e *eventLog) ViewerDisconnected(id domain.SessionID, streamer ports.Conn) {
	e.mu.Lock()
	e.viewerDisconnects++
	e.mu.Unlock()
}

func (e *eventLog) ConnReplaced(id domain.SessionID, role domain.Role, old ports.Conn) {
	e.mu.Lock()
	e.replaced++
	e.mu.Unlock()
}

func (e *eventLog) counts() (int, int, int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streamerConnected, e.streamerDisconnects, e.viewerDisconnects, e.replaced
}

func newTestRegistry(t *testing.T, grace time.Duration, events ports.SessionEvents) *MemoryRegistry {
	t.Helper()
	r := NewMemoryRegistry(grace, events, zap.NewNop().Sugar())
	t.Cleanup(r.Close)
	return r
}

func TestCreateUniqueIDs(t *testing.T) {
	r := newTestRegistry(t, time.Minute, nil)
	ctx := context.Background()

	seen := make(map[domain.SessionID]bool)
	for i := 0; i < 100; i++ {
		s, err := r.Create(ctx)
		require.NoError(t, err)
		assert.False(t, seen[s.ID], "duplicate session id %s", s.ID)
		seen[s.ID] = true
		assert.Equal(t, domain.StatusWaiting, s.Status)
	}
}

func TestGetUnknownSession(t *testing.T) {
	r := newTestRegistry(t, time.Minute, nil)

	_, err := r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestBindRoleInvalid(t *testing.T) {
	r := newTestRegistry(t, time.Minute, nil)
	ctx := context.Background()

	s, err := r.Create(ctx)
	require.NoError(t, err)

	_, err = r.BindRole(ctx, s.ID, &fakeConn{}, domain.Role("observer"))
	assert.ErrorIs(t, err, domain.ErrInvalidRole)

	_, err = r.BindRole(ctx, "missing", &fakeConn{}, domain.RoleViewer)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStreamerBindFlipsStatusAndNotifiesViewer(t *testing.T) {
	events := &eventLog{}
	r := newTestRegistry(t, time.Minute, events)
	ctx := context.Background()

	s, err := r.Create(ctx)
	require.NoError(t, err)

	viewer := &fakeConn{}
	_, err = r.BindRole(ctx, s.ID, viewer, domain.RoleViewer)
	require.NoError(t, err)

	got, err := r.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, got.Status)

	streamer := &fakeConn{}
	_, err = r.BindRole(ctx, s.ID, streamer, domain.RoleStreamer)
	require.NoError(t, err)

	got, err = r.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnected, got.Status)

	connected, _, _, _ := events.counts()
	assert.Equal(t, 1, connected)
}

func TestLastBindWins(t *testing.T) {
	events := &eventLog{}
	r := newTestRegistry(t, time.Minute, events)
	ctx := context.Background()

	s, err := r.Create(ctx)
	require.NoError(t, err)

	first := &fakeConn{}
	replaced, err := r.BindRole(ctx, s.ID, first, domain.RoleViewer)
	require.NoError(t, err)
	assert.Nil(t, replaced)

	second := &fakeConn{}
	replaced, err = r.BindRole(ctx, s.ID, second, domain.RoleViewer)
	require.NoError(t, err)
	assert.Same(t, first, replaced.(*fakeConn))

	assert.Same(t, second, r.RoleConn(s.ID, domain.RoleViewer).(*fakeConn))

	_, _, _, replacedCount := events.counts()
	assert.Equal(t, 1, replacedCount)
}

func TestUnbindSupersededHandleIsNoop(t *testing.T) {
	events := &eventLog{}
	r := newTestRegistry(t, time.Minute, events)
	ctx := context.Background()

	s, err := r.Create(ctx)
	require.NoError(t, err)

	first := &fakeConn{}
	_, err = r.BindRole(ctx, s.ID, first, domain.RoleStreamer)
	require.NoError(t, err)

	second := &fakeConn{}
	_, err = r.BindRole(ctx, s.ID, second, domain.RoleStreamer)
	require.NoError(t, err)

	// The stale handle disconnecting must not clear the new binding.
	require.NoError(t, r.UnbindRole(ctx, s.ID, first))
	assert.Same(t, second, r.RoleConn(s.ID, domain.RoleStreamer).(*fakeConn))

	got, err := r.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnected, got.Status)

	_, disconnects, _, _ := events.counts()
	assert.Equal(t, 0, disconnects)
}

func TestStreamerUnbindRevertsStatusExactlyOnce(t *testing.T) {
	events := &eventLog{}
	r := newTestRegistry(t, time.Minute, events)
	ctx := context.Background()

	s, err := r.Create(ctx)
	require.NoError(t, err)

	viewer := &fakeConn{}
	_, err = r.BindRole(ctx, s.ID, viewer, domain.RoleViewer)
	require.NoError(t, err)

	streamer := &fakeConn{}
	_, err = r.BindRole(ctx, s.ID, streamer, domain.RoleStreamer)
	require.NoError(t, err)

	require.NoError(t, r.UnbindRole(ctx, s.ID, streamer))
	// Second unbind with the same handle no longer matches a role.
	require.NoError(t, r.UnbindRole(ctx, s.ID, streamer))

	got, err := r.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, got.Status)

	_, disconnects, _, _ := events.counts()
	assert.Equal(t, 1, disconnects)
}

func TestGraceDestroysEmptySession(t *testing.T) {
	r := newTestRegistry(t, 20*time.Millisecond, nil)
	ctx := context.Background()

	destroyed := make(chan struct{})
	r.SetOnDestroyed(func(domain.SessionID) { close(destroyed) })

	s, err := r.Create(ctx)
	require.NoError(t, err)

	conn := &fakeConn{}
	_, err = r.BindRole(ctx, s.ID, conn, domain.RoleViewer)
	require.NoError(t, err)
	require.NoError(t, r.UnbindRole(ctx, s.ID, conn))

	select {
	case <-destroyed:
	case <-time.After(time.Second):
		t.Fatal("session was not destroyed after grace period")
	}

	_, err = r.Get(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestGraceDestroysUnjoinedSession(t *testing.T) {
	r := newTestRegistry(t, 20*time.Millisecond, nil)
	ctx := context.Background()

	destroyed := make(chan struct{})
	r.SetOnDestroyed(func(domain.SessionID) { close(destroyed) })

	// Created but never joined by either peer.
	s, err := r.Create(ctx)
	require.NoError(t, err)

	select {
	case <-destroyed:
	case <-time.After(time.Second):
		t.Fatal("unjoined session was not destroyed after grace period")
	}

	_, err = r.Get(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestBindCancelsCreationGraceTimer(t *testing.T) {
	r := newTestRegistry(t, 20*time.Millisecond, nil)
	ctx := context.Background()

	s, err := r.Create(ctx)
	require.NoError(t, err)

	_, err = r.BindRole(ctx, s.ID, &fakeConn{}, domain.RoleViewer)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	_, err = r.Get(ctx, s.ID)
	assert.NoError(t, err)
}

func TestRebindCancelsScheduledDestroy(t *testing.T) {
	r := newTestRegistry(t, 30*time.Millisecond, nil)
	ctx := context.Background()

	s, err := r.Create(ctx)
	require.NoError(t, err)

	conn := &fakeConn{}
	_, err = r.BindRole(ctx, s.ID, conn, domain.RoleViewer)
	require.NoError(t, err)
	require.NoError(t, r.UnbindRole(ctx, s.ID, conn))

	// Rebind within the grace period invalidates the pending timer.
	reconnect := &fakeConn{}
	_, err = r.BindRole(ctx, s.ID, reconnect, domain.RoleViewer)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	_, err = r.Get(ctx, s.ID)
	assert.NoError(t, err, "session must survive when a role rebinds during grace")
}

func TestAddFrame(t *testing.T) {
	r := newTestRegistry(t, time.Minute, nil)
	ctx := context.Background()

	s, err := r.Create(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.AddFrame(ctx, s.ID))
	}

	got, err := r.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.FrameCount)
}
