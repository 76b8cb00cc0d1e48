package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/store"
)

type fakeSocket struct {
	mu     sync.Mutex
	events []string
	fail   error
	closed bool
}

func (s *fakeSocket) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestRegistry(t *testing.T) (*Registry, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(st, zerolog.Nop()), st
}

func TestConnectAndFanOut(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	phone := &fakeSocket{}
	laptop := &fakeSocket{}
	require.NoError(t, r.Connect(ctx, "c1", 1, "phone", phone))
	require.NoError(t, r.Connect(ctx, "c2", 1, "laptop", laptop))

	assert.True(t, r.IsOnline(1))
	assert.Equal(t, 2, r.Count())

	n := r.SendToUser(ctx, 1, "ping", nil)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, phone.sent())
	assert.Equal(t, 1, laptop.sent())
}

func TestConnectSameIDRefreshesHeartbeat(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	sock := &fakeSocket{}
	require.NoError(t, r.Connect(ctx, "c1", 1, "phone", sock))
	require.NoError(t, r.Connect(ctx, "c1", 1, "phone", sock))

	assert.Equal(t, 1, r.Count())
	assert.Len(t, r.Connections(1), 1)
}

func TestDisconnectUnknownIsNoOp(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.False(t, r.Disconnect(context.Background(), "ghost"))
}

func TestDisconnectLastConnection(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	a := &fakeSocket{}
	b := &fakeSocket{}
	require.NoError(t, r.Connect(ctx, "c1", 1, "phone", a))
	require.NoError(t, r.Connect(ctx, "c2", 1, "laptop", b))

	assert.True(t, r.Disconnect(ctx, "c1"))
	assert.True(t, r.IsOnline(1))
	assert.True(t, a.closed)

	assert.True(t, r.Disconnect(ctx, "c2"))
	assert.False(t, r.IsOnline(1))
	assert.Equal(t, 0, r.SendToUser(ctx, 1, "ping", nil))
}

func TestStaffGoesOfflineWithLastConnection(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertUser(ctx, &models.User{ID: 7, Username: "agent", Role: models.RoleAgent}))
	require.NoError(t, st.UpsertAgentStatus(ctx, 7, models.AgentOnline, time.Now().UTC()))

	require.NoError(t, r.Connect(ctx, "c1", 7, "desk", &fakeSocket{}))
	require.NoError(t, r.Connect(ctx, "c2", 7, "phone", &fakeSocket{}))

	r.Disconnect(ctx, "c1")
	agents, err := st.ListOnlineAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 1)

	r.Disconnect(ctx, "c2")
	agents, err = st.ListOnlineAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestCustomerDisconnectLeavesAgentsAlone(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertUser(ctx, &models.User{ID: 1, Username: "user", Role: models.RoleUser}))
	require.NoError(t, st.UpsertAgentStatus(ctx, 7, models.AgentOnline, time.Now().UTC()))

	require.NoError(t, r.Connect(ctx, "c1", 1, "phone", &fakeSocket{}))
	r.Disconnect(ctx, "c1")

	agents, err := st.ListOnlineAgents(ctx)
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

func TestSendFailureTearsConnectionDown(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	bad := &fakeSocket{fail: errors.New("broken pipe")}
	require.NoError(t, r.Connect(ctx, "c1", 1, "phone", bad))

	assert.Equal(t, 0, r.SendToUser(ctx, 1, "ping", nil))
	assert.False(t, r.IsOnline(1))
	assert.True(t, bad.closed)
}

func TestHeartbeatUnknownConnection(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.False(t, r.Heartbeat(context.Background(), "ghost"))
}

func TestSweepRemovesStaleConnections(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	base := time.Now().UTC()
	r.now = func() time.Time { return base }

	stale := &fakeSocket{}
	fresh := &fakeSocket{}
	require.NoError(t, r.Connect(ctx, "old", 1, "phone", stale))
	require.NoError(t, r.Connect(ctx, "new", 2, "phone", fresh))

	// Only "new" heartbeats before the timeout elapses
	r.now = func() time.Time { return base.Add(HeartbeatTimeout - time.Second) }
	require.True(t, r.Heartbeat(ctx, "new"))

	r.now = func() time.Time { return base.Add(HeartbeatTimeout + time.Second) }
	swept := r.Sweep(ctx)

	assert.Equal(t, 1, swept)
	assert.False(t, r.IsOnline(1))
	assert.True(t, r.IsOnline(2))
	assert.True(t, stale.closed)
	assert.False(t, fresh.closed)

	conns, err := st.CleanupStaleConnections(ctx, r.now().Add(-HeartbeatTimeout), r.now())
	require.NoError(t, err)
	assert.Zero(t, conns)
}

func TestHeartbeatKeepsConnectionAlive(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	base := time.Now().UTC()
	r.now = func() time.Time { return base }
	require.NoError(t, r.Connect(ctx, "c1", 1, "phone", &fakeSocket{}))

	for i := 1; i <= 4; i++ {
		r.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		require.True(t, r.Heartbeat(ctx, "c1"))
		assert.Zero(t, r.Sweep(ctx))
	}
	assert.True(t, r.IsOnline(1))
}
