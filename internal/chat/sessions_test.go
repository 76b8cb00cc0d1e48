package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/store"
)

func newTestRouter(t *testing.T) (*SessionRouter, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewSessionRouter(st, zerolog.Nop()), st
}

func TestCreatePendingIsIdempotent(t *testing.T) {
	r, _ := newTestRouter(t)

	created, err := r.CreatePending(context.Background(), "s1", 1)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = r.CreatePending(context.Background(), "s1", 1)
	require.NoError(t, err)
	assert.False(t, created)

	sess, err := r.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, sess.Status)
	assert.Equal(t, int64(1), sess.UserID)
}

func TestAssignLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)
	_, err := r.CreatePending(context.Background(), "s1", 1)
	require.NoError(t, err)

	won, err := r.Assign(context.Background(), "s1", 7)
	require.NoError(t, err)
	assert.True(t, won)

	sess, err := r.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, sess.Status)
	require.NotNil(t, sess.AgentID)
	assert.Equal(t, int64(7), *sess.AgentID)
	require.NotNil(t, sess.StartedAt)

	// Second claim loses: the session is no longer pending
	won, err = r.Assign(context.Background(), "s1", 8)
	require.NoError(t, err)
	assert.False(t, won)

	sess, err = r.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), *sess.AgentID)
}

func TestRacingAssignsHaveOneWinner(t *testing.T) {
	r, _ := newTestRouter(t)

	for round := 0; round < 20; round++ {
		sessionID := string(rune('a' + round))
		_, err := r.CreatePending(context.Background(), sessionID, 1)
		require.NoError(t, err)

		var wins int64
		var wg sync.WaitGroup
		for agent := int64(10); agent < 20; agent++ {
			wg.Add(1)
			go func(agentID int64) {
				defer wg.Done()
				won, err := r.Assign(context.Background(), sessionID, agentID)
				assert.NoError(t, err)
				if won {
					atomic.AddInt64(&wins, 1)
				}
			}(agent)
		}
		wg.Wait()

		assert.Equal(t, int64(1), wins, "session %s", sessionID)
	}
}

func TestCloseFromPending(t *testing.T) {
	r, _ := newTestRouter(t)
	_, err := r.CreatePending(context.Background(), "s1", 1)
	require.NoError(t, err)

	closed, err := r.Close(context.Background(), "s1", 1)
	require.NoError(t, err)
	assert.True(t, closed)

	sess, err := r.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionClosed, sess.Status)
	require.NotNil(t, sess.ClosedAt)
}

func TestCloseIsTerminal(t *testing.T) {
	r, _ := newTestRouter(t)
	_, err := r.CreatePending(context.Background(), "s1", 1)
	require.NoError(t, err)

	closed, err := r.Close(context.Background(), "s1", 1)
	require.NoError(t, err)
	require.True(t, closed)

	// Closing again is a no-op
	closed, err = r.Close(context.Background(), "s1", 1)
	require.NoError(t, err)
	assert.False(t, closed)

	// Assign cannot resurrect a closed session
	won, err := r.Assign(context.Background(), "s1", 7)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestCloseUnknownSession(t *testing.T) {
	r, _ := newTestRouter(t)

	closed, err := r.Close(context.Background(), "nope", 1)
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestListPendingOldestFirst(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := r.CreatePending(context.Background(), id, 1)
		require.NoError(t, err)
	}

	won, err := r.Assign(context.Background(), "s2", 7)
	require.NoError(t, err)
	require.True(t, won)

	pending, err := r.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "s1", pending[0].SessionID)
	assert.Equal(t, "s3", pending[1].SessionID)
}

func TestListAgentSessions(t *testing.T) {
	r, _ := newTestRouter(t)
	_, err := r.CreatePending(context.Background(), "mine", 1)
	require.NoError(t, err)
	_, err = r.CreatePending(context.Background(), "waiting", 2)
	require.NoError(t, err)

	won, err := r.Assign(context.Background(), "mine", 7)
	require.NoError(t, err)
	require.True(t, won)

	active, err := r.ListAgentSessions(context.Background(), 7, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "mine", active[0].SessionID)

	all, err := r.ListAgentSessions(context.Background(), 7, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
