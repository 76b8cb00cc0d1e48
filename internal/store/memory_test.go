package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/models"
)

func TestSessionSummaryUnreadAndLastMessage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertUser(ctx, &models.User{ID: 1, Username: "casey", Email: "casey@example.com"}))
	_, err := s.CreateSession(ctx, "s1", 1, now)
	require.NoError(t, err)
	won, err := s.AssignSession(ctx, "s1", 7, now)
	require.NoError(t, err)
	require.True(t, won)

	agentID := int64(7)
	for i, content := range []string{"first", "second", "third"} {
		msg := &models.ChatMessage{
			ID:         string(rune('a' + i)),
			SessionID:  "s1",
			FromUserID: 1,
			ToUserID:   &agentID,
			Content:    content,
			Status:     models.MessageSent,
			CreatedAt:  now.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.InsertMessage(ctx, msg))
	}

	// Agent reads the first message
	ok, err := s.UpdateMessageStatus(ctx, "a", models.MessageRead, now)
	require.NoError(t, err)
	require.True(t, ok)

	sessions, err := s.ListAgentSessions(ctx, 7, false)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	sum := sessions[0]
	assert.Equal(t, "casey", sum.Username)
	assert.Equal(t, 2, sum.UnreadCount)
	require.NotNil(t, sum.LastMessage)
	assert.Equal(t, "third", *sum.LastMessage)
}

func TestConnectionLifecyclePersistence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, s.CreateConnection(ctx, &models.Connection{
		ConnectionID:  "c1",
		UserID:        1,
		DeviceID:      "phone",
		Status:        models.ConnectionConnected,
		LastHeartbeat: now,
		ConnectedAt:   now,
	}))

	// Re-create refreshes instead of duplicating
	require.NoError(t, s.CreateConnection(ctx, &models.Connection{
		ConnectionID:  "c1",
		UserID:        1,
		DeviceID:      "phone",
		Status:        models.ConnectionConnected,
		LastHeartbeat: now.Add(time.Minute),
		ConnectedAt:   now,
	}))

	swept, err := s.CleanupStaleConnections(ctx, now.Add(30*time.Second), now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, swept)

	swept, err = s.CleanupStaleConnections(ctx, now.Add(2*time.Minute), now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	// Already disconnected: both disconnect and cleanup are no-ops now
	removed, err := s.DisconnectConnection(ctx, "c1", now.Add(4*time.Minute))
	require.NoError(t, err)
	assert.False(t, removed)
}
