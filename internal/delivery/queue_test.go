package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/broadcast"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/store"
)

type fakeSender struct {
	online map[int64]int
}

func (s *fakeSender) SendToUser(ctx context.Context, userID int64, event string, payload any) int {
	return s.online[userID]
}

func (s *fakeSender) SendToConnection(ctx context.Context, connectionID, event string, payload any) bool {
	return false
}

func newTestQueue(t *testing.T, online map[int64]int) (*Queue, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	b := broadcast.New(&fakeSender{online: online}, st, zerolog.Nop())
	return NewQueue(st, b, zerolog.Nop()), st
}

func seedMessage(t *testing.T, st *store.MemoryStore, toUserID int64) *models.ChatMessage {
	t.Helper()
	now := time.Now().UTC()
	msg := &models.ChatMessage{
		ID:         ulid.Make().String(),
		SessionID:  "s1",
		FromUserID: 1,
		ToUserID:   &toUserID,
		Content:    "hello",
		Status:     models.MessageSent,
		CreatedAt:  now,
	}
	require.NoError(t, st.InsertMessage(context.Background(), msg))
	return msg
}

func pendingEntries(t *testing.T, st *store.MemoryStore, at time.Time) []models.QueueEntry {
	t.Helper()
	out, err := st.DequeuePending(context.Background(), 0, at)
	require.NoError(t, err)
	return out
}

func TestDeliverySucceedsWhenRecipientOnline(t *testing.T) {
	q, st := newTestQueue(t, map[int64]int{2: 1})
	ctx := context.Background()

	msg := seedMessage(t, st, 2)
	require.NoError(t, q.Enqueue(ctx, msg))
	require.NoError(t, q.Drain(ctx))

	got, err := st.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)

	assert.Empty(t, pendingEntries(t, st, time.Now().UTC().Add(time.Hour)))
}

func TestDeliveryReschedulesWithBackoff(t *testing.T) {
	q, st := newTestQueue(t, nil)
	ctx := context.Background()

	base := time.Now().UTC()
	q.now = func() time.Time { return base }

	msg := seedMessage(t, st, 2)
	require.NoError(t, q.Enqueue(ctx, msg))
	require.NoError(t, q.Drain(ctx))

	// Rescheduled, not due until the backoff elapses
	assert.Empty(t, pendingEntries(t, st, base))
	due := pendingEntries(t, st, base.Add(RetryBackoffBase))
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].RetryCount)

	got, err := st.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageSent, got.Status)
}

func TestBackoffDoubles(t *testing.T) {
	q, st := newTestQueue(t, nil)
	ctx := context.Background()

	base := time.Now().UTC()
	q.now = func() time.Time { return base }

	msg := seedMessage(t, st, 2)
	require.NoError(t, q.Enqueue(ctx, msg))

	// First attempt: next retry after the base delay
	require.NoError(t, q.Drain(ctx))
	due := pendingEntries(t, st, base.Add(RetryBackoffBase))
	require.Len(t, due, 1)
	require.NotNil(t, due[0].NextRetryAt)
	assert.Equal(t, base.Add(RetryBackoffBase), *due[0].NextRetryAt)

	// Second attempt: delay doubles
	q.now = func() time.Time { return base.Add(RetryBackoffBase) }
	require.NoError(t, q.Drain(ctx))
	due = pendingEntries(t, st, base.Add(time.Hour))
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].RetryCount)
	assert.Equal(t, base.Add(RetryBackoffBase).Add(2*RetryBackoffBase), *due[0].NextRetryAt)
}

func TestDeliveryFailsAfterMaxRetries(t *testing.T) {
	q, st := newTestQueue(t, nil)
	ctx := context.Background()

	base := time.Now().UTC()
	msg := seedMessage(t, st, 2)
	require.NoError(t, q.Enqueue(ctx, msg))

	for i := 0; i < DefaultMaxRetries; i++ {
		offset := time.Duration(i) * time.Minute
		q.now = func() time.Time { return base.Add(offset) }
		require.NoError(t, q.Drain(ctx))
	}

	// Entry is terminal: nothing pending no matter how long we wait
	assert.Empty(t, pendingEntries(t, st, base.Add(24*time.Hour)))

	// The message itself stays undelivered for catch-up on reconnect
	backlog, err := st.ListUndeliveredMessages(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, backlog, 1)
	assert.Equal(t, msg.ID, backlog[0].ID)
}

func TestRecalledMessageIsNotDelivered(t *testing.T) {
	q, st := newTestQueue(t, map[int64]int{2: 1})
	ctx := context.Background()

	msg := seedMessage(t, st, 2)
	require.NoError(t, q.Enqueue(ctx, msg))
	require.NoError(t, st.MarkMessageRecalled(ctx, msg.ID))

	require.NoError(t, q.Drain(ctx))

	got, err := st.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageSent, got.Status)
	assert.Empty(t, pendingEntries(t, st, time.Now().UTC().Add(time.Hour)))
}

func TestRecipientComesBackBeforeRetriesRunOut(t *testing.T) {
	sender := &fakeSender{online: map[int64]int{}}
	st := store.NewMemoryStore()
	b := broadcast.New(sender, st, zerolog.Nop())
	q := NewQueue(st, b, zerolog.Nop())
	ctx := context.Background()

	base := time.Now().UTC()
	q.now = func() time.Time { return base }

	msg := seedMessage(t, st, 2)
	require.NoError(t, q.Enqueue(ctx, msg))
	require.NoError(t, q.Drain(ctx))

	// Recipient reconnects before the retry fires
	sender.online[2] = 1
	q.now = func() time.Time { return base.Add(RetryBackoffBase) }
	require.NoError(t, q.Drain(ctx))

	got, err := st.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageDelivered, got.Status)
}
