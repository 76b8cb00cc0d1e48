package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/store"
)

func newTestMessageStore(t *testing.T) (*MessageStore, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewMessageStore(st, zerolog.Nop()), st
}

func seedSession(t *testing.T, st *store.MemoryStore, sessionID string, userID int64) {
	t.Helper()
	created, err := st.CreateSession(context.Background(), sessionID, userID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, created)
}

func TestAppendAssignsSequence(t *testing.T) {
	ms, st := newTestMessageStore(t)
	seedSession(t, st, "s1", 1)
	agentID := int64(2)

	for i := 1; i <= 3; i++ {
		msg, err := ms.Append(context.Background(), "s1", 1, &agentID, "hello", models.MessageText, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(i), msg.SequenceNumber)
		assert.Equal(t, models.MessageSent, msg.Status)
		assert.NotEmpty(t, msg.ID)
	}
}

func TestAppendUnknownSession(t *testing.T) {
	ms, _ := newTestMessageStore(t)

	_, err := ms.Append(context.Background(), "missing", 1, nil, "hi", models.MessageText, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentAppendsAreGapFree(t *testing.T) {
	ms, st := newTestMessageStore(t)
	seedSession(t, st, "s1", 1)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := ms.Append(context.Background(), "s1", 1, nil, "m", models.MessageText, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, err := ms.History(context.Background(), "s1", n)
	require.NoError(t, err)
	require.Len(t, msgs, n)

	seen := make(map[int64]bool, n)
	for _, m := range msgs {
		seen[m.SequenceNumber] = true
	}
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing sequence %d", i)
	}
}

func TestConcurrentAppendsAcrossSessionsStayIndependent(t *testing.T) {
	ms, st := newTestMessageStore(t)
	seedSession(t, st, "a", 1)
	seedSession(t, st, "b", 2)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = ms.Append(context.Background(), "a", 1, nil, "m", models.MessageText, nil)
		}()
		go func() {
			defer wg.Done()
			_, _ = ms.Append(context.Background(), "b", 2, nil, "m", models.MessageText, nil)
		}()
	}
	wg.Wait()

	for _, sid := range []string{"a", "b"} {
		msgs, err := ms.History(context.Background(), sid, n)
		require.NoError(t, err)
		require.Len(t, msgs, n)
		assert.Equal(t, int64(1), msgs[0].SequenceNumber)
		assert.Equal(t, int64(n), msgs[n-1].SequenceNumber)
	}
}

func TestRecallWithinWindow(t *testing.T) {
	ms, st := newTestMessageStore(t)
	seedSession(t, st, "s1", 1)

	base := time.Now().UTC()
	ms.now = func() time.Time { return base }

	msg, err := ms.Append(context.Background(), "s1", 1, nil, "oops", models.MessageText, nil)
	require.NoError(t, err)

	// Just under the window
	ms.now = func() time.Time { return base.Add(RecallWindow - time.Second) }
	recalled, err := ms.Recall(context.Background(), msg.ID, 1)
	require.NoError(t, err)
	assert.True(t, recalled.IsRecalled)
}

func TestRecallAfterWindowExpires(t *testing.T) {
	ms, st := newTestMessageStore(t)
	seedSession(t, st, "s1", 1)

	base := time.Now().UTC()
	ms.now = func() time.Time { return base }

	msg, err := ms.Append(context.Background(), "s1", 1, nil, "oops", models.MessageText, nil)
	require.NoError(t, err)

	ms.now = func() time.Time { return base.Add(RecallWindow + time.Second) }
	_, err = ms.Recall(context.Background(), msg.ID, 1)
	assert.ErrorIs(t, err, ErrRecallExpired)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRecallBySomeoneElse(t *testing.T) {
	ms, st := newTestMessageStore(t)
	seedSession(t, st, "s1", 1)

	msg, err := ms.Append(context.Background(), "s1", 1, nil, "hi", models.MessageText, nil)
	require.NoError(t, err)

	_, err = ms.Recall(context.Background(), msg.ID, 2)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRecallTwice(t *testing.T) {
	ms, st := newTestMessageStore(t)
	seedSession(t, st, "s1", 1)

	msg, err := ms.Append(context.Background(), "s1", 1, nil, "hi", models.MessageText, nil)
	require.NoError(t, err)

	_, err = ms.Recall(context.Background(), msg.ID, 1)
	require.NoError(t, err)

	_, err = ms.Recall(context.Background(), msg.ID, 1)
	assert.ErrorIs(t, err, ErrAlreadyRecalled)
}

func TestEditHasNoTimeLimit(t *testing.T) {
	ms, st := newTestMessageStore(t)
	seedSession(t, st, "s1", 1)

	base := time.Now().UTC()
	ms.now = func() time.Time { return base }

	msg, err := ms.Append(context.Background(), "s1", 1, nil, "first", models.MessageText, nil)
	require.NoError(t, err)

	// Well past the recall window
	ms.now = func() time.Time { return base.Add(24 * time.Hour) }
	edited, err := ms.Edit(context.Background(), msg.ID, 1, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", edited.Content)
	assert.True(t, edited.IsEdited)
	require.NotNil(t, edited.EditedAt)
}

func TestEditByNonSender(t *testing.T) {
	ms, st := newTestMessageStore(t)
	seedSession(t, st, "s1", 1)

	msg, err := ms.Append(context.Background(), "s1", 1, nil, "hi", models.MessageText, nil)
	require.NoError(t, err)

	_, err = ms.Edit(context.Background(), msg.ID, 2, "hacked")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestEditAfterRecall(t *testing.T) {
	ms, st := newTestMessageStore(t)
	seedSession(t, st, "s1", 1)

	msg, err := ms.Append(context.Background(), "s1", 1, nil, "hi", models.MessageText, nil)
	require.NoError(t, err)

	_, err = ms.Recall(context.Background(), msg.ID, 1)
	require.NoError(t, err)

	_, err = ms.Edit(context.Background(), msg.ID, 1, "too late")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReplyToRecalledMessage(t *testing.T) {
	ms, st := newTestMessageStore(t)
	seedSession(t, st, "s1", 1)

	msg, err := ms.Append(context.Background(), "s1", 1, nil, "hi", models.MessageText, nil)
	require.NoError(t, err)
	_, err = ms.Recall(context.Background(), msg.ID, 1)
	require.NoError(t, err)

	_, err = ms.Append(context.Background(), "s1", 2, nil, "re: hi", models.MessageText, &msg.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReplyToMessageInOtherSessionIsDropped(t *testing.T) {
	ms, st := newTestMessageStore(t)
	seedSession(t, st, "s1", 1)
	seedSession(t, st, "s2", 2)

	other, err := ms.Append(context.Background(), "s2", 2, nil, "elsewhere", models.MessageText, nil)
	require.NoError(t, err)

	msg, err := ms.Append(context.Background(), "s1", 1, nil, "hi", models.MessageText, &other.ID)
	require.NoError(t, err)
	assert.Nil(t, msg.ReplyToMessageID)
}

func TestStatusProgression(t *testing.T) {
	ms, st := newTestMessageStore(t)
	seedSession(t, st, "s1", 1)
	agentID := int64(2)

	msg, err := ms.Append(context.Background(), "s1", 1, &agentID, "hi", models.MessageText, nil)
	require.NoError(t, err)

	ok, err := ms.UpdateStatus(context.Background(), msg.ID, models.MessageDelivered)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ms.UpdateStatus(context.Background(), msg.ID, models.MessageRead)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := ms.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageRead, got.Status)
	assert.True(t, got.IsRead)
	require.NotNil(t, got.ReadAt)
}

func TestUndeliveredBacklog(t *testing.T) {
	ms, st := newTestMessageStore(t)
	seedSession(t, st, "s1", 1)
	agentID := int64(2)

	first, err := ms.Append(context.Background(), "s1", 1, &agentID, "one", models.MessageText, nil)
	require.NoError(t, err)
	_, err = ms.Append(context.Background(), "s1", 1, &agentID, "two", models.MessageText, nil)
	require.NoError(t, err)

	backlog, err := ms.Undelivered(context.Background(), agentID, 0)
	require.NoError(t, err)
	require.Len(t, backlog, 2)
	assert.Equal(t, "one", backlog[0].Content)

	_, err = ms.UpdateStatus(context.Background(), first.ID, models.MessageDelivered)
	require.NoError(t, err)

	backlog, err = ms.Undelivered(context.Background(), agentID, 0)
	require.NoError(t, err)
	require.Len(t, backlog, 1)
	assert.Equal(t, "two", backlog[0].Content)
}
