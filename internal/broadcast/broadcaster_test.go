package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/store"
)

type recordedEvent struct {
	userID  int64
	event   string
	payload any
}

type fakeSender struct {
	online map[int64]int // user -> live connection count
	events []recordedEvent
}

func newFakeSender(online map[int64]int) *fakeSender {
	return &fakeSender{online: online}
}

func (s *fakeSender) SendToUser(ctx context.Context, userID int64, event string, payload any) int {
	s.events = append(s.events, recordedEvent{userID: userID, event: event, payload: payload})
	return s.online[userID]
}

func (s *fakeSender) SendToConnection(ctx context.Context, connectionID, event string, payload any) bool {
	return false
}

func (s *fakeSender) eventsFor(userID int64, event string) []recordedEvent {
	var out []recordedEvent
	for _, e := range s.events {
		if e.userID == userID && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func TestPushNewMessageReachesBothSides(t *testing.T) {
	st := store.NewMemoryStore()
	sender := newFakeSender(map[int64]int{1: 1, 2: 2})
	b := New(sender, st, zerolog.Nop())

	agentID := int64(2)
	msg := &models.ChatMessage{ID: "m1", SessionID: "s1", FromUserID: 1, ToUserID: &agentID, Content: "hi"}

	delivered := b.PushNewMessage(context.Background(), msg)
	assert.Equal(t, 2, delivered)

	toRecipient := sender.eventsFor(2, EventNewMessage)
	require.Len(t, toRecipient, 1)
	assert.False(t, toRecipient[0].payload.(NewMessagePayload).IsFromSelf)

	// The sender's own devices get an echo marked as their own message
	toSender := sender.eventsFor(1, EventNewMessage)
	require.Len(t, toSender, 1)
	assert.True(t, toSender[0].payload.(NewMessagePayload).IsFromSelf)
}

func TestPushNewMessageOfflineRecipient(t *testing.T) {
	st := store.NewMemoryStore()
	sender := newFakeSender(map[int64]int{1: 1})
	b := New(sender, st, zerolog.Nop())

	agentID := int64(2)
	msg := &models.ChatMessage{ID: "m1", SessionID: "s1", FromUserID: 1, ToUserID: &agentID}

	assert.Zero(t, b.PushNewMessage(context.Background(), msg))
}

func TestNotifyOnlineAgentsQueriesMembershipPerCall(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	sender := newFakeSender(map[int64]int{7: 1, 8: 1})
	b := New(sender, st, zerolog.Nop())

	require.NoError(t, st.UpsertAgentStatus(ctx, 7, models.AgentOnline, time.Now().UTC()))

	reached, err := b.NotifyOnlineAgents(ctx, EventNewPendingSession, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reached)

	// Membership changes between calls are picked up
	require.NoError(t, st.UpsertAgentStatus(ctx, 8, models.AgentOnline, time.Now().UTC()))
	require.NoError(t, st.UpsertAgentStatus(ctx, 7, models.AgentOffline, time.Now().UTC()))

	sender.events = nil
	reached, err = b.NotifyOnlineAgents(ctx, EventNewPendingSession, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reached)
	assert.Empty(t, sender.eventsFor(7, EventNewPendingSession))
	assert.Len(t, sender.eventsFor(8, EventNewPendingSession), 1)
}

func TestNotifyOnlineAgentsCountsAgentsNotConnections(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	// Agent 7 has three devices, agent 8 is marked online but unreachable
	sender := newFakeSender(map[int64]int{7: 3})
	b := New(sender, st, zerolog.Nop())

	require.NoError(t, st.UpsertAgentStatus(ctx, 7, models.AgentOnline, time.Now().UTC()))
	require.NoError(t, st.UpsertAgentStatus(ctx, 8, models.AgentOnline, time.Now().UTC()))

	reached, err := b.NotifyOnlineAgents(ctx, EventAgentStatusChanged, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reached)
}

func TestPushVIPStatusGoesToOnlineAgents(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	sender := newFakeSender(map[int64]int{7: 1})
	b := New(sender, st, zerolog.Nop())

	require.NoError(t, st.UpsertAgentStatus(ctx, 7, models.AgentOnline, time.Now().UTC()))

	b.PushVIPStatus(ctx, 42, map[string]any{"level": "gold"})

	events := sender.eventsFor(7, EventVIPStatusUpdated)
	require.Len(t, events, 1)
	payload := events[0].payload.(VIPStatusPayload)
	assert.Equal(t, int64(42), payload.UserID)
	assert.Equal(t, "gold", payload.VIPInfo["level"])
}

func TestPushSessionList(t *testing.T) {
	st := store.NewMemoryStore()
	sender := newFakeSender(map[int64]int{7: 1})
	b := New(sender, st, zerolog.Nop())

	b.PushSessionList(context.Background(), 7, []models.SessionSummary{{SessionID: "s1"}})

	events := sender.eventsFor(7, EventSessionListUpdated)
	require.Len(t, events, 1)
	payload := events[0].payload.(SessionListUpdatedPayload)
	assert.Equal(t, EventSessionListUpdated, payload.Type)
	require.Len(t, payload.Sessions, 1)
}

func TestPushSessionAssigned(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	sender := newFakeSender(map[int64]int{1: 1, 7: 1})
	b := New(sender, st, zerolog.Nop())

	require.NoError(t, st.UpsertAgentStatus(ctx, 7, models.AgentOnline, time.Now().UTC()))

	agentID := int64(7)
	sess := &models.ChatSession{SessionID: "s1", UserID: 1, AgentID: &agentID, Status: models.SessionActive}
	b.PushSessionAssigned(ctx, sess, "Dana")

	accepted := sender.eventsFor(7, EventPendingSessionAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, int64(7), accepted[0].payload.(PendingSessionAcceptedPayload).AgentID)

	forUser := sender.eventsFor(1, EventSessionAcceptedForUser)
	require.Len(t, forUser, 1)
	assert.Equal(t, "Dana", forUser[0].payload.(SessionAcceptedForUserPayload).AgentName)
}
