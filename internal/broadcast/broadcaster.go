package broadcast

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaydesk/relaydesk/internal/metrics"
	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/store"
)

// Sender fans events out to live connections. Implemented by the
// connection registry.
type Sender interface {
	SendToUser(ctx context.Context, userID int64, event string, payload any) int
	SendToConnection(ctx context.Context, connectionID, event string, payload any) bool
}

// Broadcaster addresses events to users and agent groups. It holds no
// membership state of its own: per-user fan-out is delegated to the
// Sender and the online-agent set is re-read from the store on every
// group push, so it is always current.
type Broadcaster struct {
	sender Sender
	store  store.DataStore
	logger zerolog.Logger
}

// New creates a broadcaster.
func New(sender Sender, st store.DataStore, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		sender: sender,
		store:  st,
		logger: logger.With().Str("component", "broadcast").Logger(),
	}
}

// SendToUser pushes an event to every live connection of one user and
// returns the number of successful sends. Zero means the user is offline.
func (b *Broadcaster) SendToUser(ctx context.Context, userID int64, event string, payload any) int {
	n := b.sender.SendToUser(ctx, userID, event, payload)
	if n > 0 {
		metrics.EventsPushed.WithLabelValues(event).Add(float64(n))
	}
	return n
}

// SendToConnection pushes an event to one connection.
func (b *Broadcaster) SendToConnection(ctx context.Context, connectionID, event string, payload any) bool {
	ok := b.sender.SendToConnection(ctx, connectionID, event, payload)
	if ok {
		metrics.EventsPushed.WithLabelValues(event).Inc()
	}
	return ok
}

// NotifyOnlineAgents pushes an event to every currently online agent and
// returns how many agents received it on at least one connection.
func (b *Broadcaster) NotifyOnlineAgents(ctx context.Context, event string, payload any) (int, error) {
	agents, err := b.store.ListOnlineAgents(ctx)
	if err != nil {
		return 0, err
	}
	reached := 0
	for _, a := range agents {
		if b.SendToUser(ctx, a.ID, event, payload) > 0 {
			reached++
		}
	}
	b.logger.Debug().Str("event", event).Int("agents", len(agents)).Int("reached", reached).Msg("agent group push")
	return reached, nil
}

// PushNewMessage delivers a message to its recipient and echoes it to the
// sender's other devices with is_from_self set. Returns the recipient
// send count, which the delivery queue uses to decide success.
func (b *Broadcaster) PushNewMessage(ctx context.Context, msg *models.ChatMessage) int {
	delivered := 0
	if msg.ToUserID != nil {
		delivered = b.SendToUser(ctx, *msg.ToUserID, EventNewMessage, NewMessagePayload{Message: *msg})
	}
	b.SendToUser(ctx, msg.FromUserID, EventNewMessage, NewMessagePayload{Message: *msg, IsFromSelf: true})
	return delivered
}

// PushMessageEdited tells both sides of a session about an edit.
func (b *Broadcaster) PushMessageEdited(ctx context.Context, msg *models.ChatMessage) {
	payload := MessageEditedPayload{
		MessageID:  msg.ID,
		SessionID:  msg.SessionID,
		NewContent: msg.Content,
	}
	if msg.EditedAt != nil {
		payload.EditedAt = *msg.EditedAt
	}
	b.SendToUser(ctx, msg.FromUserID, EventMessageEdited, payload)
	if msg.ToUserID != nil {
		b.SendToUser(ctx, *msg.ToUserID, EventMessageEdited, payload)
	}
}

// PushMessageRecalled tells both sides of a session about a recall.
func (b *Broadcaster) PushMessageRecalled(ctx context.Context, msg *models.ChatMessage) {
	payload := MessageRecalledPayload{MessageID: msg.ID, SessionID: msg.SessionID}
	b.SendToUser(ctx, msg.FromUserID, EventMessageRecalled, payload)
	if msg.ToUserID != nil {
		b.SendToUser(ctx, *msg.ToUserID, EventMessageRecalled, payload)
	}
}

// PushMessageStatus tells the sender a receipt landed on their message.
func (b *Broadcaster) PushMessageStatus(ctx context.Context, msg *models.ChatMessage, status models.MessageStatus) {
	b.SendToUser(ctx, msg.FromUserID, EventMessageStatus, MessageStatusPayload{
		MessageID: msg.ID,
		SessionID: msg.SessionID,
		Status:    string(status),
		Timestamp: time.Now().UTC(),
	})
}

// PushSessionList refreshes one agent's session list in place.
func (b *Broadcaster) PushSessionList(ctx context.Context, agentID int64, sessions []models.SessionSummary) {
	b.SendToUser(ctx, agentID, EventSessionListUpdated, SessionListUpdatedPayload{
		Type:     EventSessionListUpdated,
		Sessions: sessions,
	})
}

// PushVIPStatus relays a VIP standing change to online agents.
func (b *Broadcaster) PushVIPStatus(ctx context.Context, userID int64, vipInfo map[string]any) {
	_, err := b.NotifyOnlineAgents(ctx, EventVIPStatusUpdated, VIPStatusPayload{
		UserID:  userID,
		VIPInfo: vipInfo,
	})
	if err != nil {
		b.logger.Warn().Err(err).Int64("user_id", userID).Msg("vip status push failed")
	}
}

// PushNewPendingSession tells online agents a customer is waiting.
func (b *Broadcaster) PushNewPendingSession(ctx context.Context, sess *models.ChatSession, user *models.User) {
	payload := NewPendingSessionPayload{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		CreatedAt: sess.CreatedAt,
	}
	if user != nil {
		payload.Username = user.Username
		payload.Email = user.Email
	}
	_, err := b.NotifyOnlineAgents(ctx, EventNewPendingSession, payload)
	if err != nil {
		b.logger.Warn().Err(err).Str("session_id", sess.SessionID).Msg("pending session push failed")
	}
}

// PushSessionAssigned announces a pickup: agents learn the session is
// taken, the customer learns who answered.
func (b *Broadcaster) PushSessionAssigned(ctx context.Context, sess *models.ChatSession, agentName string) {
	if sess.AgentID == nil {
		return
	}
	_, err := b.NotifyOnlineAgents(ctx, EventPendingSessionAccepted, PendingSessionAcceptedPayload{
		SessionID: sess.SessionID,
		AgentID:   *sess.AgentID,
	})
	if err != nil {
		b.logger.Warn().Err(err).Str("session_id", sess.SessionID).Msg("session accepted push failed")
	}
	b.SendToUser(ctx, sess.UserID, EventSessionAcceptedForUser, SessionAcceptedForUserPayload{
		SessionID: sess.SessionID,
		AgentID:   *sess.AgentID,
		AgentName: agentName,
	})
}

// PushSessionStatus tells both participants a session changed state.
func (b *Broadcaster) PushSessionStatus(ctx context.Context, sess *models.ChatSession) {
	uid := sess.UserID
	payload := SessionStatusPayload{
		SessionID: sess.SessionID,
		Status:    string(sess.Status),
		UserID:    &uid,
		AgentID:   sess.AgentID,
	}
	b.SendToUser(ctx, sess.UserID, EventSessionStatusUpdated, payload)
	if sess.AgentID != nil {
		b.SendToUser(ctx, *sess.AgentID, EventSessionStatusUpdated, payload)
	}
}

// PushAgentStatus tells online agents a colleague's presence changed.
func (b *Broadcaster) PushAgentStatus(ctx context.Context, agentID int64, status models.AgentPresence) {
	_, err := b.NotifyOnlineAgents(ctx, EventAgentStatusChanged, AgentStatusPayload{
		AgentID: agentID,
		Status:  string(status),
	})
	if err != nil {
		b.logger.Warn().Err(err).Int64("agent_id", agentID).Msg("agent status push failed")
	}
}
