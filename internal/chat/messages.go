package chat

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/relaydesk/relaydesk/internal/models"
	"github.com/relaydesk/relaydesk/internal/store"
)

// RecallWindow is how long after creation the sender may recall a message.
const RecallWindow = 120 * time.Second

// MessageStore persists messages and owns their ordering and edit/recall
// rules. Sequence assignment is serialized per session: all writers for
// one session go through that session's mutex, writers in different
// sessions proceed in parallel.
type MessageStore struct {
	store  store.DataStore
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMessageStore creates a message store backed by the given store.
func NewMessageStore(st store.DataStore, logger zerolog.Logger) *MessageStore {
	return &MessageStore{
		store:  st,
		logger: logger.With().Str("component", "messages").Logger(),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing writers for one session.
func (m *MessageStore) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}

// Append persists a new message in the session, assigning the next
// sequence number. Returns ErrNotFound when the session does not exist,
// ErrInvalidState when replying to a recalled message.
func (m *MessageStore) Append(ctx context.Context, sessionID string, fromUserID int64, toUserID *int64, content string, messageType models.MessageType, replyToMessageID *string) (*models.ChatMessage, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, transient("get session", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}

	// A reply target must exist, live in the same session, and not be
	// recalled; an invalid reference is dropped rather than rejected,
	// except for recalled targets.
	if replyToMessageID != nil {
		target, err := m.store.GetMessage(ctx, *replyToMessageID)
		if err != nil {
			return nil, transient("get reply target", err)
		}
		switch {
		case target == nil || target.SessionID != sessionID:
			replyToMessageID = nil
		case target.IsRecalled:
			return nil, ErrInvalidState
		}
	}

	now := m.now().UTC()
	msg := &models.ChatMessage{
		ID:               ulid.Make().String(),
		SessionID:        sessionID,
		FromUserID:       fromUserID,
		ToUserID:         toUserID,
		Content:          content,
		MessageType:      messageType,
		Status:           models.MessageSent,
		ReplyToMessageID: replyToMessageID,
		CreatedAt:        now,
		SentAt:           &now,
	}

	lock := m.sessionLock(sessionID)
	lock.Lock()
	err = m.store.InsertMessage(ctx, msg)
	lock.Unlock()
	if err != nil {
		return nil, transient("insert message", err)
	}

	m.logger.Debug().
		Str("message_id", msg.ID).
		Str("session_id", sessionID).
		Int64("seq", msg.SequenceNumber).
		Msg("message appended")
	return msg, nil
}

// Recall marks a message recalled. Only the sender may recall, only once,
// and only within RecallWindow of creation; the window is checked against
// the wall clock at call time.
func (m *MessageStore) Recall(ctx context.Context, messageID string, requesterID int64) (*models.ChatMessage, error) {
	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, transient("get message", err)
	}
	if msg == nil {
		return nil, ErrNotFound
	}
	if msg.FromUserID != requesterID {
		return nil, ErrUnauthorized
	}
	if msg.IsRecalled {
		return nil, ErrAlreadyRecalled
	}
	if m.now().Sub(msg.CreatedAt) > RecallWindow {
		return nil, ErrRecallExpired
	}

	if err := m.store.MarkMessageRecalled(ctx, messageID); err != nil {
		return nil, transient("mark recalled", err)
	}
	msg.IsRecalled = true
	m.logger.Info().Str("message_id", messageID).Int64("user_id", requesterID).Msg("message recalled")
	return msg, nil
}

// Edit replaces a message's content. Only the sender may edit, and a
// recalled message cannot be edited. Unlike recall, edits have no time
// limit.
func (m *MessageStore) Edit(ctx context.Context, messageID string, requesterID int64, newContent string) (*models.ChatMessage, error) {
	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, transient("get message", err)
	}
	if msg == nil {
		return nil, ErrNotFound
	}
	if msg.FromUserID != requesterID {
		return nil, ErrUnauthorized
	}
	if msg.IsRecalled {
		return nil, ErrInvalidState
	}

	editedAt := m.now().UTC()
	if err := m.store.UpdateMessageContent(ctx, messageID, newContent, editedAt); err != nil {
		return nil, transient("update content", err)
	}
	msg.Content = newContent
	msg.IsEdited = true
	msg.EditedAt = &editedAt
	m.logger.Info().Str("message_id", messageID).Int64("user_id", requesterID).Msg("message edited")
	return msg, nil
}

// UpdateStatus applies a delivery-status receipt. Progression is
// sent -> delivered -> read, but out-of-order receipts are accepted as
// last-write-wins; delivered stamps delivered_at, read stamps read_at and
// flips is_read.
func (m *MessageStore) UpdateStatus(ctx context.Context, messageID string, status models.MessageStatus) (bool, error) {
	ok, err := m.store.UpdateMessageStatus(ctx, messageID, status, m.now().UTC())
	if err != nil {
		return false, transient("update status", err)
	}
	return ok, nil
}

// Get returns a message or ErrNotFound.
func (m *MessageStore) Get(ctx context.Context, messageID string) (*models.ChatMessage, error) {
	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, transient("get message", err)
	}
	if msg == nil {
		return nil, ErrNotFound
	}
	return msg, nil
}

// History returns a session's messages in sequence order.
func (m *MessageStore) History(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	out, err := m.store.ListSessionMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, transient("list messages", err)
	}
	return out, nil
}

// Undelivered returns messages addressed to the user that have not been
// confirmed delivered, oldest first, for catch-up after reconnect.
func (m *MessageStore) Undelivered(ctx context.Context, userID int64, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	out, err := m.store.ListUndeliveredMessages(ctx, userID, limit)
	if err != nil {
		return nil, transient("list undelivered", err)
	}
	return out, nil
}
