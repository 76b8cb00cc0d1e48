package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/relaydesk/relaydesk/internal/models"
)

// MemoryStore is a mutex-guarded in-memory DataStore. It backs tests and
// the dev fallback when no database is configured.
type MemoryStore struct {
	mu          sync.Mutex
	users       map[int64]models.User
	sessions    map[string]models.ChatSession
	messages    map[string]models.ChatMessage
	nextSeq     map[string]int64
	queue       map[string]models.QueueEntry
	connections map[string]models.Connection
	agents      map[int64]models.AgentStatus
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[int64]models.User),
		sessions:    make(map[string]models.ChatSession),
		messages:    make(map[string]models.ChatMessage),
		nextSeq:     make(map[string]int64),
		queue:       make(map[string]models.QueueEntry),
		connections: make(map[string]models.Connection),
		agents:      make(map[int64]models.AgentStatus),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) UpsertUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, sessionID string, userID int64, createdAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sessionID]; exists {
		return false, nil
	}
	s.sessions[sessionID] = models.ChatSession{
		SessionID: sessionID,
		UserID:    userID,
		Status:    models.SessionPending,
		CreatedAt: createdAt,
	}
	return true, nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *MemoryStore) AssignSession(ctx context.Context, sessionID string, agentID int64, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Status != models.SessionPending {
		return false, nil
	}
	sess.Status = models.SessionActive
	sess.AgentID = &agentID
	sess.StartedAt = &startedAt
	s.sessions[sessionID] = sess
	return true, nil
}

func (s *MemoryStore) CloseSession(ctx context.Context, sessionID string, closedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Status == models.SessionClosed {
		return false, nil
	}
	sess.Status = models.SessionClosed
	sess.ClosedAt = &closedAt
	s.sessions[sessionID] = sess
	return true, nil
}

func (s *MemoryStore) ListPendingSessions(ctx context.Context) ([]models.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SessionSummary
	for _, sess := range s.sessions {
		if sess.Status == models.SessionPending {
			out = append(out, s.summaryLocked(sess, 0))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListAgentSessions(ctx context.Context, agentID int64, includePending bool) ([]models.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SessionSummary
	for _, sess := range s.sessions {
		switch {
		case sess.AgentID != nil && *sess.AgentID == agentID && sess.Status == models.SessionActive:
			out = append(out, s.summaryLocked(sess, agentID))
		case includePending && sess.AgentID == nil && sess.Status == models.SessionPending:
			out = append(out, s.summaryLocked(sess, agentID))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// summaryLocked builds a SessionSummary; callers hold s.mu.
func (s *MemoryStore) summaryLocked(sess models.ChatSession, agentID int64) models.SessionSummary {
	sum := models.SessionSummary{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		Status:    sess.Status,
		CreatedAt: sess.CreatedAt,
		StartedAt: sess.StartedAt,
	}
	if u, ok := s.users[sess.UserID]; ok {
		sum.Username = u.Username
		sum.Email = u.Email
	}
	var last *models.ChatMessage
	for id := range s.messages {
		msg := s.messages[id]
		if msg.SessionID != sess.SessionID {
			continue
		}
		if last == nil || msg.SequenceNumber > last.SequenceNumber {
			m := msg
			last = &m
		}
		if agentID != 0 && msg.ToUserID != nil && *msg.ToUserID == agentID && !msg.IsRead {
			sum.UnreadCount++
		}
	}
	if last != nil {
		content := last.Content
		sum.LastMessage = &content
	}
	return sum
}

func (s *MemoryStore) InsertMessage(ctx context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq[msg.SessionID]++
	msg.SequenceNumber = s.nextSeq[msg.SessionID]
	s.messages[msg.ID] = *msg
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

func (s *MemoryStore) ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatMessage
	for _, msg := range s.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListUndeliveredMessages(ctx context.Context, userID int64, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatMessage
	for _, msg := range s.messages {
		if msg.ToUserID == nil || *msg.ToUserID != userID {
			continue
		}
		if msg.Status == models.MessageDelivered || msg.Status == models.MessageRead || msg.IsRecalled {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkMessageRecalled(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil
	}
	msg.IsRecalled = true
	s.messages[id] = msg
	return nil
}

func (s *MemoryStore) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil
	}
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &editedAt
	s.messages[id] = msg
	return nil
}

func (s *MemoryStore) UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return false, nil
	}
	msg.Status = status
	switch status {
	case models.MessageDelivered:
		msg.DeliveredAt = &at
	case models.MessageRead:
		msg.IsRead = true
		msg.ReadAt = &at
	case models.MessageSent:
		msg.SentAt = &at
	}
	s.messages[id] = msg
	return true, nil
}

func (s *MemoryStore) EnqueueEntry(ctx context.Context, entry *models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[entry.ID] = *entry
	return nil
}

func (s *MemoryStore) DequeuePending(ctx context.Context, limit int, now time.Time) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueueEntry
	for _, entry := range s.queue {
		if entry.Status != models.QueuePending {
			continue
		}
		if entry.NextRetryAt != nil && entry.NextRetryAt.After(now) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateQueueEntry(ctx context.Context, id string, status models.QueueStatus, errorMessage string, retryCount int, nextRetryAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.queue[id]
	if !ok {
		return nil
	}
	entry.Status = status
	entry.RetryCount = retryCount
	entry.NextRetryAt = nextRetryAt
	if errorMessage != "" {
		entry.ErrorMessage = errorMessage
	}
	s.queue[id] = entry
	return nil
}

func (s *MemoryStore) CreateConnection(ctx context.Context, conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.connections[conn.ConnectionID]; ok {
		existing.LastHeartbeat = conn.LastHeartbeat
		existing.Status = models.ConnectionConnected
		s.connections[conn.ConnectionID] = existing
		return nil
	}
	s.connections[conn.ConnectionID] = *conn
	return nil
}

func (s *MemoryStore) TouchConnection(ctx context.Context, connectionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.connections[connectionID]
	if !ok {
		return nil
	}
	conn.LastHeartbeat = at
	conn.Status = models.ConnectionConnected
	s.connections[connectionID] = conn
	return nil
}

func (s *MemoryStore) DisconnectConnection(ctx context.Context, connectionID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.connections[connectionID]
	if !ok || conn.Status == models.ConnectionDisconnected {
		return false, nil
	}
	conn.Status = models.ConnectionDisconnected
	conn.DisconnectedAt = &at
	s.connections[connectionID] = conn
	return true, nil
}

func (s *MemoryStore) CleanupStaleConnections(ctx context.Context, olderThan time.Time, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, conn := range s.connections {
		if conn.Status == models.ConnectionConnected && conn.LastHeartbeat.Before(olderThan) {
			conn.Status = models.ConnectionDisconnected
			conn.DisconnectedAt = &at
			s.connections[id] = conn
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpsertAgentStatus(ctx context.Context, agentID int64, status models.AgentPresence, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agentID] = models.AgentStatus{AgentID: agentID, Status: status, LastHeartbeat: at}
	return nil
}

func (s *MemoryStore) ListOnlineAgents(ctx context.Context) ([]models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Agent
	for id, st := range s.agents {
		if st.Status != models.AgentOnline && st.Status != models.AgentAway {
			continue
		}
		agent := models.Agent{ID: id, Status: st.Status}
		if u, ok := s.users[id]; ok {
			agent.Username = u.Username
			agent.Email = u.Email
		}
		out = append(out, agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
