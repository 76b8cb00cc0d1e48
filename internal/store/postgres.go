package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydesk/relaydesk/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertUser inserts or updates a mirrored user profile.
func (s *PostgresStore) UpsertUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, email, role) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, email = EXCLUDED.email, role = EXCLUDED.role
	`, user.ID, user.Username, user.Email, string(user.Role))
	return err
}

// GetUser retrieves a user by ID, or nil when absent.
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	var role string
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, email, role FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &user.Email, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.Role = models.UserRole(role)
	return user, nil
}

// CreateSession inserts a pending session. Returns false without error if
// the session_id already exists.
func (s *PostgresStore) CreateSession(ctx context.Context, sessionID string, userID int64, createdAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO chat_sessions (session_id, user_id, status, created_at)
		VALUES ($1, $2, 'pending', $3)
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, userID, createdAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetSession retrieves a session by ID, or nil when absent.
func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	sess := &models.ChatSession{}
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, agent_id, status, created_at, started_at, closed_at
		FROM chat_sessions WHERE session_id = $1
	`, sessionID).Scan(&sess.SessionID, &sess.UserID, &sess.AgentID, &status, &sess.CreatedAt, &sess.StartedAt, &sess.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	parsed, err := models.ParseSessionStatus(status)
	if err != nil {
		return nil, err
	}
	sess.Status = parsed
	return sess, nil
}

// AssignSession atomically claims a pending session for an agent via a
// conditioned update, so two racing agents cannot both win.
func (s *PostgresStore) AssignSession(ctx context.Context, sessionID string, agentID int64, startedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chat_sessions
		SET agent_id = $1, status = 'active', started_at = $2
		WHERE session_id = $3 AND status = 'pending'
	`, agentID, startedAt, sessionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CloseSession transitions a pending or active session to closed.
func (s *PostgresStore) CloseSession(ctx context.Context, sessionID string, closedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE chat_sessions
		SET status = 'closed', closed_at = $1
		WHERE session_id = $2 AND status IN ('pending', 'active')
	`, closedAt, sessionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const pgSummaryColumns = `
	s.session_id, s.user_id, COALESCE(u.username, ''), COALESCE(u.email, ''),
	s.status, s.created_at, s.started_at,
	(SELECT content FROM chat_messages m
	 WHERE m.session_id = s.session_id
	 ORDER BY m.sequence_number DESC LIMIT 1)`

// ListPendingSessions returns pending sessions oldest first.
func (s *PostgresStore) ListPendingSessions(ctx context.Context) ([]models.SessionSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgSummaryColumns+`, 0
		FROM chat_sessions s
		LEFT JOIN users u ON u.id = s.user_id
		WHERE s.status = 'pending'
		ORDER BY s.created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPgSummaries(rows)
}

// ListAgentSessions returns the agent's active sessions and, when
// includePending is set, all unassigned pending sessions.
func (s *PostgresStore) ListAgentSessions(ctx context.Context, agentID int64, includePending bool) ([]models.SessionSummary, error) {
	query := `
		SELECT ` + pgSummaryColumns + `,
		(SELECT COUNT(*) FROM chat_messages m
		 WHERE m.session_id = s.session_id AND m.to_user_id = $1 AND m.is_read = FALSE)::int
		FROM chat_sessions s
		LEFT JOIN users u ON u.id = s.user_id
		WHERE (s.agent_id = $1 AND s.status = 'active')`
	if includePending {
		query += ` OR (s.agent_id IS NULL AND s.status = 'pending')`
	}
	query += ` ORDER BY s.created_at ASC`

	rows, err := s.pool.Query(ctx, query, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPgSummaries(rows)
}

func scanPgSummaries(rows pgx.Rows) ([]models.SessionSummary, error) {
	var out []models.SessionSummary
	for rows.Next() {
		var sum models.SessionSummary
		var status string
		if err := rows.Scan(
			&sum.SessionID, &sum.UserID, &sum.Username, &sum.Email,
			&status, &sum.CreatedAt, &sum.StartedAt, &sum.LastMessage, &sum.UnreadCount,
		); err != nil {
			return nil, err
		}
		parsed, err := models.ParseSessionStatus(status)
		if err != nil {
			return nil, err
		}
		sum.Status = parsed
		out = append(out, sum)
	}
	return out, rows.Err()
}

// InsertMessage persists a message, assigning the next per-session
// sequence number. A transaction-scoped advisory lock on the session key
// serializes concurrent writers for the same session; writers in other
// sessions proceed in parallel.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.ChatMessage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, msg.SessionID); err != nil {
		return err
	}

	var maxSeq int64
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0) FROM chat_messages WHERE session_id = $1
	`, msg.SessionID).Scan(&maxSeq); err != nil {
		return err
	}
	msg.SequenceNumber = maxSeq + 1

	_, err = tx.Exec(ctx, `
		INSERT INTO chat_messages (
			id, session_id, sequence_number, from_user_id, to_user_id,
			content, message_type, status, is_read, is_recalled, is_edited,
			reply_to_message_id, created_at, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, FALSE, FALSE, $9, $10, $11)
	`, msg.ID, msg.SessionID, msg.SequenceNumber, msg.FromUserID, msg.ToUserID,
		msg.Content, string(msg.MessageType), string(msg.Status),
		msg.ReplyToMessageID, msg.CreatedAt, msg.SentAt)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const pgMessageColumns = `
	id, session_id, sequence_number, from_user_id, to_user_id, content,
	message_type, status, is_read, is_recalled, is_edited, edited_at,
	reply_to_message_id, created_at, sent_at, delivered_at, read_at`

// GetMessage retrieves a message by ID, or nil when absent.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgMessageColumns+` FROM chat_messages WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	msgs, err := scanPgMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// ListSessionMessages returns a session's messages in sequence order.
func (s *PostgresStore) ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgMessageColumns+` FROM chat_messages
		WHERE session_id = $1
		ORDER BY sequence_number ASC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPgMessages(rows)
}

// ListUndeliveredMessages returns non-recalled messages addressed to the
// user that have not reached delivered.
func (s *PostgresStore) ListUndeliveredMessages(ctx context.Context, userID int64, limit int) ([]models.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgMessageColumns+` FROM chat_messages
		WHERE to_user_id = $1 AND status NOT IN ('delivered', 'read') AND is_recalled = FALSE
		ORDER BY created_at ASC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPgMessages(rows)
}

func scanPgMessages(rows pgx.Rows) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		var msgType, status string
		if err := rows.Scan(
			&msg.ID, &msg.SessionID, &msg.SequenceNumber, &msg.FromUserID, &msg.ToUserID,
			&msg.Content, &msgType, &status, &msg.IsRead, &msg.IsRecalled, &msg.IsEdited, &msg.EditedAt,
			&msg.ReplyToMessageID, &msg.CreatedAt, &msg.SentAt, &msg.DeliveredAt, &msg.ReadAt,
		); err != nil {
			return nil, err
		}
		msg.MessageType = models.ParseMessageType(msgType)
		if parsed, err := models.ParseMessageStatus(status); err == nil {
			msg.Status = parsed
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// MarkMessageRecalled flags a message as recalled.
func (s *PostgresStore) MarkMessageRecalled(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE chat_messages SET is_recalled = TRUE WHERE id = $1`, id)
	return err
}

// UpdateMessageContent replaces a message's content and marks it edited.
func (s *PostgresStore) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chat_messages SET content = $1, is_edited = TRUE, edited_at = $2 WHERE id = $3
	`, content, editedAt, id)
	return err
}

// UpdateMessageStatus applies a delivery status, stamping the matching
// timestamp column. Last write wins.
func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, at time.Time) (bool, error) {
	var query string
	switch status {
	case models.MessageDelivered:
		query = `UPDATE chat_messages SET status = $1, delivered_at = $2 WHERE id = $3`
	case models.MessageRead:
		query = `UPDATE chat_messages SET status = $1, is_read = TRUE, read_at = $2 WHERE id = $3`
	case models.MessageSent:
		query = `UPDATE chat_messages SET status = $1, sent_at = $2 WHERE id = $3`
	default:
		tag, err := s.pool.Exec(ctx, `UPDATE chat_messages SET status = $1 WHERE id = $2`, string(status), id)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() > 0, nil
	}
	tag, err := s.pool.Exec(ctx, query, string(status), at, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// EnqueueEntry records an outbox entry for later redelivery.
func (s *PostgresStore) EnqueueEntry(ctx context.Context, entry *models.QueueEntry) error {
	var errMsg *string
	if entry.ErrorMessage != "" {
		errMsg = &entry.ErrorMessage
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_queue (
			id, message_id, session_id, from_user_id, to_user_id,
			retry_count, max_retries, status, error_message, next_retry_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, entry.ID, entry.MessageID, entry.SessionID, entry.FromUserID, entry.ToUserID,
		entry.RetryCount, entry.MaxRetries, string(entry.Status), errMsg, entry.NextRetryAt, entry.CreatedAt)
	return err
}

// DequeuePending returns pending entries whose retry time has come,
// oldest first.
func (s *PostgresStore) DequeuePending(ctx context.Context, limit int, now time.Time) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, session_id, from_user_id, to_user_id,
		       retry_count, max_retries, status, error_message, next_retry_at, created_at
		FROM message_queue
		WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueueEntry
	for rows.Next() {
		var entry models.QueueEntry
		var status string
		var errMsg *string
		if err := rows.Scan(
			&entry.ID, &entry.MessageID, &entry.SessionID, &entry.FromUserID, &entry.ToUserID,
			&entry.RetryCount, &entry.MaxRetries, &status, &errMsg, &entry.NextRetryAt, &entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		parsed, err := models.ParseQueueStatus(status)
		if err != nil {
			return nil, err
		}
		entry.Status = parsed
		if errMsg != nil {
			entry.ErrorMessage = *errMsg
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// UpdateQueueEntry applies a status transition and retry bookkeeping.
func (s *PostgresStore) UpdateQueueEntry(ctx context.Context, id string, status models.QueueStatus, errorMessage string, retryCount int, nextRetryAt *time.Time) error {
	var errMsg *string
	if errorMessage != "" {
		errMsg = &errorMessage
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE message_queue
		SET status = $1, error_message = COALESCE($2, error_message), retry_count = $3, next_retry_at = $4
		WHERE id = $5
	`, string(status), errMsg, retryCount, nextRetryAt, id)
	return err
}

// CreateConnection records a live connection; re-registering an existing
// connection_id refreshes its heartbeat instead of erroring.
func (s *PostgresStore) CreateConnection(ctx context.Context, conn *models.Connection) error {
	var deviceID *string
	if conn.DeviceID != "" {
		deviceID = &conn.DeviceID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_connections (connection_id, user_id, device_id, status, last_heartbeat, connected_at)
		VALUES ($1, $2, $3, 'connected', $4, $5)
		ON CONFLICT (connection_id) DO UPDATE SET last_heartbeat = EXCLUDED.last_heartbeat, status = 'connected'
	`, conn.ConnectionID, conn.UserID, deviceID, conn.LastHeartbeat, conn.ConnectedAt)
	return err
}

// TouchConnection updates a connection's heartbeat timestamp.
func (s *PostgresStore) TouchConnection(ctx context.Context, connectionID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE user_connections SET last_heartbeat = $1, status = 'connected' WHERE connection_id = $2
	`, at, connectionID)
	return err
}

// DisconnectConnection marks a connection disconnected.
func (s *PostgresStore) DisconnectConnection(ctx context.Context, connectionID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_connections SET status = 'disconnected', disconnected_at = $1
		WHERE connection_id = $2 AND status = 'connected'
	`, at, connectionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CleanupStaleConnections bulk-disconnects rows whose heartbeat predates
// the cutoff, returning the number affected.
func (s *PostgresStore) CleanupStaleConnections(ctx context.Context, olderThan time.Time, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_connections SET status = 'disconnected', disconnected_at = $1
		WHERE status = 'connected' AND last_heartbeat < $2
	`, at, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpsertAgentStatus writes the one presence row per agent.
func (s *PostgresStore) UpsertAgentStatus(ctx context.Context, agentID int64, status models.AgentPresence, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_status (agent_id, status, last_heartbeat) VALUES ($1, $2, $3)
		ON CONFLICT (agent_id) DO UPDATE SET status = EXCLUDED.status, last_heartbeat = EXCLUDED.last_heartbeat
	`, agentID, string(status), at)
	return err
}

// ListOnlineAgents returns agents currently online or away, joined with
// their profiles.
func (s *PostgresStore) ListOnlineAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.agent_id, COALESCE(u.username, ''), COALESCE(u.email, ''), a.status
		FROM agent_status a
		LEFT JOIN users u ON u.id = a.agent_id
		WHERE a.status IN ('online', 'away')
		ORDER BY a.agent_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		var agent models.Agent
		var status string
		if err := rows.Scan(&agent.ID, &agent.Username, &agent.Email, &status); err != nil {
			return nil, err
		}
		parsed, err := models.ParseAgentPresence(status)
		if err != nil {
			return nil, err
		}
		agent.Status = parsed
		out = append(out, agent)
	}
	return out, rows.Err()
}
