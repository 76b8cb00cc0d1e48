package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relaydesk/relaydesk/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/relaydesk.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/relaydesk.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	// Serialize writers; sequence assignment relies on one transaction at
	// a time reaching the messages table.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user'
	);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		agent_id INTEGER,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		closed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		sequence_number INTEGER NOT NULL,
		from_user_id INTEGER NOT NULL,
		to_user_id INTEGER,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'text',
		status TEXT NOT NULL DEFAULT 'sent',
		is_read INTEGER NOT NULL DEFAULT 0,
		is_recalled INTEGER NOT NULL DEFAULT 0,
		is_edited INTEGER NOT NULL DEFAULT 0,
		edited_at DATETIME,
		reply_to_message_id TEXT,
		created_at DATETIME NOT NULL,
		sent_at DATETIME,
		delivered_at DATETIME,
		read_at DATETIME,
		UNIQUE(session_id, sequence_number)
	);

	CREATE TABLE IF NOT EXISTS message_queue (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		from_user_id INTEGER NOT NULL,
		to_user_id INTEGER,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		next_retry_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_connections (
		connection_id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		device_id TEXT,
		status TEXT NOT NULL DEFAULT 'connected',
		last_heartbeat DATETIME NOT NULL,
		connected_at DATETIME NOT NULL,
		disconnected_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS agent_status (
		agent_id INTEGER PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'offline',
		last_heartbeat DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON chat_sessions(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_agent ON chat_sessions(agent_id);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id, sequence_number);
	CREATE INDEX IF NOT EXISTS idx_messages_recipient ON chat_messages(to_user_id, status);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON message_queue(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_connections_user ON user_connections(user_id, status);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertUser inserts or replaces a mirrored user profile.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, role) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username, email = excluded.email, role = excluded.role
	`, user.ID, user.Username, user.Email, string(user.Role))
	return err
}

// GetUser retrieves a user by ID, or nil when absent.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, role FROM users WHERE id = ?
	`, id).Scan(&user.ID, &user.Username, &user.Email, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.Role = models.UserRole(role)
	return user, nil
}

// CreateSession inserts a pending session. Returns false without error if
// the session_id already exists.
func (s *SQLiteStore) CreateSession(ctx context.Context, sessionID string, userID int64, createdAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_sessions (session_id, user_id, status, created_at)
		VALUES (?, ?, 'pending', ?)
	`, sessionID, userID, createdAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetSession retrieves a session by ID, or nil when absent.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	sess := &models.ChatSession{}
	var status string
	var agentID sql.NullInt64
	var startedAt, closedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, agent_id, status, created_at, started_at, closed_at
		FROM chat_sessions WHERE session_id = ?
	`, sessionID).Scan(&sess.SessionID, &sess.UserID, &agentID, &status, &sess.CreatedAt, &startedAt, &closedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	parsed, err := models.ParseSessionStatus(status)
	if err != nil {
		return nil, err
	}
	sess.Status = parsed
	if agentID.Valid {
		sess.AgentID = &agentID.Int64
	}
	if startedAt.Valid {
		sess.StartedAt = &startedAt.Time
	}
	if closedAt.Valid {
		sess.ClosedAt = &closedAt.Time
	}
	return sess, nil
}

// AssignSession atomically claims a pending session for an agent. The
// status check and the update are one conditioned statement so two racing
// agents cannot both win.
func (s *SQLiteStore) AssignSession(ctx context.Context, sessionID string, agentID int64, startedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions
		SET agent_id = ?, status = 'active', started_at = ?
		WHERE session_id = ? AND status = 'pending'
	`, agentID, startedAt, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CloseSession transitions a pending or active session to closed.
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID string, closedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions
		SET status = 'closed', closed_at = ?
		WHERE session_id = ? AND status IN ('pending', 'active')
	`, closedAt, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const sessionSummaryColumns = `
	s.session_id, s.user_id, COALESCE(u.username, ''), COALESCE(u.email, ''),
	s.status, s.created_at, s.started_at,
	(SELECT content FROM chat_messages m
	 WHERE m.session_id = s.session_id
	 ORDER BY m.sequence_number DESC LIMIT 1)`

// ListPendingSessions returns pending sessions ordered oldest first so
// agents pick up conversations fairly.
func (s *SQLiteStore) ListPendingSessions(ctx context.Context) ([]models.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionSummaryColumns+`, 0
		FROM chat_sessions s
		LEFT JOIN users u ON u.id = s.user_id
		WHERE s.status = 'pending'
		ORDER BY s.created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// ListAgentSessions returns the agent's active sessions and, when
// includePending is set, all unassigned pending sessions.
func (s *SQLiteStore) ListAgentSessions(ctx context.Context, agentID int64, includePending bool) ([]models.SessionSummary, error) {
	query := `
		SELECT ` + sessionSummaryColumns + `,
		(SELECT COUNT(*) FROM chat_messages m
		 WHERE m.session_id = s.session_id AND m.to_user_id = ? AND m.is_read = 0)
		FROM chat_sessions s
		LEFT JOIN users u ON u.id = s.user_id
		WHERE (s.agent_id = ? AND s.status = 'active')`
	args := []any{agentID, agentID}
	if includePending {
		query += ` OR (s.agent_id IS NULL AND s.status = 'pending')`
	}
	query += ` ORDER BY s.created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]models.SessionSummary, error) {
	var out []models.SessionSummary
	for rows.Next() {
		var sum models.SessionSummary
		var status string
		var startedAt sql.NullTime
		var lastMessage sql.NullString
		if err := rows.Scan(
			&sum.SessionID, &sum.UserID, &sum.Username, &sum.Email,
			&status, &sum.CreatedAt, &startedAt, &lastMessage, &sum.UnreadCount,
		); err != nil {
			return nil, err
		}
		parsed, err := models.ParseSessionStatus(status)
		if err != nil {
			return nil, err
		}
		sum.Status = parsed
		if startedAt.Valid {
			sum.StartedAt = &startedAt.Time
		}
		if lastMessage.Valid {
			sum.LastMessage = &lastMessage.String
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// InsertMessage persists a message, assigning the next per-session
// sequence number inside one transaction.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxSeq int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0) FROM chat_messages WHERE session_id = ?
	`, msg.SessionID).Scan(&maxSeq); err != nil {
		return err
	}
	msg.SequenceNumber = maxSeq + 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_messages (
			id, session_id, sequence_number, from_user_id, to_user_id,
			content, message_type, status, is_read, is_recalled, is_edited,
			reply_to_message_id, created_at, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?, ?)
	`, msg.ID, msg.SessionID, msg.SequenceNumber, msg.FromUserID, nullableInt64(msg.ToUserID),
		msg.Content, string(msg.MessageType), string(msg.Status),
		nullableString(msg.ReplyToMessageID), msg.CreatedAt, nullableTime(msg.SentAt))
	if err != nil {
		return err
	}
	return tx.Commit()
}

const messageColumns = `
	id, session_id, sequence_number, from_user_id, to_user_id, content,
	message_type, status, is_read, is_recalled, is_edited, edited_at,
	reply_to_message_id, created_at, sent_at, delivered_at, read_at`

// GetMessage retrieves a message by ID, or nil when absent.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ListSessionMessages returns a session's messages in sequence order.
func (s *SQLiteStore) ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE session_id = ?
		ORDER BY sequence_number ASC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListUndeliveredMessages returns non-recalled messages addressed to the
// user that have not reached delivered.
func (s *SQLiteStore) ListUndeliveredMessages(ctx context.Context, userID int64, limit int) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM chat_messages
		WHERE to_user_id = ? AND status NOT IN ('delivered', 'read') AND is_recalled = 0
		ORDER BY created_at ASC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MarkMessageRecalled flags a message as recalled.
func (s *SQLiteStore) MarkMessageRecalled(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chat_messages SET is_recalled = 1 WHERE id = ?`, id)
	return err
}

// UpdateMessageContent replaces a message's content and marks it edited.
func (s *SQLiteStore) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET content = ?, is_edited = 1, edited_at = ? WHERE id = ?
	`, content, editedAt, id)
	return err
}

// UpdateMessageStatus applies a delivery status, stamping the matching
// timestamp column. Last write wins.
func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, at time.Time) (bool, error) {
	var res sql.Result
	var err error
	switch status {
	case models.MessageDelivered:
		res, err = s.db.ExecContext(ctx, `
			UPDATE chat_messages SET status = ?, delivered_at = ? WHERE id = ?
		`, string(status), at, id)
	case models.MessageRead:
		res, err = s.db.ExecContext(ctx, `
			UPDATE chat_messages SET status = ?, is_read = 1, read_at = ? WHERE id = ?
		`, string(status), at, id)
	case models.MessageSent:
		res, err = s.db.ExecContext(ctx, `
			UPDATE chat_messages SET status = ?, sent_at = ? WHERE id = ?
		`, string(status), at, id)
	default:
		res, err = s.db.ExecContext(ctx, `
			UPDATE chat_messages SET status = ? WHERE id = ?
		`, string(status), id)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanMessage(row *sql.Row) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{}
	var toUserID sql.NullInt64
	var msgType, status string
	var isRead, isRecalled, isEdited int
	var editedAt, sentAt, deliveredAt, readAt sql.NullTime
	var replyTo sql.NullString
	err := row.Scan(
		&msg.ID, &msg.SessionID, &msg.SequenceNumber, &msg.FromUserID, &toUserID,
		&msg.Content, &msgType, &status, &isRead, &isRecalled, &isEdited, &editedAt,
		&replyTo, &msg.CreatedAt, &sentAt, &deliveredAt, &readAt,
	)
	if err != nil {
		return nil, err
	}
	fillMessage(msg, toUserID, msgType, status, isRead, isRecalled, isEdited, editedAt, replyTo, sentAt, deliveredAt, readAt)
	return msg, nil
}

func scanMessages(rows *sql.Rows) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	for rows.Next() {
		msg := models.ChatMessage{}
		var toUserID sql.NullInt64
		var msgType, status string
		var isRead, isRecalled, isEdited int
		var editedAt, sentAt, deliveredAt, readAt sql.NullTime
		var replyTo sql.NullString
		if err := rows.Scan(
			&msg.ID, &msg.SessionID, &msg.SequenceNumber, &msg.FromUserID, &toUserID,
			&msg.Content, &msgType, &status, &isRead, &isRecalled, &isEdited, &editedAt,
			&replyTo, &msg.CreatedAt, &sentAt, &deliveredAt, &readAt,
		); err != nil {
			return nil, err
		}
		fillMessage(&msg, toUserID, msgType, status, isRead, isRecalled, isEdited, editedAt, replyTo, sentAt, deliveredAt, readAt)
		out = append(out, msg)
	}
	return out, rows.Err()
}

func fillMessage(msg *models.ChatMessage, toUserID sql.NullInt64, msgType, status string, isRead, isRecalled, isEdited int, editedAt sql.NullTime, replyTo sql.NullString, sentAt, deliveredAt, readAt sql.NullTime) {
	if toUserID.Valid {
		msg.ToUserID = &toUserID.Int64
	}
	msg.MessageType = models.ParseMessageType(msgType)
	if parsed, err := models.ParseMessageStatus(status); err == nil {
		msg.Status = parsed
	}
	msg.IsRead = isRead == 1
	msg.IsRecalled = isRecalled == 1
	msg.IsEdited = isEdited == 1
	if editedAt.Valid {
		msg.EditedAt = &editedAt.Time
	}
	if replyTo.Valid {
		msg.ReplyToMessageID = &replyTo.String
	}
	if sentAt.Valid {
		msg.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		msg.DeliveredAt = &deliveredAt.Time
	}
	if readAt.Valid {
		msg.ReadAt = &readAt.Time
	}
}

// EnqueueEntry records an outbox entry for later redelivery.
func (s *SQLiteStore) EnqueueEntry(ctx context.Context, entry *models.QueueEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_queue (
			id, message_id, session_id, from_user_id, to_user_id,
			retry_count, max_retries, status, error_message, next_retry_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.MessageID, entry.SessionID, entry.FromUserID, nullableInt64(entry.ToUserID),
		entry.RetryCount, entry.MaxRetries, string(entry.Status),
		nullIfEmpty(entry.ErrorMessage), nullableTime(entry.NextRetryAt), entry.CreatedAt)
	return err
}

// DequeuePending returns pending entries whose retry time has come,
// oldest first.
func (s *SQLiteStore) DequeuePending(ctx context.Context, limit int, now time.Time) ([]models.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, session_id, from_user_id, to_user_id,
		       retry_count, max_retries, status, error_message, next_retry_at, created_at
		FROM message_queue
		WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at ASC
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueueEntry
	for rows.Next() {
		var entry models.QueueEntry
		var toUserID sql.NullInt64
		var status string
		var errMsg sql.NullString
		var nextRetryAt sql.NullTime
		if err := rows.Scan(
			&entry.ID, &entry.MessageID, &entry.SessionID, &entry.FromUserID, &toUserID,
			&entry.RetryCount, &entry.MaxRetries, &status, &errMsg, &nextRetryAt, &entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		parsed, err := models.ParseQueueStatus(status)
		if err != nil {
			return nil, err
		}
		entry.Status = parsed
		if toUserID.Valid {
			entry.ToUserID = &toUserID.Int64
		}
		if errMsg.Valid {
			entry.ErrorMessage = errMsg.String
		}
		if nextRetryAt.Valid {
			entry.NextRetryAt = &nextRetryAt.Time
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// UpdateQueueEntry applies a status transition and retry bookkeeping.
func (s *SQLiteStore) UpdateQueueEntry(ctx context.Context, id string, status models.QueueStatus, errorMessage string, retryCount int, nextRetryAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE message_queue
		SET status = ?, error_message = COALESCE(?, error_message), retry_count = ?, next_retry_at = ?
		WHERE id = ?
	`, string(status), nullIfEmpty(errorMessage), retryCount, nullableTime(nextRetryAt), id)
	return err
}

// CreateConnection records a live connection; re-registering an existing
// connection_id refreshes its heartbeat instead of erroring.
func (s *SQLiteStore) CreateConnection(ctx context.Context, conn *models.Connection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_connections (connection_id, user_id, device_id, status, last_heartbeat, connected_at)
		VALUES (?, ?, ?, 'connected', ?, ?)
		ON CONFLICT(connection_id) DO UPDATE SET last_heartbeat = excluded.last_heartbeat, status = 'connected'
	`, conn.ConnectionID, conn.UserID, nullIfEmpty(conn.DeviceID), conn.LastHeartbeat, conn.ConnectedAt)
	return err
}

// TouchConnection updates a connection's heartbeat timestamp.
func (s *SQLiteStore) TouchConnection(ctx context.Context, connectionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_connections SET last_heartbeat = ?, status = 'connected' WHERE connection_id = ?
	`, at, connectionID)
	return err
}

// DisconnectConnection marks a connection disconnected.
func (s *SQLiteStore) DisconnectConnection(ctx context.Context, connectionID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_connections SET status = 'disconnected', disconnected_at = ?
		WHERE connection_id = ? AND status = 'connected'
	`, at, connectionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CleanupStaleConnections bulk-disconnects rows whose heartbeat predates
// the cutoff, returning the number affected.
func (s *SQLiteStore) CleanupStaleConnections(ctx context.Context, olderThan time.Time, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_connections SET status = 'disconnected', disconnected_at = ?
		WHERE status = 'connected' AND last_heartbeat < ?
	`, at, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertAgentStatus writes the one presence row per agent.
func (s *SQLiteStore) UpsertAgentStatus(ctx context.Context, agentID int64, status models.AgentPresence, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_status (agent_id, status, last_heartbeat) VALUES (?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET status = excluded.status, last_heartbeat = excluded.last_heartbeat
	`, agentID, string(status), at)
	return err
}

// ListOnlineAgents returns agents currently online or away, joined with
// their profiles.
func (s *SQLiteStore) ListOnlineAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
