package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// RunMigrations creates the PostgreSQL schema if it does not exist. Schema
// ownership lives with the ops tooling; this covers fresh environments.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user'
	);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		agent_id BIGINT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		closed_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		sequence_number BIGINT NOT NULL,
		from_user_id BIGINT NOT NULL,
		to_user_id BIGINT,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'text',
		status TEXT NOT NULL DEFAULT 'sent',
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		is_recalled BOOLEAN NOT NULL DEFAULT FALSE,
		is_edited BOOLEAN NOT NULL DEFAULT FALSE,
		edited_at TIMESTAMPTZ,
		reply_to_message_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		sent_at TIMESTAMPTZ,
		delivered_at TIMESTAMPTZ,
		read_at TIMESTAMPTZ,
		UNIQUE (session_id, sequence_number)
	);

	CREATE TABLE IF NOT EXISTS message_queue (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		from_user_id BIGINT NOT NULL,
		to_user_id BIGINT,
		retry_count INT NOT NULL DEFAULT 0,
		max_retries INT NOT NULL DEFAULT 3,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		next_retry_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_connections (
		connection_id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		device_id TEXT,
		status TEXT NOT NULL DEFAULT 'connected',
		last_heartbeat TIMESTAMPTZ NOT NULL,
		connected_at TIMESTAMPTZ NOT NULL,
		disconnected_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS agent_status (
		agent_id BIGINT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'offline',
		last_heartbeat TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON chat_sessions(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_agent ON chat_sessions(agent_id);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id, sequence_number);
	CREATE INDEX IF NOT EXISTS idx_messages_recipient ON chat_messages(to_user_id, status);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON message_queue(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_connections_user ON user_connections(user_id, status);
	`

	_, err = conn.Exec(ctx, schema)
	return err
}
