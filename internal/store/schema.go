package store

import (
	"context"
	"fmt"
)

// Tables lists every table the migration owns, in creation order.
var Tables = []string{
	"users",
	"sessions",
	"session_turns",
	"reports",
	"learning_history",
	"user_stats",
	"behavior_events",
	"llm_request_events",
}

// The DDL sticks to types and clauses both SQLite and PostgreSQL accept.
// Timestamps are unix milliseconds; structured values are JSON text.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id          TEXT PRIMARY KEY,
		nickname    TEXT NOT NULL DEFAULT '',
		avatar_ref  TEXT NOT NULL DEFAULT '',
		settings    TEXT NOT NULL DEFAULT '{}',
		achievement TEXT NOT NULL DEFAULT '',
		sync_count  BIGINT NOT NULL DEFAULT 0,
		created_at  BIGINT NOT NULL,
		updated_at  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id                TEXT PRIMARY KEY,
		owner_id          TEXT NOT NULL,
		problem_text      TEXT NOT NULL,
		analysis          TEXT NOT NULL DEFAULT '{}',
		image_ref         TEXT NOT NULL DEFAULT '',
		round             BIGINT NOT NULL DEFAULT 1,
		total_rounds      BIGINT NOT NULL,
		status            TEXT NOT NULL,
		completion_reason TEXT NOT NULL DEFAULT '',
		started_at        BIGINT NOT NULL,
		ended_at          BIGINT NOT NULL DEFAULT 0,
		updated_at        BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS sessions_owner_started ON sessions (owner_id, started_at)`,
	`CREATE INDEX IF NOT EXISTS sessions_status_updated ON sessions (status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS session_turns (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		sequence   BIGINT NOT NULL,
		role       TEXT NOT NULL,
		text       TEXT NOT NULL,
		round      BIGINT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`DROP INDEX IF EXISTS session_turns_session_seq`,
	`CREATE UNIQUE INDEX IF NOT EXISTS session_turns_session_sequence ON session_turns (session_id, sequence)`,
	`CREATE TABLE IF NOT EXISTS reports (
		session_id   TEXT PRIMARY KEY,
		owner_id     TEXT NOT NULL,
		score        BIGINT NOT NULL,
		source       TEXT NOT NULL,
		body         TEXT NOT NULL,
		generated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS reports_owner ON reports (owner_id)`,
	`CREATE TABLE IF NOT EXISTS learning_history (
		owner_id         TEXT NOT NULL,
		session_id       TEXT NOT NULL,
		problem_text     TEXT NOT NULL,
		status           TEXT NOT NULL,
		score            BIGINT,
		rounds           BIGINT NOT NULL DEFAULT 0,
		learning_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
		started_at       BIGINT NOT NULL,
		updated_at       BIGINT NOT NULL,
		PRIMARY KEY (owner_id, session_id)
	)`,
	`CREATE INDEX IF NOT EXISTS learning_history_owner_updated ON learning_history (owner_id, updated_at)`,
	`CREATE TABLE IF NOT EXISTS user_stats (
		owner_id    TEXT PRIMARY KEY,
		data        TEXT NOT NULL,
		computed_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS behavior_events (
		sequence   BIGINT PRIMARY KEY,
		timestamp  BIGINT NOT NULL,
		owner_id   TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		type       TEXT NOT NULL,
		payload    TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS behavior_events_owner ON behavior_events (owner_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS llm_request_events (
		sequence      BIGINT PRIMARY KEY,
		timestamp     BIGINT NOT NULL,
		provider      TEXT NOT NULL,
		model         TEXT NOT NULL,
		purpose       TEXT NOT NULL,
		input_tokens  BIGINT NOT NULL DEFAULT 0,
		output_tokens BIGINT NOT NULL DEFAULT 0,
		latency_ms    BIGINT NOT NULL DEFAULT 0,
		success       BOOLEAN NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		request_body  TEXT NOT NULL DEFAULT '',
		response_body TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS llm_request_events_purpose ON llm_request_events (purpose)`,
}

// Migrate creates all tables and indexes if they do not exist. It is safe to
// run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
