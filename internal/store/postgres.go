// Package store provides storage backends for session records.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore persists session records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

const postgresMigrations = `
CREATE TABLE IF NOT EXISTS sessions (
    conversation_id TEXT PRIMARY KEY,
    version         INTEGER NOT NULL DEFAULT 1,
    active_workflow TEXT NOT NULL DEFAULT '',
    waiting_field   TEXT NOT NULL DEFAULT '',
    recovery_attempts INTEGER NOT NULL DEFAULT 0,
    context_json    TEXT NOT NULL DEFAULT '{}',
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// NewPostgresStore creates a new Postgres store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// SaveSession upserts the record, assigning the next version.
func (s *PostgresStore) SaveSession(rec SessionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (conversation_id, version, active_workflow, waiting_field, recovery_attempts, context_json, updated_at)
		VALUES ($1, 1, $2, $3, $4, $5, $6)
		ON CONFLICT (conversation_id) DO UPDATE SET
			version = sessions.version + 1,
			active_workflow = EXCLUDED.active_workflow,
			waiting_field = EXCLUDED.waiting_field,
			recovery_attempts = EXCLUDED.recovery_attempts,
			context_json = EXCLUDED.context_json,
			updated_at = EXCLUDED.updated_at`,
		rec.ConversationID, rec.ActiveWorkflow, rec.WaitingField, rec.RecoveryAttempts, rec.ContextJSON, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore SaveSession failed", "error", err, "conversationID", rec.ConversationID)
		return fmt.Errorf("failed to save session %s: %w", rec.ConversationID, err)
	}
	return nil
}

// GetSession returns the record for a conversation, or nil when absent.
func (s *PostgresStore) GetSession(conversationID string) (*SessionRecord, error) {
	row := s.db.QueryRow(`
		SELECT conversation_id, version, active_workflow, waiting_field, recovery_attempts, context_json, updated_at
		FROM sessions WHERE conversation_id = $1`, conversationID)

	var rec SessionRecord
	err := row.Scan(&rec.ConversationID, &rec.Version, &rec.ActiveWorkflow, &rec.WaitingField, &rec.RecoveryAttempts, &rec.ContextJSON, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to load session %s: %w", conversationID, err)
	}
	return &rec, nil
}

// DeleteSession removes the record for a conversation.
func (s *PostgresStore) DeleteSession(conversationID string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE conversation_id = $1`, conversationID); err != nil {
		slog.Error("PostgresStore DeleteSession failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to delete session %s: %w", conversationID, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
