// Package store provides storage backends for session records.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists session records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path).
// The parent directory is created when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveSession upserts the record, assigning the next version.
func (s *SQLiteStore) SaveSession(rec SessionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (conversation_id, version, active_workflow, waiting_field, recovery_attempts, context_json, updated_at)
		VALUES (?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			version = sessions.version + 1,
			active_workflow = excluded.active_workflow,
			waiting_field = excluded.waiting_field,
			recovery_attempts = excluded.recovery_attempts,
			context_json = excluded.context_json,
			updated_at = excluded.updated_at`,
		rec.ConversationID, rec.ActiveWorkflow, rec.WaitingField, rec.RecoveryAttempts, rec.ContextJSON, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveSession failed", "error", err, "conversationID", rec.ConversationID)
		return fmt.Errorf("failed to save session %s: %w", rec.ConversationID, err)
	}
	slog.Debug("SQLiteStore SaveSession succeeded", "conversationID", rec.ConversationID)
	return nil
}

// GetSession returns the record for a conversation, or nil when absent.
func (s *SQLiteStore) GetSession(conversationID string) (*SessionRecord, error) {
	row := s.db.QueryRow(`
		SELECT conversation_id, version, active_workflow, waiting_field, recovery_attempts, context_json, updated_at
		FROM sessions WHERE conversation_id = ?`, conversationID)

	var rec SessionRecord
	err := row.Scan(&rec.ConversationID, &rec.Version, &rec.ActiveWorkflow, &rec.WaitingField, &rec.RecoveryAttempts, &rec.ContextJSON, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to load session %s: %w", conversationID, err)
	}
	return &rec, nil
}

// DeleteSession removes the record for a conversation.
func (s *SQLiteStore) DeleteSession(conversationID string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE conversation_id = ?`, conversationID); err != nil {
		slog.Error("SQLiteStore DeleteSession failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to delete session %s: %w", conversationID, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
