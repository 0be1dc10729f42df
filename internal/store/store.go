// Package store persists paused-conversation session records so a workflow
// waiting on user input survives process restarts.
//
// Records are versioned and keyed by conversation id. Backends: in-memory
// (tests and single-process default), SQLite, and PostgreSQL, selected by the
// configured driver.
package store

import (
	"fmt"
	"sync"
	"time"
)

// SessionRecord is the durable snapshot of a paused conversation: the active
// workflow, the argument being waited on, and the serialized flow context
// (extracted-but-unconfirmed entities included). Version increments on every
// save so stale writers can be detected.
type SessionRecord struct {
	ConversationID   string    `json:"conversation_id"`
	Version          int       `json:"version"`
	ActiveWorkflow   string    `json:"active_workflow"`
	WaitingField     string    `json:"waiting_field"`
	RecoveryAttempts int       `json:"recovery_attempts"`
	ContextJSON      string    `json:"context_json"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Store is the session persistence interface.
type Store interface {
	// SaveSession upserts the record, assigning the next version.
	SaveSession(rec SessionRecord) error

	// GetSession returns the record for a conversation, or nil when absent.
	GetSession(conversationID string) (*SessionRecord, error)

	// DeleteSession removes the record for a conversation.
	DeleteSession(conversationID string) error

	// Close releases backend resources.
	Close() error
}

// Opts holds backend construction options.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database DSN (file path for SQLite, URL for Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// New constructs a store for the configured driver: "memory", "sqlite3", or
// "postgres".
func New(driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewInMemoryStore(), nil
	case "sqlite3":
		return NewSQLiteStore(WithDSN(dsn))
	case "postgres":
		return NewPostgresStore(WithDSN(dsn))
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// InMemoryStore keeps session records in process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]SessionRecord)}
}

// SaveSession upserts the record, assigning the next version.
func (s *InMemoryStore) SaveSession(rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.sessions[rec.ConversationID]; ok {
		rec.Version = prev.Version + 1
	} else {
		rec.Version = 1
	}
	rec.UpdatedAt = time.Now().UTC()
	s.sessions[rec.ConversationID] = rec
	return nil
}

// GetSession returns the record for a conversation, or nil when absent.
func (s *InMemoryStore) GetSession(conversationID string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[conversationID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// DeleteSession removes the record for a conversation.
func (s *InMemoryStore) DeleteSession(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, conversationID)
	return nil
}

// Close is a no-op for the in-memory backend.
func (s *InMemoryStore) Close() error { return nil }
