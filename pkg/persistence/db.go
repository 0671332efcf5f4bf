// Package persistence provides SQLite-based durable storage for
// workflows, todos, and execution logs.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// Sentinel errors surfaced by store operations.
var (
	// ErrWorkflowNotFound indicates a lookup by id or chat id found no
	// workflow row. Per the error taxonomy this is fatal for the turn
	// when the id was expected to exist.
	ErrWorkflowNotFound = errors.New("workflow not found")
)

// Open opens (creating if necessary) the SQLite database at dbPath and
// ensures the schema is at the current version. Idempotent and safe to
// call on an existing database.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite supports a single writer; keep the pool at one connection
	// so write transactions never contend in-process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return db, nil
}

// Store provides workflow store operations over an open database.
// sessionID is stamped onto execution logs written during this process
// run, for crash forensics.
type Store struct {
	db        *sql.DB
	sessionID string
}

// NewStore creates a Store over an initialized database connection.
func NewStore(db *sql.DB, sessionID string) *Store {
	return &Store{db: db, sessionID: sessionID}
}

// SessionID returns the session id stamped on new log entries.
func (s *Store) SessionID() string {
	return s.sessionID
}
