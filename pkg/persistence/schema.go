package persistence

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration
// support.
const CurrentSchemaVersion = 2

// initializeSchemaWithMigrations ensures the database schema is at the
// current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := getSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

func getSchemaVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read user_version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

// createSchema creates the full schema at the current version.
func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id               TEXT PRIMARY KEY,
			chat_id          TEXT NOT NULL UNIQUE,
			status           TEXT NOT NULL DEFAULT 'idle',
			plan_version     INTEGER NOT NULL DEFAULT 0,
			current_todo_id  TEXT,
			auto_advance     INTEGER NOT NULL DEFAULT 0,
			analysis         TEXT,
			dyad_tag_context TEXT,
			created_at       TIMESTAMP NOT NULL,
			updated_at       TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS todos (
			workflow_id         TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			todo_id             TEXT NOT NULL,
			title               TEXT NOT NULL,
			description         TEXT NOT NULL DEFAULT '',
			owner               TEXT NOT NULL DEFAULT '',
			inputs              TEXT,
			outputs             TEXT,
			completion_criteria TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL DEFAULT 'pending',
			order_index         INTEGER NOT NULL,
			created_at          TIMESTAMP NOT NULL,
			updated_at          TIMESTAMP NOT NULL,
			PRIMARY KEY (workflow_id, todo_id)
		)`,
		`CREATE TABLE IF NOT EXISTS execution_logs (
			id            TEXT PRIMARY KEY,
			workflow_id   TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			todo_id       TEXT,
			session_id    TEXT NOT NULL DEFAULT '',
			log_type      TEXT NOT NULL,
			content       TEXT NOT NULL,
			metadata      TEXT,
			dyad_tag_refs TEXT,
			created_at    TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_todos_order
			ON todos(workflow_id, order_index)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_logs_workflow
			ON execution_logs(workflow_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_workflows_chat
			ON workflows(chat_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return setSchemaVersion(db, CurrentSchemaVersion)
}

// runMigrations applies migrations from current version to target version.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 2:
		return migrateToVersion2(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion2 adds the session_id column to execution_logs so audit
// entries can be attributed to a process run.
func migrateToVersion2(db *sql.DB) error {
	if _, err := db.Exec(
		"ALTER TABLE execution_logs ADD COLUMN session_id TEXT NOT NULL DEFAULT ''",
	); err != nil {
		return fmt.Errorf("failed to add session_id column: %w", err)
	}
	return nil
}
