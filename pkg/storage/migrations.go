package storage

import (
	"database/sql"
	"fmt"
)

type migration struct {
	Version int
	Name    string
	Apply   func(tx *sql.Tx) error
}

// MigrationRunner applies pending schema migrations
type MigrationRunner struct {
	db         *sql.DB
	migrations []migration
}

// NewMigrationRunner creates a MigrationRunner with all registered migrations
func NewMigrationRunner(db *sql.DB) *MigrationRunner {
	return &MigrationRunner{
		db: db,
		migrations: []migration{
			{Version: 1, Name: "sessions_and_content", Apply: migrateV001},
		},
	}
}

// Run applies every migration not yet recorded in schema_migrations
func (r *MigrationRunner) Run() error {
	if _, err := r.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range r.migrations {
		var count int
		if err := r.db.QueryRow(
			"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version,
		).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}
		if err := r.apply(m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (r *MigrationRunner) apply(m migration) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := m.Apply(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		m.Version, m.Name,
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			username            TEXT NOT NULL UNIQUE,
			secret              TEXT NOT NULL DEFAULT '',
			settings            BLOB,
			blocked             BOOLEAN NOT NULL DEFAULT 0,
			challenged          BOOLEAN NOT NULL DEFAULT 0,
			temporarily_blocked BOOLEAN NOT NULL DEFAULT 0,
			temp_blocked_at     DATETIME,
			usage_count         INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
			created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_eligible
			ON sessions(blocked, challenged, temporarily_blocked, usage_count, id)`,

		`CREATE TABLE IF NOT EXISTS content_records (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			target        TEXT NOT NULL UNIQUE,
			session_id    INTEGER REFERENCES sessions(id) ON DELETE SET NULL,
			resume_cursor TEXT NOT NULL DEFAULT '',
			item_count    INTEGER NOT NULL DEFAULT 0,
			next_position INTEGER NOT NULL DEFAULT 0,
			fetched_at    DATETIME,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS content_items (
			record_id INTEGER NOT NULL REFERENCES content_records(id) ON DELETE CASCADE,
			item_id   TEXT NOT NULL,
			position  INTEGER NOT NULL,
			payload   TEXT NOT NULL,
			PRIMARY KEY (record_id, item_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_items_position
			ON content_items(record_id, position)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
