// Package migrations holds the ordered set of schema migrations applied to
// a fresh or existing node database. Each migration is idempotent: it
// checks existing schema state before altering it, so re-running the full
// set against an up-to-date database is a no-op.
package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateInitSchema creates the base tables if they do not already exist:
// entries, logs, operations, operation_fields, documents, document_views,
// document_view_fields, and tasks (spec.md §6 "Persisted state layout").
func MigrateInitSchema(db *sql.DB) (retErr error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS logs (
			public_key TEXT NOT NULL,
			log_id INTEGER NOT NULL,
			document_id TEXT NOT NULL,
			schema_id TEXT NOT NULL,
			PRIMARY KEY (public_key, log_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_document ON logs(document_id)`,
		`CREATE TABLE IF NOT EXISTS entries (
			public_key TEXT NOT NULL,
			log_id INTEGER NOT NULL,
			seq_num INTEGER NOT NULL,
			entry_hash TEXT NOT NULL UNIQUE,
			backlink TEXT NOT NULL DEFAULT '',
			skiplink TEXT NOT NULL DEFAULT '',
			has_backlink INTEGER NOT NULL,
			has_skiplink INTEGER NOT NULL,
			payload_size INTEGER NOT NULL,
			payload_hash TEXT NOT NULL,
			signature BLOB NOT NULL,
			raw BLOB NOT NULL,
			PRIMARY KEY (public_key, log_id, seq_num)
		)`,
		`CREATE TABLE IF NOT EXISTS operations (
			operation_id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			schema_id TEXT NOT NULL,
			previous TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL,
			log_id INTEGER NOT NULL,
			document_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_document ON operations(document_id)`,
		`CREATE TABLE IF NOT EXISTS operation_fields (
			operation_id TEXT NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (operation_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			document_id TEXT PRIMARY KEY,
			view_id TEXT NOT NULL,
			schema_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_schema ON documents(schema_id)`,
		`CREATE TABLE IF NOT EXISTS document_views (
			view_id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			schema_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			is_current INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_views_document ON document_views(document_id)`,
		`CREATE TABLE IF NOT EXISTS document_view_fields (
			view_id TEXT NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (view_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			dedup_key TEXT PRIMARY KEY,
			worker TEXT NOT NULL,
			document_id TEXT NOT NULL DEFAULT '',
			view_id TEXT NOT NULL DEFAULT '',
			is_view_input INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
