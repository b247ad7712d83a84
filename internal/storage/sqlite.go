package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens (or creates) the SQLite database at path and applies the
// schema migrations. Write transactions take the lock up front.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := MigrateSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// MigrateSQLite creates the tables used by the sqlite backend. It is idempotent.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		sqliteEmailTemplates,
		sqliteSentEmails,
		migrationSentEmailsOrderIndex,
		migrationSentEmailsTimeIndex,
		sqliteRunLeases,
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Timestamps are stored as unix nanoseconds so they order numerically

// UnixNano converts t for storage in an INTEGER column
func UnixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

// FromUnixNano converts a stored INTEGER timestamp back to UTC time
func FromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

const sqliteEmailTemplates = `
CREATE TABLE IF NOT EXISTS email_templates (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	subject    TEXT NOT NULL DEFAULT '',
	body_html  TEXT NOT NULL DEFAULT '',
	body_text  TEXT NOT NULL DEFAULT '',
	is_active  INTEGER DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

const sqliteSentEmails = `
CREATE TABLE IF NOT EXISTS sent_emails (
	id             TEXT PRIMARY KEY,
	order_id       TEXT NOT NULL,
	order_number   TEXT NOT NULL DEFAULT '',
	customer_email TEXT NOT NULL DEFAULT '',
	customer_name  TEXT NOT NULL DEFAULT '',
	subject        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	error_message  TEXT,
	sent_at        INTEGER NOT NULL
)`

const sqliteRunLeases = `
CREATE TABLE IF NOT EXISTS run_leases (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at INTEGER NOT NULL
)`
