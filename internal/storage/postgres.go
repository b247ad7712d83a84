package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPostgres connects to PostgreSQL and applies the schema migrations
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// Migrate creates the tables used by the postgres backend. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []string{
		migrationEmailTemplates,
		migrationSentEmails,
		migrationSentEmailsOrderIndex,
		migrationSentEmailsTimeIndex,
		migrationRunLeases,
	}

	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const migrationEmailTemplates = `
CREATE TABLE IF NOT EXISTS email_templates (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	subject    TEXT NOT NULL DEFAULT '',
	body_html  TEXT NOT NULL DEFAULT '',
	body_text  TEXT NOT NULL DEFAULT '',
	is_active  BOOLEAN DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const migrationSentEmails = `
CREATE TABLE IF NOT EXISTS sent_emails (
	id             TEXT PRIMARY KEY,
	order_id       TEXT NOT NULL,
	order_number   TEXT NOT NULL DEFAULT '',
	customer_email TEXT NOT NULL DEFAULT '',
	customer_name  TEXT NOT NULL DEFAULT '',
	subject        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	error_message  TEXT,
	sent_at        TIMESTAMPTZ NOT NULL
)`

const migrationSentEmailsOrderIndex = `
CREATE INDEX IF NOT EXISTS sent_emails_order_id_idx ON sent_emails (order_id)`

const migrationSentEmailsTimeIndex = `
CREATE INDEX IF NOT EXISTS sent_emails_sent_at_idx ON sent_emails (sent_at DESC)`

const migrationRunLeases = `
CREATE TABLE IF NOT EXISTS run_leases (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`
