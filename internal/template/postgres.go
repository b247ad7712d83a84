package template

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foxzi/pickup/internal/storage"
)

// initLockKey serialises default-template creation across instances
const initLockKey = int64(7_316_402_118)

const templateColumns = `id, name, subject, body_html, body_text, COALESCE(is_active, TRUE), created_at, updated_at`

// PostgresStore stores templates in the email_templates table
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore backed by pool
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Active implements Store
func (s *PostgresStore) Active(ctx context.Context) (*Template, error) {
	return resolveActive(ctx, s, s.logger)
}

func (s *PostgresStore) activeIndexed(ctx context.Context) (*Template, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM email_templates
		 WHERE is_active IS NOT FALSE
		 ORDER BY created_at DESC LIMIT 1`)
	tmpl, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return tmpl, err
}

// List implements Store
func (s *PostgresStore) List(ctx context.Context) []*Template {
	templates, err := s.listAll(ctx)
	if err != nil {
		s.logger.Error("template query failed completely", "error", err)
		return []*Template{}
	}
	return templates
}

func (s *PostgresStore) listAll(ctx context.Context) ([]*Template, error) {
	return storage.FetchAllThenSort[*Template](ctx, s, createdAt, storage.Descending, 0, s.logger)
}

// Ordered reads templates ordered by created_at
func (s *PostgresStore) Ordered(ctx context.Context, dir storage.Direction, limit int) ([]*Template, error) {
	q := `SELECT ` + templateColumns + ` FROM email_templates ORDER BY created_at DESC`
	if dir == storage.Ascending {
		q = `SELECT ` + templateColumns + ` FROM email_templates ORDER BY created_at ASC`
	}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.query(ctx, q)
}

// Scan reads every template without ordering
func (s *PostgresStore) Scan(ctx context.Context) ([]*Template, error) {
	return s.query(ctx, `SELECT `+templateColumns+` FROM email_templates`)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Template, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

// Get implements Store
func (s *PostgresStore) Get(ctx context.Context, id string) (*Template, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+templateColumns+` FROM email_templates WHERE id = $1`, id)
	tmpl, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	return tmpl, nil
}

// Create implements Store
func (s *PostgresStore) Create(ctx context.Context, tmpl *Template) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}
	return insertTemplate(ctx, s.pool, tmpl)
}

// executor is satisfied by both *pgxpool.Pool and pgx.Tx
type executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertTemplate(ctx context.Context, db executor, tmpl *Template) error {
	tmpl.ID = uuid.New().String()
	tmpl.CreatedAt = time.Now().UTC()
	tmpl.UpdatedAt = tmpl.CreatedAt

	_, err := db.Exec(ctx,
		`INSERT INTO email_templates (id, name, subject, body_html, body_text, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tmpl.ID, tmpl.Name, tmpl.Subject, tmpl.BodyHTML, tmpl.BodyText,
		tmpl.IsActive, tmpl.CreatedAt, tmpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// Update implements Store
func (s *PostgresStore) Update(ctx context.Context, id string, p Patch) (*Template, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE email_templates SET
			name       = COALESCE($2, name),
			subject    = COALESCE($3, subject),
			body_html  = COALESCE($4, body_html),
			body_text  = COALESCE($5, body_text),
			is_active  = COALESCE($6, is_active),
			updated_at = $7
		 WHERE id = $1
		 RETURNING `+templateColumns,
		id, p.Name, p.Subject, p.BodyHTML, p.BodyText, p.IsActive, time.Now().UTC(),
	)
	tmpl, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update template %s: %w", id, err)
	}
	return tmpl, nil
}

// Delete implements Store
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM email_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Initialize implements Store
func (s *PostgresStore) Initialize(ctx context.Context) (*Template, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", initLockKey); err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM email_templates)`).Scan(&exists); err != nil {
		return nil, false, fmt.Errorf("count templates: %w", err)
	}
	if exists {
		return nil, false, nil
	}

	tmpl := Default()
	if err := insertTemplate(ctx, tx, tmpl); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit template tx: %w", err)
	}
	return tmpl, true, nil
}

func scanTemplate(row pgx.Row) (*Template, error) {
	tmpl := &Template{}
	err := row.Scan(
		&tmpl.ID, &tmpl.Name, &tmpl.Subject, &tmpl.BodyHTML, &tmpl.BodyText,
		&tmpl.IsActive, &tmpl.CreatedAt, &tmpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}
