package template

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/pickup/internal/storage"
)

// SQLiteStore stores templates in the email_templates table of a SQLite file
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a SQLiteStore backed by db
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

// Active implements Store
func (s *SQLiteStore) Active(ctx context.Context) (*Template, error) {
	return resolveActive(ctx, s, s.logger)
}

func (s *SQLiteStore) activeIndexed(ctx context.Context) (*Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteTemplateColumns+` FROM email_templates
		 WHERE is_active IS NOT 0
		 ORDER BY created_at DESC LIMIT 1`)
	tmpl, err := scanSQLiteTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return tmpl, err
}

const sqliteTemplateColumns = `id, name, subject, body_html, body_text, COALESCE(is_active, 1), created_at, updated_at`

// List implements Store
func (s *SQLiteStore) List(ctx context.Context) []*Template {
	templates, err := s.listAll(ctx)
	if err != nil {
		s.logger.Error("template query failed completely", "error", err)
		return []*Template{}
	}
	return templates
}

func (s *SQLiteStore) listAll(ctx context.Context) ([]*Template, error) {
	return storage.FetchAllThenSort[*Template](ctx, s, createdAt, storage.Descending, 0, s.logger)
}

// Ordered reads templates ordered by created_at
func (s *SQLiteStore) Ordered(ctx context.Context, dir storage.Direction, limit int) ([]*Template, error) {
	q := `SELECT ` + sqliteTemplateColumns + ` FROM email_templates ORDER BY created_at DESC`
	if dir == storage.Ascending {
		q = `SELECT ` + sqliteTemplateColumns + ` FROM email_templates ORDER BY created_at ASC`
	}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.query(ctx, q)
}

// Scan reads every template without ordering
func (s *SQLiteStore) Scan(ctx context.Context) ([]*Template, error) {
	return s.query(ctx, `SELECT `+sqliteTemplateColumns+` FROM email_templates`)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		tmpl, err := scanSQLiteTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

// Get implements Store
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteTemplateColumns+` FROM email_templates WHERE id = ?`, id)
	tmpl, err := scanSQLiteTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	return tmpl, nil
}

// Create implements Store
func (s *SQLiteStore) Create(ctx context.Context, tmpl *Template) error {
	if err := tmpl.Validate(); err != nil {
		return err
	}
	return insertSQLiteTemplate(ctx, s.db, tmpl)
}

// sqlExecutor is satisfied by both *sql.DB and *sql.Tx
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertSQLiteTemplate(ctx context.Context, db sqlExecutor, tmpl *Template) error {
	tmpl.ID = uuid.New().String()
	tmpl.CreatedAt = time.Now().UTC()
	tmpl.UpdatedAt = tmpl.CreatedAt

	_, err := db.ExecContext(ctx,
		`INSERT INTO email_templates (id, name, subject, body_html, body_text, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tmpl.ID, tmpl.Name, tmpl.Subject, tmpl.BodyHTML, tmpl.BodyText,
		tmpl.IsActive, storage.UnixNano(tmpl.CreatedAt), storage.UnixNano(tmpl.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// Update implements Store
func (s *SQLiteStore) Update(ctx context.Context, id string, p Patch) (*Template, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE email_templates SET
			name       = COALESCE(?, name),
			subject    = COALESCE(?, subject),
			body_html  = COALESCE(?, body_html),
			body_text  = COALESCE(?, body_text),
			is_active  = COALESCE(?, is_active),
			updated_at = ?
		 WHERE id = ?`,
		p.Name, p.Subject, p.BodyHTML, p.BodyText, p.IsActive, storage.UnixNano(time.Now()), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update template %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	tmpl, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, ErrNotFound
	}
	return tmpl, nil
}

// Delete implements Store
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM email_templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Initialize implements Store. The database is opened with immediate
// transactions, so the existence check and insert hold the write lock.
func (s *SQLiteStore) Initialize(ctx context.Context) (*Template, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM email_templates)`).Scan(&exists); err != nil {
		return nil, false, fmt.Errorf("count templates: %w", err)
	}
	if exists {
		return nil, false, nil
	}

	tmpl := Default()
	if err := insertSQLiteTemplate(ctx, tx, tmpl); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit template tx: %w", err)
	}
	return tmpl, true, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTemplate(row rowScanner) (*Template, error) {
	tmpl := &Template{}
	var created, updated int64
	err := row.Scan(
		&tmpl.ID, &tmpl.Name, &tmpl.Subject, &tmpl.BodyHTML, &tmpl.BodyText,
		&tmpl.IsActive, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	tmpl.CreatedAt = storage.FromUnixNano(created)
	tmpl.UpdatedAt = storage.FromUnixNano(updated)
	return tmpl, nil
}
