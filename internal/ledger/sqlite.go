package ledger

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

// SQLiteLedger stores dispatch records in the sent_emails table of a SQLite file
type SQLiteLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteLedger creates a SQLiteLedger backed by db
func NewSQLiteLedger(db *sql.DB, logger *slog.Logger) *SQLiteLedger {
	return &SQLiteLedger{db: db, logger: logger}
}

// FindByOrderID implements Ledger
func (l *SQLiteLedger) FindByOrderID(ctx context.Context, orderID string) (*Record, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM sent_emails WHERE order_id = ? LIMIT 1`, orderID)
	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up order %s: %w", orderID, err)
	}
	return rec, nil
}

// Record implements Ledger
func (l *SQLiteLedger) Record(ctx context.Context, rec *Record) (string, error) {
	rec.ID = uuid.New().String()
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}
	rec.SentAt = rec.SentAt.UTC()

	var errMsg *string
	if rec.ErrorMessage != "" {
		errMsg = &rec.ErrorMessage
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO sent_emails (id, order_id, order_number, customer_email, customer_name, subject, status, error_message, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OrderID, rec.OrderNumber, rec.CustomerEmail, rec.CustomerName,
		rec.Subject, string(rec.Status), errMsg, storage.UnixNano(rec.SentAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return rec.ID, nil
}

// ListSent implements Ledger
func (l *SQLiteLedger) ListSent(ctx context.Context, limit, offset int) ([]*Record, int) {
	var total int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sent_emails`).Scan(&total); err != nil {
		l.logger.Warn("failed to count sent emails", "error", err)
	}

	fetch := 0
	if limit > 0 {
		fetch = offset + limit
	}

	records, err := storage.FetchAllThenSort[*Record](ctx, l, sentAt, storage.Descending, fetch, l.logger)
	if err != nil {
		l.logger.Error("sent email query failed completely", "error", err)
		return []*Record{}, 0
	}
	if total < len(records) {
		total = len(records)
	}

	return storage.Page(records, offset), total
}

// Ordered reads records ordered by sent_at
func (l *SQLiteLedger) Ordered(ctx context.Context, dir storage.Direction, limit int) ([]*Record, error) {
	q := `SELECT ` + recordColumns + ` FROM sent_emails ORDER BY sent_at DESC`
	if dir == storage.Ascending {
		q = `SELECT ` + recordColumns + ` FROM sent_emails ORDER BY sent_at ASC`
	}
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return l.query(ctx, q)
}

// Scan reads every record without ordering
func (l *SQLiteLedger) Scan(ctx context.Context) ([]*Record, error) {
	return l.query(ctx, `SELECT `+recordColumns+` FROM sent_emails`)
}

func (l *SQLiteLedger) query(ctx context.Context, q string, args ...any) ([]*Record, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sent emails: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*Record, error) {
	rec := &Record{}
	var (
		status string
		sent   int64
	)
	err := row.Scan(
		&rec.ID, &rec.OrderID, &rec.OrderNumber, &rec.CustomerEmail, &rec.CustomerName,
		&rec.Subject, &status, &rec.ErrorMessage, &sent,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.SentAt = storage.FromUnixNano(sent)
	return rec, nil
}

// SQLiteLease is a Lease stored in the run_leases table of a SQLite file
type SQLiteLease struct {
	db *sql.DB
}

// NewSQLiteLease creates a SQLiteLease backed by db
func NewSQLiteLease(db *sql.DB) *SQLiteLease {
	return &SQLiteLease{db: db}
}

// Acquire implements Lease
func (l *SQLiteLease) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO run_leases (name, holder, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE
		 SET holder = excluded.holder, expires_at = excluded.expires_at
		 WHERE run_leases.holder = excluded.holder OR run_leases.expires_at < ?`,
		name, holder, storage.UnixNano(now.Add(ttl)), storage.UnixNano(now),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return n == 1, nil
}

// Release implements Lease
func (l *SQLiteLease) Release(ctx context.Context, name, holder string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM run_leases WHERE name = ? AND holder = ?`, name, holder)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}
