package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foxzi/pickup/internal/storage"
)

const recordColumns = `id, order_id, order_number, customer_email, customer_name, subject, status, COALESCE(error_message, ''), sent_at`

// PostgresLedger stores dispatch records in the sent_emails table
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by pool
func NewPostgresLedger(pool *pgxpool.Pool, logger *slog.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// FindByOrderID implements Ledger
func (l *PostgresLedger) FindByOrderID(ctx context.Context, orderID string) (*Record, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM sent_emails WHERE order_id = $1 LIMIT 1`, orderID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up order %s: %w", orderID, err)
	}
	return rec, nil
}

// Record implements Ledger
func (l *PostgresLedger) Record(ctx context.Context, rec *Record) (string, error) {
	rec.ID = uuid.New().String()
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}
	rec.SentAt = rec.SentAt.UTC()

	var errMsg *string
	if rec.ErrorMessage != "" {
		errMsg = &rec.ErrorMessage
	}

	_, err := l.pool.Exec(ctx,
		`INSERT INTO sent_emails (id, order_id, order_number, customer_email, customer_name, subject, status, error_message, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.OrderID, rec.OrderNumber, rec.CustomerEmail, rec.CustomerName,
		rec.Subject, string(rec.Status), errMsg, rec.SentAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return rec.ID, nil
}

// ListSent implements Ledger
func (l *PostgresLedger) ListSent(ctx context.Context, limit, offset int) ([]*Record, int) {
	var total int
	if err := l.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sent_emails`).Scan(&total); err != nil {
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
func (l *PostgresLedger) Ordered(ctx context.Context, dir storage.Direction, limit int) ([]*Record, error) {
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
func (l *PostgresLedger) Scan(ctx context.Context) ([]*Record, error) {
	return l.query(ctx, `SELECT `+recordColumns+` FROM sent_emails`)
}

func (l *PostgresLedger) query(ctx context.Context, q string, args ...any) ([]*Record, error) {
	rows, err := l.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sent emails: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	rec := &Record{}
	var status string
	err := row.Scan(
		&rec.ID, &rec.OrderID, &rec.OrderNumber, &rec.CustomerEmail, &rec.CustomerName,
		&rec.Subject, &status, &rec.ErrorMessage, &rec.SentAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	return rec, nil
}

// PostgresLease is a Lease stored in the run_leases table
type PostgresLease struct {
	pool *pgxpool.Pool
}

// NewPostgresLease creates a PostgresLease backed by pool
func NewPostgresLease(pool *pgxpool.Pool) *PostgresLease {
	return &PostgresLease{pool: pool}
}

// Acquire implements Lease
func (l *PostgresLease) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := l.pool.Exec(ctx,
		`INSERT INTO run_leases (name, holder, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE
		 SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		 WHERE run_leases.holder = EXCLUDED.holder OR run_leases.expires_at < $4`,
		name, holder, now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release implements Lease
func (l *PostgresLease) Release(ctx context.Context, name, holder string) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM run_leases WHERE name = $1 AND holder = $2`, name, holder)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}
