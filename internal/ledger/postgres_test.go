//go:build integration

package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/foxzi/pickup/internal/storage"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("PICKUP_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PICKUP_TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := storage.OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	pool.Exec(ctx, "DELETE FROM sent_emails")
	pool.Exec(ctx, "DELETE FROM run_leases")
	return pool
}

func TestPostgresLedger(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	l := NewPostgresLedger(pool, testLogger())

	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, orderID := range []string{"a", "b", "c"} {
		_, err := l.Record(ctx, &Record{OrderID: orderID, Status: StatusSent, SentAt: base.Add(time.Duration(i) * time.Minute)})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if _, err := l.Record(ctx, &Record{OrderID: "d", Status: StatusFailed, ErrorMessage: "SMTP timeout"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	found, err := l.FindByOrderID(ctx, "d")
	if err != nil {
		t.Fatalf("FindByOrderID failed: %v", err)
	}
	if found == nil || found.Status != StatusFailed || found.ErrorMessage != "SMTP timeout" {
		t.Fatalf("unexpected record: %+v", found)
	}

	missing, err := l.FindByOrderID(ctx, "zzz")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for unknown order, got %+v, %v", missing, err)
	}

	records, total := l.ListSent(ctx, 2, 1)
	if total != 4 {
		t.Errorf("expected total 4, got %d", total)
	}
	if len(records) != 2 || records[0].OrderID != "c" || records[1].OrderID != "b" {
		t.Errorf("unexpected page: %+v", records)
	}
}

func TestPostgresLease(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	lease := NewPostgresLease(pool)

	if ok, err := lease.Acquire(ctx, "run", "a", time.Minute); err != nil || !ok {
		t.Fatalf("expected a to acquire, got %v %v", ok, err)
	}
	if ok, _ := lease.Acquire(ctx, "run", "b", time.Minute); ok {
		t.Error("b must not acquire a held lease")
	}
	if err := lease.Release(ctx, "run", "a"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if ok, _ := lease.Acquire(ctx, "run", "b", time.Minute); !ok {
		t.Error("expected b to acquire after release")
	}
}
