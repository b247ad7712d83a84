package ledger

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxzi/pickup/internal/storage"
)

func openTestSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteLedger(t *testing.T) {
	l := NewSQLiteLedger(openTestSQLite(t), testLogger())
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, orderID := range []string{"a", "b", "c"} {
		_, err := l.Record(ctx, &Record{OrderID: orderID, Status: StatusSent, SentAt: base.Add(time.Duration(i) * time.Minute)})
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	id, err := l.Record(ctx, &Record{OrderID: "d", OrderNumber: "#1004", Status: StatusFailed, ErrorMessage: "SMTP timeout"})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if id == "" {
		t.Fatal("Record must return an id")
	}

	found, err := l.FindByOrderID(ctx, "d")
	if err != nil {
		t.Fatalf("FindByOrderID failed: %v", err)
	}
	if found == nil || found.ID != id || found.Status != StatusFailed || found.ErrorMessage != "SMTP timeout" {
		t.Fatalf("unexpected record: %+v", found)
	}
	if found.SentAt.IsZero() {
		t.Error("SentAt must be set on record")
	}

	sent, err := l.FindByOrderID(ctx, "a")
	if err != nil || sent == nil {
		t.Fatalf("FindByOrderID(a) = %+v, %v", sent, err)
	}
	if sent.ErrorMessage != "" || !sent.SentAt.Equal(base) {
		t.Errorf("unexpected sent record: %+v", sent)
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

	if records, _ := l.ListSent(ctx, 10, 10); len(records) != 0 {
		t.Errorf("expected empty page past the end, got %d records", len(records))
	}
}

func TestSQLiteLease(t *testing.T) {
	lease := NewSQLiteLease(openTestSQLite(t))
	ctx := context.Background()

	if ok, err := lease.Acquire(ctx, "run", "a", time.Minute); err != nil || !ok {
		t.Fatalf("expected a to acquire, got %v %v", ok, err)
	}
	if ok, _ := lease.Acquire(ctx, "run", "b", time.Minute); ok {
		t.Error("b must not acquire a held lease")
	}
	if ok, _ := lease.Acquire(ctx, "run", "a", time.Minute); !ok {
		t.Error("holder must be able to renew its lease")
	}
	if err := lease.Release(ctx, "run", "a"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if ok, _ := lease.Acquire(ctx, "run", "b", time.Minute); !ok {
		t.Error("expected b to acquire after release")
	}
}

func TestSQLiteLeaseExpires(t *testing.T) {
	lease := NewSQLiteLease(openTestSQLite(t))
	ctx := context.Background()

	if ok, _ := lease.Acquire(ctx, "run", "a", -time.Second); !ok {
		t.Fatal("expected a to acquire")
	}
	if ok, _ := lease.Acquire(ctx, "run", "b", time.Minute); !ok {
		t.Error("expired lease must be taken over")
	}
}
