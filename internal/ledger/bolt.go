package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/pickup/internal/storage"
)

var (
	bucketSent        = []byte("sent_emails")
	bucketSentByTime  = []byte("sent_emails_by_time")
	bucketSentByOrder = []byte("sent_emails_by_order")
	bucketLeases      = []byte("run_leases")
)

// BoltLedger stores dispatch records in BoltDB
type BoltLedger struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewBoltLedger creates the ledger buckets and rebuilds the order index
func NewBoltLedger(db *bolt.DB, logger *slog.Logger) (*BoltLedger, error) {
	err := storage.EnsureBuckets(db, bucketSent, bucketSentByTime)
	if err != nil {
		return nil, err
	}
	if err := db.Update(reindexOrders); err != nil {
		return nil, fmt.Errorf("failed to rebuild order index: %w", err)
	}
	return &BoltLedger{db: db, logger: logger}, nil
}

func reindexOrders(tx *bolt.Tx) error {
	if tx.Bucket(bucketSentByOrder) != nil {
		if err := tx.DeleteBucket(bucketSentByOrder); err != nil {
			return err
		}
	}
	byOrder, err := tx.CreateBucket(bucketSentByOrder)
	if err != nil {
		return err
	}

	return tx.Bucket(bucketSent).ForEach(func(k, v []byte) error {
		var rec Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil
		}
		return byOrder.Put(orderKey(rec.OrderID, string(k)), k)
	})
}

// orderPrefix is the length of the order id followed by the id itself, so
// no order id is a prefix of another's keys
func orderPrefix(orderID string) []byte {
	prefix := make([]byte, 4, 4+len(orderID)+1)
	binary.BigEndian.PutUint32(prefix, uint32(len(orderID)))
	return append(prefix, orderID...)
}

func orderKey(orderID, id string) []byte {
	return append(append(orderPrefix(orderID), ':'), id...)
}

// FindByOrderID implements Ledger
func (l *BoltLedger) FindByOrderID(ctx context.Context, orderID string) (*Record, error) {
	var rec *Record

	err := l.db.View(func(tx *bolt.Tx) error {
		sent := tx.Bucket(bucketSent)

		if byOrder := tx.Bucket(bucketSentByOrder); byOrder != nil {
			prefix := orderPrefix(orderID)
			c := byOrder.Cursor()
			for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
				if data := sent.Get(id); data != nil {
					rec = &Record{}
					return json.Unmarshal(data, rec)
				}
			}
			return nil
		}

		// No order index: scan
		return sent.ForEach(func(k, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return nil
			}
			if r.OrderID == orderID {
				rec = &r
				return errStop
			}
			return nil
		})
	})
	if errors.Is(err, errStop) {
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up order %s: %w", orderID, err)
	}

	return rec, nil
}

var errStop = errors.New("stop")

// Record implements Ledger
func (l *BoltLedger) Record(ctx context.Context, rec *Record) (string, error) {
	rec.ID = uuid.New().String()
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}
	rec.SentAt = rec.SentAt.UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	err = l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSent).Put([]byte(rec.ID), data); err != nil {
			return err
		}
		if b := tx.Bucket(bucketSentByTime); b != nil {
			if err := b.Put(storage.IndexKey(rec.SentAt, rec.ID), []byte(rec.ID)); err != nil {
				return err
			}
		}
		if b := tx.Bucket(bucketSentByOrder); b != nil {
			if err := b.Put(orderKey(rec.OrderID, rec.ID), []byte(rec.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to store record: %w", err)
	}

	return rec.ID, nil
}

// ListSent implements Ledger
func (l *BoltLedger) ListSent(ctx context.Context, limit, offset int) ([]*Record, int) {
	var total int
	_ = l.db.View(func(tx *bolt.Tx) error {
		total = tx.Bucket(bucketSent).Stats().KeyN
		return nil
	})

	fetch := 0
	if limit > 0 {
		fetch = offset + limit
	}

	records, err := storage.FetchAllThenSort[*Record](ctx, l, sentAt, storage.Descending, fetch, l.logger)
	if err != nil {
		l.logger.Error("sent email query failed completely", "error", err)
		return []*Record{}, 0
	}

	return storage.Page(records, offset), total
}

// Ordered reads records through the time index
func (l *BoltLedger) Ordered(ctx context.Context, dir storage.Direction, limit int) ([]*Record, error) {
	var records []*Record

	err := l.db.View(func(tx *bolt.Tx) error {
		index := tx.Bucket(bucketSentByTime)
		if index == nil {
			return storage.ErrIndexUnavailable
		}
		sent := tx.Bucket(bucketSent)
		if index.Stats().KeyN != sent.Stats().KeyN {
			return fmt.Errorf("%w: index out of sync", storage.ErrIndexUnavailable)
		}

		c := index.Cursor()
		first, next := c.Last, c.Prev
		if dir == storage.Ascending {
			first, next = c.First, c.Next
		}

		for k, id := first(); k != nil; k, id = next() {
			data := sent.Get(id)
			if data == nil {
				return fmt.Errorf("%w: dangling entry %s", storage.ErrIndexUnavailable, k)
			}
			rec := &Record{}
			if err := json.Unmarshal(data, rec); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", id, err)
			}
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				break
			}
		}
		return nil
	})

	return records, err
}

// Scan reads every record in key order
func (l *BoltLedger) Scan(ctx context.Context) ([]*Record, error) {
	var records []*Record

	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSent).ForEach(func(k, v []byte) error {
			rec := &Record{}
			if err := json.Unmarshal(v, rec); err != nil {
				l.logger.Warn("skipping undecodable record", "id", string(k), "error", err)
				return nil
			}
			records = append(records, rec)
			return nil
		})
	})

	return records, err
}

type leaseEntry struct {
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BoltLease is a Lease stored next to the ledger
type BoltLease struct {
	db *bolt.DB
}

// NewBoltLease creates the lease bucket
func NewBoltLease(db *bolt.DB) (*BoltLease, error) {
	if err := storage.EnsureBuckets(db, bucketLeases); err != nil {
		return nil, err
	}
	return &BoltLease{db: db}, nil
}

// Acquire implements Lease
func (l *BoltLease) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	acquired := false

	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		now := time.Now().UTC()

		if data := b.Get([]byte(name)); data != nil {
			var cur leaseEntry
			if err := json.Unmarshal(data, &cur); err == nil {
				if cur.Holder != holder && now.Before(cur.ExpiresAt) {
					return nil
				}
			}
		}

		data, err := json.Marshal(leaseEntry{Holder: holder, ExpiresAt: now.Add(ttl)})
		if err != nil {
			return err
		}
		acquired = true
		return b.Put([]byte(name), data)
	})
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}

	return acquired, nil
}

// Release implements Lease
func (l *BoltLease) Release(ctx context.Context, name, holder string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		data := b.Get([]byte(name))
		if data == nil {
			return nil
		}
		var cur leaseEntry
		if err := json.Unmarshal(data, &cur); err == nil && cur.Holder != holder {
			return nil
		}
		return b.Delete([]byte(name))
	})
}
