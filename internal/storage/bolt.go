// Package storage opens the backing databases and holds the read helpers
// shared by the template store and the dispatch ledger.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// OpenBolt opens (or creates) the BoltDB file at path.
// The returned handle is shared by all bolt-backed stores.
func OpenBolt(path string) (*bolt.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, nil
}

// EnsureBuckets creates the given buckets if they do not exist
func EnsureBuckets(db *bolt.DB, buckets ...[]byte) error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// IndexKey builds a time-ordered index key. Keys sort lexically in time order.
func IndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format("20060102T150405.000000000Z") + ":" + id)
}
