package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// ErrIndexUnavailable is returned by an ordered read when the backing
// index is missing or has not been built yet.
var ErrIndexUnavailable = errors.New("ordered index unavailable")

// Direction is a sort direction
type Direction int

const (
	Descending Direction = iota
	Ascending
)

// Collection is a set of documents that can be read either through an
// ordered index or by a plain scan.
type Collection[T any] interface {
	// Ordered returns up to limit documents in index order (limit <= 0 means all)
	Ordered(ctx context.Context, dir Direction, limit int) ([]T, error)

	// Scan returns every document in storage order
	Scan(ctx context.Context) ([]T, error)
}

// FetchAllThenSort reads documents through the ordered index and, when that
// read fails, falls back to a full scan sorted in memory by key.
// The error is non-nil only when both reads fail.
func FetchAllThenSort[T any](ctx context.Context, c Collection[T], key func(T) time.Time, dir Direction, limit int, logger *slog.Logger) ([]T, error) {
	docs, err := c.Ordered(ctx, dir, limit)
	if err == nil {
		return docs, nil
	}

	logger.Warn("ordered query failed, fetching without order", "error", err)

	docs, scanErr := c.Scan(ctx)
	if scanErr != nil {
		return nil, fmt.Errorf("scan after ordered query failure: %w", errors.Join(err, scanErr))
	}

	SortByTime(docs, key, dir)

	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// SortByTime sorts docs in place by key. Ties keep their scan order.
func SortByTime[T any](docs []T, key func(T) time.Time, dir Direction) {
	slices.SortStableFunc(docs, func(a, b T) int {
		c := key(a).Compare(key(b))
		if dir == Descending {
			return -c
		}
		return c
	})
}

// Page applies offset to docs, returning an empty slice when offset is past the end
func Page[T any](docs []T, offset int) []T {
	if offset <= 0 {
		return docs
	}
	if offset >= len(docs) {
		return []T{}
	}
	return docs[offset:]
}
