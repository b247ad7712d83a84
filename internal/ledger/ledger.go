// Package ledger records notification attempts so each order is notified
// at most once.
package ledger

import (
	"context"
	"time"
)

// Status is the outcome of a notification attempt
type Status string

const (
	StatusSent          Status = "sent"
	StatusFailed        Status = "failed"
	StatusUndeliverable Status = "undeliverable"
)

// Record is one notification attempt for an order
type Record struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	CustomerEmail string    `json:"customer_email"`
	CustomerName  string    `json:"customer_name"`
	Subject       string    `json:"subject"`
	Status        Status    `json:"status"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	SentAt        time.Time `json:"sent_at"`
}

// Ledger is the dispatch ledger. Any record for an order marks it as handled.
type Ledger interface {
	// FindByOrderID returns a record for orderID, or nil, nil if there is none
	FindByOrderID(ctx context.Context, orderID string) (*Record, error)

	// Record stores rec and returns its id. A zero SentAt is set to now.
	Record(ctx context.Context, rec *Record) (string, error)

	// ListSent returns one page of records, newest first, and the total
	// number of records. Read failures are logged and yield an empty page.
	ListSent(ctx context.Context, limit, offset int) ([]*Record, int)
}

// Lease is a named, expiring lock used to keep runs from overlapping
type Lease interface {
	// Acquire takes the lease for holder. It returns false if another holder
	// owns an unexpired lease.
	Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)

	// Release gives the lease up if holder owns it
	Release(ctx context.Context, name, holder string) error
}

func sentAt(r *Record) time.Time {
	return r.SentAt
}
