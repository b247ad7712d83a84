// Package pipeline runs one pass of pickup notifications: resolve the active
// template, fetch ready orders, and notify every order not yet in the ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/pickup/internal/ledger"
	"github.com/foxzi/pickup/internal/mail"
	"github.com/foxzi/pickup/internal/metrics"
	"github.com/foxzi/pickup/internal/shopify"
	"github.com/foxzi/pickup/internal/template"
)

var (
	// ErrNoActiveTemplate aborts a run before any order is fetched
	ErrNoActiveTemplate = errors.New("no active email template found")

	// ErrRunInProgress is returned when the run lease is held elsewhere
	ErrRunInProgress = errors.New("another run is in progress")
)

// DefaultCustomerName is used when an order carries no buyer name
const DefaultCustomerName = "Customer"

// TemplateSource resolves the template used for notifications
type TemplateSource interface {
	Active(ctx context.Context) (*template.Template, error)
}

// OrderSource lists orders that are ready for pickup
type OrderSource interface {
	ReadyOrders(ctx context.Context) ([]shopify.Order, error)
}

// Options tune a Pipeline
type Options struct {
	// RecordMissingEmail writes an undeliverable ledger record for orders
	// without an email address, so they are not reported again.
	RecordMissingEmail bool

	// Lease, when set, keeps concurrent runs from overlapping
	Lease     ledger.Lease
	LeaseName string
	LeaseTTL  time.Duration
}

// Pipeline sends pickup notifications
type Pipeline struct {
	templates TemplateSource
	orders    OrderSource
	ledger    ledger.Ledger
	sender    mail.Sender
	opts      Options
	logger    *slog.Logger
}

// New creates a new Pipeline
func New(templates TemplateSource, orders OrderSource, l ledger.Ledger, sender mail.Sender, opts Options, logger *slog.Logger) *Pipeline {
	if opts.LeaseName == "" {
		opts.LeaseName = "pickup-run"
	}
	if opts.LeaseTTL == 0 {
		opts.LeaseTTL = 10 * time.Minute
	}
	return &Pipeline{
		templates: templates,
		orders:    orders,
		ledger:    l,
		sender:    sender,
		opts:      opts,
		logger:    logger,
	}
}

// Run performs one pass over the ready orders. A non-nil error means the run
// was aborted; per-order failures are reported in the result instead.
//
// A started run is not cancellable: it goes to the end of the candidate list
// even when the caller's context is cancelled, so an aborted send is never
// recorded as a failed delivery. Context values are kept.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	result, fetched, err := p.run(ctx)

	outcome := "ok"
	switch {
	case errors.Is(err, ErrRunInProgress):
		outcome = "busy"
	case err != nil:
		outcome = "failed"
	}
	metrics.ObserveRun(outcome, time.Since(start), fetched)

	if err != nil {
		p.logger.Error("run failed", "error", err, "duration", time.Since(start))
		return result, err
	}

	p.logger.Info("run completed",
		"processed", result.Processed,
		"sent", result.Sent,
		"errors", result.Errors,
		"skipped", result.Skipped(),
		"duration", time.Since(start),
	)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context) (*Result, int, error) {
	result := &Result{Details: []Detail{}}

	tmpl, err := p.templates.Active(ctx)
	if err != nil {
		return nil, -1, fmt.Errorf("resolve active template: %w", err)
	}
	if tmpl == nil {
		return nil, -1, ErrNoActiveTemplate
	}

	if p.opts.Lease != nil {
		holder := uuid.New().String()
		ok, err := p.opts.Lease.Acquire(ctx, p.opts.LeaseName, holder, p.opts.LeaseTTL)
		if err != nil {
			return nil, -1, fmt.Errorf("acquire run lease: %w", err)
		}
		if !ok {
			return nil, -1, ErrRunInProgress
		}
		defer func() {
			if err := p.opts.Lease.Release(ctx, p.opts.LeaseName, holder); err != nil {
				p.logger.Warn("failed to release run lease", "error", err)
			}
		}()
	}

	orders, err := p.orders.ReadyOrders(ctx)
	if err != nil {
		return nil, -1, fmt.Errorf("fetch orders: %w", err)
	}

	p.logger.Debug("processing orders", "count", len(orders), "template", tmpl.Name)

	for i := range orders {
		d := p.process(ctx, tmpl, &orders[i])
		metrics.IncNotifications(string(d.Status))
		result.add(d)
	}

	return result, len(orders), nil
}

// process handles a single order and never aborts the run
func (p *Pipeline) process(ctx context.Context, tmpl *template.Template, order *shopify.Order) Detail {
	logger := p.logger.With("order_id", order.ID, "order_number", order.Name)

	existing, err := p.ledger.FindByOrderID(ctx, order.ID)
	if err != nil {
		logger.Error("ledger lookup failed", "error", err)
		return Detail{OrderID: order.ID, Status: StatusError, Error: err.Error()}
	}
	if existing != nil {
		logger.Debug("already notified", "record_id", existing.ID, "status", existing.Status)
		return Detail{OrderID: order.ID, Status: StatusSkipped, Error: MsgAlreadySent}
	}

	name := CustomerName(order)
	recipient := order.RecipientEmail()
	if recipient == "" {
		logger.Warn("order has no customer email")
		if p.opts.RecordMissingEmail {
			p.record(ctx, logger, &ledger.Record{
				OrderID:      order.ID,
				OrderNumber:  order.Name,
				CustomerName: name,
				Status:       ledger.StatusUndeliverable,
				ErrorMessage: MsgNoEmail,
			})
		}
		return Detail{OrderID: order.ID, Status: StatusError, Error: MsgNoEmail}
	}

	rendered := tmpl.Render(Variables(order))

	rec := &ledger.Record{
		OrderID:       order.ID,
		OrderNumber:   order.Name,
		CustomerEmail: recipient,
		CustomerName:  name,
		Subject:       rendered.Subject,
	}

	sendResult, err := p.sender.Send(ctx, &mail.Message{
		To:      recipient,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	})
	if err != nil {
		errorType := "permanent"
		if mail.IsTemporaryError(err) {
			errorType = "temporary"
		}
		metrics.IncDeliveryFailures(errorType)
		logger.Error("delivery failed", "to", recipient, "error", err)

		rec.Status = ledger.StatusFailed
		rec.ErrorMessage = err.Error()
		p.record(ctx, logger, rec)
		return Detail{OrderID: order.ID, Status: StatusError, Error: err.Error()}
	}

	rec.Status = ledger.StatusSent
	if err := p.record(ctx, logger, rec); err != nil {
		return Detail{
			OrderID: order.ID,
			Status:  StatusError,
			Error:   fmt.Sprintf("email sent but not recorded: %v", err),
		}
	}

	var messageID string
	if sendResult != nil {
		messageID = sendResult.MessageID
	}
	logger.Info("pickup notification sent", "to", recipient, "message_id", messageID)
	return Detail{OrderID: order.ID, Status: StatusSent}
}

func (p *Pipeline) record(ctx context.Context, logger *slog.Logger, rec *ledger.Record) error {
	if _, err := p.ledger.Record(ctx, rec); err != nil {
		logger.Error("failed to record notification", "status", rec.Status, "error", err)
		return err
	}
	return nil
}

// CustomerName returns the buyer's display name or DefaultCustomerName
func CustomerName(order *shopify.Order) string {
	if name := order.CustomerName(); name != "" {
		return name
	}
	return DefaultCustomerName
}

// Variables returns the placeholder values for order
func Variables(order *shopify.Order) template.Variables {
	return template.Variables{
		template.VarCustomerName: CustomerName(order),
		template.VarOrderNumber:  order.Name,
		template.VarOrderID:      order.ID,
	}
}
