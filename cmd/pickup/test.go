package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/pickup/internal/app"
	"github.com/foxzi/pickup/internal/config"
	"github.com/foxzi/pickup/internal/mail"
	"github.com/foxzi/pickup/internal/pipeline"
	"github.com/foxzi/pickup/internal/shopify"
)

var (
	testSendTo    string
	testSendOrder string
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Testing and debugging commands",
}

var testSendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a test email",
	Long: `Send a test email through the configured relay.

With --order the active template is rendered for that Shopify order and sent
to the --to address instead of the customer. Nothing is written to the
dispatch ledger.`,
	RunE: runTestSend,
}

func init() {
	testSendCmd.Flags().StringVar(&testSendTo, "to", "", "Recipient email address (required)")
	testSendCmd.Flags().StringVar(&testSendOrder, "order", "", "Render the active template for this order id")
	testSendCmd.MarkFlagRequired("to")

	testCmd.AddCommand(testSendCmd)
	rootCmd.AddCommand(testCmd)
}

func runTestSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := cmd.Context()

	sender, err := app.NewSender(cfg, logger.With("component", "mail"))
	if err != nil {
		return err
	}

	msg := mail.NewTestMessage(testSendTo)
	if testSendOrder != "" {
		msg, err = orderMessage(ctx, cfg, testSendTo, testSendOrder)
		if err != nil {
			return err
		}
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}

	fmt.Printf("Sending test email...\n")
	fmt.Printf("  From:    %s\n", cfg.SMTP.From)
	fmt.Printf("  To:      %s\n", msg.To)
	fmt.Printf("  Subject: %s\n", msg.Subject)

	if v, ok := sender.(mail.Verifier); ok {
		if err := v.Verify(ctx); err != nil {
			return fmt.Errorf("relay check failed: %w", err)
		}
	}

	result, err := sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}

	fmt.Printf("\nMessage accepted\n")
	fmt.Printf("  Message-ID: %s\n", result.MessageID)
	return nil
}

// orderMessage renders the active template for a real order
func orderMessage(ctx context.Context, cfg *config.Config, to, orderID string) (*mail.Message, error) {
	if err := cfg.RequireShopify(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg)

	shop, err := shopify.NewClient(shopify.Options{
		ShopDomain:  cfg.Shopify.ShopDomain,
		AccessToken: cfg.Shopify.AccessToken,
		APIVersion:  cfg.Shopify.APIVersion,
		Timeout:     cfg.Shopify.Timeout,
	}, logger.With("component", "shopify"))
	if err != nil {
		return nil, err
	}

	order, err := shop.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("order %s not found", orderID)
	}

	store, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	tmpl, err := store.Templates.Active(ctx)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, pipeline.ErrNoActiveTemplate
	}

	rendered := tmpl.Render(pipeline.Variables(order))
	return &mail.Message{
		To:      to,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	}, nil
}
