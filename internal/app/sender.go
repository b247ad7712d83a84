package app

import (
	"fmt"
	"log/slog"

	"github.com/foxzi/pickup/internal/config"
	"github.com/foxzi/pickup/internal/dkim"
	"github.com/foxzi/pickup/internal/mail"
)

// NewSender builds the mail sink from the smtp section. Dry runs log
// messages instead of sending them.
func NewSender(cfg *config.Config, logger *slog.Logger) (mail.Sender, error) {
	if err := cfg.RequireSMTP(); err != nil {
		return nil, err
	}

	if cfg.SMTP.DryRun {
		logger.Warn("smtp dry run enabled, notifications are only logged")
		return mail.NewLogSender(cfg.SMTP.From, logger), nil
	}

	hello := cfg.SMTP.HelloName
	if hello == "" {
		hello = cfg.Server.Name
	}

	sender := mail.NewSMTPSender(mail.SMTPOptions{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		Secure:    cfg.SMTP.Secure,
		StartTLS:  cfg.SMTP.StartTLS,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		From:      cfg.SMTP.From,
		Timeout:   cfg.SMTP.Timeout,
		HelloName: hello,
	}, logger)

	if cfg.SMTP.DKIM.Enabled {
		signer, err := dkim.NewSignerFromFile(cfg.SMTP.DKIM.KeyFile, cfg.SMTP.DKIM.Domain, cfg.SMTP.DKIM.Selector)
		if err != nil {
			return nil, fmt.Errorf("failed to load DKIM key: %w", err)
		}
		sender.SetDKIMSigner(signer)
		logger.Info("DKIM signing enabled", "domain", cfg.SMTP.DKIM.Domain, "selector", cfg.SMTP.DKIM.Selector)
	}

	return sender, nil
}
