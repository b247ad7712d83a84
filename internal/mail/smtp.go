package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/pickup/internal/dkim"
)

// STARTTLS policies for relays without implicit TLS
const (
	StartTLSAuto     = "auto"     // upgrade when offered, plaintext otherwise
	StartTLSRequired = "required" // fail unless the relay upgrades
	StartTLSOff      = "off"      // never upgrade
)

// SMTPOptions configures an SMTPSender
type SMTPOptions struct {
	Host     string
	Port     int
	Secure   bool   // implicit TLS
	StartTLS string // policy when Secure is false, defaults to auto
	Username string
	Password string
	From     string
	Timeout  time.Duration

	// HelloName is sent in EHLO, defaults to "localhost"
	HelloName string

	// TLSConfig overrides the default client TLS configuration
	TLSConfig *tls.Config
}

// SMTPSender submits messages to a configured relay
type SMTPSender struct {
	opts   SMTPOptions
	signer *dkim.Signer
	logger *slog.Logger
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(opts SMTPOptions, logger *slog.Logger) *SMTPSender {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.HelloName == "" {
		opts.HelloName = "localhost"
	}
	if opts.StartTLS == "" {
		opts.StartTLS = StartTLSAuto
	}
	return &SMTPSender{opts: opts, logger: logger}
}

// SetDKIMSigner enables DKIM signing of outgoing messages
func (s *SMTPSender) SetDKIMSigner(signer *dkim.Signer) {
	s.signer = signer
}

func (s *SMTPSender) addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

func (s *SMTPSender) tlsConfig() *tls.Config {
	if s.opts.TLSConfig != nil {
		return s.opts.TLSConfig
	}
	return &tls.Config{
		ServerName: s.opts.Host,
		MinVersion: tls.VersionTLS12,
	}
}

func (s *SMTPSender) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: s.opts.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", s.addr())
	if err != nil {
		return nil, &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("connection failed to %s: %v", s.addr(), err),
		}
	}

	if s.opts.Secure {
		tlsConn := tls.Client(conn, s.tlsConfig())
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, &DeliveryError{
				Temporary: true,
				Message:   fmt.Sprintf("TLS handshake failed with %s: %v", s.addr(), err),
			}
		}
		conn = tlsConn
	}
	return conn, nil
}

// connect dials the relay, negotiates TLS and authenticates
func (s *SMTPSender) connect(ctx context.Context) (*smtp.Client, error) {
	client, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	client.CommandTimeout = s.opts.Timeout

	// After STARTTLS the client greets again, so the name goes over TLS
	if err := client.Hello(s.opts.HelloName); err != nil {
		client.Close()
		return nil, categorizeError(err, "HELO")
	}

	if s.opts.Username != "" {
		if _, isTLS := client.TLSConnectionState(); !isTLS {
			s.logger.Warn("authenticating without TLS", "relay", s.addr())
		}
		auth := sasl.NewPlainClient("", s.opts.Username, s.opts.Password)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, categorizeError(err, "AUTH")
		}
	}

	return client, nil
}

// open returns a client that has not sent EHLO with the configured name yet
func (s *SMTPSender) open(ctx context.Context) (*smtp.Client, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	if s.opts.Secure || s.opts.StartTLS == StartTLSOff {
		return smtp.NewClient(conn), nil
	}

	client, err := smtp.NewClientStartTLS(conn, s.tlsConfig())
	if err == nil {
		return client, nil
	}

	if s.opts.StartTLS == StartTLSAuto && isStartTLSUnsupported(err) {
		// NewClientStartTLS closed the connection
		s.logger.Debug("relay does not offer STARTTLS, using plaintext", "relay", s.addr())
		conn, err := s.dial(ctx)
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn), nil
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return nil, categorizeError(err, "STARTTLS")
	}
	return nil, &DeliveryError{
		Temporary: !isStartTLSUnsupported(err),
		Message:   fmt.Sprintf("STARTTLS with %s failed: %v", s.addr(), err),
	}
}

// isStartTLSUnsupported matches the error go-smtp returns when the EHLO
// reply lacks STARTTLS
func isStartTLSUnsupported(err error) bool {
	return err != nil && strings.Contains(err.Error(), "doesn't support STARTTLS")
}

// Verify implements Verifier
func (s *SMTPSender) Verify(ctx context.Context) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	return client.Quit()
}

// Send implements Sender
func (s *SMTPSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	if err := msg.Validate(); err != nil {
		return nil, &DeliveryError{Message: err.Error()}
	}

	from, err := mail.ParseAddress(s.opts.From)
	if err != nil {
		return nil, &DeliveryError{Message: fmt.Sprintf("invalid sender %q: %v", s.opts.From, err)}
	}
	to, _ := mail.ParseAddress(msg.To)

	data, messageID := build(s.opts.From, msg, time.Now())

	if s.signer != nil {
		signed, err := s.signer.Sign(data)
		if err != nil {
			s.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", s.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	client, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := client.Mail(from.Address, nil); err != nil {
		return nil, categorizeError(err, "MAIL FROM")
	}
	if err := client.Rcpt(to.Address, nil); err != nil {
		return nil, categorizeError(err, fmt.Sprintf("RCPT TO %s", to.Address))
	}

	wc, err := client.Data()
	if err != nil {
		return nil, categorizeError(err, "DATA")
	}
	if _, err := bytes.NewReader(data).WriteTo(wc); err != nil {
		wc.Close()
		return nil, &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("failed to write message data: %v", err),
		}
	}
	if err := wc.Close(); err != nil {
		return nil, categorizeError(err, "DATA close")
	}

	client.Quit()

	s.logger.Info("message delivered",
		"relay", s.addr(),
		"message_id", messageID,
		"to", to.Address,
	)

	return &Result{MessageID: messageID}, nil
}
