package mail

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/pickup/internal/dkim"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type receivedMessage struct {
	From  string
	To    []string
	Data  []byte
	TLS   bool
	Hello string
}

// relay is an in-process SMTP server that records what it receives
type relay struct {
	mu       sync.Mutex
	messages []receivedMessage
	users    map[string]string
	reject   map[string]*smtp.SMTPError

	// tlsConfig enables STARTTLS
	tlsConfig *tls.Config
}

func (r *relay) NewSession(c *smtp.Conn) (smtp.Session, error) {
	_, isTLS := c.TLSConnectionState()
	return &relaySession{relay: r, msg: receivedMessage{TLS: isTLS, Hello: c.Hostname()}}, nil
}

func (r *relay) received() []receivedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]receivedMessage(nil), r.messages...)
}

type relaySession struct {
	relay  *relay
	authed bool
	msg    receivedMessage
}

func (s *relaySession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *relaySession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if want, ok := s.relay.users[username]; !ok || want != password {
			return smtp.ErrAuthFailed
		}
		s.authed = true
		return nil
	}), nil
}

func (s *relaySession) Mail(from string, opts *smtp.MailOptions) error {
	if len(s.relay.users) > 0 && !s.authed {
		return smtp.ErrAuthRequired
	}
	s.msg.From = from
	return nil
}

func (s *relaySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	if err, ok := s.relay.reject[to]; ok {
		return err
	}
	s.msg.To = append(s.msg.To, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.msg.Data = data

	s.relay.mu.Lock()
	s.relay.messages = append(s.relay.messages, s.msg)
	s.relay.mu.Unlock()
	return nil
}

func (s *relaySession) Reset() {
	s.msg = receivedMessage{TLS: s.msg.TLS, Hello: s.msg.Hello}
}

func (s *relaySession) Logout() error {
	return nil
}

func startRelay(t *testing.T, r *relay) (string, int) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := smtp.NewServer(r)
	srv.Domain = "relay.test"
	srv.AllowInsecureAuth = true
	srv.TLSConfig = r.tlsConfig
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	addr := l.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func newTestSender(t *testing.T, r *relay, user, pass string) *SMTPSender {
	t.Helper()

	host, port := startRelay(t, r)
	return NewSMTPSender(SMTPOptions{
		Host:     host,
		Port:     port,
		Username: user,
		Password: pass,
		From:     "Brown Sugar <pickup@shop.example.com>",
		Timeout:  5 * time.Second,
	}, testLogger())
}

func testMessage() *Message {
	return &Message{
		To:      "jane@example.org",
		Subject: "Your order #1001 is ready for pickup!",
		HTML:    "<p>Hello Jane!</p>",
		Text:    "Hello Jane!",
	}
}

func TestSMTPSenderSend(t *testing.T) {
	r := &relay{}
	sender := newTestSender(t, r, "", "")

	result, err := sender.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !strings.HasSuffix(result.MessageID, "@shop.example.com>") {
		t.Errorf("unexpected message id %q", result.MessageID)
	}

	got := r.received()
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].From != "pickup@shop.example.com" {
		t.Errorf("envelope from = %q", got[0].From)
	}
	if len(got[0].To) != 1 || got[0].To[0] != "jane@example.org" {
		t.Errorf("envelope to = %v", got[0].To)
	}

	data := string(got[0].Data)
	for _, want := range []string{
		"From: Brown Sugar <pickup@shop.example.com>",
		"To: jane@example.org",
		"Message-ID: " + result.MessageID,
		"multipart/alternative",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Type: text/html; charset=utf-8",
		"Hello Jane!",
	} {
		if !strings.Contains(data, want) {
			t.Errorf("message data should contain %q", want)
		}
	}
}

func TestSMTPSenderAuth(t *testing.T) {
	r := &relay{users: map[string]string{"mailer": "secret"}}

	sender := newTestSender(t, r, "mailer", "secret")
	if _, err := sender.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if n := len(r.received()); n != 1 {
		t.Errorf("expected 1 message, got %d", n)
	}
}

func TestSMTPSenderAuthFailure(t *testing.T) {
	r := &relay{users: map[string]string{"mailer": "secret"}}

	sender := newTestSender(t, r, "mailer", "wrong")
	_, err := sender.Send(context.Background(), testMessage())

	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if de.Temporary {
		t.Error("auth failure should be permanent")
	}
	if len(r.received()) != 0 {
		t.Error("nothing should be delivered")
	}
}

func TestSMTPSenderRejected(t *testing.T) {
	r := &relay{reject: map[string]*smtp.SMTPError{
		"gone@example.org": {Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "No such user"},
		"busy@example.org": {Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "Try again later"},
	}}
	sender := newTestSender(t, r, "", "")

	tests := []struct {
		to        string
		temporary bool
		code      int
	}{
		{"gone@example.org", false, 550},
		{"busy@example.org", true, 451},
	}

	for _, tt := range tests {
		t.Run(tt.to, func(t *testing.T) {
			msg := testMessage()
			msg.To = tt.to

			_, err := sender.Send(context.Background(), msg)
			var de *DeliveryError
			if !errors.As(err, &de) {
				t.Fatalf("expected DeliveryError, got %v", err)
			}
			if de.Temporary != tt.temporary {
				t.Errorf("Temporary = %v, want %v", de.Temporary, tt.temporary)
			}
			if de.Code != tt.code {
				t.Errorf("Code = %d, want %d", de.Code, tt.code)
			}
			if IsTemporaryError(err) != tt.temporary {
				t.Error("IsTemporaryError disagrees with DeliveryError")
			}
		})
	}
}

func TestSMTPSenderConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	sender := NewSMTPSender(SMTPOptions{
		Host:    "127.0.0.1",
		Port:    port,
		From:    "pickup@shop.example.com",
		Timeout: time.Second,
	}, testLogger())

	_, err = sender.Send(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTemporaryError(err) {
		t.Error("connection failure should be temporary")
	}
	if err := sender.Verify(context.Background()); err == nil {
		t.Error("expected Verify to fail")
	}
}

func TestSMTPSenderVerify(t *testing.T) {
	r := &relay{users: map[string]string{"mailer": "secret"}}
	sender := newTestSender(t, r, "mailer", "secret")

	if err := sender.Verify(context.Background()); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
}

func TestSMTPSenderInvalidMessage(t *testing.T) {
	r := &relay{}
	sender := newTestSender(t, r, "", "")

	_, err := sender.Send(context.Background(), &Message{To: "not an address", Text: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTemporaryError(err) {
		t.Error("invalid recipient should be permanent")
	}
}

func TestSMTPSenderDKIM(t *testing.T) {
	kp, err := dkim.GenerateKey(dkim.Ed25519, "shop.example.com", "pickup")
	if err != nil {
		t.Fatal(err)
	}

	r := &relay{}
	sender := newTestSender(t, r, "", "")
	sender.SetDKIMSigner(dkim.NewSigner(kp.Key, "shop.example.com", "pickup"))

	if _, err := sender.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got := r.received()
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if !bytes.HasPrefix(got[0].Data, []byte("DKIM-Signature:")) {
		t.Error("expected message to be DKIM signed")
	}
}

// relayTLS returns a server config with a self-signed certificate for
// relay.test and a client config that trusts it
func relayTLS(t *testing.T) (server, client *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "relay.test"},
		DNSNames:     []string{"relay.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	server = &tls.Config{Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}}}
	client = &tls.Config{RootCAs: pool, ServerName: "relay.test", MinVersion: tls.VersionTLS12}
	return server, client
}

func newTLSTestSender(t *testing.T, r *relay, policy string, clientTLS *tls.Config) *SMTPSender {
	t.Helper()

	host, port := startRelay(t, r)
	return NewSMTPSender(SMTPOptions{
		Host:      host,
		Port:      port,
		StartTLS:  policy,
		Username:  "mailer",
		Password:  "secret",
		From:      "pickup@shop.example.com",
		Timeout:   5 * time.Second,
		HelloName: "pickup.test",
		TLSConfig: clientTLS,
	}, testLogger())
}

func TestSMTPSenderStartTLS(t *testing.T) {
	serverTLS, clientTLS := relayTLS(t)

	for _, policy := range []string{StartTLSAuto, StartTLSRequired} {
		t.Run(policy, func(t *testing.T) {
			r := &relay{users: map[string]string{"mailer": "secret"}, tlsConfig: serverTLS}
			sender := newTLSTestSender(t, r, policy, clientTLS)

			if _, err := sender.Send(context.Background(), testMessage()); err != nil {
				t.Fatalf("Send failed: %v", err)
			}

			got := r.received()
			if len(got) != 1 {
				t.Fatalf("expected 1 message, got %d", len(got))
			}
			if !got[0].TLS {
				t.Error("message should be submitted over TLS")
			}
			if got[0].Hello != "pickup.test" {
				t.Errorf("EHLO name after upgrade = %q, want pickup.test", got[0].Hello)
			}
		})
	}
}

func TestSMTPSenderStartTLSOff(t *testing.T) {
	serverTLS, clientTLS := relayTLS(t)
	r := &relay{users: map[string]string{"mailer": "secret"}, tlsConfig: serverTLS}
	sender := newTLSTestSender(t, r, StartTLSOff, clientTLS)

	if _, err := sender.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := r.received(); len(got) != 1 || got[0].TLS {
		t.Errorf("expected one plaintext submission, got %+v", got)
	}
}

func TestSMTPSenderStartTLSRequiredUnsupported(t *testing.T) {
	r := &relay{users: map[string]string{"mailer": "secret"}}
	sender := newTLSTestSender(t, r, StartTLSRequired, nil)

	_, err := sender.Send(context.Background(), testMessage())
	if err == nil {
		t.Fatal("expected error when the relay does not offer STARTTLS")
	}
	if IsTemporaryError(err) {
		t.Error("missing STARTTLS support should be permanent")
	}
	if n := len(r.received()); n != 0 {
		t.Errorf("no message may be submitted, got %d", n)
	}
}

func TestSMTPSenderStartTLSUntrustedCertificate(t *testing.T) {
	serverTLS, _ := relayTLS(t)
	_, otherClientTLS := relayTLS(t)
	r := &relay{users: map[string]string{"mailer": "secret"}, tlsConfig: serverTLS}
	sender := newTLSTestSender(t, r, StartTLSAuto, otherClientTLS)

	if _, err := sender.Send(context.Background(), testMessage()); err == nil {
		t.Fatal("expected certificate verification error")
	}
	if n := len(r.received()); n != 0 {
		t.Errorf("no message may be submitted, got %d", n)
	}
}
