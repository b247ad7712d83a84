// Package mail delivers rendered notifications through an SMTP relay.
package mail

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is a rendered notification ready for delivery
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Validate checks that the message can be delivered
func (m *Message) Validate() error {
	if m.To == "" {
		return fmt.Errorf("recipient is required")
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", m.To, err)
	}
	if m.HTML == "" && m.Text == "" {
		return fmt.Errorf("message body is empty")
	}
	return nil
}

// build constructs RFC 5322 message data and returns it with its Message-ID
func build(from string, msg *Message, now time.Time) ([]byte, string) {
	var buf bytes.Buffer

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), domainOf(from))

	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if msg.HTML == "" {
		writePart(&buf, "text/plain", msg.Text)
		return buf.Bytes(), messageID
	}

	boundary := strings.ReplaceAll(uuid.New().String(), "-", "")
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")

	if msg.Text != "" {
		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		writePart(&buf, "text/plain", msg.Text)
	}

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	writePart(&buf, "text/html", msg.HTML)

	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return buf.Bytes(), messageID
}

func writePart(buf *bytes.Buffer, contentType, body string) {
	buf.WriteString(fmt.Sprintf("Content-Type: %s; charset=utf-8\r\n", contentType))
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(buf)
	qp.Write([]byte(body))
	qp.Close()
	buf.WriteString("\r\n")
}

// domainOf returns the domain part of an address, which may carry a display name
func domainOf(addr string) string {
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return "localhost"
}

// NewTestMessage is the fixed message used to check the relay configuration
func NewTestMessage(to string) *Message {
	return &Message{
		To:      to,
		Subject: "Pickup notification test",
		HTML:    "<h2>Test Email</h2>\n<p>This is a test message from the pickup notification service.</p>\n<p>If you receive this, your email configuration is working correctly!</p>",
		Text:    "This is a test message from the pickup notification service. If you receive this, your email configuration is working correctly!",
	}
}
