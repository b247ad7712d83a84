// Package dkim signs outgoing pickup notifications.
package dkim

import (
	"bytes"
	"crypto"
	"fmt"
	"io"

	"github.com/emersion/go-msgauth/dkim"
)

// signedHeaders are the header fields covered by the signature
var signedHeaders = []string{
	"From", "To", "Subject", "Date", "Message-ID",
	"MIME-Version", "Content-Type",
}

// Signer signs messages for a single domain
type Signer struct {
	key      crypto.Signer
	domain   string
	selector string
}

// NewSigner creates a signer from an RSA or Ed25519 private key
func NewSigner(key crypto.Signer, domain, selector string) *Signer {
	return &Signer{
		key:      key,
		domain:   domain,
		selector: selector,
	}
}

// NewSignerFromFile loads the key at keyFile and creates a signer
func NewSignerFromFile(keyFile, domain, selector string) (*Signer, error) {
	key, err := LoadPrivateKey(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}
	return NewSigner(key, domain, selector), nil
}

// Sign returns message with a DKIM-Signature header prepended
func (s *Signer) Sign(message []byte) ([]byte, error) {
	var signed bytes.Buffer
	if err := s.SignTo(&signed, bytes.NewReader(message)); err != nil {
		return nil, err
	}
	return signed.Bytes(), nil
}

// SignTo signs the message read from r and writes the result to w
func (s *Signer) SignTo(w io.Writer, r io.Reader) error {
	options := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.key,
		Hash:                   crypto.SHA256,
		HeaderKeys:             signedHeaders,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}

	if err := dkim.Sign(w, r, options); err != nil {
		return fmt.Errorf("failed to sign message: %w", err)
	}
	return nil
}

// Domain returns the signing domain
func (s *Signer) Domain() string {
	return s.domain
}

// Selector returns the DKIM selector
func (s *Signer) Selector() string {
	return s.selector
}
