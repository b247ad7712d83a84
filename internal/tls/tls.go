// Package tls prepares certificates for the HTTP API listener.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"github.com/foxzi/pickup/internal/config"
)

// Setup is the TLS configuration of the API listener
type Setup struct {
	Config *tls.Config

	// acme is nil when certificates come from files
	acme *autocert.Manager
}

// New builds the listener TLS setup. It returns nil, nil when the API is
// served over plain HTTP.
func New(cfg config.TLSConfig) (*Setup, error) {
	switch {
	case cfg.ACME.Enabled:
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Email:      cfg.ACME.Email,
			HostPolicy: autocert.HostWhitelist(cfg.ACME.Domains...),
			Cache:      autocert.DirCache(cfg.ACME.CacheDir),
		}
		return &Setup{
			Config: &tls.Config{
				GetCertificate: m.GetCertificate,
				NextProtos:     []string{"h2", "http/1.1"},
				MinVersion:     tls.VersionTLS12,
			},
			acme: m,
		}, nil

	case cfg.CertFile != "" && cfg.KeyFile != "":
		tlsConfig, err := LoadCertificate(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		return &Setup{Config: tlsConfig}, nil
	}

	return nil, nil
}

// ACME reports whether certificates are obtained from Let's Encrypt
func (s *Setup) ACME() bool {
	return s != nil && s.acme != nil
}

// ChallengeHandler answers HTTP-01 challenges and passes everything else to
// fallback. A nil fallback redirects to HTTPS.
func (s *Setup) ChallengeHandler(fallback http.Handler) http.Handler {
	if !s.ACME() {
		return fallback
	}
	return s.acme.HTTPHandler(fallback)
}

// LoadCertificate loads TLS certificate from PEM files
func LoadCertificate(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// CertificateInfo describes a certificate file
type CertificateInfo struct {
	Subject  string
	Issuer   string
	NotAfter time.Time
	DaysLeft int
	DNSNames []string
}

// ReadCertificateInfo reads the first certificate of a PEM file
func ReadCertificateInfo(certFile string) (*CertificateInfo, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &CertificateInfo{
		Subject:  cert.Subject.CommonName,
		Issuer:   cert.Issuer.CommonName,
		NotAfter: cert.NotAfter,
		DaysLeft: int(time.Until(cert.NotAfter).Hours() / 24),
		DNSNames: cert.DNSNames,
	}, nil
}
