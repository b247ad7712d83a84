package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxzi/pickup/internal/config"
)

// writeTestCertificate creates a self-signed certificate valid for 30 days
func writeTestCertificate(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "pickup.local"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(30*24*time.Hour + time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"pickup.local"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestNew(t *testing.T) {
	certFile, keyFile := writeTestCertificate(t)

	t.Run("plain http", func(t *testing.T) {
		setup, err := New(config.TLSConfig{})
		if err != nil || setup != nil {
			t.Fatalf("New() = %v, %v, want nil, nil", setup, err)
		}
		if setup.ACME() {
			t.Error("nil setup must not report ACME")
		}
	})

	t.Run("certificate files", func(t *testing.T) {
		setup, err := New(config.TLSConfig{CertFile: certFile, KeyFile: keyFile})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if len(setup.Config.Certificates) != 1 {
			t.Errorf("expected 1 certificate, got %d", len(setup.Config.Certificates))
		}
		if setup.ACME() {
			t.Error("file certificates must not report ACME")
		}
	})

	t.Run("missing files", func(t *testing.T) {
		if _, err := New(config.TLSConfig{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}); err == nil {
			t.Error("expected error for missing files")
		}
	})

	t.Run("acme", func(t *testing.T) {
		setup, err := New(config.TLSConfig{ACME: config.ACMEConfig{
			Enabled:  true,
			Email:    "ops@example.com",
			Domains:  []string{"pickup.example.com"},
			CacheDir: t.TempDir(),
		}})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if !setup.ACME() || setup.Config.GetCertificate == nil {
			t.Error("expected ACME certificate callback")
		}
	})
}

func TestChallengeHandlerWithoutACME(t *testing.T) {
	certFile, keyFile := writeTestCertificate(t)
	setup, err := New(config.TLSConfig{CertFile: certFile, KeyFile: keyFile})
	if err != nil {
		t.Fatal(err)
	}

	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	setup.ChallengeHandler(fallback).ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("Status = %d, want fallback status", w.Code)
	}
}

func TestLoadCertificateInvalid(t *testing.T) {
	_, keyFile := writeTestCertificate(t)
	invalid := filepath.Join(t.TempDir(), "invalid.pem")
	if err := os.WriteFile(invalid, []byte("invalid"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCertificate(invalid, keyFile); err == nil {
		t.Error("expected error for invalid certificate")
	}
}

func TestReadCertificateInfo(t *testing.T) {
	certFile, keyFile := writeTestCertificate(t)

	info, err := ReadCertificateInfo(certFile)
	if err != nil {
		t.Fatalf("ReadCertificateInfo() error = %v", err)
	}
	if info.Subject != "pickup.local" {
		t.Errorf("Subject = %q", info.Subject)
	}
	if info.DaysLeft != 30 {
		t.Errorf("DaysLeft = %d, want 30", info.DaysLeft)
	}
	if len(info.DNSNames) != 1 || info.DNSNames[0] != "pickup.local" {
		t.Errorf("DNSNames = %v", info.DNSNames)
	}

	if _, err := ReadCertificateInfo(keyFile); err == nil {
		t.Error("expected error for non-certificate PEM")
	}
}
