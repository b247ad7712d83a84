package dkim

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Algorithm is a DKIM key algorithm
type Algorithm string

const (
	RSA     Algorithm = "rsa"
	Ed25519 Algorithm = "ed25519"
)

// KeyPair is a generated signing key with the DNS data to publish
type KeyPair struct {
	Key       crypto.Signer
	Algorithm Algorithm
	Domain    string
	Selector  string
}

// GenerateKey creates a new key. RSA keys are 2048 bits.
func GenerateKey(alg Algorithm, domain, selector string) (*KeyPair, error) {
	var (
		key crypto.Signer
		err error
	)
	switch alg {
	case RSA, "":
		alg = RSA
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	case Ed25519:
		_, key, err = ed25519.GenerateKey(rand.Reader)
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", alg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", alg, err)
	}

	return &KeyPair{Key: key, Algorithm: alg, Domain: domain, Selector: selector}, nil
}

// SavePrivateKey writes the key to path as PKCS#8 PEM
func (kp *KeyPair) SavePrivateKey(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(kp.Key)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// DNSRecord returns the TXT record value to publish at DNSName
func (kp *KeyPair) DNSRecord() (string, error) {
	var pub []byte
	switch k := kp.Key.Public().(type) {
	case *rsa.PublicKey:
		der, err := x509.MarshalPKIXPublicKey(k)
		if err != nil {
			return "", err
		}
		pub = der
	case ed25519.PublicKey:
		pub = k
	default:
		return "", errors.New("unsupported public key type")
	}

	return fmt.Sprintf("v=DKIM1; k=%s; p=%s", kp.Algorithm, base64.StdEncoding.EncodeToString(pub)), nil
}

// DNSName returns the name of the DKIM TXT record
func (kp *KeyPair) DNSName() string {
	return fmt.Sprintf("%s._domainkey.%s", kp.Selector, kp.Domain)
}

// LoadPrivateKey reads an RSA or Ed25519 private key from a PEM file
func LoadPrivateKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case ed25519.PrivateKey:
			return k, nil
		}
		return nil, errors.New("key is neither RSA nor Ed25519")
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}

// LoadKeyPair loads an existing private key for publishing its DNS record
func LoadKeyPair(path, domain, selector string) (*KeyPair, error) {
	key, err := LoadPrivateKey(path)
	if err != nil {
		return nil, err
	}

	alg := RSA
	if _, ok := key.(ed25519.PrivateKey); ok {
		alg = Ed25519
	}
	return &KeyPair{Key: key, Algorithm: alg, Domain: domain, Selector: selector}, nil
}
