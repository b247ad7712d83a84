package dnscheck

import (
	"context"
	"errors"
	"net"
	"testing"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if name == "broken.example.com" || name == "_dmarc.broken.example.com" {
		return nil, errors.New("server misbehaving")
	}
	records, ok := f[name]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return records, nil
}

func TestValidateDomain(t *testing.T) {
	tests := []struct {
		domain string
		valid  bool
	}{
		{"example.com", true},
		{"sub.example.com", true},
		{"my-shop.example.co.uk", true},
		{"", false},
		{"-example.com", false},
		{"example-.com", false},
		{"exam ple.com", false},
		{"example.com; rm -rf /", false},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			err := ValidateDomain(tt.domain)
			if tt.valid && err != nil {
				t.Errorf("ValidateDomain(%q) unexpected error: %v", tt.domain, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("ValidateDomain(%q) expected error", tt.domain)
			}
		})
	}
}

func TestValidateSelector(t *testing.T) {
	tests := []struct {
		selector string
		valid    bool
	}{
		{"pickup", true},
		{"s2024", true},
		{"mail-key", true},
		{"", false},
		{"-bad", false},
		{"bad.selector", false},
	}

	for _, tt := range tests {
		err := ValidateSelector(tt.selector)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateSelector(%q) error = %v, valid %v", tt.selector, err, tt.valid)
		}
	}
}

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		from    string
		want    string
		wantErr bool
	}{
		{"shop@Example.com", "example.com", false},
		{"Demo Shop <orders@shop.example.com>", "shop.example.com", false},
		{"no-domain", "", true},
		{"trailing@", "", true},
	}

	for _, tt := range tests {
		got, err := SenderDomain(tt.from)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("SenderDomain(%q) = %q, %v", tt.from, got, err)
		}
	}
}

func TestCheckSPF(t *testing.T) {
	resolver := fakeResolver{
		"strict.example.com": {"google-site-verification=x", "v=spf1 include:_spf.example.net -all"},
		"open.example.com":   {"v=spf1 +all"},
		"other.example.com":  {"google-site-verification=x"},
	}
	c := New(resolver)
	ctx := context.Background()

	tests := []struct {
		domain string
		want   Status
	}{
		{"strict.example.com", StatusOK},
		{"open.example.com", StatusWarning},
		{"other.example.com", StatusNotFound},
		{"missing.example.com", StatusNotFound},
		{"broken.example.com", StatusError},
	}

	for _, tt := range tests {
		if got := c.CheckSPF(ctx, tt.domain); got.Status != tt.want {
			t.Errorf("CheckSPF(%s) = %s (%s), want %s", tt.domain, got.Status, got.Message, tt.want)
		}
	}
}

func TestCheckDKIM(t *testing.T) {
	resolver := fakeResolver{
		"pickup._domainkey.example.com": {"v=DKIM1; k=rsa; p=MIIBIjAN", "BgkqhkiG9w0B"},
		"empty._domainkey.example.com":  {"v=DKIM1; k=rsa; p="},
		"junk._domainkey.example.com":   {"hello"},
	}
	c := New(resolver)
	ctx := context.Background()

	tests := []struct {
		name     string
		selector string
		expected string
		want     Status
	}{
		{"published", "pickup", "", StatusOK},
		{"matches split record", "pickup", "v=DKIM1; k=rsa; p=MIIBIjANBgkqhkiG9w0B", StatusOK},
		{"different key", "pickup", "v=DKIM1; k=rsa; p=OTHER", StatusWarning},
		{"no key", "empty", "", StatusWarning},
		{"not dkim", "junk", "", StatusWarning},
		{"missing", "absent", "", StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.CheckDKIM(ctx, "example.com", tt.selector, tt.expected)
			if got.Status != tt.want {
				t.Errorf("CheckDKIM() = %s (%s), want %s", got.Status, got.Message, tt.want)
			}
		})
	}
}

func TestCheckDMARC(t *testing.T) {
	resolver := fakeResolver{
		"_dmarc.reject.example.com":  {"v=DMARC1; p=reject; rua=mailto:d@example.com"},
		"_dmarc.none.example.com":    {"v=DMARC1; p=none"},
		"_dmarc.invalid.example.com": {"p=reject"},
	}
	c := New(resolver)
	ctx := context.Background()

	tests := []struct {
		domain string
		want   Status
	}{
		{"reject.example.com", StatusOK},
		{"none.example.com", StatusWarning},
		{"invalid.example.com", StatusWarning},
		{"missing.example.com", StatusNotFound},
		{"broken.example.com", StatusError},
	}

	for _, tt := range tests {
		if got := c.CheckDMARC(ctx, tt.domain); got.Status != tt.want {
			t.Errorf("CheckDMARC(%s) = %s (%s), want %s", tt.domain, got.Status, got.Message, tt.want)
		}
	}
}

func TestCheck(t *testing.T) {
	resolver := fakeResolver{
		"example.com":                   {"v=spf1 -all"},
		"pickup._domainkey.example.com": {"v=DKIM1; p=KEY"},
		"_dmarc.example.com":            {"v=DMARC1; p=quarantine"},
	}
	c := New(resolver)

	report, err := c.Check(context.Background(), "example.com", Options{Selector: "pickup"})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(report.Results) != 3 || report.Summary.OK != 3 || !report.Healthy() {
		t.Errorf("report = %+v", report)
	}

	report, err = c.Check(context.Background(), "example.com", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Results) != 2 {
		t.Errorf("without selector got %d results, want 2", len(report.Results))
	}

	report, err = c.Check(context.Background(), "bare.example.com", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Healthy() || report.Summary.NotFound != 2 {
		t.Errorf("summary = %+v", report.Summary)
	}

	if _, err := c.Check(context.Background(), "bad domain", Options{}); !errors.Is(err, ErrInvalidDomain) {
		t.Errorf("Check(bad domain) error = %v", err)
	}
	if _, err := c.Check(context.Background(), "example.com", Options{Selector: "bad.sel"}); err == nil {
		t.Error("expected selector error")
	}
}
