// Package dnscheck verifies the DNS records that decide whether pickup
// notifications from a sender domain are delivered: SPF, DKIM and DMARC.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"regexp"
	"strings"
)

// ErrInvalidDomain is returned for a malformed sender domain
var ErrInvalidDomain = errors.New("invalid domain name")

// domainRegex validates domain name format (RFC 1035)
var domainRegex = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

var selectorRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// ValidateDomain checks if domain name is valid
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > 253 || !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidateSelector checks if DKIM selector is valid
func ValidateSelector(selector string) error {
	if len(selector) > 63 {
		return errors.New("selector too long")
	}
	if !selectorRegex.MatchString(selector) {
		return errors.New("invalid selector format")
	}
	return nil
}

// SenderDomain returns the lowercased domain part of a From address
func SenderDomain(from string) (string, error) {
	addr := from
	if parsed, err := mail.ParseAddress(from); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", fmt.Errorf("no domain in sender address %q", from)
	}
	return strings.ToLower(addr[at+1:]), nil
}

// Status of a single check
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusError    Status = "error"
	StatusNotFound Status = "not_found"
)

// CheckResult represents a single DNS check result
type CheckResult struct {
	Type    string `json:"type"`
	Status  Status `json:"status"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// Report contains all DNS check results for a sender domain
type Report struct {
	Domain  string        `json:"domain"`
	Results []CheckResult `json:"results"`
	Summary Summary       `json:"summary"`
}

// Summary contains check statistics
type Summary struct {
	OK       int `json:"ok"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
	NotFound int `json:"not_found"`
}

// Healthy reports whether nothing failed or is missing
func (r *Report) Healthy() bool {
	return r.Summary.Errors == 0 && r.Summary.NotFound == 0
}

// Resolver looks up TXT records. *net.Resolver satisfies it.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Options selects the DKIM record to verify
type Options struct {
	// Selector enables the DKIM check
	Selector string

	// ExpectedDKIM, when set, is the record the key file publishes. The
	// check warns if DNS serves a different key.
	ExpectedDKIM string
}

// Checker runs sender domain checks
type Checker struct {
	resolver Resolver
}

// New creates a Checker. A nil resolver uses net.DefaultResolver.
func New(resolver Resolver) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Checker{resolver: resolver}
}

// Check performs the SPF, DMARC and (with a selector) DKIM checks
func (c *Checker) Check(ctx context.Context, domain string, opts Options) (*Report, error) {
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}
	if opts.Selector != "" {
		if err := ValidateSelector(opts.Selector); err != nil {
			return nil, err
		}
	}

	report := &Report{Domain: domain}
	report.Results = append(report.Results, c.CheckSPF(ctx, domain))
	if opts.Selector != "" {
		report.Results = append(report.Results, c.CheckDKIM(ctx, domain, opts.Selector, opts.ExpectedDKIM))
	}
	report.Results = append(report.Results, c.CheckDMARC(ctx, domain))

	for _, r := range report.Results {
		switch r.Status {
		case StatusOK:
			report.Summary.OK++
		case StatusWarning:
			report.Summary.Warnings++
		case StatusError:
			report.Summary.Errors++
		case StatusNotFound:
			report.Summary.NotFound++
		}
	}

	return report, nil
}

// lookup returns the TXT records of name, or a finished result when the
// lookup failed
func (c *Checker) lookup(ctx context.Context, name string, result CheckResult, notFound string) ([]string, *CheckResult) {
	records, err := c.resolver.LookupTXT(ctx, name)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			result.Status = StatusNotFound
			result.Message = notFound
			return nil, &result
		}
		result.Status = StatusError
		result.Message = fmt.Sprintf("Lookup failed: %v", err)
		return nil, &result
	}
	return records, nil
}

// CheckSPF checks SPF record for a domain
func (c *Checker) CheckSPF(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "SPF Record"}
	const notFound = "No SPF record found (recommended to add)"

	records, failed := c.lookup(ctx, domain, result, notFound)
	if failed != nil {
		return *failed
	}

	for _, txt := range records {
		if !strings.HasPrefix(txt, "v=spf1") {
			continue
		}
		result.Status = StatusOK
		result.Value = txt

		switch {
		case strings.Contains(txt, "+all"):
			result.Status = StatusWarning
			result.Message = "SPF uses +all (allows any sender) - consider using ~all or -all"
		case strings.Contains(txt, "-all"):
			result.Message = "SPF configured with strict policy (-all)"
		case strings.Contains(txt, "~all"):
			result.Message = "SPF configured with soft fail (~all)"
		}
		return result
	}

	result.Status = StatusNotFound
	result.Message = notFound
	return result
}

// CheckDKIM checks the DKIM record of selector. A non-empty expected record
// is compared by public key.
func (c *Checker) CheckDKIM(ctx context.Context, domain, selector, expected string) CheckResult {
	result := CheckResult{Type: fmt.Sprintf("DKIM Record (%s._domainkey)", selector)}

	records, failed := c.lookup(ctx, selector+"._domainkey."+domain, result,
		fmt.Sprintf("No DKIM record found for selector '%s'", selector))
	if failed != nil {
		return *failed
	}

	// Long records are split into several strings
	full := strings.Join(records, "")
	result.Value = truncateString(full, 100)

	if !strings.Contains(full, "v=DKIM1") {
		result.Status = StatusWarning
		result.Message = "TXT record found but doesn't appear to be a valid DKIM record"
		return result
	}

	published := tagValue(full, "p")
	switch {
	case published == "":
		result.Status = StatusWarning
		result.Message = "DKIM record missing public key (p=)"
	case expected != "" && published != tagValue(expected, "p"):
		result.Status = StatusWarning
		result.Message = "DKIM record does not match the configured signing key"
	default:
		result.Status = StatusOK
		result.Message = "DKIM record published"
		if expected != "" {
			result.Message = "DKIM record matches the configured signing key"
		}
	}
	return result
}

// CheckDMARC checks DMARC record for a domain
func (c *Checker) CheckDMARC(ctx context.Context, domain string) CheckResult {
	result := CheckResult{Type: "DMARC Record"}
	const notFound = "No DMARC record found (recommended to add)"

	records, failed := c.lookup(ctx, "_dmarc."+domain, result, notFound)
	if failed != nil {
		return *failed
	}

	full := strings.Join(records, "")
	result.Value = full

	if !strings.HasPrefix(full, "v=DMARC1") {
		result.Status = StatusWarning
		result.Message = "TXT record found but doesn't appear to be a valid DMARC record"
		return result
	}

	result.Status = StatusOK
	switch tagValue(full, "p") {
	case "reject":
		result.Message = "DMARC configured with reject policy (strict)"
	case "quarantine":
		result.Message = "DMARC configured with quarantine policy"
	case "none":
		result.Status = StatusWarning
		result.Message = "DMARC configured with none policy (monitoring only)"
	}
	return result
}

// tagValue returns the value of tag in a "k=v; k=v" record, whitespace removed
func tagValue(record, tag string) string {
	for _, part := range strings.Split(record, ";") {
		k, v, ok := strings.Cut(part, "=")
		if ok && strings.TrimSpace(k) == tag {
			return strings.Join(strings.Fields(v), "")
		}
	}
	return ""
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
