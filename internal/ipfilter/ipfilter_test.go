package ipfilter

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		allowedIPs []string
		wantCount  int
		wantErr    bool
	}{
		{"empty list", nil, 0, false},
		{"single IP", []string{"192.168.1.1"}, 1, false},
		{"CIDR range", []string{"10.0.0.0/8"}, 1, false},
		{"mixed", []string{"192.168.1.1", " 10.0.0.0/8 ", "", "::1"}, 3, false},
		{"invalid IP", []string{"192.168.1.1", "not-an-ip"}, 0, true},
		{"invalid CIDR", []string{"10.0.0.0/99"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(tt.allowedIPs, false)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if f.Count() != tt.wantCount {
				t.Errorf("Count() = %d, want %d", f.Count(), tt.wantCount)
			}
			if f.Enabled() != (tt.wantCount > 0) {
				t.Errorf("Enabled() = %v", f.Enabled())
			}
		})
	}
}

func TestAllows(t *testing.T) {
	f, err := Parse([]string{"192.168.1.10", "10.0.0.0/8", "fe80::/10"}, false)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		ip   string
		want bool
	}{
		{"192.168.1.10", true},
		{"192.168.1.11", false},
		{"10.20.30.40", true},
		{"fe80::1", true},
		{"2001:db8::1", false},
	}
	for _, tt := range tests {
		if got := f.Allows(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("Allows(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}

	if !AllowAll().Allows(net.ParseIP("8.8.8.8")) {
		t.Error("AllowAll should allow everything")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	direct, _ := Parse(nil, false)
	if got := direct.ClientIP(req).String(); got != "127.0.0.1" {
		t.Errorf("without proxy trust got %s, want 127.0.0.1", got)
	}

	proxied, _ := Parse(nil, true)
	if got := proxied.ClientIP(req).String(); got != "203.0.113.7" {
		t.Errorf("with proxy trust got %s, want 203.0.113.7", got)
	}

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	if got := proxied.ClientIP(req).String(); got != "198.51.100.2" {
		t.Errorf("X-Real-IP got %s", got)
	}
}

func TestMiddleware(t *testing.T) {
	f, err := Parse([]string{"127.0.0.1"}, false)
	if err != nil {
		t.Fatal(err)
	}

	handler := f.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), newTestLogger())

	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:1234", http.StatusNoContent},
		{"10.1.1.1:1234", http.StatusForbidden},
		{"garbage", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/cron", nil)
		req.RemoteAddr = tt.remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != tt.want {
			t.Errorf("remote %s: status %d, want %d", tt.remote, w.Code, tt.want)
		}
	}
}
