package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/foxzi/pickup/internal/config"
)

func TestServerHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New()
	m.LedgerRecords.Set(5)

	srv, err := NewServer(m, config.MetricsConfig{AllowedIPs: []string{"127.0.0.1"}}, logger)
	if err != nil {
		t.Fatal(err)
	}
	h := srv.Handler()

	tests := []struct {
		name   string
		path   string
		remote string
		want   int
	}{
		{"allowed", "/metrics", "127.0.0.1:4000", http.StatusOK},
		{"denied", "/metrics", "10.0.0.1:4000", http.StatusForbidden},
		{"health unfiltered", "/health", "10.0.0.1:4000", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.RemoteAddr = tt.remote
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("status %d, want %d", w.Code, tt.want)
			}
			if tt.name == "allowed" && !strings.Contains(w.Body.String(), "pickup_ledger_records 5") {
				t.Error("metrics output should contain pickup_ledger_records")
			}
		})
	}
}

func TestNewServerInvalidAllowList(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewServer(New(), config.MetricsConfig{AllowedIPs: []string{"not-an-ip"}}, logger); err == nil {
		t.Error("expected error for invalid allowed_ips")
	}
}

func TestServerCustomPath(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := NewServer(New(), config.MetricsConfig{Path: "/internal/metrics"}, logger)
	if err != nil {
		t.Fatal(err)
	}
	h := srv.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("custom path status %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("default path status %d, want 404", w.Code)
	}
}
