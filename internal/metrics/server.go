package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foxzi/pickup/internal/config"
	"github.com/foxzi/pickup/internal/ipfilter"
)

// Server exposes the registry on its own listener, apart from the API
type Server struct {
	metrics *Metrics
	cfg     config.MetricsConfig
	filter  *ipfilter.Filter
	logger  *slog.Logger

	httpServer *http.Server
}

// NewServer creates a metrics server. metrics.allowed_ips restricts the
// scrape path; /health stays open for load balancers.
func NewServer(m *Metrics, cfg config.MetricsConfig, logger *slog.Logger) (*Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9090"
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}

	filter, err := ipfilter.Parse(cfg.AllowedIPs, false)
	if err != nil {
		return nil, fmt.Errorf("invalid metrics.allowed_ips: %w", err)
	}
	if filter.Enabled() {
		logger.Info("metrics IP filtering enabled", "allowed_networks", filter.Count())
	}

	s := &Server{metrics: m, cfg: cfg, filter: filter, logger: logger}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the metrics router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	scrape := promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{EnableOpenMetrics: true})
	r.Method(http.MethodGet, s.cfg.Path, s.filter.Middleware(scrape, s.logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	return r
}

// ListenAndServe blocks until the listener fails or Shutdown is called
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting metrics server", "addr", s.cfg.ListenAddr, "path", s.cfg.Path)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
