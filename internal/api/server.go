package api

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/pickup/internal/config"
	"github.com/foxzi/pickup/internal/ipfilter"
	"github.com/foxzi/pickup/internal/ledger"
	"github.com/foxzi/pickup/internal/mail"
	"github.com/foxzi/pickup/internal/metrics"
	"github.com/foxzi/pickup/internal/pipeline"
	"github.com/foxzi/pickup/internal/template"
)

// Runner performs one notification run
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// Deps are the components served by the API
type Deps struct {
	Runner    Runner
	Templates template.Store
	Ledger    ledger.Ledger
	Sender    mail.Sender
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     *config.APIConfig
	filter     *ipfilter.Filter
	logger     *slog.Logger
	startTime  time.Time
	version    string
}

// NewServer creates a new API server. A nil filter allows every client.
func NewServer(deps Deps, cfg *config.APIConfig, filter *ipfilter.Filter, version string, logger *slog.Logger) *Server {
	if filter == nil {
		filter = ipfilter.AllowAll()
	}
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		filter:    filter,
		logger:    logger,
		startTime: time.Now(),
		version:   version,
	}

	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
	}
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	if s.config.TrustProxy {
		s.router.Use(middleware.RealIP)
	}
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return s.filter.Middleware(next, s.logger)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.cronAuth())
			r.Get("/cron", s.handleCron)
			r.Post("/cron", s.handleCron)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.apiAuth())

			r.Get("/emails", s.handleEmails)
			r.Post("/test-email", s.handleTestEmail)

			r.Route("/templates", func(r chi.Router) {
				r.Get("/", s.handleListTemplates)
				r.Post("/", s.handleCreateTemplate)
				r.Post("/create-sample", s.handleCreateSample)
				r.Get("/{id}", s.handleGetTemplate)
				r.Put("/{id}", s.handleUpdateTemplate)
				r.Delete("/{id}", s.handleDeleteTemplate)
				r.Post("/{id}/preview", s.handlePreviewTemplate)
			})
		})
	})
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server. With a non-nil tlsConfig the
// listener serves HTTPS.
func (s *Server) ListenAndServe(tlsConfig *tls.Config) error {
	s.httpServer.TLSConfig = tlsConfig

	if tlsConfig == nil {
		s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
		return s.httpServer.ListenAndServe()
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	s.logger.Info("starting HTTPS API server", "addr", s.config.ListenAddr)
	return s.httpServer.ServeTLS(ln, "", "")
}

// Shutdown stops the server. Called before ListenAndServe, it makes the
// later call return http.ErrServerClosed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	return s.httpServer.Shutdown(ctx)
}
