package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/foxzi/pickup/internal/api"
	"github.com/foxzi/pickup/internal/config"
	"github.com/foxzi/pickup/internal/ipfilter"
	"github.com/foxzi/pickup/internal/mail"
	"github.com/foxzi/pickup/internal/metrics"
	"github.com/foxzi/pickup/internal/pipeline"
	"github.com/foxzi/pickup/internal/shopify"
	pickupTLS "github.com/foxzi/pickup/internal/tls"
)

// App is the main application
type App struct {
	config   *config.Config
	version  string
	logger   *slog.Logger
	storage  *Storage
	shop     *shopify.Client
	sender   mail.Sender
	pipeline *pipeline.Pipeline

	// runMu keeps the scheduler and the cron endpoint from overlapping
	runMu sync.Mutex

	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	collector     *metrics.Collector
	apiServer     *api.Server
	tlsSetup      *pickupTLS.Setup
	acmeServer    *http.Server
}

// New wires every component. The caller owns the returned App and must
// Close it.
func New(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) (*App, error) {
	if err := cfg.RequireShopify(); err != nil {
		return nil, err
	}

	a := &App{config: cfg, version: version, logger: logger}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		metrics.SetGlobal(a.metrics)
	}

	store, err := OpenStorage(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	a.storage = store

	a.shop, err = shopify.NewClient(shopify.Options{
		ShopDomain:        cfg.Shopify.ShopDomain,
		AccessToken:       cfg.Shopify.AccessToken,
		APIVersion:        cfg.Shopify.APIVersion,
		Timeout:           cfg.Shopify.Timeout,
		RequestsPerSecond: cfg.Shopify.RequestsPerSecond,
	}, logger.With("component", "shopify"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create shopify client: %w", err)
	}

	a.sender, err = NewSender(cfg, logger.With("component", "mail"))
	if err != nil {
		store.Close()
		return nil, err
	}

	opts := pipeline.Options{
		RecordMissingEmail: cfg.Pipeline.RecordMissingEmail,
		LeaseTTL:           cfg.Pipeline.LeaseTTL,
	}
	if cfg.Pipeline.RunLease {
		opts.Lease = store.Lease
	}
	a.pipeline = pipeline.New(store.Templates, a.shop, store.Ledger, a.sender, opts, logger.With("component", "pipeline"))

	return a, nil
}

// Storage returns the opened stores
func (a *App) Storage() *Storage {
	return a.storage
}

// Shopify returns the order source client
func (a *App) Shopify() *shopify.Client {
	return a.shop
}

// Sender returns the mail sink
func (a *App) Sender() mail.Sender {
	return a.sender
}

// Run performs one notification run unless another one is in progress in
// this process.
func (a *App) Run(ctx context.Context) (*pipeline.Result, error) {
	if !a.runMu.TryLock() {
		return nil, pipeline.ErrRunInProgress
	}
	defer a.runMu.Unlock()

	return a.pipeline.Run(ctx)
}

// Serve starts the API, the metrics endpoint and the scheduler, and blocks
// until ctx is done or a SIGINT/SIGTERM arrives.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.config

	filter, err := ipfilter.Parse(cfg.API.AllowedIPs, cfg.API.TrustProxy)
	if err != nil {
		return fmt.Errorf("invalid api.allowed_ips: %w", err)
	}

	a.tlsSetup, err = pickupTLS.New(cfg.API.TLS)
	if err != nil {
		return err
	}

	a.apiServer = api.NewServer(api.Deps{
		Runner:    a,
		Templates: a.storage.Templates,
		Ledger:    a.storage.Ledger,
		Sender:    a.sender,
	}, &cfg.API, filter, a.version, a.logger.With("component", "api"))

	a.logger.Info("starting pickup",
		"name", cfg.Server.Name,
		"api_addr", cfg.API.ListenAddr,
		"storage", cfg.Storage.Backend,
		"interval", cfg.Pipeline.Interval,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 3)

	// Metrics first: a setup error must not leave the API listening
	if a.metrics != nil {
		if err := a.startMetrics(ctx, errCh); err != nil {
			return err
		}
	}

	go func() {
		if err := a.apiServer.ListenAndServe(a.tlsConfig()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.tlsSetup.ACME() {
		a.startACMEServer()
	}

	var wg sync.WaitGroup
	if cfg.Pipeline.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.schedule(ctx, cfg.Pipeline.Interval)
		}()
	} else {
		a.logger.Info("built-in schedule disabled, runs are triggered through /api/cron")
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		a.logger.Error("server error", "error", serveErr)
		cancel()
	}

	wg.Wait()
	if err := a.shutdown(context.Background()); err != nil {
		return err
	}
	return serveErr
}

func (a *App) tlsConfig() *tls.Config {
	if a.tlsSetup == nil {
		return nil
	}
	return a.tlsSetup.Config
}

// schedule runs the pipeline immediately and then every interval
func (a *App) schedule(ctx context.Context, interval time.Duration) {
	a.logger.Info("scheduler started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			// Run already logged the failure
			a.logger.Debug("scheduled run did not complete", "error", err)
		}

		select {
		case <-ctx.Done():
			a.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

func (a *App) startACMEServer() {
	a.acmeServer = &http.Server{
		Addr: ":80",
		Handler: a.tlsSetup.ChallengeHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Redirect all non-ACME requests to HTTPS
			target := "https://" + r.Host + r.URL.Path
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, target, http.StatusMovedPermanently)
		})),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.logger.Info("starting ACME HTTP challenge server", "addr", ":80")
		if err := a.acmeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("ACME HTTP server error", "error", err)
		}
	}()
}

func (a *App) startMetrics(ctx context.Context, errCh chan<- error) error {
	cfg := a.config.Metrics

	srv, err := metrics.NewServer(a.metrics, cfg, a.logger.With("component", "metrics"))
	if err != nil {
		return err
	}
	a.metricsServer = srv

	l := a.storage.Ledger
	a.collector = metrics.NewCollector(a.metrics, func(ctx context.Context) int {
		_, total := l.ListSent(ctx, 1, 0)
		return total
	}, a.storage.Path, cfg.FlushInterval)
	a.collector.Start(ctx)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	return nil
}

// shutdown gracefully stops the servers started by Serve
func (a *App) shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.acmeServer != nil {
		if err := a.acmeServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("acme server shutdown error", "error", err)
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}
	if a.collector != nil {
		a.collector.Stop()
	}

	a.logger.Info("shutdown complete")
	return nil
}

// Close releases the storage backend
func (a *App) Close() {
	a.storage.Close()
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
