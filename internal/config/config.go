package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Shopify  ShopifyConfig  `yaml:"shopify"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains process-wide settings
type ServerConfig struct {
	Name string `yaml:"name"` // Instance name reported in logs
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`      // Protects /api/emails, /api/templates and /api/test-email
	APIKeyHash     string        `yaml:"api_key_hash"` // bcrypt hash accepted instead of (or besides) api_key
	CronSecret     string        `yaml:"cron_secret"` // Bearer secret for /api/cron (empty = open)
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowedIPs     []string      `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to access API (empty = allow all)
	TrustProxy     bool          `yaml:"trust_proxy"` // Take the client address from X-Forwarded-For / X-Real-IP
	TLS            TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS certificate settings for the API listener
type TLSConfig struct {
	CertFile string     `yaml:"cert_file"`
	KeyFile  string     `yaml:"key_file"`
	ACME     ACMEConfig `yaml:"acme"`
}

// ACMEConfig contains Let's Encrypt ACME settings
type ACMEConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Email    string   `yaml:"email"`
	Domains  []string `yaml:"domains"`
	CacheDir string   `yaml:"cache_dir"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Backend string `yaml:"backend"` // bolt, sqlite or postgres
	Path    string `yaml:"path"`    // bolt or sqlite database file
	DSN     string `yaml:"dsn"`     // postgres connection string
}

// ShopifyConfig contains Admin API settings
type ShopifyConfig struct {
	ShopDomain        string        `yaml:"shop_domain"`
	AccessToken       string        `yaml:"access_token"`
	APIVersion        string        `yaml:"api_version"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// SMTPConfig contains relay settings for outgoing notifications
type SMTPConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	Secure    bool          `yaml:"secure"`   // Implicit TLS
	StartTLS  string        `yaml:"starttls"` // auto, required or off; ignored with secure
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	From      string        `yaml:"from"`
	HelloName string        `yaml:"hello_name"`
	Timeout   time.Duration `yaml:"timeout"`
	DryRun    bool          `yaml:"dry_run"` // Log messages instead of sending them
	DKIM      DKIMConfig    `yaml:"dkim"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// PipelineConfig contains notification run settings
type PipelineConfig struct {
	Interval           time.Duration `yaml:"interval"` // Built-in schedule for serve mode (0 = external trigger only)
	RecordMissingEmail bool          `yaml:"record_missing_email"`
	RunLease           bool          `yaml:"run_lease"`
	LeaseTTL           time.Duration `yaml:"lease_ttl"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied, used when no
// config file is given and everything comes from the environment.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		hostname, _ := os.Hostname()
		c.Server.Name = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		// A run sends mail synchronously inside the cron request
		c.API.WriteTimeout = 5 * time.Minute
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}
	if c.API.TLS.ACME.CacheDir == "" {
		c.API.TLS.ACME.CacheDir = "/var/lib/pickup/certs"
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendBolt
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/pickup/pickup.db"
	}

	if c.Shopify.APIVersion == "" {
		c.Shopify.APIVersion = "2024-01"
	}
	if c.Shopify.Timeout == 0 {
		c.Shopify.Timeout = 30 * time.Second
	}
	if c.Shopify.RequestsPerSecond == 0 {
		c.Shopify.RequestsPerSecond = 2
	}

	if c.SMTP.Port == 0 {
		c.SMTP.Port = defaultSMTPPort(c.SMTP.Secure)
	}
	if c.SMTP.Timeout == 0 {
		c.SMTP.Timeout = 30 * time.Second
	}
	if c.SMTP.StartTLS == "" {
		c.SMTP.StartTLS = StartTLSAuto
	}

	if c.Pipeline.LeaseTTL == 0 {
		c.Pipeline.LeaseTTL = 10 * time.Minute
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func defaultSMTPPort(secure bool) int {
	if secure {
		return 465
	}
	return 587
}

// Storage backends
const (
	BackendBolt     = "bolt"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// STARTTLS policies
const (
	StartTLSAuto     = "auto"
	StartTLSRequired = "required"
	StartTLSOff      = "off"
)

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendBolt, BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
		}
	case BackendPostgres:
		// The DSN may still arrive through DATABASE_URL
	default:
		return fmt.Errorf("invalid storage.backend: %s (must be bolt, sqlite or postgres)", c.Storage.Backend)
	}

	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return fmt.Errorf("invalid smtp.port: %d", c.SMTP.Port)
	}

	switch c.SMTP.StartTLS {
	case StartTLSAuto, StartTLSRequired, StartTLSOff:
	default:
		return fmt.Errorf("invalid smtp.starttls: %s (must be auto, required or off)", c.SMTP.StartTLS)
	}

	if c.Shopify.RequestsPerSecond < 0 {
		return fmt.Errorf("shopify.requests_per_second must not be negative")
	}

	if c.Pipeline.Interval < 0 {
		return fmt.Errorf("pipeline.interval must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.API.APIKeyHash != "" && !strings.HasPrefix(c.API.APIKeyHash, "$2") {
		return fmt.Errorf("api.api_key_hash must be a bcrypt hash")
	}

	if err := c.validateTLS(); err != nil {
		return err
	}

	return c.validateDKIM()
}

// validateTLS validates TLS configuration of the API listener
func (c *Config) validateTLS() error {
	tls := c.API.TLS
	hasCerts := tls.CertFile != "" || tls.KeyFile != ""
	hasACME := tls.ACME.Enabled

	if hasCerts && hasACME {
		return fmt.Errorf("cannot use both manual certificates and ACME")
	}

	if hasCerts {
		if tls.CertFile == "" {
			return fmt.Errorf("api.tls.cert_file is required when using manual certificates")
		}
		if tls.KeyFile == "" {
			return fmt.Errorf("api.tls.key_file is required when using manual certificates")
		}
	}

	if hasACME {
		if tls.ACME.Email == "" {
			return fmt.Errorf("api.tls.acme.email is required when ACME is enabled")
		}
		if len(tls.ACME.Domains) == 0 {
			return fmt.Errorf("api.tls.acme.domains must not be empty when ACME is enabled")
		}
	}

	return nil
}

// validateDKIM validates DKIM configuration
func (c *Config) validateDKIM() error {
	if !c.SMTP.DKIM.Enabled {
		return nil
	}

	if c.SMTP.DKIM.Selector == "" {
		return fmt.Errorf("smtp.dkim.selector is required when DKIM is enabled")
	}
	if c.SMTP.DKIM.KeyFile == "" {
		return fmt.Errorf("smtp.dkim.key_file is required when DKIM is enabled")
	}
	if c.SMTP.DKIM.Domain == "" {
		return fmt.Errorf("smtp.dkim.domain is required when DKIM is enabled")
	}

	return nil
}

// HasTLS returns true if TLS is configured for the API
func (c *Config) HasTLS() bool {
	return (c.API.TLS.CertFile != "" && c.API.TLS.KeyFile != "") || c.API.TLS.ACME.Enabled
}
