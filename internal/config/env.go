package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read by ResolveCredentials
const (
	EnvShopifyAccessToken = "SHOPIFY_ACCESS_TOKEN"
	EnvShopifyShopDomain  = "SHOPIFY_SHOP_DOMAIN"
	EnvSMTPHost           = "SMTP_HOST"
	EnvSMTPPort           = "SMTP_PORT"
	EnvSMTPSecure         = "SMTP_SECURE"
	EnvSMTPUser           = "SMTP_USER"
	EnvSMTPPassword       = "SMTP_PASSWORD"
	EnvEmailFrom          = "EMAIL_FROM"
	EnvCronSecret         = "CRON_SECRET"
	EnvAPIKey             = "PICKUP_API_KEY"
	EnvDatabaseURL        = "DATABASE_URL"
)

// ErrMissingCredential is wrapped by ConfigError for unset required values
var ErrMissingCredential = errors.New("missing credential")

// ConfigError is a fatal configuration problem tied to one setting
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Credentials are the secrets and connection settings taken from the
// environment. Empty fields leave the file configuration untouched.
type Credentials struct {
	ShopifyAccessToken string
	ShopifyShopDomain  string
	SMTPHost           string
	SMTPPort           int
	SMTPSecure         *bool
	SMTPUser           string
	SMTPPassword       string
	EmailFrom          string
	CronSecret         string
	APIKey             string
	DatabaseURL        string
}

// ResolveCredentials reads credentials from env. It has no side effects, so
// callers pass os.Environ or a test map alike.
func ResolveCredentials(env map[string]string) (Credentials, error) {
	get := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	creds := Credentials{
		ShopifyAccessToken: get(EnvShopifyAccessToken),
		ShopifyShopDomain:  get(EnvShopifyShopDomain),
		SMTPHost:           get(EnvSMTPHost),
		SMTPUser:           get(EnvSMTPUser),
		SMTPPassword:       env[EnvSMTPPassword],
		EmailFrom:          get(EnvEmailFrom),
		CronSecret:         get(EnvCronSecret),
		APIKey:             get(EnvAPIKey),
		DatabaseURL:        get(EnvDatabaseURL),
	}

	if v := get(EnvSMTPPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return Credentials{}, &ConfigError{Key: EnvSMTPPort, Err: fmt.Errorf("invalid port %q", v)}
		}
		creds.SMTPPort = port
	}

	if v := get(EnvSMTPSecure); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return Credentials{}, &ConfigError{Key: EnvSMTPSecure, Err: fmt.Errorf("invalid boolean %q", v)}
		}
		creds.SMTPSecure = &secure
	}

	return creds, nil
}

// Apply overlays the non-empty credentials onto the configuration
func (c *Config) Apply(creds Credentials) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&c.Shopify.AccessToken, creds.ShopifyAccessToken)
	set(&c.Shopify.ShopDomain, creds.ShopifyShopDomain)
	set(&c.SMTP.Host, creds.SMTPHost)
	set(&c.SMTP.Username, creds.SMTPUser)
	set(&c.SMTP.Password, creds.SMTPPassword)
	set(&c.SMTP.From, creds.EmailFrom)
	set(&c.API.CronSecret, creds.CronSecret)
	set(&c.API.APIKey, creds.APIKey)
	set(&c.Storage.DSN, creds.DatabaseURL)

	if creds.SMTPSecure != nil {
		// Keep the port in step with the mode unless one is given explicitly
		if creds.SMTPPort == 0 && c.SMTP.Port == defaultSMTPPort(c.SMTP.Secure) {
			c.SMTP.Port = defaultSMTPPort(*creds.SMTPSecure)
		}
		c.SMTP.Secure = *creds.SMTPSecure
	}
	if creds.SMTPPort != 0 {
		c.SMTP.Port = creds.SMTPPort
	}
}

// RequireStorage checks the settings needed to open the storage backend
func (c *Config) RequireStorage() error {
	if c.Storage.Backend == BackendPostgres && c.Storage.DSN == "" {
		return &ConfigError{Key: EnvDatabaseURL, Err: ErrMissingCredential}
	}
	return nil
}

// RequireShopify checks the settings needed to query the shop
func (c *Config) RequireShopify() error {
	if c.Shopify.AccessToken == "" {
		return &ConfigError{Key: EnvShopifyAccessToken, Err: ErrMissingCredential}
	}
	if c.Shopify.ShopDomain == "" {
		return &ConfigError{Key: EnvShopifyShopDomain, Err: ErrMissingCredential}
	}
	return nil
}

// RequireSMTP checks the settings needed to deliver mail
func (c *Config) RequireSMTP() error {
	if c.SMTP.From == "" {
		return &ConfigError{Key: EnvEmailFrom, Err: ErrMissingCredential}
	}
	if c.SMTP.DryRun {
		return nil
	}
	if c.SMTP.Host == "" {
		return &ConfigError{Key: EnvSMTPHost, Err: ErrMissingCredential}
	}
	return nil
}

// LoadEnv returns the process environment merged over the variables in the
// given .env files. Missing files are ignored; process variables win.
func LoadEnv(files ...string) (map[string]string, error) {
	env := make(map[string]string)

	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		fromFiles, err := godotenv.Read(existing...)
		if err != nil {
			return nil, fmt.Errorf("failed to read env file: %w", err)
		}
		for k, v := range fromFiles {
			env[k] = v
		}
	}

	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	return env, nil
}
