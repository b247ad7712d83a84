package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveCredentials(t *testing.T) {
	env := map[string]string{
		EnvShopifyAccessToken: "shpat_123",
		EnvShopifyShopDomain:  "demo.myshopify.com",
		EnvSMTPHost:           " smtp.example.com ",
		EnvSMTPPort:           "2525",
		EnvSMTPSecure:         "false",
		EnvSMTPUser:           "mailer",
		EnvSMTPPassword:       " secret ",
		EnvEmailFrom:          "shop@example.com",
		EnvCronSecret:         "cron",
		EnvAPIKey:             "key",
		EnvDatabaseURL:        "postgres://localhost/pickup",
	}

	creds, err := ResolveCredentials(env)
	if err != nil {
		t.Fatalf("ResolveCredentials() error = %v", err)
	}

	if creds.ShopifyAccessToken != "shpat_123" {
		t.Errorf("ShopifyAccessToken = %q", creds.ShopifyAccessToken)
	}
	if creds.SMTPHost != "smtp.example.com" {
		t.Errorf("SMTPHost = %q, want trimmed value", creds.SMTPHost)
	}
	if creds.SMTPPassword != " secret " {
		t.Errorf("SMTPPassword = %q, passwords must not be trimmed", creds.SMTPPassword)
	}
	if creds.SMTPPort != 2525 {
		t.Errorf("SMTPPort = %d, want 2525", creds.SMTPPort)
	}
	if creds.SMTPSecure == nil || *creds.SMTPSecure {
		t.Errorf("SMTPSecure = %v, want false", creds.SMTPSecure)
	}
}

func TestResolveCredentialsEmpty(t *testing.T) {
	creds, err := ResolveCredentials(map[string]string{})
	if err != nil {
		t.Fatalf("ResolveCredentials() error = %v", err)
	}
	if creds.SMTPSecure != nil || creds.SMTPPort != 0 {
		t.Errorf("expected unset values, got %+v", creds)
	}
}

func TestResolveCredentialsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		key  string
	}{
		{"port not a number", map[string]string{EnvSMTPPort: "smtp"}, EnvSMTPPort},
		{"port out of range", map[string]string{EnvSMTPPort: "0"}, EnvSMTPPort},
		{"secure not a bool", map[string]string{EnvSMTPSecure: "maybe"}, EnvSMTPSecure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveCredentials(tt.env)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if cfgErr.Key != tt.key {
				t.Errorf("Key = %s, want %s", cfgErr.Key, tt.key)
			}
		})
	}
}

func TestApply(t *testing.T) {
	cfg := Default()
	cfg.SMTP.Host = "file.example.com"
	cfg.API.APIKey = "from-file"

	secure := true
	cfg.Apply(Credentials{
		ShopifyAccessToken: "shpat_123",
		SMTPSecure:         &secure,
		CronSecret:         "cron",
		DatabaseURL:        "postgres://db/pickup",
	})

	if cfg.SMTP.Host != "file.example.com" {
		t.Errorf("empty credential must not override file value, got %q", cfg.SMTP.Host)
	}
	if cfg.API.APIKey != "from-file" {
		t.Errorf("API.APIKey = %q, want from-file", cfg.API.APIKey)
	}
	if cfg.Shopify.AccessToken != "shpat_123" || cfg.API.CronSecret != "cron" {
		t.Errorf("credentials not applied: %+v", cfg)
	}
	if cfg.Storage.DSN != "postgres://db/pickup" {
		t.Errorf("Storage.DSN = %q", cfg.Storage.DSN)
	}
	if !cfg.SMTP.Secure || cfg.SMTP.Port != 465 {
		t.Errorf("SMTP secure = %v port = %d, want true/465", cfg.SMTP.Secure, cfg.SMTP.Port)
	}

	cfg.Apply(Credentials{SMTPPort: 2465})
	if cfg.SMTP.Port != 2465 {
		t.Errorf("SMTP.Port = %d, want 2465", cfg.SMTP.Port)
	}
}

func TestRequire(t *testing.T) {
	cfg := Default()

	err := cfg.RequireShopify()
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("RequireShopify() = %v, want ErrMissingCredential", err)
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Key != EnvShopifyAccessToken {
		t.Errorf("expected missing %s, got %v", EnvShopifyAccessToken, err)
	}

	cfg.Shopify.AccessToken = "shpat"
	cfg.Shopify.ShopDomain = "demo.myshopify.com"
	if err := cfg.RequireShopify(); err != nil {
		t.Errorf("RequireShopify() = %v", err)
	}

	if err := cfg.RequireSMTP(); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("RequireSMTP() = %v, want ErrMissingCredential", err)
	}
	cfg.SMTP.From = "shop@example.com"
	cfg.SMTP.DryRun = true
	if err := cfg.RequireSMTP(); err != nil {
		t.Errorf("RequireSMTP() in dry run = %v", err)
	}

	cfg.Storage.Backend = BackendPostgres
	if err := cfg.RequireStorage(); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("RequireStorage() = %v, want ErrMissingCredential", err)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "PICKUP_TEST_FROM_FILE=file\nPICKUP_TEST_OVERRIDE=file\n"
	if err := os.WriteFile(envFile, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PICKUP_TEST_OVERRIDE", "process")

	env, err := LoadEnv(envFile, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}

	if env["PICKUP_TEST_FROM_FILE"] != "file" {
		t.Errorf("PICKUP_TEST_FROM_FILE = %q, want file", env["PICKUP_TEST_FROM_FILE"])
	}
	if env["PICKUP_TEST_OVERRIDE"] != "process" {
		t.Errorf("process environment must win, got %q", env["PICKUP_TEST_OVERRIDE"])
	}
}
