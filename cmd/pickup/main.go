package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/pickup/internal/api"
	"github.com/foxzi/pickup/internal/app"
	"github.com/foxzi/pickup/internal/config"
	pickupTLS "github.com/foxzi/pickup/internal/tls"
)

var (
	cfgFile   string
	envFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pickup",
	Short: "Pickup - order pickup notifications",
	Long: `Pickup polls a Shopify store for fulfilled, paid orders and emails each
customer once that the order is ready for pickup.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the notification service",
	Long:  `Start the HTTP API with the cron trigger and, if pipeline.interval is set, the built-in scheduler.`,
	RunE:  runServe,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one notification pass and print the summary",
	RunE:  runOnce,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and credentials",
	RunE:  runConfigValidate,
}

var configHashKeyCmd = &cobra.Command{
	Use:   "hash-key <api-key>",
	Short: "Print a bcrypt hash for api.api_key_hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash key: %w", err)
		}
		fmt.Println(string(hash))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pickup version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (optional, defaults plus environment)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file merged under the process environment")

	configCmd.AddCommand(configValidateCmd, configHashKeyCmd)
	rootCmd.AddCommand(serveCmd, runCmd, configCmd, versionCmd)
}

// loadConfig reads the config file, if any, and overlays credentials from
// the environment.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	env, err := config.LoadEnv(files...)
	if err != nil {
		return nil, err
	}

	creds, err := config.ResolveCredentials(env)
	if err != nil {
		return nil, err
	}
	cfg.Apply(creds)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger logs to stderr so stdout stays free for command output
func newLogger(cfg *config.Config) *slog.Logger {
	return app.SetupLogger(cfg.Logging, os.Stderr)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := cmd.Context()
	application, err := app.New(ctx, cfg, version, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Close()

	return application.Serve(ctx)
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := cmd.Context()
	application, err := app.New(ctx, cfg, version, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer application.Close()

	result, runErr := application.Run(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if runErr != nil {
		_ = enc.Encode(api.FailureResponse{Success: false, Error: runErr.Error()})
		return runErr
	}

	return enc.Encode(api.CronResponse{
		Success:   true,
		Processed: result.Processed,
		Sent:      result.Sent,
		Errors:    result.Errors,
		Skipped:   result.Skipped(),
		Details:   result.Details,
		Timestamp: time.Now().UTC(),
	})
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Name: %s\n", cfg.Server.Name)
	fmt.Printf("  API: %s\n", cfg.API.ListenAddr)
	fmt.Printf("  Storage: %s\n", describeStorage(cfg))
	fmt.Printf("  Shop: %s (API %s)\n", valueOr(cfg.Shopify.ShopDomain, "<unset>"), cfg.Shopify.APIVersion)
	if cfg.SMTP.DryRun {
		fmt.Printf("  SMTP: dry run\n")
	} else {
		fmt.Printf("  SMTP: %s:%d (secure: %v)\n", valueOr(cfg.SMTP.Host, "<unset>"), cfg.SMTP.Port, cfg.SMTP.Secure)
	}
	if cfg.Pipeline.Interval > 0 {
		fmt.Printf("  Schedule: every %s\n", cfg.Pipeline.Interval)
	} else {
		fmt.Printf("  Schedule: external trigger only\n")
	}

	if cfg.API.TLS.CertFile != "" {
		info, err := pickupTLS.ReadCertificateInfo(cfg.API.TLS.CertFile)
		if err != nil {
			return fmt.Errorf("invalid TLS certificate: %w", err)
		}
		fmt.Printf("  TLS: %s, expires %s (%d days)\n",
			info.Subject, info.NotAfter.Format(time.DateOnly), info.DaysLeft)
	} else if cfg.API.TLS.ACME.Enabled {
		fmt.Printf("  TLS: ACME for %v\n", cfg.API.TLS.ACME.Domains)
	}

	var problems []error
	for _, check := range []func() error{cfg.RequireShopify, cfg.RequireSMTP, cfg.RequireStorage} {
		if err := check(); err != nil {
			problems = append(problems, err)
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("missing settings: %w", errors.Join(problems...))
	}

	return nil
}

func describeStorage(cfg *config.Config) string {
	if cfg.Storage.Backend == config.BackendPostgres {
		return "postgres"
	}
	return cfg.Storage.Backend + " " + cfg.Storage.Path
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
