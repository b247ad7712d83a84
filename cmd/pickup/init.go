package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	initShop       string
	initFrom       string
	initSMTPHost   string
	initSMTPSecure bool
	initOutput     string
	initDataDir    string
	initInterval   time.Duration
	initAPIKey     string
	initCronSecret string
	initACME       bool
	initACMEEmail  string
	initACMEDomain string
	initForce      bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a pickup configuration file",
	Long: `Interactive wizard to create a pickup configuration file.

Secrets (Shopify access token, SMTP password) are not written to the file;
set them in the environment or a .env file.

Examples:
  # Interactive mode - prompts for missing values
  pickup init

  # Non-interactive
  pickup init --shop demo.myshopify.com --from shop@example.com --smtp-host smtp.example.com`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initShop, "shop", "", "Shop domain (e.g., demo.myshopify.com)")
	initCmd.Flags().StringVar(&initFrom, "from", "", "Sender address for notifications")
	initCmd.Flags().StringVar(&initSMTPHost, "smtp-host", "", "SMTP relay host")
	initCmd.Flags().BoolVar(&initSMTPSecure, "smtp-secure", false, "Use implicit TLS (port 465)")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/pickup", "Data directory for the database and certificates")
	initCmd.Flags().DurationVar(&initInterval, "interval", 0, "Built-in run interval (0 = external cron only)")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().StringVar(&initCronSecret, "cron-secret", "", "Cron trigger secret (auto-generated if not provided)")
	initCmd.Flags().BoolVar(&initACME, "acme", false, "Enable Let's Encrypt TLS")
	initCmd.Flags().StringVar(&initACMEEmail, "acme-email", "", "Email for Let's Encrypt account")
	initCmd.Flags().StringVar(&initACMEDomain, "acme-domain", "", "Public hostname of the API")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Pickup Configuration Wizard")
	fmt.Println("===========================")
	fmt.Println()

	if initShop == "" {
		initShop = prompt(reader, "Shop domain (e.g., demo.myshopify.com)", "")
		if initShop == "" {
			return fmt.Errorf("shop domain is required")
		}
	}

	if initFrom == "" {
		initFrom = prompt(reader, "Sender address", "")
		if initFrom == "" {
			return fmt.Errorf("sender address is required")
		}
	}

	if initSMTPHost == "" {
		initSMTPHost = prompt(reader, "SMTP relay host", "")
	}

	initDataDir = prompt(reader, "Data directory", initDataDir)

	if initACME {
		if initACMEDomain == "" {
			initACMEDomain = prompt(reader, "Public hostname of the API", "")
			if initACMEDomain == "" {
				return fmt.Errorf("hostname is required for Let's Encrypt")
			}
		}
		if initACMEEmail == "" {
			initACMEEmail = prompt(reader, "Email for Let's Encrypt", initFrom)
		}
	}

	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
		fmt.Printf("  Generated API key: %s\n", initAPIKey)
	}
	if initCronSecret == "" {
		initCronSecret = generateRandomString(32)
		fmt.Printf("  Generated cron secret: %s\n", initCronSecret)
	}

	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	fmt.Println()
	fmt.Println("Creating configuration...")

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("  Warning: Could not create data directory: %v\n", err)
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("  Configuration saved to: %s\n", initOutput)
	fmt.Println()

	printNextSteps()
	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func generateConfig() string {
	tlsSection := ""
	if initACME {
		tlsSection = fmt.Sprintf(`  tls:
    acme:
      enabled: true
      email: "%s"
      domains:
        - "%s"
      cache_dir: "%s/certs"`, initACMEEmail, initACMEDomain, initDataDir)
	} else {
		tlsSection = `  # Uncomment to enable Let's Encrypt
  # tls:
  #   acme:
  #     enabled: true
  #     email: "` + initFrom + `"
  #     domains:
  #       - "pickup.example.com"
  #     cache_dir: "` + initDataDir + `/certs"`
	}

	port := 587
	if initSMTPSecure {
		port = 465
	}

	return fmt.Sprintf(`# Pickup configuration
# Generated by: pickup init
#
# Secrets are read from the environment (or .env):
#   SHOPIFY_ACCESS_TOKEN, SMTP_USER, SMTP_PASSWORD

api:
  listen_addr: ":8080"
  api_key: "%s"
  cron_secret: "%s"
%s

storage:
  backend: bolt
  path: "%s/pickup.db"

shopify:
  shop_domain: "%s"
  api_version: "2024-01"
  requests_per_second: 2

smtp:
  host: "%s"
  port: %d
  secure: %v
  starttls: required
  from: "%s"
  timeout: 30s

pipeline:
  interval: %s
  record_missing_email: false

metrics:
  enabled: false
  listen_addr: ":9090"

logging:
  level: "info"
  format: "json"
`,
		initAPIKey,
		initCronSecret,
		tlsSection,
		initDataDir,
		initShop,
		initSMTPHost,
		port,
		initSMTPSecure,
		initFrom,
		initInterval,
	)
}

func printNextSteps() {
	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Println()
	fmt.Println("1. Provide the secrets, e.g. in .env:")
	fmt.Println("   SHOPIFY_ACCESS_TOKEN=shpat_...")
	fmt.Println("   SMTP_USER=...")
	fmt.Println("   SMTP_PASSWORD=...")
	fmt.Println()
	fmt.Println("2. Check the configuration and send a test message:")
	fmt.Printf("   pickup config validate -c %s\n", initOutput)
	fmt.Printf("   pickup test send -c %s --to you@example.com\n", initOutput)
	fmt.Println()
	fmt.Println("3. Start the service:")
	fmt.Printf("   pickup serve -c %s\n", initOutput)
	fmt.Println()
	if initInterval == 0 {
		fmt.Println("4. Schedule the trigger, e.g. every 15 minutes:")
		fmt.Println("   curl -X POST http://localhost:8080/api/cron \\")
		fmt.Printf("     -H \"Authorization: Bearer %s\"\n", initCronSecret)
		fmt.Println()
	}
}
