package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/foxzi/pickup/internal/config"
	"github.com/foxzi/pickup/internal/dkim"
)

var (
	dkimDomain    string
	dkimSelector  string
	dkimKeyFile   string
	dkimOutDir    string
	dkimAlgorithm string
)

var dkimCmd = &cobra.Command{
	Use:   "dkim",
	Short: "DKIM key management commands",
}

var dkimGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a signing key for notifications",
	Long: `Generate a DKIM signing key (RSA 2048-bit or Ed25519), print the TXT record
to publish and the smtp.dkim block that enables signing.`,
	RunE: runDKIMGenerate,
}

var dkimShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the DNS record for a signing key",
	Long: `Print the TXT record for a private key. Without flags the key, domain and
selector come from smtp.dkim in the configuration.`,
	RunE: runDKIMShow,
}

func init() {
	dkimGenerateCmd.Flags().StringVar(&dkimDomain, "domain", "", "Signing domain (required)")
	dkimGenerateCmd.Flags().StringVar(&dkimSelector, "selector", "pickup", "DKIM selector")
	dkimGenerateCmd.Flags().StringVar(&dkimOutDir, "out", ".", "Output directory for key file")
	dkimGenerateCmd.Flags().StringVar(&dkimAlgorithm, "algorithm", string(dkim.RSA), "Key algorithm: rsa or ed25519")
	dkimGenerateCmd.MarkFlagRequired("domain")

	dkimShowCmd.Flags().StringVar(&dkimKeyFile, "key", "", "Private key file (default smtp.dkim.key_file)")
	dkimShowCmd.Flags().StringVar(&dkimDomain, "domain", "", "Signing domain (default smtp.dkim.domain)")
	dkimShowCmd.Flags().StringVar(&dkimSelector, "selector", "", "DKIM selector (default smtp.dkim.selector)")

	dkimCmd.AddCommand(dkimGenerateCmd, dkimShowCmd)
	rootCmd.AddCommand(dkimCmd)
}

func runDKIMGenerate(cmd *cobra.Command, args []string) error {
	kp, err := dkim.GenerateKey(dkim.Algorithm(dkimAlgorithm), dkimDomain, dkimSelector)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	keyPath := filepath.Join(dkimOutDir, dkimDomain+".key")
	if err := kp.SavePrivateKey(keyPath); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}
	fmt.Printf("Private key saved to: %s\n\n", keyPath)

	if err := printDKIMRecord(kp); err != nil {
		return err
	}

	fmt.Printf("\nAdd to the configuration:\n")
	fmt.Printf("smtp:\n  dkim:\n    enabled: true\n    domain: %q\n    selector: %q\n    key_file: %q\n",
		kp.Domain, kp.Selector, keyPath)
	return nil
}

func runDKIMShow(cmd *cobra.Command, args []string) error {
	settings, err := dkimSettings()
	if err != nil {
		return err
	}

	kp, err := dkim.LoadKeyPair(settings.KeyFile, settings.Domain, settings.Selector)
	if err != nil {
		return fmt.Errorf("failed to load private key: %w", err)
	}
	return printDKIMRecord(kp)
}

// dkimSettings merges the show flags over smtp.dkim. The configuration is
// only read when a flag is missing.
func dkimSettings() (config.DKIMConfig, error) {
	s := config.DKIMConfig{KeyFile: dkimKeyFile, Domain: dkimDomain, Selector: dkimSelector}
	if s.KeyFile == "" || s.Domain == "" || s.Selector == "" {
		cfg, err := loadConfig()
		if err != nil {
			return s, err
		}
		s.KeyFile = valueOr(s.KeyFile, cfg.SMTP.DKIM.KeyFile)
		s.Domain = valueOr(s.Domain, cfg.SMTP.DKIM.Domain)
		s.Selector = valueOr(s.Selector, cfg.SMTP.DKIM.Selector)
	}

	switch {
	case s.KeyFile == "":
		return s, fmt.Errorf("no key file: pass --key or set smtp.dkim.key_file")
	case s.Domain == "":
		return s, fmt.Errorf("no domain: pass --domain or set smtp.dkim.domain")
	case s.Selector == "":
		s.Selector = "pickup"
	}
	return s, nil
}

func printDKIMRecord(kp *dkim.KeyPair) error {
	record, err := kp.DNSRecord()
	if err != nil {
		return err
	}

	fmt.Printf("DNS Record:\n")
	fmt.Printf("  Name: %s\n", kp.DNSName())
	fmt.Printf("  Type: TXT\n")
	fmt.Printf("  Value: %s\n", record)
	return nil
}
