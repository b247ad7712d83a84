package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/pickup/internal/config"
	"github.com/foxzi/pickup/internal/dkim"
	"github.com/foxzi/pickup/internal/dnscheck"
)

var (
	dnsDomain   string
	dnsSelector string
	dnsJSON     bool
)

var dnsCmd = &cobra.Command{
	Use:   "dns",
	Short: "DNS commands",
}

var dnsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check SPF, DKIM and DMARC records of the sender domain",
	Long: `Check the DNS records receivers use to judge pickup notifications.

The domain defaults to the DKIM signing domain, then to the domain of the
sender address. With DKIM enabled the published key is compared with the
configured key file.`,
	RunE: runDNSCheck,
}

func init() {
	dnsCheckCmd.Flags().StringVar(&dnsDomain, "domain", "", "Domain to check (default from configuration)")
	dnsCheckCmd.Flags().StringVar(&dnsSelector, "selector", "", "DKIM selector (default smtp.dkim.selector)")
	dnsCheckCmd.Flags().BoolVar(&dnsJSON, "json", false, "Print the report as JSON")

	dnsCmd.AddCommand(dnsCheckCmd)
	rootCmd.AddCommand(dnsCmd)
}

func runDNSCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	domain, err := checkDomain(cfg)
	if err != nil {
		return err
	}

	opts := dnscheck.Options{Selector: dnsSelector}
	if opts.Selector == "" {
		opts.Selector = cfg.SMTP.DKIM.Selector
	}
	if cfg.SMTP.DKIM.Enabled && opts.Selector == cfg.SMTP.DKIM.Selector && domain == cfg.SMTP.DKIM.Domain {
		kp, err := dkim.LoadKeyPair(cfg.SMTP.DKIM.KeyFile, domain, opts.Selector)
		if err != nil {
			return fmt.Errorf("failed to load DKIM key: %w", err)
		}
		if opts.ExpectedDKIM, err = kp.DNSRecord(); err != nil {
			return err
		}
	}

	report, err := dnscheck.New(nil).Check(cmd.Context(), domain, opts)
	if err != nil {
		return err
	}

	if dnsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printDNSReport(report)
	}

	if !report.Healthy() {
		return fmt.Errorf("%s: %d errors, %d records missing", domain, report.Summary.Errors, report.Summary.NotFound)
	}
	return nil
}

func checkDomain(cfg *config.Config) (string, error) {
	switch {
	case dnsDomain != "":
		return dnsDomain, nil
	case cfg.SMTP.DKIM.Domain != "":
		return cfg.SMTP.DKIM.Domain, nil
	case cfg.SMTP.From != "":
		return dnscheck.SenderDomain(cfg.SMTP.From)
	}
	return "", fmt.Errorf("no domain: pass --domain or set smtp.from")
}

func printDNSReport(report *dnscheck.Report) {
	fmt.Printf("DNS check for %s\n\n", report.Domain)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tMESSAGE")
	for _, r := range report.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Type, r.Status, r.Message)
	}
	w.Flush()

	fmt.Printf("\nOK: %d  Warnings: %d  Errors: %d  Not found: %d\n",
		report.Summary.OK, report.Summary.Warnings, report.Summary.Errors, report.Summary.NotFound)
}
