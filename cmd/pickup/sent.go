package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	sentLimit  int
	sentOffset int
)

var sentCmd = &cobra.Command{
	Use:   "sent",
	Short: "Dispatch ledger commands",
}

var sentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notification records, newest first",
	RunE:  runSentList,
}

func init() {
	sentListCmd.Flags().IntVar(&sentLimit, "limit", 50, "Maximum number of records")
	sentListCmd.Flags().IntVar(&sentOffset, "offset", 0, "Number of records to skip")

	sentCmd.AddCommand(sentListCmd)
	rootCmd.AddCommand(sentCmd)
}

func runSentList(cmd *cobra.Command, args []string) error {
	if sentLimit < 1 || sentOffset < 0 {
		return fmt.Errorf("--limit must be positive and --offset must not be negative")
	}

	store, err := openStorage(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	records, total := store.Ledger.ListSent(cmd.Context(), sentLimit, sentOffset)
	if len(records) == 0 {
		fmt.Printf("No records found (total: %d)\n", total)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SENT\tORDER\tNUMBER\tCUSTOMER\tEMAIL\tSTATUS\tERROR")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.SentAt.Local().Format("2006-01-02 15:04"),
			rec.OrderID,
			rec.OrderNumber,
			rec.CustomerName,
			rec.CustomerEmail,
			rec.Status,
			truncate(rec.ErrorMessage, 40),
		)
	}
	w.Flush()

	fmt.Printf("\nShowing %d-%d of %d\n", sentOffset+1, sentOffset+len(records), total)
	return nil
}
