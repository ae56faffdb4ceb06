package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "docintake",
		Short: "Document batch intake service",
		Long: `docintake parses uploaded document batches into normalized text and
keeps each batch in a short-lived review session.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd(), newParseCmd(), newHistoryCmd(), newCommittedCmd(), newWatchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
