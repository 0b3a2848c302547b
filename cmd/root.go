// Package cmd wires the scraperd command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scraperd",
		Short: "Supermarket catalog scraper daemon.",
		Long: `scraperd crawls supermarket web catalogs on a schedule, keeps a
normalized product database, extracts candidate brand and category labels
from scraped text and serves the admin panel API used to map those labels
onto the canonical catalog.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches working directory)")

	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
