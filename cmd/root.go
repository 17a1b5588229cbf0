// Package cmd defines and implements the CLI commands for the archiver
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ecourts-archiver",
		Short: "Archives court records into tar containers and syncs them to object storage.",
		Long: `ecourts-archiver accumulates scraped court documents (order PDFs and
case metadata JSON) into size-bounded tar containers, one collection per
court complex and year, maintains a JSON index alongside each container,
and mirrors both to a remote object store.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newUploadLocalCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newWatermarkCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
