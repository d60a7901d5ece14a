// Package main provides the medsafe command line client. It runs analyses
// in-process, checks configuration and manages the audit store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand
type globalFlags struct {
	configFile string
	offline    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:          "medsafe",
		Short:        "Medication safety analysis",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "path to a YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&flags.offline, "offline", false, "use only the curated registry and skip text generation")

	rootCmd.AddCommand(analyzeCmd(flags))
	rootCmd.AddCommand(lookupCmd(flags))
	rootCmd.AddCommand(validateConfigCmd(flags))
	rootCmd.AddCommand(auditCmd(flags))
	rootCmd.AddCommand(migrateCmd(flags))

	return rootCmd
}
