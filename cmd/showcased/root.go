package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	rootCmd = &cobra.Command{
		Use:   "showcased",
		Short: "Showcase channel enforcement bot",
		Long: `Showcased - Showcase Channel Enforcement Bot

Showcased watches designated showcase channels and enforces the posting
rule: every post needs a link and a short description, and authors wait
out a cooldown between posts. Violations are removed with a warning,
strikes accumulate, and repeat offenders are escalated to moderators.

Enforcement is idempotent under redelivery: the same event never removes
a post or accrues a strike twice.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init sets up the root command
func init() {
	rootCmd.SetVersionTemplate(`Showcased {{.Version}} - Showcase Channel Enforcement Bot
`)
}
