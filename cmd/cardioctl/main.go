// Command cardioctl administers the cardiac risk server: schema migrations,
// retraining exports, model inspection and hospital tokens.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "cardioctl",
		Short:        "Cardiac risk server administration",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(exportRetrainingCmd())
	rootCmd.AddCommand(inspectModelCmd())
	rootCmd.AddCommand(issueTokenCmd())
	return rootCmd
}
