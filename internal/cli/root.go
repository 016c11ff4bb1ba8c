// Package cli implements sentinel's command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "sentinel — sentiment monitoring pipeline",
	Long: `sentinel scrapes social posts and comments, classifies their sentiment
through a failsafe model dispatcher with a lexicon fallback, raises alerts
on risk keywords, and persists results for later review.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
