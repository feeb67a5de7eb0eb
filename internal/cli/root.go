// Package cli implements the citeverify command line tool.
package cli

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the citeverify command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultDeps())
}

func newRootCmd(deps verifyDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "citeverify",
		Short: "Check bibliography references against Crossref, Google Scholar, arXiv and the web",
		Long: `citeverify verifies that the references of a paper exist.

References come from JSON or YAML reference files, or from PDF documents whose
bibliography section is split into entries by Gemini. Each reference is
looked up in bibliographic sources and reported as validated, invalid,
not found or skipped.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().String("config", "", "config file (default: ./config.yaml, ./config/config.yaml)")

	cmd.AddCommand(newVerifyCmd(deps))

	return cmd
}
