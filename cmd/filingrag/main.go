// Filingrag indexes SEC filings into a vector store and answers questions
// against them.
//
// Usage:
//
//	# Start the HTTP API with background ingestion
//	filingrag serve
//
//	# Embed one filing synchronously
//	filingrag ingest aapl-10k.txt --ticker AAPL --accession 0000320193-24-000081
//
//	# Ask a question
//	filingrag query AAPL_000032019324000081 "How did services revenue change?"
//
// Configuration is read from ~/.config/filingrag/config.yaml (or --config),
// then overridden by environment variables and a .env file in the working
// directory. See internal/config for the keys.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	envFile    string
	jsonOutput bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "filingrag",
		Short: "Retrieval over SEC filings",
		Long: `filingrag chunks SEC 10-K and 10-Q filings, embeds them into a vector
store under a per-filing namespace, and retrieves grounded context for
questions and report generation.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile, cmd.Flags().Changed("env-file"))
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/filingrag/config.yaml)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newServeCmd(opts),
		newIngestCmd(opts),
		newChunkCmd(opts),
		newQueryCmd(opts),
		newReportCmd(opts),
		newStatusCmd(opts),
		newDeleteCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadEnvFile loads path without overriding variables already set. A missing
// default file is ignored; a missing file named explicitly is an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "filingrag %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  Git commit: %s\n", gitCommit)
			fmt.Fprintf(cmd.OutOrStdout(), "  Build date: %s\n", buildDate)
		},
	}
}
