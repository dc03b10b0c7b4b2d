// Command outreach runs the outreach email queue: the HTTP API, one-shot
// dispatch batches, schema migrations and quota inspection.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bissquit/outreach-queue/internal/config"
	"github.com/bissquit/outreach-queue/internal/version"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "outreach",
		Short:         "Outreach email queue with per-owner daily send limits",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version.Version, version.GitCommit, version.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDispatchCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newQuotaCmd())

	return rootCmd
}

// loadConfig reads the dotenv file, if present, then the configuration.
// Variables already set in the environment win over the dotenv file.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	return config.Load(configPath)
}
