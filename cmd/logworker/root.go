package main

import (
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/logworker/internal/config"
	"github.com/telhawk-systems/logworker/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "logworker",
	Short: "Log ingestion worker",
	Long: `logworker consumes log records from a Redis stream consumer group,
batches them into PostgreSQL, retries failed batches, and reclaims
messages abandoned by crashed consumers.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/logworker/config.yaml)")
	rootCmd.AddCommand(serveCmd, migrateCmd, deadLetterCmd)
}

// loadConfig loads configuration and installs the process-wide logger.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("logworker"))
	logging.SetDefault(logger)

	return cfg, logger, nil
}
