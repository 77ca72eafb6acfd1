package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/logworker/internal/config"
	"github.com/telhawk-systems/logworker/internal/deadletter"
	"github.com/telhawk-systems/logworker/internal/logging"
	"github.com/telhawk-systems/logworker/internal/output"
)

var (
	deadLetterLimit int
	deadLetterJSON  bool
)

var deadLetterCmd = &cobra.Command{
	Use:   "deadletter",
	Short: "Inspect records that exhausted their persistence retries",
}

var deadLetterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries held by the file dead-letter backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		return listDeadLetters(cfg.DeadLetter, logger, output.NewWithWriters(cmd.OutOrStdout(), cmd.ErrOrStderr()))
	},
}

func init() {
	deadLetterListCmd.Flags().IntVar(&deadLetterLimit, "limit", 50, "maximum entries to show (0 for all)")
	deadLetterListCmd.Flags().BoolVar(&deadLetterJSON, "json", false, "print entries as JSON")
	deadLetterCmd.AddCommand(deadLetterListCmd)
}

func listDeadLetters(cfg config.DeadLetterConfig, logger *logging.Logger, out *output.Printer) error {
	if cfg.Backend != deadletter.BackendFile {
		return fmt.Errorf("deadletter list needs the %q backend, configured backend is %q", deadletter.BackendFile, cfg.Backend)
	}

	w, err := deadletter.NewFileWriter(cfg.BasePath, logger)
	if err != nil {
		return err
	}
	entries, err := w.List(deadLetterLimit)
	if err != nil {
		return err
	}

	if deadLetterJSON {
		return out.JSON(entries)
	}
	if len(entries) == 0 {
		out.Info("No dead-letter entries in %s", cfg.BasePath)
		return nil
	}

	table := output.NewTable("FAILED AT", "LOG ID", "MESSAGE ID", "PROJECT", "ATTEMPTS", "ERROR")
	for _, e := range entries {
		table.AddRow(
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Record.LogID.String(),
			e.MessageID,
			e.Record.ProjectID,
			strconv.Itoa(e.Attempts),
			output.Truncate(e.Error, 60),
		)
	}
	out.Render(table)
	out.Info("%d entries", table.Len())
	return nil
}
