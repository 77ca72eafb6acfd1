package deadletter

import (
	"context"
	"sync/atomic"

	"github.com/telhawk-systems/logworker/internal/logging"
)

// LogWriter only reports failed records through the logger. Nothing is
// retained, so it never returns an error.
type LogWriter struct {
	logger  *logging.Logger
	written atomic.Uint64
}

func NewLogWriter(logger *logging.Logger) *LogWriter {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogWriter{logger: logger.WithComponent("deadletter")}
}

func (w *LogWriter) Write(ctx context.Context, failed FailedRecord) error {
	w.written.Add(1)
	w.logger.ErrorContext(ctx, "dead-lettered record",
		logging.RecordID(failed.Record.LogID.String()),
		logging.MessageID(failed.MessageID),
		logging.RetryCount(failed.Attempts),
		"project_id", failed.Record.ProjectID,
		"session_id", failed.Record.SessionID,
		"severity", failed.Record.Severity,
		"body", failed.Record.Body,
		"occurred_at", failed.Record.OccurredAt,
		"cause", failed.Error,
	)
	return nil
}

// Written returns how many records were reported.
func (w *LogWriter) Written() uint64 {
	return w.written.Load()
}
