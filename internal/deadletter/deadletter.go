// Package deadletter holds records whose persistence retries were exhausted.
package deadletter

import (
	"context"
	"time"

	"github.com/telhawk-systems/logworker/internal/models"
)

// Backend names accepted by configuration.
const (
	BackendLog       = "log"
	BackendFile      = "file"
	BackendJetStream = "jetstream"
)

// FailedRecord is what a sink receives for one terminally failed record.
type FailedRecord struct {
	Timestamp time.Time        `json:"timestamp"`
	Record    models.LogRecord `json:"record"`
	MessageID string           `json:"messageId,omitempty"`
	// Deliveries is the broker delivery count known when the record was read.
	Deliveries int64  `json:"deliveries,omitempty"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error"`
}

// Writer accepts terminally failed records. A nil error means the record is
// durable on the sink's side.
type Writer interface {
	Write(ctx context.Context, failed FailedRecord) error
}

// StatsReporter is implemented by sinks that can describe their backlog.
type StatsReporter interface {
	Stats(ctx context.Context) map[string]any
}

// NewFailedRecord builds a FailedRecord stamped with the current time.
func NewFailedRecord(rec models.LogRecord, handle *models.DeliveryHandle, attempts int, cause error) FailedRecord {
	f := FailedRecord{
		Timestamp: time.Now().UTC(),
		Record:    rec,
		Attempts:  attempts,
	}
	if handle != nil {
		f.MessageID = handle.MessageID
		f.Deliveries = handle.Deliveries
	}
	if cause != nil {
		f.Error = cause.Error()
	}
	return f
}
