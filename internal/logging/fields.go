package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across the worker.
const (
	FieldService    = "service"
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldMessageID  = "message_id"
	FieldRecordID   = "record_id"
	FieldCount      = "count"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldRetryCount = "retry_count"
	FieldState      = "backpressure_state"
	FieldConsumer   = "consumer"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Component returns a slog attribute for the pipeline component.
func Component(name string) slog.Attr {
	return slog.String(FieldComponent, name)
}

// MessageID returns a slog attribute for a broker message ID.
func MessageID(id string) slog.Attr {
	return slog.String(FieldMessageID, id)
}

// RecordID returns a slog attribute for a log record ID.
func RecordID(id string) slog.Attr {
	return slog.String(FieldRecordID, id)
}

// Count returns a slog attribute for an item count.
func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// RetryCount returns a slog attribute for a retry counter.
func RetryCount(n int) slog.Attr {
	return slog.Int(FieldRetryCount, n)
}

// State returns a slog attribute for the backpressure state.
func State(s string) slog.Attr {
	return slog.String(FieldState, s)
}

// Consumer returns a slog attribute for a consumer group member name.
func Consumer(name string) slog.Attr {
	return slog.String(FieldConsumer, name)
}
