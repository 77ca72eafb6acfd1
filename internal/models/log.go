package models

import (
	"time"

	"github.com/google/uuid"
)

// Default values applied when a producer omits a field.
const (
	DefaultSeverity = "INFO"
)

// LogRecord is one ingested log event. It is built once at intake and never
// mutated afterwards.
type LogRecord struct {
	LogID       uuid.UUID      `json:"logId"`
	ProjectID   string         `json:"projectId"`
	SessionID   string         `json:"sessionId"`
	UserID      string         `json:"userId,omitempty"`
	Severity    string         `json:"severity"`
	Body        string         `json:"body"`
	OccurredAt  time.Time      `json:"occurredAt"`
	IngestedAt  time.Time      `json:"ingestedAt"`
	TraceID     string         `json:"traceId,omitempty"`
	SpanID      string         `json:"spanId,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Resource    map[string]any `json:"resource"`
	Attributes  map[string]any `json:"attributes"`
}

// DeliveryHandle correlates a record with its position in the broker log.
// Records submitted directly over HTTP carry no handle.
type DeliveryHandle struct {
	// MessageID is the broker-assigned entry ID (e.g. "1700000000000-0").
	MessageID string
	// Deliveries is how many times the broker has handed this entry to a consumer.
	Deliveries int64
}

// RawLogRequest is the HTTP/JSON shape a producer submits.
type RawLogRequest struct {
	LogID       string         `json:"logId,omitempty"`
	ProjectID   string         `json:"projectId"`
	SessionID   string         `json:"sessionId"`
	UserID      string         `json:"userId,omitempty"`
	Severity    string         `json:"severity"`
	Body        string         `json:"body"`
	OccurredAt  string         `json:"occurredAt"`
	TraceID     string         `json:"traceId,omitempty"`
	SpanID      string         `json:"spanId,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Resource    map[string]any `json:"resource,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// BulkAcceptedResponse is returned when records were handed to the pipeline.
type BulkAcceptedResponse struct {
	Accepted int    `json:"accepted"`
	Dropped  int    `json:"dropped,omitempty"`
	Message  string `json:"message"`
}
