// Package mapper converts producer wire shapes into models.LogRecord.
//
// Two intake paths share the same rules: stream entries (a flat string map,
// or a single "payload" field holding the JSON document) and HTTP requests.
package mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/logworker/internal/models"
)

// Stream field names.
const (
	FieldLogID       = "logId"
	FieldProjectID   = "projectId"
	FieldSessionID   = "sessionId"
	FieldUserID      = "userId"
	FieldSeverity    = "severity"
	FieldBody        = "body"
	FieldOccurredAt  = "occurredAt"
	FieldTraceID     = "traceId"
	FieldSpanID      = "spanId"
	FieldFingerprint = "fingerprint"
	FieldResource    = "resource"
	FieldAttributes  = "attributes"
	FieldPayload     = "payload"
)

var (
	// ErrMalformed marks input that can never become a valid record.
	ErrMalformed = errors.New("malformed log message")
	// ErrMissingField is returned when a required field is absent or blank.
	ErrMissingField = fmt.Errorf("%w: missing required field", ErrMalformed)
)

// entryNamespace seeds the record IDs derived from stream entry IDs.
var entryNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("logworker.stream-entry"))

// FromStreamValues builds a record from the broker entry entryID. now becomes
// IngestedAt. A missing logId is derived from entryID and a missing or
// unparsable occurredAt is taken from the entry's timestamp, so every
// redelivery of the same entry maps to the same (logId, occurredAt). An empty
// entryID falls back to a random logId and now.
func FromStreamValues(entryID string, values map[string]string, now time.Time) (models.LogRecord, error) {
	fb := entryFallback(entryID, now)

	if payload, ok := values[FieldPayload]; ok {
		var req models.RawLogRequest
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return models.LogRecord{}, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
		}
		return fromRequest(req, now, fb)
	}

	resource, err := decodeObject(values[FieldResource])
	if err != nil {
		return models.LogRecord{}, fmt.Errorf("%w: resource: %v", ErrMalformed, err)
	}
	attributes, err := decodeObject(values[FieldAttributes])
	if err != nil {
		return models.LogRecord{}, fmt.Errorf("%w: attributes: %v", ErrMalformed, err)
	}

	return fromRequest(models.RawLogRequest{
		LogID:       values[FieldLogID],
		ProjectID:   values[FieldProjectID],
		SessionID:   values[FieldSessionID],
		UserID:      values[FieldUserID],
		Severity:    values[FieldSeverity],
		Body:        values[FieldBody],
		OccurredAt:  values[FieldOccurredAt],
		TraceID:     values[FieldTraceID],
		SpanID:      values[FieldSpanID],
		Fingerprint: values[FieldFingerprint],
		Resource:    resource,
		Attributes:  attributes,
	}, now, fb)
}

// EntryTime returns the millisecond timestamp embedded in a Redis stream
// entry ID ("<ms>-<seq>").
func EntryTime(entryID string) (time.Time, bool) {
	ms, _, ok := strings.Cut(entryID, "-")
	if !ok {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || n < 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(n).UTC(), true
}

// fallback supplies identity fields the producer left out.
type fallback struct {
	logID      func() uuid.UUID
	occurredAt time.Time
}

func entryFallback(entryID string, now time.Time) fallback {
	if entryID == "" {
		return fallback{logID: uuid.New, occurredAt: now}
	}
	fb := fallback{
		logID:      func() uuid.UUID { return uuid.NewSHA1(entryNamespace, []byte(entryID)) },
		occurredAt: now,
	}
	if t, ok := EntryTime(entryID); ok {
		fb.occurredAt = t
	}
	return fb
}

// FromRequest validates req and fills in defaults.
func FromRequest(req models.RawLogRequest, now time.Time) (models.LogRecord, error) {
	return fromRequest(req, now, fallback{logID: uuid.New, occurredAt: now})
}

func fromRequest(req models.RawLogRequest, now time.Time, fb fallback) (models.LogRecord, error) {
	if err := validate(req); err != nil {
		return models.LogRecord{}, err
	}

	var logID uuid.UUID
	if req.LogID != "" {
		parsed, err := uuid.Parse(req.LogID)
		if err != nil {
			return models.LogRecord{}, fmt.Errorf("%w: logId: %v", ErrMalformed, err)
		}
		logID = parsed
	} else {
		logID = fb.logID()
	}

	severity := strings.TrimSpace(req.Severity)
	if severity == "" {
		severity = models.DefaultSeverity
	}

	return models.LogRecord{
		LogID:       logID,
		ProjectID:   req.ProjectID,
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		Severity:    strings.ToUpper(severity),
		Body:        req.Body,
		OccurredAt:  parseTime(req.OccurredAt, fb.occurredAt),
		IngestedAt:  now,
		TraceID:     req.TraceID,
		SpanID:      req.SpanID,
		Fingerprint: req.Fingerprint,
		Resource:    orEmpty(req.Resource),
		Attributes:  orEmpty(req.Attributes),
	}, nil
}

// ToStreamValues flattens req into the field map a producer XADDs.
func ToStreamValues(req models.RawLogRequest) (map[string]any, error) {
	resource, err := json.Marshal(orEmpty(req.Resource))
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource: %w", err)
	}
	attributes, err := json.Marshal(orEmpty(req.Attributes))
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes: %w", err)
	}

	values := map[string]any{
		FieldProjectID:  req.ProjectID,
		FieldSessionID:  req.SessionID,
		FieldSeverity:   req.Severity,
		FieldBody:       req.Body,
		FieldOccurredAt: req.OccurredAt,
		FieldResource:   string(resource),
		FieldAttributes: string(attributes),
	}
	optional := map[string]string{
		FieldLogID:       req.LogID,
		FieldUserID:      req.UserID,
		FieldTraceID:     req.TraceID,
		FieldSpanID:      req.SpanID,
		FieldFingerprint: req.Fingerprint,
	}
	for k, v := range optional {
		if v != "" {
			values[k] = v
		}
	}
	return values, nil
}

func validate(req models.RawLogRequest) error {
	required := []struct {
		name  string
		value string
	}{
		{FieldProjectID, req.ProjectID},
		{FieldSessionID, req.SessionID},
		{FieldBody, req.Body},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}
	return nil
}

// parseTime falls back to def when the producer sent nothing usable.
func parseTime(s string, def time.Time) time.Time {
	if s == "" {
		return def
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return def
	}
	return t
}

func decodeObject(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return orEmpty(m), nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
