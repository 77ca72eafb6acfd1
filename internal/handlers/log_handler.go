package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/telhawk-systems/logworker/internal/httputil"
	"github.com/telhawk-systems/logworker/internal/logging"
	"github.com/telhawk-systems/logworker/internal/mapper"
	"github.com/telhawk-systems/logworker/internal/models"
	"github.com/telhawk-systems/logworker/internal/pipeline"
)

// Submitter accepts records straight into the ingestion buffer.
type Submitter interface {
	Submit(recs ...models.LogRecord) (accepted, dropped int)
	Stats() pipeline.Stats
}

// Publisher appends entries to the broker stream.
type Publisher interface {
	Publish(ctx context.Context, entries ...map[string]any) ([]string, error)
}

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// StatsFunc describes an auxiliary component for /api/stats.
type StatsFunc func(ctx context.Context) map[string]any

// LogHandler serves the intake and health endpoints.
type LogHandler struct {
	submitter    Submitter
	publisher    Publisher
	checks       map[string]Check
	deadLetter   StatsFunc
	maxBodyBytes int64
	logger       *logging.Logger
	now          func() time.Time
}

// NewLogHandler builds a handler. publisher may be nil, which disables the
// stream intake endpoint.
func NewLogHandler(submitter Submitter, publisher Publisher, checks map[string]Check, maxBodyBytes int64, logger *logging.Logger) *LogHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 << 20
	}
	return &LogHandler{
		submitter:    submitter,
		publisher:    publisher,
		checks:       checks,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.WithComponent("http"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithDeadLetterStats adds the dead-letter sink's view to /api/stats.
func (h *LogHandler) WithDeadLetterStats(fn StatsFunc) *LogHandler {
	h.deadLetter = fn
	return h
}

// decodeRequests accepts either a JSON array of requests or a single object.
func (h *LogHandler) decodeRequests(w http.ResponseWriter, r *http.Request) ([]models.RawLogRequest, error) {
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	defer body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	var reqs []models.RawLogRequest
	if len(raw) > 0 && raw[0] == '{' {
		var one models.RawLogRequest
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("invalid log record: %w", err)
		}
		reqs = []models.RawLogRequest{one}
	} else if err := json.Unmarshal(raw, &reqs); err != nil {
		return nil, fmt.Errorf("invalid log records: %w", err)
	}

	if len(reqs) == 0 {
		return nil, errors.New("no log records in request")
	}
	return reqs, nil
}

// Submit handles POST /api/logs. Records go straight into the buffer
// without passing through the broker.
func (h *LogHandler) Submit(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.decodeRequests(w, r)
	if err != nil {
		httputil.WriteErrorDetail(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	now := h.now()
	recs := make([]models.LogRecord, 0, len(reqs))
	for i, req := range reqs {
		rec, err := mapper.FromRequest(req, now)
		if err != nil {
			httputil.WriteErrorDetail(w, http.StatusBadRequest, "invalid log record", fmt.Sprintf("record %d: %v", i, err))
			return
		}
		recs = append(recs, rec)
	}

	accepted, dropped := h.submitter.Submit(recs...)
	if accepted == 0 {
		h.logger.WarnContext(r.Context(), "rejected submission", logging.Count(dropped))
		httputil.WriteJSON(w, http.StatusServiceUnavailable, models.BulkAcceptedResponse{
			Dropped: dropped,
			Message: "ingestion buffer is full or shutting down",
		})
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, models.BulkAcceptedResponse{
		Accepted: accepted,
		Dropped:  dropped,
		Message:  "accepted",
	})
}

// Publish handles POST /api/logs/batch. Records are validated and appended
// to the stream in one round trip; the stream consumers pick them up.
func (h *LogHandler) Publish(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		httputil.WriteError(w, http.StatusNotImplemented, "stream intake is not configured")
		return
	}

	reqs, err := h.decodeRequests(w, r)
	if err != nil {
		httputil.WriteErrorDetail(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	now := h.now()
	entries := make([]map[string]any, 0, len(reqs))
	for i, req := range reqs {
		rec, err := mapper.FromRequest(req, now)
		if err != nil {
			httputil.WriteErrorDetail(w, http.StatusBadRequest, "invalid log record", fmt.Sprintf("record %d: %v", i, err))
			return
		}
		// Fix the identity now so every delivery of the entry maps to the same row.
		req.LogID = rec.LogID.String()
		req.OccurredAt = rec.OccurredAt.Format(time.RFC3339Nano)
		values, err := mapper.ToStreamValues(req)
		if err != nil {
			httputil.WriteErrorDetail(w, http.StatusBadRequest, "invalid log record", fmt.Sprintf("record %d: %v", i, err))
			return
		}
		entries = append(entries, values)
	}

	ids, err := h.publisher.Publish(r.Context(), entries...)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to publish records", logging.Count(len(entries)), logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, "failed to publish records")
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, models.BulkAcceptedResponse{
		Accepted: len(ids),
		Message:  "published",
	})
}

type statsResponse struct {
	pipeline.Stats
	DeadLetter map[string]any `json:"deadLetter,omitempty"`
}

// Stats handles GET /api/stats.
func (h *LogHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Stats: h.submitter.Stats()}
	if h.deadLetter != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.DeadLetter = h.deadLetter(ctx)
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// Health reports liveness.
func (h *LogHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready runs every dependency check.
func (h *LogHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	httputil.WriteJSON(w, status, map[string]any{"status": state, "checks": results})
}
