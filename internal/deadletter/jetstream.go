package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/logworker/internal/logging"
	"github.com/telhawk-systems/logworker/internal/messaging/nats"
)

// Publisher is the subset of the JetStream client the sink needs.
type Publisher interface {
	CreateOrUpdateStream(ctx context.Context, cfg nats.StreamConfig) (jetstream.Stream, error)
	PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error)
}

// JetStreamWriter publishes failed records to a JetStream stream so they
// survive worker restarts and can be inspected from any instance.
type JetStreamWriter struct {
	js      Publisher
	stream  jetstream.Stream
	subject string
	logger  *logging.Logger
	written atomic.Uint64
}

// NewJetStreamWriter ensures the dead-letter stream exists. Records are
// published on "<subjectPrefix>.<projectId>".
func NewJetStreamWriter(ctx context.Context, js Publisher, streamName, subjectPrefix string, logger *logging.Logger) (*JetStreamWriter, error) {
	if js == nil {
		return nil, errors.New("jetstream client is nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.DeadLetterStream(streamName, subjectPrefix))
	if err != nil {
		return nil, fmt.Errorf("create dead-letter stream: %w", err)
	}

	log := logger.WithComponent("deadletter")
	log.Info("dead-letter stream ready", "stream", streamName, "subject", subjectPrefix+".>")

	return &JetStreamWriter{js: js, stream: stream, subject: subjectPrefix, logger: log}, nil
}

func (w *JetStreamWriter) Write(ctx context.Context, failed FailedRecord) error {
	data, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}

	subject := w.subject + "." + subjectToken(failed.Record.ProjectID)
	if _, err := w.js.PublishSync(ctx, subject, data); err != nil {
		return fmt.Errorf("publish dead-letter entry: %w", err)
	}

	w.written.Add(1)
	w.logger.WarnContext(ctx, "published dead-letter entry",
		"subject", subject,
		logging.RecordID(failed.Record.LogID.String()),
		logging.MessageID(failed.MessageID),
	)
	return nil
}

// Stats reports stream state alongside the local write count.
func (w *JetStreamWriter) Stats(ctx context.Context) map[string]any {
	stats := map[string]any{
		"backend":       BackendJetStream,
		"written_local": w.written.Load(),
	}
	if w.stream == nil {
		return stats
	}
	info, err := w.stream.Info(ctx)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["total_messages"] = info.State.Msgs
	stats["total_bytes"] = info.State.Bytes
	return stats
}

// subjectToken makes s safe to use as one subject token.
func subjectToken(s string) string {
	if s == "" {
		return "unknown"
	}
	b := []byte(s)
	for i, c := range b {
		switch c {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			b[i] = '_'
		}
	}
	return string(b)
}
