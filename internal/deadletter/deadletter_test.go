package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logworker/internal/logging"
	"github.com/telhawk-systems/logworker/internal/messaging/nats"
	"github.com/telhawk-systems/logworker/internal/models"
)

func testRecord() models.LogRecord {
	return models.LogRecord{
		LogID:      uuid.New(),
		ProjectID:  "proj-1",
		SessionID:  "sess-1",
		Severity:   "ERROR",
		Body:       "disk full",
		OccurredAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Resource:   map[string]any{},
		Attributes: map[string]any{"k": "v"},
	}
}

func TestNewFailedRecord(t *testing.T) {
	rec := testRecord()
	f := NewFailedRecord(rec, &models.DeliveryHandle{MessageID: "1-0", Deliveries: 2}, 4, errors.New("db down"))

	assert.Equal(t, rec.LogID, f.Record.LogID)
	assert.Equal(t, "1-0", f.MessageID)
	assert.Equal(t, int64(2), f.Deliveries)
	assert.Equal(t, 4, f.Attempts)
	assert.Equal(t, "db down", f.Error)
	assert.False(t, f.Timestamp.IsZero())

	direct := NewFailedRecord(rec, nil, 1, nil)
	assert.Empty(t, direct.MessageID)
	assert.Empty(t, direct.Error)
}

func TestLogWriter(t *testing.T) {
	w := NewLogWriter(logging.Discard())
	require.NoError(t, w.Write(context.Background(), NewFailedRecord(testRecord(), nil, 1, errors.New("x"))))
	assert.Equal(t, uint64(1), w.Written())
}

func TestFileWriter_WriteAndList(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(dir, logging.Discard())
	require.NoError(t, err)

	first := NewFailedRecord(testRecord(), &models.DeliveryHandle{MessageID: "1-0"}, 4, errors.New("timeout"))
	second := NewFailedRecord(testRecord(), nil, 4, errors.New("timeout"))
	second.Timestamp = first.Timestamp.Add(time.Millisecond)

	require.NoError(t, w.Write(context.Background(), first))
	require.NoError(t, w.Write(context.Background(), second))
	assert.Equal(t, uint64(2), w.Written())

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	all, err := w.List(0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.Record.LogID, all[0].Record.LogID)
	assert.Equal(t, "1-0", all[0].MessageID)
	assert.Equal(t, second.Record.LogID, all[1].Record.LogID)

	limited, err := w.List(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestFileWriter_CanceledContext(t *testing.T) {
	w, err := NewFileWriter(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Write(ctx, NewFailedRecord(testRecord(), nil, 1, nil)), context.Canceled)
	assert.Zero(t, w.Written())
}

type fakePublisher struct {
	streamCfg  nats.StreamConfig
	subjects   []string
	payloads   [][]byte
	publishErr error
}

func (f *fakePublisher) CreateOrUpdateStream(_ context.Context, cfg nats.StreamConfig) (jetstream.Stream, error) {
	f.streamCfg = cfg
	return nil, nil
}

func (f *fakePublisher) PublishSync(_ context.Context, subject string, data []byte) (*jetstream.PubAck, error) {
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return &jetstream.PubAck{Stream: f.streamCfg.Name, Sequence: uint64(len(f.subjects))}, nil
}

func TestJetStreamWriter_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	w, err := NewJetStreamWriter(context.Background(), pub, "LOG_DEADLETTER", "logs.deadletter", logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "LOG_DEADLETTER", pub.streamCfg.Name)
	assert.Equal(t, []string{"logs.deadletter.>"}, pub.streamCfg.Subjects)

	rec := testRecord()
	rec.ProjectID = "acme.prod"
	require.NoError(t, w.Write(context.Background(), NewFailedRecord(rec, nil, 4, errors.New("boom"))))

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "logs.deadletter.acme_prod", pub.subjects[0])

	var decoded FailedRecord
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	assert.Equal(t, rec.LogID, decoded.Record.LogID)
	assert.Equal(t, "boom", decoded.Error)

	var sink Writer = w
	reporter, ok := sink.(StatsReporter)
	require.True(t, ok)
	stats := reporter.Stats(context.Background())
	assert.Equal(t, BackendJetStream, stats["backend"])
	assert.Equal(t, uint64(1), stats["written_local"])
}

func TestJetStreamWriter_PublishError(t *testing.T) {
	pub := &fakePublisher{publishErr: errors.New("no responders")}
	w, err := NewJetStreamWriter(context.Background(), pub, "S", "dl", logging.Discard())
	require.NoError(t, err)

	err = w.Write(context.Background(), NewFailedRecord(testRecord(), nil, 1, nil))
	assert.ErrorContains(t, err, "no responders")
}

func TestNewJetStreamWriter_NilClient(t *testing.T) {
	_, err := NewJetStreamWriter(context.Background(), nil, "S", "dl", nil)
	assert.Error(t, err)
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "unknown", subjectToken(""))
	assert.Equal(t, "a_b_c_d", subjectToken("a.b*c>d"))
	assert.Equal(t, "plain", subjectToken("plain"))
}
