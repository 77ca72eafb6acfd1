package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/logworker/internal/backpressure"
	"github.com/telhawk-systems/logworker/internal/deadletter"
	"github.com/telhawk-systems/logworker/internal/logging"
	"github.com/telhawk-systems/logworker/internal/models"
)

var errStoreDown = errors.New("store unavailable")

type pendingEntry struct {
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

// fakeBroker is an in-memory consumer group over a single stream.
type fakeBroker struct {
	mu      sync.Mutex
	seq     int
	values  map[string]map[string]string
	fresh   []string
	pending map[string]*pendingEntry
	acked   []string
	ackErr  error
	readErr error
	count   int

	pendingReads int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		values:  make(map[string]map[string]string),
		pending: make(map[string]*pendingEntry),
		count:   100,
	}
}

func (b *fakeBroker) add(values map[string]string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := fmt.Sprintf("%d-0", b.seq)
	b.values[id] = values
	b.fresh = append(b.fresh, id)
	return id
}

// deliver marks id as delivered to consumer at the given time without
// returning it through ReadGroup, simulating a consumer that died.
func (b *fakeBroker) deliver(id, consumer string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, f := range b.fresh {
		if f == id {
			b.fresh = append(b.fresh[:i], b.fresh[i+1:]...)
			break
		}
	}
	b.pending[id] = &pendingEntry{consumer: consumer, deliveredAt: at, deliveries: 1}
}

func (b *fakeBroker) ReadGroup(ctx context.Context, _, consumer string) ([]Message, error) {
	b.mu.Lock()
	if b.readErr != nil {
		b.mu.Unlock()
		return nil, b.readErr
	}
	n := min(b.count, len(b.fresh))
	ids := b.fresh[:n]
	b.fresh = b.fresh[n:]
	msgs := make([]Message, 0, n)
	for _, id := range ids {
		b.pending[id] = &pendingEntry{consumer: consumer, deliveredAt: time.Now(), deliveries: 1}
		msgs = append(msgs, Message{ID: id, Values: b.values[id]})
	}
	b.mu.Unlock()

	if len(msgs) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return msgs, nil
}

func (b *fakeBroker) Ack(_ context.Context, _ string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ackErr != nil {
		return b.ackErr
	}
	for _, id := range ids {
		if _, ok := b.pending[id]; ok {
			delete(b.pending, id)
			b.acked = append(b.acked, id)
		}
	}
	return nil
}

func (b *fakeBroker) PendingSince(_ context.Context, _ string, minIdle time.Duration, after string, count int64) ([]PendingEntry, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingReads++

	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		if after == "" || seqOf(id) > seqOf(after) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return seqOf(ids[i]) < seqOf(ids[j]) })

	var next string
	if int64(len(ids)) >= count {
		ids = ids[:count]
		next = ids[len(ids)-1]
	}

	now := time.Now()
	var out []PendingEntry
	for _, id := range ids {
		p := b.pending[id]
		idle := now.Sub(p.deliveredAt)
		if idle < minIdle {
			continue
		}
		out = append(out, PendingEntry{ID: id, Consumer: p.consumer, Idle: idle, Deliveries: p.deliveries})
	}
	return out, next, nil
}

// seqOf orders the fake's "<n>-0" IDs numerically.
func seqOf(id string) int {
	var n int
	_, _ = fmt.Sscanf(id, "%d-0", &n)
	return n
}

func (b *fakeBroker) Claim(_ context.Context, _, consumer string, minIdle time.Duration, ids ...string) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	var out []Message
	for _, id := range ids {
		p, ok := b.pending[id]
		if !ok || now.Sub(p.deliveredAt) < minIdle {
			continue
		}
		p.consumer = consumer
		p.deliveredAt = now
		p.deliveries++
		out = append(out, Message{ID: id, Values: b.values[id]})
	}
	return out, nil
}

func (b *fakeBroker) ackedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.acked...)
}

func (b *fakeBroker) pendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *fakeBroker) pendingOwner(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pending[id]; ok {
		return p.consumer
	}
	return ""
}

// rowKey mirrors the table's primary key.
type rowKey struct {
	id uuid.UUID
	at int64
}

// fakeStore persists into memory, keeping the first row per rowKey. Each call to BatchInsert consumes one
// entry of failPlan (true means fail); once the plan is used up,
// failAlways decides.
type fakeStore struct {
	mu         sync.Mutex
	rows       map[rowKey]models.LogRecord
	calls      int
	failPlan   []bool
	failAlways bool
	delay      time.Duration
	block      chan struct{}
	batchSizes []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[rowKey]models.LogRecord)}
}

func (s *fakeStore) BatchInsert(ctx context.Context, recs []models.LogRecord) error {
	s.mu.Lock()
	s.calls++
	fail := s.failAlways
	if len(s.failPlan) > 0 {
		fail = s.failPlan[0]
		s.failPlan = s.failPlan[1:]
	}
	s.batchSizes = append(s.batchSizes, len(recs))
	block, delay := s.block, s.delay
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if fail {
		return errStoreDown
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		k := rowKey{id: r.LogID, at: r.OccurredAt.UnixMicro()}
		if _, ok := s.rows[k]; !ok {
			s.rows[k] = r
		}
	}
	return nil
}

func (s *fakeStore) setFailing(fail bool) {
	s.mu.Lock()
	s.failAlways = fail
	s.mu.Unlock()
}

func (s *fakeStore) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeSink struct {
	mu     sync.Mutex
	failed []deadletter.FailedRecord
	err    error
}

func (s *fakeSink) Write(_ context.Context, f deadletter.FailedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.failed = append(s.failed, f)
	return nil
}

func (s *fakeSink) records() []deadletter.FailedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]deadletter.FailedRecord(nil), s.failed...)
}

func testRecord(body string) models.LogRecord {
	return models.LogRecord{
		LogID:      uuid.New(),
		ProjectID:  "proj",
		SessionID:  "sess",
		Severity:   models.DefaultSeverity,
		Body:       body,
		OccurredAt: time.Now().UTC(),
		IngestedAt: time.Now().UTC(),
		Resource:   map[string]any{},
		Attributes: map[string]any{},
	}
}

func streamValues(body string) map[string]string {
	return map[string]string{
		"logId":     uuid.NewString(),
		"projectId": "proj",
		"sessionId": "sess",
		"severity":  "WARN",
		"body":      body,
	}
}

func brokerItem(id, body string) BufferedItem {
	return BufferedItem{Record: testRecord(body), Handle: &models.DeliveryHandle{MessageID: id, Deliveries: 1}}
}

func quietBackpressure() *backpressure.Controller {
	return backpressure.NewController(backpressure.DefaultConfig())
}

type harness struct {
	broker  *fakeBroker
	store   *fakeStore
	sink    *fakeSink
	owned   *Ownership
	buffer  *IngestionBuffer
	intake  *Intake
	retry   *RetryQueue
	flusher *BatchFlusher
	bp      *backpressure.Controller
}

func newHarness(batchSize, maxSize, maxRetries int) *harness {
	h := &harness{
		broker: newFakeBroker(),
		store:  newFakeStore(),
		sink:   &fakeSink{},
		owned:  NewOwnership(),
		bp:     quietBackpressure(),
	}
	log := logging.Discard()
	h.buffer = NewIngestionBuffer(maxSize, batchSize)
	h.intake = NewIntake(h.buffer, h.owned)
	h.retry = NewRetryQueue(RetryConfig{Group: "g", BatchSize: batchSize, MaxRetries: maxRetries},
		h.store, h.broker, h.sink, h.owned, log)
	h.flusher = NewBatchFlusher(FlusherConfig{Group: "g", BatchSize: batchSize},
		h.buffer, h.store, h.broker, h.retry, h.bp, h.owned, log)
	return h
}

// admitFromBroker puts a fresh broker entry into the buffer the way a
// consumer would.
func (h *harness) admitFromBroker(body string) string {
	id := h.broker.add(streamValues(body))
	h.broker.deliver(id, "c1", time.Now())
	h.intake.Admit(brokerItem(id, body), sourceStream)
	return id
}
