package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/logworker/internal/deadletter"
	"github.com/telhawk-systems/logworker/internal/logging"
	"github.com/telhawk-systems/logworker/internal/metrics"
)

// RetryQueue holds items whose persistence failed and retries them
// periodically until they succeed or exhaust maxRetries.
//
// RetryCount on an item is the number of failed persistence attempts so far.
// An item whose count exceeds maxRetries is finally failed: it is reported,
// written to the dead-letter sink, and acknowledged once the sink has it.
type RetryQueue struct {
	store      Store
	acker      Acknowledger
	sink       deadletter.Writer
	owned      *Ownership
	group      string
	batchSize  int
	maxRetries int
	timeout    time.Duration
	logger     *logging.Logger

	mu    sync.Mutex
	items []BufferedItem

	retrying atomic.Bool
}

// RetryConfig configures a RetryQueue.
type RetryConfig struct {
	Group        string
	BatchSize    int
	MaxRetries   int
	StoreTimeout time.Duration
}

func NewRetryQueue(cfg RetryConfig, store Store, acker Acknowledger, sink deadletter.Writer,
	owned *Ownership, logger *logging.Logger) *RetryQueue {
	return &RetryQueue{
		store:      store,
		acker:      acker,
		sink:       sink,
		owned:      owned,
		group:      cfg.Group,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.StoreTimeout,
		logger:     logger.WithComponent("retry"),
	}
}

// Offer appends item as-is.
func (q *RetryQueue) Offer(item BufferedItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	size := len(q.items)
	q.mu.Unlock()
	metrics.DeadLetterSize.Set(float64(size))
}

// Fail records one more failed attempt for each item and routes it either
// back into the queue or to final failure.
func (q *RetryQueue) Fail(ctx context.Context, items []BufferedItem, cause error) {
	for _, item := range items {
		next := item.failedAgain()
		if next.RetryCount > q.maxRetries {
			q.HandleFinalFailure(ctx, next, cause)
			continue
		}
		q.Offer(next)
	}
}

// Size is a point-in-time item count.
func (q *RetryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a copy of the queued items, oldest first.
func (q *RetryQueue) Items() []BufferedItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]BufferedItem, len(q.items))
	copy(out, q.items)
	return out
}

func (q *RetryQueue) drain(n int) []BufferedItem {
	q.mu.Lock()
	n = min(n, len(q.items))
	if n == 0 {
		q.mu.Unlock()
		return nil
	}
	out := make([]BufferedItem, n)
	copy(out, q.items[:n])
	rest := copy(q.items, q.items[n:])
	clear(q.items[rest:])
	q.items = q.items[:rest]
	q.mu.Unlock()

	metrics.DeadLetterSize.Set(float64(rest))
	return out
}

// RetryTick makes one retry attempt over at most one batch. It returns the
// number of items attempted and the store error, if any. Overlapping calls
// return immediately with 0 and nil.
func (q *RetryQueue) RetryTick(ctx context.Context) (int, error) {
	if !q.retrying.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer q.retrying.Store(false)

	batch := q.drain(q.batchSize)
	if len(batch) == 0 {
		return 0, nil
	}

	if err := q.insert(ctx, batch); err != nil {
		metrics.Retries.WithLabelValues(metrics.StatusFailure).Add(float64(len(batch)))
		q.logger.WarnContext(ctx, "retry attempt failed",
			logging.Count(len(batch)),
			logging.Error(err),
		)
		q.Fail(ctx, batch, err)
		return len(batch), err
	}

	metrics.Retries.WithLabelValues(metrics.StatusSuccess).Add(float64(len(batch)))
	settle(ctx, q.acker, q.group, q.owned, batch, q.logger)
	q.logger.InfoContext(ctx, "retried batch persisted", logging.Count(len(batch)))
	return len(batch), nil
}

func (q *RetryQueue) insert(ctx context.Context, batch []BufferedItem) error {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	return q.store.BatchInsert(ctx, records(batch))
}

// HandleFinalFailure reports an item that will not be retried again. The
// broker entry is acknowledged only after the sink accepted the record;
// otherwise it stays pending for a later reclaim.
func (q *RetryQueue) HandleFinalFailure(ctx context.Context, item BufferedItem, cause error) {
	metrics.FinalFailures.Inc()

	rec := item.Record
	q.logger.ErrorContext(ctx, "record exhausted persistence retries",
		logging.RecordID(rec.LogID.String()),
		logging.MessageID(item.MessageID()),
		logging.RetryCount(item.RetryCount),
		"project_id", rec.ProjectID,
		"session_id", rec.SessionID,
		"severity", rec.Severity,
		"body", rec.Body,
		"occurred_at", rec.OccurredAt,
		logging.Error(cause),
	)

	failed := deadletter.NewFailedRecord(rec, item.Handle, item.RetryCount, cause)
	if err := q.sink.Write(ctx, failed); err != nil {
		q.logger.ErrorContext(ctx, "dead-letter write failed, leaving message pending",
			logging.RecordID(rec.LogID.String()),
			logging.MessageID(item.MessageID()),
			logging.Error(err),
		)
		q.owned.Release(messageIDs([]BufferedItem{item})...)
		return
	}

	settle(ctx, q.acker, q.group, q.owned, []BufferedItem{item}, q.logger)
}

// Run calls RetryTick every interval until ctx is done.
func (q *RetryQueue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = q.RetryTick(ctx)
		}
	}
}
