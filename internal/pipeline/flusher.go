package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/logworker/internal/backpressure"
	"github.com/telhawk-systems/logworker/internal/logging"
	"github.com/telhawk-systems/logworker/internal/metrics"
)

// BatchFlusher drains the buffer in batches and persists them.
type BatchFlusher struct {
	buffer    *IngestionBuffer
	store     Store
	acker     Acknowledger
	group     string
	retry     *RetryQueue
	bp        *backpressure.Controller
	owned     *Ownership
	batchSize int
	timeout   time.Duration
	logger    *logging.Logger

	flushing atomic.Bool
}

// FlusherConfig configures a BatchFlusher.
type FlusherConfig struct {
	Group     string
	BatchSize int
	// StoreTimeout bounds one BatchInsert call. Zero means no bound.
	StoreTimeout time.Duration
}

func NewBatchFlusher(cfg FlusherConfig, buffer *IngestionBuffer, store Store, acker Acknowledger,
	retry *RetryQueue, bp *backpressure.Controller, owned *Ownership, logger *logging.Logger) *BatchFlusher {
	return &BatchFlusher{
		buffer:    buffer,
		store:     store,
		acker:     acker,
		group:     cfg.Group,
		retry:     retry,
		bp:        bp,
		owned:     owned,
		batchSize: cfg.BatchSize,
		timeout:   cfg.StoreTimeout,
		logger:    logger.WithComponent("flusher"),
	}
}

// Flush persists up to one batch. It returns the number of items drained
// and the store error, if any. A call that overlaps a running flush returns
// immediately with 0 and nil. Failed items have already been handed to the
// retry queue when Flush returns.
func (f *BatchFlusher) Flush(ctx context.Context) (int, error) {
	if !f.flushing.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer f.flushing.Store(false)

	batch := f.buffer.DrainUpTo(f.batchSize)
	if len(batch) == 0 {
		return 0, nil
	}

	start := time.Now()
	err := f.insert(ctx, batch)
	elapsed := time.Since(start)

	metrics.FlushDuration.Observe(elapsed.Seconds())

	if err != nil {
		metrics.Flushes.WithLabelValues(metrics.StatusFailure).Inc()
		metrics.FlushedRecords.WithLabelValues(metrics.StatusFailure).Add(float64(len(batch)))
		f.logger.ErrorContext(ctx, "batch insert failed, routing to retry queue",
			logging.Count(len(batch)),
			logging.Duration(elapsed),
			logging.Error(err),
		)
		f.retry.Fail(ctx, batch, err)
		return len(batch), err
	}

	// Latency is sampled from successful writes only.
	f.bp.RecordLatency(elapsed)
	metrics.Flushes.WithLabelValues(metrics.StatusSuccess).Inc()
	metrics.FlushedRecords.WithLabelValues(metrics.StatusSuccess).Add(float64(len(batch)))
	settle(ctx, f.acker, f.group, f.owned, batch, f.logger)

	f.logger.DebugContext(ctx, "flushed batch",
		logging.Count(len(batch)),
		logging.Duration(elapsed),
		logging.State(f.bp.State().String()),
	)
	return len(batch), nil
}

func (f *BatchFlusher) insert(ctx context.Context, batch []BufferedItem) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return f.store.BatchInsert(ctx, records(batch))
}

// Run flushes every interval and whenever the buffer signals it reached the
// batch size. It returns when ctx is done.
func (f *BatchFlusher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = f.Flush(ctx)
		case <-f.buffer.Full():
			_, _ = f.Flush(ctx)
		}
	}
}
