package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/logworker/internal/backpressure"
	"github.com/telhawk-systems/logworker/internal/deadletter"
	"github.com/telhawk-systems/logworker/internal/logging"
	"github.com/telhawk-systems/logworker/internal/models"
)

const sourceDirect = "direct"

// Config holds the tunables for one worker process.
type Config struct {
	Group string
	// ConsumerName is used for the first consumer and for reclaimed entries.
	// Additional consumers get a "-N" suffix.
	ConsumerName string
	Consumers    int

	BatchSize     int
	BufferMaxSize int
	FlushInterval time.Duration

	RetryInterval time.Duration
	MaxRetries    int

	ReclaimInterval  time.Duration
	ReclaimIdle      time.Duration
	ReclaimBatchSize int64

	StoreTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		Group:            "log-group",
		ConsumerName:     "log-consumer-1",
		Consumers:        1,
		BatchSize:        1000,
		BufferMaxSize:    10000,
		FlushInterval:    time.Second,
		RetryInterval:    5 * time.Second,
		MaxRetries:       3,
		ReclaimInterval:  60 * time.Second,
		ReclaimIdle:      10 * time.Second,
		ReclaimBatchSize: 100,
		StoreTimeout:     30 * time.Second,
		ShutdownTimeout:  30 * time.Second,
	}
}

// Validate checks the tunables for values the pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Group == "":
		return errors.New("consumer group is required")
	case c.ConsumerName == "":
		return errors.New("consumer name is required")
	case c.Consumers < 1:
		return fmt.Errorf("consumers must be at least 1, got %d", c.Consumers)
	case c.BatchSize < 1:
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.BufferMaxSize < c.BatchSize:
		return fmt.Errorf("buffer max size %d is smaller than batch size %d", c.BufferMaxSize, c.BatchSize)
	case c.FlushInterval <= 0, c.RetryInterval <= 0, c.ReclaimInterval <= 0:
		return errors.New("flush, retry and reclaim intervals must be positive")
	case c.MaxRetries < 0:
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	case c.ReclaimIdle <= 0:
		return errors.New("reclaim idle threshold must be positive")
	case c.ReclaimBatchSize < 1:
		return fmt.Errorf("reclaim batch size must be positive, got %d", c.ReclaimBatchSize)
	}
	return nil
}

// Pipeline wires the consumers, buffer, flusher, retry queue and reclaimer
// of one worker process.
type Pipeline struct {
	cfg    Config
	logger *logging.Logger

	bp        *backpressure.Controller
	owned     *Ownership
	buffer    *IngestionBuffer
	intake    *Intake
	retry     *RetryQueue
	flusher   *BatchFlusher
	reclaimer *Reclaimer
	consumers []*StreamConsumer

	// submitMu orders Submit against shutdown: once closed is set under the
	// write lock no direct record can enter the buffer behind the final drain.
	submitMu sync.RWMutex
	closed   bool
}

// New builds a Pipeline. Nothing runs until Run is called.
func New(cfg Config, broker Broker, store Store, sink deadletter.Writer, bp *backpressure.Controller, logger *logging.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if logger == nil {
		logger = logging.Default()
	}
	if bp == nil {
		bp = backpressure.NewController(backpressure.DefaultConfig())
	}

	owned := NewOwnership()
	buffer := NewIngestionBuffer(cfg.BufferMaxSize, cfg.BatchSize)
	intake := NewIntake(buffer, owned)
	retry := NewRetryQueue(RetryConfig{
		Group:        cfg.Group,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		StoreTimeout: cfg.StoreTimeout,
	}, store, broker, sink, owned, logger)
	flusher := NewBatchFlusher(FlusherConfig{
		Group:        cfg.Group,
		BatchSize:    cfg.BatchSize,
		StoreTimeout: cfg.StoreTimeout,
	}, buffer, store, broker, retry, bp, owned, logger)
	reclaimer := NewReclaimer(ReclaimConfig{
		Group:         cfg.Group,
		Consumer:      cfg.ConsumerName,
		IdleThreshold: cfg.ReclaimIdle,
		BatchSize:     cfg.ReclaimBatchSize,
	}, broker, intake, owned, logger)

	consumers := make([]*StreamConsumer, cfg.Consumers)
	for i := range consumers {
		consumers[i] = NewStreamConsumer(broker, intake, bp, cfg.Group, consumerName(cfg.ConsumerName, i), logger)
	}

	return &Pipeline{
		cfg:       cfg,
		logger:    logger.WithComponent("pipeline"),
		bp:        bp,
		owned:     owned,
		buffer:    buffer,
		intake:    intake,
		retry:     retry,
		flusher:   flusher,
		reclaimer: reclaimer,
		consumers: consumers,
	}, nil
}

func consumerName(base string, i int) string {
	if i == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, i+1)
}

// Run starts every component and blocks until ctx is done. Shutdown then
// stops intake first, stops the periodic loops, and makes a final
// best-effort flush of the buffer bounded by ShutdownTimeout.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "pipeline starting",
		"group", p.cfg.Group,
		logging.Consumer(p.cfg.ConsumerName),
		"consumers", len(p.consumers),
		"batch_size", p.cfg.BatchSize,
		"buffer_max_size", p.cfg.BufferMaxSize,
	)

	var intake errgroup.Group
	for _, c := range p.consumers {
		intake.Go(func() error {
			c.Run(ctx)
			return nil
		})
	}
	intake.Go(func() error {
		p.reclaimer.Run(ctx, p.cfg.ReclaimInterval)
		return nil
	})

	// The flush and retry loops outlive intake so in-flight work can settle.
	loopCtx, stopLoops := context.WithCancel(context.WithoutCancel(ctx))
	var loops errgroup.Group
	loops.Go(func() error {
		p.flusher.Run(loopCtx, p.cfg.FlushInterval)
		return nil
	})
	loops.Go(func() error {
		p.retry.Run(loopCtx, p.cfg.RetryInterval)
		return nil
	})

	<-ctx.Done()
	p.logger.Info("pipeline stopping intake")
	p.submitMu.Lock()
	p.closed = true
	p.submitMu.Unlock()
	_ = intake.Wait()

	stopLoops()
	_ = loops.Wait()

	p.drain(context.WithoutCancel(ctx))
	return nil
}

func (p *Pipeline) drain(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, p.cfg.ShutdownTimeout)
	defer cancel()

	flushed := 0
	for ctx.Err() == nil {
		n, err := p.flusher.Flush(ctx)
		if err != nil || n == 0 {
			break
		}
		flushed += n
	}

	p.logger.Info("pipeline stopped",
		"flushed_on_shutdown", flushed,
		"left_in_buffer", p.buffer.Size(),
		"left_in_retry_queue", p.retry.Size(),
	)
}

// Submit admits directly submitted records, which carry no delivery handle.
// It returns how many were accepted and how many were shed.
// Once Run has begun shutting down every record is reported as dropped.
func (p *Pipeline) Submit(recs ...models.LogRecord) (accepted, dropped int) {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()
	if p.closed {
		return 0, len(recs)
	}
	for _, rec := range recs {
		if p.intake.Admit(BufferedItem{Record: rec}, sourceDirect) == Accepted {
			accepted++
		} else {
			dropped++
		}
	}
	return accepted, dropped
}

// Stats is a point-in-time view of pipeline state.
type Stats struct {
	BufferSize        int     `json:"bufferSize"`
	BufferDropped     int64   `json:"bufferDropped"`
	RetryQueueSize    int     `json:"retryQueueSize"`
	Owned             int     `json:"owned"`
	BackpressureState string  `json:"backpressureState"`
	AverageLatencyMs  float64 `json:"averageLatencyMs"`
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		BufferSize:        p.buffer.Size(),
		BufferDropped:     p.buffer.Dropped(),
		RetryQueueSize:    p.retry.Size(),
		Owned:             p.owned.Len(),
		BackpressureState: p.bp.State().String(),
		AverageLatencyMs:  float64(p.bp.Average()) / float64(time.Millisecond),
	}
}

// Buffer exposes the ingestion buffer.
func (p *Pipeline) Buffer() *IngestionBuffer { return p.buffer }

// RetryQueue exposes the retry queue.
func (p *Pipeline) RetryQueue() *RetryQueue { return p.retry }
