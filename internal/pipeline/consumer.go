package pipeline

import (
	"context"
	"time"

	"github.com/telhawk-systems/logworker/internal/backpressure"
	"github.com/telhawk-systems/logworker/internal/logging"
	"github.com/telhawk-systems/logworker/internal/mapper"
	"github.com/telhawk-systems/logworker/internal/metrics"
	"github.com/telhawk-systems/logworker/internal/models"
)

const sourceStream = "stream"

// readErrorBackoff is how long a consumer waits after a failed broker read.
const readErrorBackoff = time.Second

// StreamConsumer reads new entries for one consumer name and feeds them to
// the buffer, pacing itself by the backpressure delay.
type StreamConsumer struct {
	broker Broker
	intake *Intake
	bp     *backpressure.Controller
	group  string
	name   string
	logger *logging.Logger
}

func NewStreamConsumer(broker Broker, intake *Intake, bp *backpressure.Controller, group, name string, logger *logging.Logger) *StreamConsumer {
	return &StreamConsumer{
		broker: broker,
		intake: intake,
		bp:     bp,
		group:  group,
		name:   name,
		logger: logger.WithComponent("consumer").With(logging.Consumer(name)),
	}
}

// Name returns the consumer name used with the broker.
func (c *StreamConsumer) Name() string {
	return c.name
}

// Run reads until ctx is done.
func (c *StreamConsumer) Run(ctx context.Context) {
	c.logger.InfoContext(ctx, "stream consumer started")
	defer c.logger.Info("stream consumer stopped")

	for ctx.Err() == nil {
		msgs, err := c.broker.ReadGroup(ctx, c.group, c.name)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.ErrorContext(ctx, "stream read failed", logging.Error(err))
			if !sleep(ctx, readErrorBackoff) {
				return
			}
			continue
		}

		for _, msg := range msgs {
			if !c.Handle(ctx, msg) {
				return
			}
		}
	}
}

// Handle processes one delivery. It returns false if ctx was canceled while
// waiting out the backpressure delay; the message is then left pending.
func (c *StreamConsumer) Handle(ctx context.Context, msg Message) bool {
	if !sleep(ctx, c.bp.Delay()) {
		return false
	}

	rec, err := mapper.FromStreamValues(msg.ID, msg.Values, time.Now().UTC())
	if err != nil {
		metrics.MalformedMessages.WithLabelValues(sourceStream).Inc()
		c.logger.WarnContext(ctx, "discarding malformed message",
			logging.MessageID(msg.ID),
			logging.Error(err),
		)
		if ackErr := c.broker.Ack(ctx, c.group, msg.ID); ackErr != nil {
			metrics.AckErrors.Inc()
			c.logger.ErrorContext(ctx, "failed to acknowledge malformed message",
				logging.MessageID(msg.ID),
				logging.Error(ackErr),
			)
		}
		return true
	}

	item := BufferedItem{
		Record: rec,
		Handle: &models.DeliveryHandle{MessageID: msg.ID, Deliveries: 1},
	}
	switch c.intake.Admit(item, sourceStream) {
	case Dropped:
		c.logger.WarnContext(ctx, "buffer full, leaving message pending", logging.MessageID(msg.ID))
	case Duplicate:
		c.logger.DebugContext(ctx, "ignoring duplicate delivery", logging.MessageID(msg.ID))
	}
	return true
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
