package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logworker/internal/backpressure"
	"github.com/telhawk-systems/logworker/internal/logging"
)

func TestStreamConsumer_HandleAdmitsRecord(t *testing.T) {
	h := newHarness(10, 100, 3)
	c := NewStreamConsumer(h.broker, h.intake, h.bp, "g", "c1", logging.Discard())

	id := h.broker.add(streamValues("hello"))
	assert.True(t, c.Handle(context.Background(), Message{ID: id, Values: streamValues("hello")}))

	items := h.buffer.DrainUpTo(10)
	require.Len(t, items, 1)
	assert.Equal(t, "hello", items[0].Record.Body)
	assert.Equal(t, "WARN", items[0].Record.Severity)
	assert.Equal(t, id, items[0].MessageID())
	assert.Zero(t, items[0].RetryCount)
}

func TestStreamConsumer_MalformedIsAckedAndDiscarded(t *testing.T) {
	h := newHarness(10, 100, 3)
	c := NewStreamConsumer(h.broker, h.intake, h.bp, "g", "c1", logging.Discard())

	id := h.broker.add(map[string]string{"projectId": "p"})
	h.broker.deliver(id, "c1", time.Now())

	assert.True(t, c.Handle(context.Background(), Message{ID: id, Values: map[string]string{"projectId": "p"}}))
	assert.Equal(t, []string{id}, h.broker.ackedIDs())
	assert.Zero(t, h.buffer.Size())
}

func TestStreamConsumer_DuplicateDeliveryIgnored(t *testing.T) {
	h := newHarness(10, 100, 3)
	c := NewStreamConsumer(h.broker, h.intake, h.bp, "g", "c1", logging.Discard())
	msg := Message{ID: "7-0", Values: streamValues("once")}

	assert.True(t, c.Handle(context.Background(), msg))
	assert.True(t, c.Handle(context.Background(), msg))
	assert.Equal(t, 1, h.buffer.Size())
}

func TestStreamConsumer_StopsDuringBackpressureDelay(t *testing.T) {
	h := newHarness(10, 100, 3)
	bp := backpressure.NewController(backpressure.Config{
		Window:            1,
		ElevatedThreshold: time.Millisecond,
		CriticalThreshold: 2 * time.Millisecond,
		ElevatedDelay:     time.Hour,
		CriticalDelay:     time.Hour,
	})
	bp.RecordLatency(time.Second)
	c := NewStreamConsumer(h.broker, h.intake, bp, "g", "c1", logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	assert.False(t, c.Handle(ctx, Message{ID: "1-0", Values: streamValues("x")}))
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, h.buffer.Size())
}

func TestStreamConsumer_RunFeedsBuffer(t *testing.T) {
	h := newHarness(10, 100, 3)
	c := NewStreamConsumer(h.broker, h.intake, h.bp, "g", "c1", logging.Discard())
	for _, b := range []string{"a", "b", "c"} {
		h.broker.add(streamValues(b))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return h.buffer.Size() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, "c1", c.Name())
}

func TestStreamConsumer_RunSurvivesReadErrors(t *testing.T) {
	h := newHarness(10, 100, 3)
	h.broker.readErr = assert.AnError
	c := NewStreamConsumer(h.broker, h.intake, h.bp, "g", "c1", logging.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c.Run(ctx)
	assert.Zero(t, h.buffer.Size())
}

func TestSleep(t *testing.T) {
	assert.True(t, sleep(context.Background(), 0))
	assert.True(t, sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleep(ctx, 0))
	assert.False(t, sleep(ctx, time.Hour))
}
