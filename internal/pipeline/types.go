package pipeline

import (
	"context"
	"time"

	"github.com/telhawk-systems/logworker/internal/models"
)

// Message is one broker entry.
type Message struct {
	ID     string
	Values map[string]string
}

// PendingEntry is a delivered but unacknowledged broker entry.
type PendingEntry struct {
	ID         string
	Consumer   string
	Idle       time.Duration
	Deliveries int64
}

// Acknowledger removes entries from the consumer group's pending list.
type Acknowledger interface {
	Ack(ctx context.Context, group string, ids ...string) error
}

// Broker is the consumer-group log the pipeline reads from.
type Broker interface {
	Acknowledger
	// ReadGroup returns the next batch of never-delivered entries for consumer.
	// An empty result with a nil error means nothing arrived before the read timed out.
	ReadGroup(ctx context.Context, group, consumer string) ([]Message, error)
	// PendingSince reads up to count pending entries with IDs after the
	// cursor (empty starts at the head) and keeps those idle for at least
	// minIdle. next is the cursor for the following page, empty once the
	// pending list is exhausted.
	PendingSince(ctx context.Context, group string, minIdle time.Duration, after string, count int64) (entries []PendingEntry, next string, err error)
	// Claim transfers ownership of ids to consumer, skipping entries idle for less than minIdle.
	Claim(ctx context.Context, group, consumer string, minIdle time.Duration, ids ...string) ([]Message, error)
}

// Store persists a batch as a single unit of work.
type Store interface {
	BatchInsert(ctx context.Context, records []models.LogRecord) error
}

// BufferedItem pairs a record with its delivery handle and its failed-attempt count.
type BufferedItem struct {
	Record models.LogRecord
	// Handle is nil for records submitted directly over HTTP.
	Handle     *models.DeliveryHandle
	RetryCount int
}

// MessageID returns the broker ID, or "" for directly submitted records.
func (i BufferedItem) MessageID() string {
	if i.Handle == nil {
		return ""
	}
	return i.Handle.MessageID
}

// failedAgain returns a copy with one more failed attempt counted. The handle
// pointer is shared so the item keeps its broker identity.
func (i BufferedItem) failedAgain() BufferedItem {
	i.RetryCount++
	return i
}

func records(items []BufferedItem) []models.LogRecord {
	out := make([]models.LogRecord, len(items))
	for i, item := range items {
		out[i] = item.Record
	}
	return out
}

func messageIDs(items []BufferedItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id := item.MessageID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
