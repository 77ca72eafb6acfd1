package pipeline

import (
	"github.com/telhawk-systems/logworker/internal/metrics"
)

// Admission is the outcome of offering an item to the pipeline.
type Admission int

const (
	Accepted Admission = iota
	// Dropped means the buffer was full. A broker entry stays pending.
	Dropped
	// Duplicate means the broker entry is already held by this worker.
	Duplicate
)

func (a Admission) String() string {
	switch a {
	case Accepted:
		return "accepted"
	case Dropped:
		return "dropped"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Intake is the single entry point into the IngestionBuffer for the stream
// consumers, the reclaimer, and direct submission.
type Intake struct {
	buffer *IngestionBuffer
	owned  *Ownership
}

func NewIntake(buffer *IngestionBuffer, owned *Ownership) *Intake {
	return &Intake{buffer: buffer, owned: owned}
}

// Admit offers item to the buffer. source labels the intake metric.
func (in *Intake) Admit(item BufferedItem, source string) Admission {
	id := item.MessageID()
	if id != "" && !in.owned.Acquire(id) {
		metrics.DuplicateDeliveries.Inc()
		return Duplicate
	}
	metrics.RecordsReceived.WithLabelValues(source).Inc()
	if !in.buffer.Add(item) {
		if id != "" {
			in.owned.Release(id)
		}
		return Dropped
	}
	return Accepted
}
