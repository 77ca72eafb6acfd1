// Package pipeline moves log records from the broker into the store.
//
// Data flow:
//
//	broker -> StreamConsumer -> IngestionBuffer -> BatchFlusher -> store
//	                 ^                                 |      \
//	                 |  delay          latency samples |       failure
//	           backpressure.Controller <---------------+        v
//	                                                        RetryQueue -> deadletter sink
//	Reclaimer (stalled pending entries) -> IngestionBuffer
//
// A BufferedItem is owned by exactly one of the buffer, an in-flight batch,
// or the RetryQueue. Ownership of broker-delivered items is additionally
// tracked by message ID so a redelivery or reclaim cannot put a second copy
// into the pipeline while the first is still in flight.
package pipeline
