// Command logseeder publishes fake log records to the worker's stream.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/telhawk-systems/logworker/internal/broker"
	"github.com/telhawk-systems/logworker/internal/logging"
)

var (
	redisURL      = flag.String("redis-url", "redis://localhost:6379/0", "Redis URL")
	streamKey     = flag.String("stream", "log-stream", "Stream key")
	count         = flag.Int("count", 1000, "Number of records to publish")
	batchSize     = flag.Int("batch-size", 100, "Records per pipelined XADD round trip")
	interval      = flag.Duration("interval", 0, "Pause between batches")
	projects      = flag.Int("projects", 3, "Number of distinct projects")
	timeSpread    = flag.Duration("time-spread", time.Hour, "Spread occurredAt over this period (0 for now)")
	malformedRate = flag.Float64("malformed-rate", 0, "Fraction of entries that are deliberately malformed")
	envelope      = flag.Bool("payload", false, "Publish records as a single JSON payload field")
	seed          = flag.Int64("seed", 0, "Random seed (0 for time-based)")
)

func main() {
	flag.Parse()

	logger := logging.New(logging.ParseLevel("info"), "text").With(logging.Service("logseeder"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := broker.Connect(ctx, *redisURL)
	if err != nil {
		logger.Error("Failed to connect to Redis", logging.Error(err))
		os.Exit(1)
	}
	defer client.Close()

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	g := newGenerator(s, *projects, *timeSpread)
	producer := broker.NewProducer(client, broker.Config{Stream: *streamKey})

	logger.Info("Starting seeder",
		"stream", *streamKey,
		"count", *count,
		"batch_size", *batchSize,
		"projects", g.projects,
		"malformed_rate", *malformedRate,
	)

	sent, failed, err := seedStream(ctx, g, producer, *count, *batchSize, *malformedRate, *envelope, *interval)
	if err != nil {
		logger.Error("Seeding stopped", logging.Error(err))
	}
	logger.Info("Seeding complete", "sent", sent, "failed", failed)
	if err != nil {
		os.Exit(1)
	}
}

type publisher interface {
	Publish(ctx context.Context, entries ...map[string]any) ([]string, error)
}

func seedStream(ctx context.Context, g *generator, p publisher, count, batchSize int, malformedRate float64,
	envelope bool, pause time.Duration) (sent, failed int, err error) {
	if batchSize < 1 {
		batchSize = 1
	}

	batch := make([]map[string]any, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ids, err := p.Publish(ctx, batch...)
		if err != nil {
			failed += len(batch)
			batch = batch[:0]
			return err
		}
		sent += len(ids)
		batch = batch[:0]
		return nil
	}

	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			return sent, failed, ctx.Err()
		}

		var e map[string]any
		if malformedRate > 0 && g.rng.Float64() < malformedRate {
			e = g.malformed()
		} else if e, err = entry(g.record(), envelope); err != nil {
			return sent, failed, err
		}
		batch = append(batch, e)

		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return sent, failed, err
			}
			if pause > 0 {
				select {
				case <-ctx.Done():
					return sent, failed, ctx.Err()
				case <-time.After(pause):
				}
			}
		}
	}
	return sent, failed, flush()
}
