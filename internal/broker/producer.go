package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Producer appends entries to the stream.
type Producer struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewProducer(client redis.UniversalClient, cfg Config) *Producer {
	return &Producer{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen}
}

// Publish appends every entry in one pipelined round trip and returns the
// assigned IDs in order.
func (p *Producer) Publish(ctx context.Context, entries ...map[string]any) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	pipe := p.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(entries))
	for i, values := range entries {
		args := &redis.XAddArgs{Stream: p.stream, Values: values}
		if p.maxLen > 0 {
			args.MaxLen = p.maxLen
			args.Approx = true
		}
		cmds[i] = pipe.XAdd(ctx, args)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("xadd pipeline: %w", err)
	}

	ids := make([]string, len(cmds))
	for i, cmd := range cmds {
		ids[i] = cmd.Val()
	}
	return ids, nil
}
