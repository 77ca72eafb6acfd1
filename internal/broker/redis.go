// Package broker implements the pipeline's consumer-group log on Redis Streams.
package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/logworker/internal/pipeline"
)

// Config describes the stream and how it is read.
type Config struct {
	URL       string        `mapstructure:"url"`
	Stream    string        `mapstructure:"key"`
	ReadCount int64         `mapstructure:"read_count"`
	Block     time.Duration `mapstructure:"block"`
	// MaxLen caps the stream on XADD (approximate trimming). Zero disables it.
	MaxLen int64 `mapstructure:"max_len"`
}

// Connect parses url and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// Streams reads one stream through consumer groups.
type Streams struct {
	client    redis.UniversalClient
	stream    string
	readCount int64
	block     time.Duration
}

var _ pipeline.Broker = (*Streams)(nil)

// NewStreams wraps client. A non-positive block makes reads return immediately.
func NewStreams(client redis.UniversalClient, cfg Config) *Streams {
	block := cfg.Block
	if block <= 0 {
		block = -1
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 100
	}
	return &Streams{client: client, stream: cfg.Stream, readCount: readCount, block: block}
}

// EnsureGroup creates the group at the start of the stream, creating the
// stream too if needed. An existing group is left alone.
func (s *Streams) EnsureGroup(ctx context.Context, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", group, s.stream, err)
	}
	return nil
}

func (s *Streams) ReadGroup(ctx context.Context, group, consumer string) ([]pipeline.Message, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{s.stream, ">"},
		Count:    s.readCount,
		Block:    s.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var out []pipeline.Message
	for _, st := range res {
		out = append(out, convert(st.Messages)...)
	}
	return out, nil
}

func (s *Streams) Ack(ctx context.Context, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// PendingSince reads one page of the group's pending list starting after
// the cursor and keeps the entries idle for at least minIdle. Idle filtering
// happens client side, so a page can come back short while next is still set.
func (s *Streams) PendingSince(ctx context.Context, group string, minIdle time.Duration, after string, count int64) ([]pipeline.PendingEntry, string, error) {
	start := "-"
	if after != "" {
		next, err := nextStreamID(after)
		if err != nil {
			return nil, "", err
		}
		start = next
	}

	res, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream,
		Group:  group,
		Start:  start,
		End:    "+",
		Count:  count,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("xpending: %w", err)
	}

	out := make([]pipeline.PendingEntry, 0, len(res))
	for _, p := range res {
		if p.Idle < minIdle {
			continue
		}
		out = append(out, pipeline.PendingEntry{
			ID:         p.ID,
			Consumer:   p.Consumer,
			Idle:       p.Idle,
			Deliveries: p.RetryCount,
		})
	}

	var next string
	if len(res) > 0 && int64(len(res)) == count {
		next = res[len(res)-1].ID
	}
	return out, next, nil
}

// nextStreamID returns the smallest entry ID greater than id.
func nextStreamID(id string) (string, error) {
	msPart, seqPart, ok := strings.Cut(id, "-")
	if !ok {
		return "", fmt.Errorf("invalid stream id %q", id)
	}
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid stream id %q: %w", id, err)
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid stream id %q: %w", id, err)
	}
	if seq == math.MaxUint64 {
		return strconv.FormatUint(ms+1, 10) + "-0", nil
	}
	return msPart + "-" + strconv.FormatUint(seq+1, 10), nil
}

// Claim reassigns ids to consumer. The server skips entries that became
// active again and no longer meet minIdle.
func (s *Streams) Claim(ctx context.Context, group, consumer string, minIdle time.Duration, ids ...string) ([]pipeline.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	msgs, err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   s.stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xclaim: %w", err)
	}
	return convert(msgs), nil
}

// Len returns the number of entries in the stream.
func (s *Streams) Len(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, s.stream).Result()
}

// Ping checks the connection.
func (s *Streams) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func convert(msgs []redis.XMessage) []pipeline.Message {
	out := make([]pipeline.Message, 0, len(msgs))
	for _, m := range msgs {
		values := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			switch val := v.(type) {
			case string:
				values[k] = val
			case nil:
			default:
				values[k] = fmt.Sprint(val)
			}
		}
		out = append(out, pipeline.Message{ID: m.ID, Values: values})
	}
	return out
}
