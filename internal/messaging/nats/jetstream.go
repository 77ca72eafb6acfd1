package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/logworker/internal/logging"
)

// JetStreamClient extends Client with JetStream persistence.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig defines a JetStream stream.
type StreamConfig struct {
	Name     string
	Subjects []string

	MaxAge   time.Duration
	MaxBytes int64
	MaxMsgs  int64

	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType
}

// DeadLetterStream returns the stream that holds records which exhausted
// their persistence retries. Subjects are "<prefix>.>".
func DeadLetterStream(name, subjectPrefix string) StreamConfig {
	return StreamConfig{
		Name:      name,
		Subjects:  []string{subjectPrefix + ".>"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		MaxMsgs:   1000000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
}

// NewJetStreamClient connects and creates a JetStream context.
func NewJetStreamClient(cfg Config, logger *logging.Logger) (*JetStreamClient, error) {
	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{Client: client, js: js}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// PublishSync publishes a message and waits for the server acknowledgment.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error) {
	return c.js.Publish(ctx, subject, data)
}
