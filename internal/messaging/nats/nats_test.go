package nats

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/logworker/internal/logging"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "logworker", cfg.Name)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Positive(t, cfg.Timeout)
}

func TestDeadLetterStream(t *testing.T) {
	sc := DeadLetterStream("LOG_DEADLETTER", "logs.deadletter")

	assert.Equal(t, "LOG_DEADLETTER", sc.Name)
	assert.Equal(t, []string{"logs.deadletter.>"}, sc.Subjects)
	assert.Equal(t, jetstream.LimitsPolicy, sc.Retention)
	assert.Equal(t, jetstream.FileStorage, sc.Storage)
	assert.Equal(t, 7*24*time.Hour, sc.MaxAge)
}

func TestNewClient_Unreachable(t *testing.T) {
	// Grab a free port and close it so nothing is listening there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := DefaultConfig()
	cfg.URL = "nats://" + addr
	cfg.Timeout = 200 * time.Millisecond

	_, err = NewJetStreamClient(cfg, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}

func TestClientPing_Disconnected(t *testing.T) {
	c := &Client{conn: &nats.Conn{}}
	assert.False(t, c.IsConnected())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := c.Ping(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disconnected")
}
