// Package nats wraps the NATS connection used by the JetStream dead-letter sink.
package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/telhawk-systems/logworker/internal/logging"
)

// Config holds NATS connection settings.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string `mapstructure:"url"`

	// Name identifies this connection on the server.
	Name string `mapstructure:"name"`

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int `mapstructure:"max_reconnects"`

	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`

	// Optional credentials.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Token    string `mapstructure:"token"`
}

// DefaultConfig returns a Config suitable for a local server.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "logworker",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Client is a NATS connection.
type Client struct {
	conn *nats.Conn
}

// NewClient connects to NATS. Connection state changes are logged through logger.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.Default()
	}
	log := logger.WithComponent("nats")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	}

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Close drains pending publishes and closes the connection.
func (c *Client) Close() error {
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return err
	}
	return nil
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Ping fails while the connection is down and otherwise round-trips a PING
// to the server. ctx must carry a deadline.
func (c *Client) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return fmt.Errorf("nats connection is %s", strings.ToLower(c.conn.Status().String()))
	}
	return c.conn.FlushWithContext(ctx)
}
