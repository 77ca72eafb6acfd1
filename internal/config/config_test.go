package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 1000, cfg.Pipeline.BatchSize)
	assert.Equal(t, 10000, cfg.Pipeline.BufferMaxSize)
	assert.Equal(t, time.Second, cfg.Pipeline.FlushInterval)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.RetryInterval)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.ShutdownTimeout)

	assert.Equal(t, 60*time.Second, cfg.Reclaim.Interval)
	assert.Equal(t, 10*time.Second, cfg.Reclaim.IdleThreshold)
	assert.Equal(t, int64(100), cfg.Reclaim.BatchSize)

	assert.Equal(t, 20, cfg.Backpressure.Window)
	assert.Equal(t, 500*time.Millisecond, cfg.Backpressure.ElevatedThreshold)
	assert.Equal(t, 2*time.Second, cfg.Backpressure.CriticalThreshold)
	assert.Equal(t, 10*time.Millisecond, cfg.Backpressure.ElevatedDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.Backpressure.CriticalDelay)

	assert.Equal(t, "log-stream", cfg.Stream.Key)
	assert.Equal(t, "log-group", cfg.Stream.Group)
	assert.Equal(t, "log-consumer-1", cfg.Stream.Consumer)
	assert.Equal(t, 1, cfg.Stream.Consumers)
	assert.Equal(t, time.Second, cfg.Stream.Block)

	assert.Equal(t, "log", cfg.DeadLetter.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  batch_size: 250
  flush_interval: 200ms
stream:
  key: custom-stream
  consumers: 4
deadletter:
  backend: file
  base_path: /tmp/dl
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Pipeline.BatchSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Pipeline.FlushInterval)
	assert.Equal(t, "custom-stream", cfg.Stream.Key)
	assert.Equal(t, 4, cfg.Stream.Consumers)
	assert.Equal(t, "file", cfg.DeadLetter.Backend)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10000, cfg.Pipeline.BufferMaxSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOGWORKER_PIPELINE_MAX_RETRIES", "7")
	t.Setenv("LOGWORKER_RECLAIM_IDLE_THRESHOLD", "45s")
	t.Setenv("LOGWORKER_REDIS_URL", "redis://cache:6379/2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pipeline.MaxRetries)
	assert.Equal(t, 45*time.Second, cfg.Reclaim.IdleThreshold)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOGWORKER_PIPELINE_BATCH_SIZE", "0")

	_, err := Load("")
	assert.ErrorContains(t, err, "invalid config")
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"buffer below batch", func(c *Config) { c.Pipeline.BufferMaxSize = c.Pipeline.BatchSize - 1 }},
		{"negative retries", func(c *Config) { c.Pipeline.MaxRetries = -1 }},
		{"zero window", func(c *Config) { c.Backpressure.Window = 0 }},
		{"thresholds out of order", func(c *Config) { c.Backpressure.CriticalThreshold = c.Backpressure.ElevatedThreshold }},
		{"delays out of order", func(c *Config) { c.Backpressure.CriticalDelay = 0 }},
		{"no stream key", func(c *Config) { c.Stream.Key = "" }},
		{"no consumers", func(c *Config) { c.Stream.Consumers = 0 }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown backend", func(c *Config) { c.DeadLetter.Backend = "s3" }},
		{"file backend without path", func(c *Config) {
			c.DeadLetter.Backend = "file"
			c.DeadLetter.BasePath = ""
		}},
		{"jetstream backend without url", func(c *Config) {
			c.DeadLetter.Backend = "jetstream"
			c.DeadLetter.NATSURL = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSettingsMapping(t *testing.T) {
	cfg := validConfig(t)

	p := cfg.PipelineSettings()
	assert.Equal(t, "log-group", p.Group)
	assert.Equal(t, "log-consumer-1", p.ConsumerName)
	assert.Equal(t, 10*time.Second, p.ReclaimIdle)
	require.NoError(t, p.Validate())

	bp := cfg.BackpressureSettings()
	assert.Equal(t, 20, bp.Window)

	b := cfg.BrokerSettings()
	assert.Equal(t, "log-stream", b.Stream)
	assert.Equal(t, int64(100), b.ReadCount)

	assert.Equal(t, int32(25), cfg.PoolSettings().MaxConns)
	assert.Equal(t, 3, cfg.PartitionSettings().Premake)
}

func TestPostgresConnString(t *testing.T) {
	p := PostgresConfig{
		Host:     "db",
		Port:     5433,
		User:     "worker",
		Password: "p@ss word",
		Database: "logs",
		SSLMode:  "require",
	}
	assert.Equal(t, "postgres://worker:p%40ss%20word@db:5433/logs?sslmode=require", p.ConnString())
}
