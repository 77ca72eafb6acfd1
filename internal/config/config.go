// Package config loads worker settings from defaults, an optional YAML
// file and LOGWORKER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/telhawk-systems/logworker/internal/backpressure"
	"github.com/telhawk-systems/logworker/internal/broker"
	"github.com/telhawk-systems/logworker/internal/deadletter"
	"github.com/telhawk-systems/logworker/internal/pipeline"
	"github.com/telhawk-systems/logworker/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. LOGWORKER_PIPELINE_BATCH_SIZE.
const EnvPrefix = "LOGWORKER"

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Reclaim      ReclaimConfig      `mapstructure:"reclaim"`
	Backpressure BackpressureConfig `mapstructure:"backpressure"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Stream       StreamConfig       `mapstructure:"stream"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Partitions   PartitionsConfig   `mapstructure:"partitions"`
	DeadLetter   DeadLetterConfig   `mapstructure:"deadletter"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// MaxBodyBytes limits request bodies on the intake endpoints.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

type PipelineConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	BufferMaxSize   int           `mapstructure:"buffer_max_size"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	MaxRetries      int           `mapstructure:"max_retries"`
	StoreTimeout    time.Duration `mapstructure:"store_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ReclaimConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	IdleThreshold time.Duration `mapstructure:"idle_threshold"`
	BatchSize     int64         `mapstructure:"batch_size"`
}

type BackpressureConfig struct {
	Window            int           `mapstructure:"window"`
	ElevatedThreshold time.Duration `mapstructure:"elevated_threshold"`
	CriticalThreshold time.Duration `mapstructure:"critical_threshold"`
	ElevatedDelay     time.Duration `mapstructure:"elevated_delay"`
	CriticalDelay     time.Duration `mapstructure:"critical_delay"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type StreamConfig struct {
	Key       string        `mapstructure:"key"`
	Group     string        `mapstructure:"group"`
	Consumer  string        `mapstructure:"consumer"`
	Consumers int           `mapstructure:"consumers"`
	ReadCount int64         `mapstructure:"read_count"`
	Block     time.Duration `mapstructure:"block"`
	MaxLen    int64         `mapstructure:"max_len"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type PartitionsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	PremakeDays   int           `mapstructure:"premake_days"`
	RetentionDays int           `mapstructure:"retention_days"`
	Interval      time.Duration `mapstructure:"interval"`
}

type DeadLetterConfig struct {
	Backend       string `mapstructure:"backend"`
	BasePath      string `mapstructure:"base_path"`
	NATSURL       string `mapstructure:"nats_url"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8089)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.max_body_bytes", 10*1024*1024)

	v.SetDefault("pipeline.batch_size", 1000)
	v.SetDefault("pipeline.buffer_max_size", 10000)
	v.SetDefault("pipeline.flush_interval", "1s")
	v.SetDefault("pipeline.retry_interval", "5s")
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.store_timeout", "30s")
	v.SetDefault("pipeline.shutdown_timeout", "30s")

	v.SetDefault("reclaim.interval", "60s")
	v.SetDefault("reclaim.idle_threshold", "10s")
	v.SetDefault("reclaim.batch_size", 100)

	v.SetDefault("backpressure.window", 20)
	v.SetDefault("backpressure.elevated_threshold", "500ms")
	v.SetDefault("backpressure.critical_threshold", "2s")
	v.SetDefault("backpressure.elevated_delay", "10ms")
	v.SetDefault("backpressure.critical_delay", "100ms")

	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("stream.key", "log-stream")
	v.SetDefault("stream.group", "log-group")
	v.SetDefault("stream.consumer", "log-consumer-1")
	v.SetDefault("stream.consumers", 1)
	v.SetDefault("stream.read_count", 100)
	v.SetDefault("stream.block", "1s")
	v.SetDefault("stream.max_len", 0)

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "logworker")
	v.SetDefault("database.postgres.password", "logworker")
	v.SetDefault("database.postgres.database", "logworker")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.postgres.max_conns", 25)
	v.SetDefault("database.postgres.min_conns", 2)
	v.SetDefault("database.postgres.max_conn_lifetime", "5m")
	v.SetDefault("database.postgres.max_conn_idle_time", "1m")

	v.SetDefault("partitions.enabled", true)
	v.SetDefault("partitions.premake_days", 3)
	v.SetDefault("partitions.retention_days", 0)
	v.SetDefault("partitions.interval", "1h")

	v.SetDefault("deadletter.backend", deadletter.BackendLog)
	v.SetDefault("deadletter.base_path", "/var/lib/logworker/deadletter")
	v.SetDefault("deadletter.nats_url", "nats://localhost:4222")
	v.SetDefault("deadletter.stream", "LOG_DEADLETTER")
	v.SetDefault("deadletter.subject_prefix", "logs.deadletter")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Load reads configuration. An empty configPath searches ./config.yaml
// and /etc/logworker/config.yaml; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/logworker")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate reports the first setting the worker cannot run with.
func (c *Config) Validate() error {
	if err := c.PipelineSettings().Validate(); err != nil {
		return err
	}

	b := c.Backpressure
	if b.Window < 1 {
		return fmt.Errorf("backpressure.window must be positive, got %d", b.Window)
	}
	if b.ElevatedThreshold <= 0 || b.CriticalThreshold <= b.ElevatedThreshold {
		return fmt.Errorf("backpressure thresholds must satisfy 0 < elevated (%s) < critical (%s)",
			b.ElevatedThreshold, b.CriticalThreshold)
	}
	if b.ElevatedDelay < 0 || b.CriticalDelay < b.ElevatedDelay {
		return fmt.Errorf("backpressure delays must satisfy 0 <= elevated (%s) <= critical (%s)",
			b.ElevatedDelay, b.CriticalDelay)
	}

	if c.Stream.Key == "" {
		return errors.New("stream.key is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	switch c.DeadLetter.Backend {
	case deadletter.BackendLog:
	case deadletter.BackendFile:
		if c.DeadLetter.BasePath == "" {
			return errors.New("deadletter.base_path is required for the file backend")
		}
	case deadletter.BackendJetStream:
		if c.DeadLetter.NATSURL == "" || c.DeadLetter.Stream == "" || c.DeadLetter.SubjectPrefix == "" {
			return errors.New("deadletter.nats_url, stream and subject_prefix are required for the jetstream backend")
		}
	default:
		return fmt.Errorf("unknown deadletter.backend %q", c.DeadLetter.Backend)
	}

	if c.Partitions.Enabled && c.Partitions.PremakeDays < 0 {
		return fmt.Errorf("partitions.premake_days must not be negative, got %d", c.Partitions.PremakeDays)
	}
	return nil
}

// PipelineSettings maps the configuration onto pipeline tunables.
func (c *Config) PipelineSettings() pipeline.Config {
	return pipeline.Config{
		Group:            c.Stream.Group,
		ConsumerName:     c.Stream.Consumer,
		Consumers:        c.Stream.Consumers,
		BatchSize:        c.Pipeline.BatchSize,
		BufferMaxSize:    c.Pipeline.BufferMaxSize,
		FlushInterval:    c.Pipeline.FlushInterval,
		RetryInterval:    c.Pipeline.RetryInterval,
		MaxRetries:       c.Pipeline.MaxRetries,
		ReclaimInterval:  c.Reclaim.Interval,
		ReclaimIdle:      c.Reclaim.IdleThreshold,
		ReclaimBatchSize: c.Reclaim.BatchSize,
		StoreTimeout:     c.Pipeline.StoreTimeout,
		ShutdownTimeout:  c.Pipeline.ShutdownTimeout,
	}
}

// BackpressureSettings maps the configuration onto the controller's.
func (c *Config) BackpressureSettings() backpressure.Config {
	return backpressure.Config{
		Window:            c.Backpressure.Window,
		ElevatedThreshold: c.Backpressure.ElevatedThreshold,
		CriticalThreshold: c.Backpressure.CriticalThreshold,
		ElevatedDelay:     c.Backpressure.ElevatedDelay,
		CriticalDelay:     c.Backpressure.CriticalDelay,
	}
}

// BrokerSettings maps the configuration onto the broker's.
func (c *Config) BrokerSettings() broker.Config {
	return broker.Config{
		URL:       c.Redis.URL,
		Stream:    c.Stream.Key,
		ReadCount: c.Stream.ReadCount,
		Block:     c.Stream.Block,
		MaxLen:    c.Stream.MaxLen,
	}
}

// PoolSettings maps the configuration onto the store's pool sizing.
func (c *Config) PoolSettings() storage.PoolConfig {
	p := c.Database.Postgres
	return storage.PoolConfig{
		MaxConns:        p.MaxConns,
		MinConns:        p.MinConns,
		MaxConnLifetime: p.MaxConnLifetime,
		MaxConnIdleTime: p.MaxConnIdleTime,
	}
}

// PartitionSettings maps the configuration onto the partition manager's.
func (c *Config) PartitionSettings() storage.PartitionConfig {
	return storage.PartitionConfig{
		Enabled:       c.Partitions.Enabled,
		Premake:       c.Partitions.PremakeDays,
		RetentionDays: c.Partitions.RetentionDays,
		Interval:      c.Partitions.Interval,
	}
}

// ConnString builds a postgres:// URL from the individual settings.
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + strconv.Itoa(p.Port),
		Path:     "/" + p.Database,
		RawQuery: url.Values{"sslmode": []string{p.SSLMode}}.Encode(),
	}
	return u.String()
}
