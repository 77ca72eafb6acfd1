// Package storage persists log records in PostgreSQL.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/logworker/internal/models"
	"github.com/telhawk-systems/logworker/internal/pipeline"
)

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// DefaultPoolConfig returns the pool sizing used when none is configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        25,
		MinConns:        2,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: time.Minute,
	}
}

var logColumns = []string{
	"log_id", "project_id", "session_id", "user_id", "severity", "body",
	"occurred_at", "ingested_at", "trace_id", "span_id", "fingerprint",
	"resource", "attributes",
}

const insertFromStaging = `
INSERT INTO log (log_id, project_id, session_id, user_id, severity, body,
                 occurred_at, ingested_at, trace_id, span_id, fingerprint,
                 resource, attributes)
SELECT log_id, project_id, session_id, user_id, severity, body,
       occurred_at, ingested_at, trace_id, span_id, fingerprint,
       resource, attributes
FROM log_staging
ON CONFLICT (log_id, occurred_at) DO NOTHING`

// PostgresStore writes batches of records into the log table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ pipeline.Store = (*PostgresStore)(nil)

// NewPostgresStore opens a pool and verifies the connection.
func NewPostgresStore(ctx context.Context, connString string, cfg PoolConfig) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		config.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying pool.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// BatchInsert writes records in one transaction. Rows are bulk copied into
// a transaction-scoped staging table and moved into log with conflicting
// identities skipped, so replaying a batch is harmless.
func (s *PostgresStore) BatchInsert(ctx context.Context, records []models.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`CREATE TEMPORARY TABLE log_staging (LIKE log INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
			return fmt.Errorf("failed to create staging table: %w", err)
		}

		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"log_staging"}, logColumns, copySource(records)); err != nil {
			return fmt.Errorf("failed to copy records: %w", err)
		}

		if _, err := tx.Exec(ctx, insertFromStaging); err != nil {
			return fmt.Errorf("failed to insert records: %w", err)
		}
		return nil
	})
}

func copySource(records []models.LogRecord) pgx.CopyFromSource {
	return pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
		r := records[i]
		return []any{
			pgtype.UUID{Bytes: r.LogID, Valid: true},
			r.ProjectID,
			r.SessionID,
			nullable(r.UserID),
			r.Severity,
			r.Body,
			r.OccurredAt,
			r.IngestedAt,
			nullable(r.TraceID),
			nullable(r.SpanID),
			nullable(r.Fingerprint),
			orEmpty(r.Resource),
			orEmpty(r.Attributes),
		}, nil
	})
}

func nullable(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Count returns the number of stored records.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
