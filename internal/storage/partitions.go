package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/logworker/internal/logging"
)

const partitionPrefix = "log_p"

// PartitionConfig controls daily partition maintenance of the log table.
type PartitionConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Premake is how many future days get a partition ahead of time.
	Premake int `mapstructure:"premake_days"`
	// RetentionDays drops partitions entirely older than this. Zero keeps everything.
	RetentionDays int           `mapstructure:"retention_days"`
	Interval      time.Duration `mapstructure:"interval"`
}

// PartitionManager creates upcoming daily partitions and drops expired ones.
type PartitionManager struct {
	pool   *pgxpool.Pool
	cfg    PartitionConfig
	logger *logging.Logger
	now    func() time.Time
}

func NewPartitionManager(pool *pgxpool.Pool, cfg PartitionConfig, logger *logging.Logger) *PartitionManager {
	if logger == nil {
		logger = logging.Default()
	}
	return &PartitionManager{
		pool:   pool,
		cfg:    cfg,
		logger: logger.WithComponent("partitions"),
		now:    time.Now,
	}
}

func partitionName(day time.Time) string {
	return partitionPrefix + day.UTC().Format("20060102")
}

func parsePartitionDay(name string) (time.Time, bool) {
	suffix, ok := strings.CutPrefix(name, partitionPrefix)
	if !ok {
		return time.Time{}, false
	}
	day, err := time.ParseInLocation("20060102", suffix, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// plannedDays returns today plus Premake following days.
func (m *PartitionManager) plannedDays() []time.Time {
	today := startOfDay(m.now())
	days := make([]time.Time, 0, m.cfg.Premake+1)
	for i := 0; i <= m.cfg.Premake; i++ {
		days = append(days, today.AddDate(0, 0, i))
	}
	return days
}

// expired reports whether a partition for day holds only rows older than retention.
func (m *PartitionManager) expired(day time.Time) bool {
	if m.cfg.RetentionDays <= 0 {
		return false
	}
	cutoff := startOfDay(m.now()).AddDate(0, 0, -m.cfg.RetentionDays)
	return !day.AddDate(0, 0, 1).After(cutoff)
}

// EnsurePartitions creates the planned partitions that don't exist yet and
// returns how many it created. Rows that already landed in log_default for a
// planned day are moved into the new partition. A day that fails is logged
// and skipped so the remaining days still get created; the failures are
// returned joined.
func (m *PartitionManager) EnsurePartitions(ctx context.Context) (int, error) {
	existing, err := m.Partitions(ctx)
	if err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(existing))
	for _, n := range existing {
		have[n] = true
	}

	created := 0
	var errs []error
	for _, day := range m.plannedDays() {
		name := partitionName(day)
		if have[name] {
			continue
		}
		moved, err := m.createPartition(ctx, name, day)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to create partition",
				"partition", name,
				logging.Error(err),
			)
			errs = append(errs, fmt.Errorf("failed to create partition %s: %w", name, err))
			continue
		}
		if moved > 0 {
			m.logger.InfoContext(ctx, "moved rows out of default partition",
				"partition", name,
				logging.Count(int(moved)),
			)
		}
		created++
	}
	return created, errors.Join(errs...)
}

// createPartition builds the day's table standalone, moves any matching rows
// out of log_default, and attaches it, all in one transaction. Attaching
// directly with PARTITION OF fails while log_default holds rows in range.
func (m *PartitionManager) createPartition(ctx context.Context, name string, day time.Time) (int64, error) {
	from, to := day, day.AddDate(0, 0, 1)
	ident := pgx.Identifier{name}.Sanitize()

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE %s (LIKE log INCLUDING DEFAULTS INCLUDING CONSTRAINTS)`, ident)); err != nil {
		return 0, fmt.Errorf("create table: %w", err)
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(`
		WITH moved AS (
			DELETE FROM log_default
			WHERE occurred_at >= $1 AND occurred_at < $2
			RETURNING *
		)
		INSERT INTO %s SELECT * FROM moved`, ident), from, to)
	if err != nil {
		return 0, fmt.Errorf("move default rows: %w", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`ALTER TABLE log ATTACH PARTITION %s FOR VALUES FROM ('%s') TO ('%s')`,
		ident,
		from.Format(time.RFC3339),
		to.Format(time.RFC3339),
	)); err != nil {
		return 0, fmt.Errorf("attach: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Partitions lists the daily partitions currently attached to log.
func (m *PartitionManager) Partitions(ctx context.Context) ([]string, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_class p ON p.oid = i.inhparent
		WHERE p.relname = 'log'
		ORDER BY c.relname`)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	out := names[:0]
	for _, n := range names {
		if _, ok := parsePartitionDay(n); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// DropExpired drops daily partitions past retention.
func (m *PartitionManager) DropExpired(ctx context.Context) ([]string, error) {
	if m.cfg.RetentionDays <= 0 {
		return nil, nil
	}

	names, err := m.Partitions(ctx)
	if err != nil {
		return nil, err
	}

	var dropped []string
	for _, name := range names {
		day, _ := parsePartitionDay(name)
		if !m.expired(day) {
			continue
		}
		if _, err := m.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{name}.Sanitize()); err != nil {
			return dropped, fmt.Errorf("failed to drop partition %s: %w", name, err)
		}
		dropped = append(dropped, name)
	}
	return dropped, nil
}

// Maintain runs one create-and-drop pass.
func (m *PartitionManager) Maintain(ctx context.Context) error {
	created, err := m.EnsurePartitions(ctx)
	if err != nil {
		return err
	}
	dropped, err := m.DropExpired(ctx)
	if err != nil {
		return err
	}
	if created > 0 || len(dropped) > 0 {
		m.logger.InfoContext(ctx, "partition maintenance complete",
			"created", created,
			"dropped", dropped,
		)
	}
	return nil
}

// Run calls Maintain immediately and then every Interval until ctx is done.
func (m *PartitionManager) Run(ctx context.Context) {
	interval := m.cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	if err := m.Maintain(ctx); err != nil {
		m.logger.ErrorContext(ctx, "partition maintenance failed", logging.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Maintain(ctx); err != nil && ctx.Err() == nil {
				m.logger.ErrorContext(ctx, "partition maintenance failed", logging.Error(err))
			}
		}
	}
}
