package pipeline

import (
	"context"
	"time"

	"github.com/telhawk-systems/logworker/internal/logging"
	"github.com/telhawk-systems/logworker/internal/mapper"
	"github.com/telhawk-systems/logworker/internal/metrics"
	"github.com/telhawk-systems/logworker/internal/models"
)

const sourceReclaim = "reclaim"

// Reclaimer takes over pending broker entries that nobody has acknowledged
// within the idle threshold, typically because their consumer died.
type Reclaimer struct {
	broker    Broker
	intake    *Intake
	owned     *Ownership
	group     string
	consumer  string
	idle      time.Duration
	batchSize int64
	logger    *logging.Logger
}

// ReclaimConfig configures a Reclaimer.
type ReclaimConfig struct {
	Group string
	// Consumer is the name claimed entries are assigned to.
	Consumer      string
	IdleThreshold time.Duration
	BatchSize     int64
}

func NewReclaimer(cfg ReclaimConfig, broker Broker, intake *Intake, owned *Ownership, logger *logging.Logger) *Reclaimer {
	return &Reclaimer{
		broker:    broker,
		intake:    intake,
		owned:     owned,
		group:     cfg.Group,
		consumer:  cfg.Consumer,
		idle:      cfg.IdleThreshold,
		batchSize: cfg.BatchSize,
		logger:    logger.WithComponent("reclaimer"),
	}
}

// ReclaimOnce pages through the pending list and moves stalled entries into
// the buffer, stopping once BatchSize entries were admitted, the buffer is
// full, or the list is exhausted. Entries that are malformed or owned here
// don't count toward the limit, so they can't hide stalled entries behind
// them. It returns how many entries were admitted.
func (r *Reclaimer) ReclaimOnce(ctx context.Context) (int, error) {
	admitted := 0
	cursor := ""
	for ctx.Err() == nil {
		pending, next, err := r.broker.PendingSince(ctx, r.group, r.idle, cursor, r.batchSize)
		if err != nil {
			r.report(ctx, admitted)
			return admitted, err
		}

		n, full, err := r.reclaimPage(ctx, pending)
		admitted += n
		if err != nil {
			r.report(ctx, admitted)
			return admitted, err
		}
		if full || next == "" || int64(admitted) >= r.batchSize {
			break
		}
		cursor = next
	}
	r.report(ctx, admitted)
	return admitted, nil
}

// reclaimPage claims the stalled entries of one page. full reports that the
// buffer refused an entry.
func (r *Reclaimer) reclaimPage(ctx context.Context, pending []PendingEntry) (admitted int, full bool, err error) {
	deliveries := make(map[string]int64, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		// Entries already inside this worker are not stalled, just slow.
		if p.Idle < r.idle || r.owned.Owns(p.ID) {
			continue
		}
		deliveries[p.ID] = p.Deliveries
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return 0, false, nil
	}

	claimed, err := r.broker.Claim(ctx, r.group, r.consumer, r.idle, ids...)
	if err != nil {
		return 0, false, err
	}

	now := time.Now().UTC()
	for _, msg := range claimed {
		rec, err := mapper.FromStreamValues(msg.ID, msg.Values, now)
		if err != nil {
			// Left pending; only the ID is logged so payloads don't leak.
			metrics.MalformedMessages.WithLabelValues(sourceReclaim).Inc()
			r.logger.WarnContext(ctx, "skipping unconvertible pending message",
				logging.MessageID(msg.ID),
				logging.Error(err),
			)
			continue
		}

		item := BufferedItem{
			Record: rec,
			Handle: &models.DeliveryHandle{MessageID: msg.ID, Deliveries: deliveries[msg.ID] + 1},
		}
		if r.intake.Admit(item, sourceReclaim) != Accepted {
			full = true
			continue
		}
		admitted++
	}
	return admitted, full, nil
}

func (r *Reclaimer) report(ctx context.Context, admitted int) {
	if admitted == 0 {
		return
	}
	metrics.Reclaimed.Add(float64(admitted))
	r.logger.InfoContext(ctx, "reclaimed stalled messages",
		logging.Count(admitted),
		logging.Consumer(r.consumer),
	)
}

// Run calls ReclaimOnce every interval until ctx is done.
func (r *Reclaimer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReclaimOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "reclaim pass failed", logging.Error(err))
			}
		}
	}
}
