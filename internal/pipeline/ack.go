package pipeline

import (
	"context"

	"github.com/telhawk-systems/logworker/internal/logging"
	"github.com/telhawk-systems/logworker/internal/metrics"
)

// settle acknowledges the broker entries behind items and gives up local
// ownership of them. An ack failure is logged only; the entries stay pending
// and the reclaimer will eventually redeliver them, which the store absorbs
// through its identity conflict handling.
func settle(ctx context.Context, acker Acknowledger, group string, owned *Ownership, items []BufferedItem, logger *logging.Logger) {
	ids := messageIDs(items)
	if len(ids) == 0 {
		return
	}
	defer owned.Release(ids...)

	if err := acker.Ack(ctx, group, ids...); err != nil {
		metrics.AckErrors.Inc()
		logger.ErrorContext(ctx, "failed to acknowledge messages",
			logging.Count(len(ids)),
			logging.Error(err),
		)
	}
}
