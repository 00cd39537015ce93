package orchestrator

import (
	"context"
	"time"

	"github.com/mainthread/mainthread/internal/metrics"
)

// RunHousekeeper periodically trims events past the retention window.
// Trimming never renumbers; reconnecting clients skip the purged gap.
// Blocks until ctx is cancelled.
func (o *Orchestrator) RunHousekeeper(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.HousekeepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := o.store.TrimEventsOlderThan(ctx, o.cfg.EventRetention)
			if err != nil {
				o.log.Warn("event trim failed", "error", err)
				continue
			}
			if n > 0 {
				o.log.Info("trimmed old events", "count", n, "retention", o.cfg.EventRetention)
				metrics.EventsTrimmedTotal.Add(float64(n))
			}
		}
	}
}
