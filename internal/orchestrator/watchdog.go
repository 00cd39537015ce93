package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/metrics"
	"github.com/mainthread/mainthread/internal/store"
)

// RunWatchdog periodically recovers threads whose process died
// mid-turn: still marked running but untouched for longer than the
// agent timeout plus a grace period. Blocks until ctx is cancelled.
func (o *Orchestrator) RunWatchdog(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.watchdogSweep(ctx)
		}
	}
}

func (o *Orchestrator) watchdogSweep(ctx context.Context) {
	threads, err := o.store.ThreadsInStatus(ctx, store.StatusRunning)
	if err != nil {
		o.log.Warn("watchdog scan failed", "error", err)
		return
	}

	cutoff := o.cfg.AgentTimeout + o.cfg.WatchdogGrace
	for _, th := range threads {
		elapsed := time.Since(th.UpdatedAt)
		if elapsed <= cutoff {
			continue
		}

		o.log.Warn("recovering stalled thread", "thread_id", th.ID,
			"idle", elapsed.Round(time.Second))
		metrics.WatchdogRecoveriesTotal.Inc()

		if err := o.store.UpdateThreadStatus(ctx, th.ID, store.StatusNeedsAttention); err != nil {
			o.log.Warn("watchdog status update failed", "thread_id", th.ID, "error", err)
			continue
		}
		o.publish(ctx, th.ID, event.TypeError, event.Error{
			Error: fmt.Sprintf(
				"Process appears to have died (stuck in '%s' for %ds). You can retry by sending a new message.",
				th.Status, int(elapsed.Seconds())),
		})
		o.publish(ctx, th.ID, event.TypeStatusChange, event.StatusChange{Status: store.StatusNeedsAttention})

		if th.ParentID != nil {
			o.publish(ctx, *th.ParentID, event.TypeSubthreadStatus, event.SubthreadStatus{
				ThreadID: th.ID,
				Title:    th.Title,
				Status:   store.StatusNeedsAttention,
				Reason:   "process died mid-execution",
			})
			o.notifyParent(ctx, *th.ParentID,
				"[notification] Sub-thread \""+th.Title+"\" needs attention.")
		}
	}
}
