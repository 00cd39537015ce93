package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/store"
)

// rateLimiter enforces a per-key sliding-window message cap with an
// ordered ring of send timestamps.
type rateLimiter struct {
	limit  int
	window time.Duration

	mu    sync.Mutex
	sends map[string][]time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window, sends: make(map[string][]time.Time)}
}

func (r *rateLimiter) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	ring := r.sends[key]
	// Drop timestamps that fell out of the window; the ring is
	// append-ordered, so the cut point is a prefix.
	cut := 0
	for cut < len(ring) && now.Sub(ring[cut]) > r.window {
		cut++
	}
	ring = ring[cut:]

	if len(ring) >= r.limit {
		r.sends[key] = ring
		return false
	}
	r.sends[key] = append(ring, now)
	return true
}

// SendToThread lets a thread deliver a message to one of its own
// children. Fire-and-forget: the message is persisted and the child's
// turn is scheduled before returning.
func (o *Orchestrator) SendToThread(ctx context.Context, sourceID, targetID, message string) error {
	target, err := o.store.GetThread(ctx, targetID)
	if err != nil {
		return err
	}
	if target.ParentID == nil || *target.ParentID != sourceID {
		return fmt.Errorf("%w: %s", ErrNotChild, targetID)
	}
	if target.ArchivedAt != nil {
		return fmt.Errorf("%w: target thread is archived", store.ErrValidation)
	}

	if !o.limiter.allow(sourceID) {
		return fmt.Errorf("%w: at most %d messages per %s", ErrRateLimited, o.cfg.SendRateLimit, o.cfg.SendRateWindow)
	}

	msg, err := o.store.AddMessage(ctx, targetID, store.RoleUser, message, nil)
	if err != nil {
		return err
	}
	o.publish(ctx, targetID, event.TypeMessage, event.Message{Message: msg})

	// The notifier serialises turns per thread, so messages sent while
	// the child is busy run strictly in order.
	o.notifier.enqueue(targetID, message)
	return nil
}
