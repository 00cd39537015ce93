// Package bus fans out thread events to live subscribers. Every
// published event is persisted through the store first, so subscribers
// can replay from any sequence number they last saw, across process
// restarts.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/id"
	"github.com/mainthread/mainthread/internal/metrics"
	"github.com/mainthread/mainthread/internal/store"
)

const subscriberBuffer = 64

// Subscriber is one live stream consumer. Events arrive on C in seq
// order. The channel is closed when the subscriber overflows, the
// thread is closed, or Unsubscribe is called.
type Subscriber struct {
	token    string
	threadID string
	ch       chan event.Envelope
	// Highest seq delivered (or present in the backlog at subscribe
	// time). Fan-out skips anything at or below it, so an event that
	// lands between backlog load and registration is never duplicated.
	lastSeq int64
	closed  bool
}

// C returns the channel that receives live events.
func (s *Subscriber) C() <-chan event.Envelope {
	return s.ch
}

// Token identifies the subscriber in logs.
func (s *Subscriber) Token() string {
	return s.token
}

// Bus is the per-thread pub/sub hub. All methods are safe for
// concurrent use.
type Bus struct {
	store *store.Store
	log   *slog.Logger

	mu   sync.Mutex
	subs map[string]map[*Subscriber]struct{}
}

func New(st *store.Store, log *slog.Logger) *Bus {
	return &Bus{
		store: st,
		log:   log.With("component", "bus"),
		subs:  make(map[string]map[*Subscriber]struct{}),
	}
}

// Publish persists an event and forwards it to every current
// subscriber of the thread. Never blocks on a slow subscriber: a full
// buffer closes that subscriber only.
func (b *Bus) Publish(ctx context.Context, threadID, eventType string, payload any) (int64, error) {
	data := event.Marshal(payload)
	seq, err := b.store.AppendEvent(ctx, threadID, eventType, data)
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", eventType, err)
	}
	metrics.EventsPublishedTotal.WithLabelValues(eventType).Inc()

	env := event.Envelope{ThreadID: threadID, Seq: seq, Type: eventType, Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[threadID] {
		if seq <= sub.lastSeq {
			continue
		}
		select {
		case sub.ch <- env:
			sub.lastSeq = seq
		default:
			// Subscriber can't keep up. Closing it beats stalling the
			// turn or silently losing a mid-stream event.
			b.log.Warn("subscriber overflow, closing", "thread_id", threadID, "subscriber", sub.token)
			metrics.SubscribersOverflowedTotal.Inc()
			b.removeLocked(threadID, sub)
		}
	}
	return seq, nil
}

// Subscribe registers a stream consumer. The returned backlog holds a
// synthetic connected event followed by every stored event with
// seq > sinceSeq; live events follow on the subscriber's channel.
func (b *Bus) Subscribe(ctx context.Context, threadID string, sinceSeq int64) (*Subscriber, []event.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, err := b.store.EventsSince(ctx, threadID, sinceSeq)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	backlog := make([]event.Envelope, 0, len(stored)+1)
	backlog = append(backlog, event.Envelope{
		ThreadID: threadID,
		Type:     event.TypeConnected,
		Data:     event.Marshal(event.Connected{ThreadID: threadID}),
	})
	lastSeq := sinceSeq
	for _, e := range stored {
		backlog = append(backlog, event.Envelope{ThreadID: e.ThreadID, Seq: e.Seq, Type: e.Type, Data: e.Data})
		lastSeq = e.Seq
	}

	sub := &Subscriber{
		token:    id.Token(),
		threadID: threadID,
		ch:       make(chan event.Envelope, subscriberBuffer),
		lastSeq:  lastSeq,
	}
	if b.subs[threadID] == nil {
		b.subs[threadID] = make(map[*Subscriber]struct{})
	}
	b.subs[threadID][sub] = struct{}{}
	metrics.SubscribersActive.Inc()

	return sub, backlog, nil
}

// Unsubscribe removes a subscriber and closes its channel. Safe to
// call multiple times.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub.threadID, sub)
}

// CloseThread sends a terminal shutdown event to every subscriber of
// the thread and deregisters them. Used on archive.
func (b *Bus) CloseThread(threadID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	shutdown := event.Envelope{
		ThreadID: threadID,
		Type:     event.TypeShutdown,
		Data:     event.Marshal(struct{}{}),
	}
	for sub := range b.subs[threadID] {
		select {
		case sub.ch <- shutdown:
		default:
		}
		b.removeLocked(threadID, sub)
	}
}

// Shutdown closes every subscriber of every thread.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.subs))
	for threadID := range b.subs {
		ids = append(ids, threadID)
	}
	b.mu.Unlock()

	for _, threadID := range ids {
		b.CloseThread(threadID)
	}
}

// SubscriberCount reports live subscribers of a thread.
func (b *Bus) SubscriberCount(threadID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[threadID])
}

func (b *Bus) removeLocked(threadID string, sub *Subscriber) {
	ws, ok := b.subs[threadID]
	if !ok {
		return
	}
	if _, ok := ws[sub]; !ok {
		return
	}
	delete(ws, sub)
	if len(ws) == 0 {
		delete(b.subs, threadID)
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
		metrics.SubscribersActive.Dec()
	}
}
