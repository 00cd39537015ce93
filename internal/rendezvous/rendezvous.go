// Package rendezvous parks an agent turn on an interactive prompt
// (question or plan approval) until the user's answer arrives over the
// API, or the prompt times out.
package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mainthread/mainthread/internal/id"
)

// ErrAlreadyPending is returned when a thread already has an
// outstanding prompt. At most one prompt may be pending per thread.
var ErrAlreadyPending = errors.New("prompt already pending for thread")

// slot is one pending prompt. The token ties the await, resolve, and
// timeout log lines of a single prompt together.
type slot struct {
	token string
	ch    chan json.RawMessage
}

// Rendezvous holds at most one pending prompt slot per thread.
type Rendezvous struct {
	log *slog.Logger

	mu    sync.Mutex
	slots map[string]*slot
}

func New(log *slog.Logger) *Rendezvous {
	return &Rendezvous{
		log:   log.With("component", "rendezvous"),
		slots: make(map[string]*slot),
	}
}

// AwaitResponse installs a prompt slot for the thread and blocks until
// Resolve fires it, the timeout elapses, or ctx is cancelled. A nil
// response with nil error means the prompt timed out or was cleared.
// The slot is removed before returning.
func (r *Rendezvous) AwaitResponse(ctx context.Context, threadID string, timeout time.Duration) (json.RawMessage, error) {
	r.mu.Lock()
	if _, ok := r.slots[threadID]; ok {
		r.mu.Unlock()
		return nil, ErrAlreadyPending
	}
	s := &slot{token: id.Token(), ch: make(chan json.RawMessage, 1)}
	r.slots[threadID] = s
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		// Only remove our own slot; Resolve may have raced a removal
		// followed by a fresh AwaitResponse.
		if r.slots[threadID] == s {
			delete(r.slots, threadID)
		}
		r.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-s.ch:
		return resp, nil
	case <-timer.C:
		r.log.Info("prompt timed out", "thread_id", threadID, "prompt", s.token, "timeout", timeout)
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve delivers the user's response to a waiting prompt. A response
// with no matching slot (late answer, already timed out) is logged and
// dropped.
func (r *Rendezvous) Resolve(threadID string, response json.RawMessage) {
	r.mu.Lock()
	s, ok := r.slots[threadID]
	if ok {
		delete(r.slots, threadID)
	}
	r.mu.Unlock()

	if !ok {
		r.log.Warn("dropping response with no pending prompt", "thread_id", threadID)
		return
	}
	r.log.Debug("prompt resolved", "thread_id", threadID, "prompt", s.token)
	s.ch <- response
}

// Clear releases a waiting prompt with no response. Used when the
// thread is archived or stopped mid-prompt. No-op when nothing is
// pending.
func (r *Rendezvous) Clear(threadID string) {
	r.mu.Lock()
	s, ok := r.slots[threadID]
	if ok {
		delete(r.slots, threadID)
	}
	r.mu.Unlock()

	if ok {
		s.ch <- nil
	}
}

// HasPending reports whether the thread has an outstanding prompt.
func (r *Rendezvous) HasPending(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.slots[threadID]
	return ok
}
