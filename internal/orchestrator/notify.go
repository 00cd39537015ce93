package orchestrator

import (
	"sync"

	"github.com/mainthread/mainthread/internal/engine"
	"github.com/mainthread/mainthread/internal/metrics"
)

// scheduler runs queued notification turns, one worker per thread,
// strictly in enqueue order. Workers are created lazily and exit when
// their queue drains.
type scheduler struct {
	o *Orchestrator

	mu      sync.Mutex
	queues  map[string][]string
	running map[string]bool
	done    bool
	wg      sync.WaitGroup
}

func newScheduler(o *Orchestrator) *scheduler {
	return &scheduler{
		o:       o,
		queues:  make(map[string][]string),
		running: make(map[string]bool),
	}
}

// enqueue appends a notification for the thread and ensures a worker
// is draining its queue.
func (s *scheduler) enqueue(threadID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}

	s.queues[threadID] = append(s.queues[threadID], text)
	metrics.NotificationQueueDepth.Inc()

	if !s.running[threadID] {
		s.running[threadID] = true
		s.wg.Add(1)
		go s.work(threadID)
	}
}

// work drains one thread's queue. At most one notification turn is
// in flight per thread; failures are already reflected on the thread
// stream by the engine, so they are only logged here.
func (s *scheduler) work(threadID string) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		queue := s.queues[threadID]
		if len(queue) == 0 || s.done {
			s.running[threadID] = false
			delete(s.queues, threadID)
			s.mu.Unlock()
			return
		}
		text := queue[0]
		s.queues[threadID] = queue[1:]
		s.mu.Unlock()
		metrics.NotificationQueueDepth.Dec()

		// The notification message is already persisted on the thread.
		if _, err := s.o.runTurn(s.o.appCtx, threadID, text, engine.TurnOptions{
			BroadcastStatus:    true,
			SkipAddUserMessage: true,
		}); err != nil {
			s.o.log.Warn("notification turn failed", "thread_id", threadID, "error", err)
		}
	}
}

// cancel drops a thread's queued notifications. Its in-flight turn, if
// any, is cancelled separately through the task registry.
func (s *scheduler) cancel(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.queues[threadID]); n > 0 {
		metrics.NotificationQueueDepth.Sub(float64(n))
	}
	delete(s.queues, threadID)
}

// shutdown stops accepting work and waits for in-flight turns.
func (s *scheduler) shutdown() {
	s.mu.Lock()
	s.done = true
	for id, q := range s.queues {
		metrics.NotificationQueueDepth.Sub(float64(len(q)))
		delete(s.queues, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
