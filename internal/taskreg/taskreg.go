// Package taskreg tracks the one running agent task per thread so a
// new turn or a stop request can cancel its predecessor.
package taskreg

import (
	"context"
	"sync"
)

type task struct {
	cancel context.CancelFunc
}

// Registry maps thread id to its running task. All methods are safe
// for concurrent use.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*task
}

func New() *Registry {
	return &Registry{tasks: make(map[string]*task)}
}

// Begin registers a new task for the thread, cancelling any task that
// was still registered. It returns the task context and a release
// function the caller must invoke when the task ends; release is
// idempotent and leaves newer registrations untouched.
func (r *Registry) Begin(parent context.Context, threadID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	t := &task{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.tasks[threadID]; ok {
		prev.cancel()
	}
	r.tasks[threadID] = t
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		if r.tasks[threadID] == t {
			delete(r.tasks, threadID)
		}
		r.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// Stop cancels the thread's running task. Returns false when nothing
// was running.
func (r *Registry) Stop(threadID string) bool {
	r.mu.Lock()
	t, ok := r.tasks[threadID]
	if ok {
		delete(r.tasks, threadID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	t.cancel()
	return true
}

// StopAll cancels every running task. Used on shutdown and on the
// reset-all operation.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	tasks := r.tasks
	r.tasks = make(map[string]*task)
	r.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	return len(tasks)
}

// Running reports whether the thread has a registered task.
func (r *Registry) Running(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[threadID]
	return ok
}

// Count returns the number of registered tasks.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
