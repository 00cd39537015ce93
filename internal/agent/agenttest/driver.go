// Package agenttest provides a scripted fake driver for engine and
// orchestrator tests.
package agenttest

import (
	"context"
	"sync"

	"github.com/mainthread/mainthread/internal/agent"
)

// Attempt scripts one driver invocation: the events to emit followed
// by the error to return.
type Attempt struct {
	Events []agent.Event
	Err    error
}

// Driver replays scripted attempts in order. When invoked more times
// than scripted, it repeats the last attempt. The zero value emits
// nothing and returns nil.
type Driver struct {
	mu          sync.Mutex
	attempts    []Attempt
	invocations []agent.Invocation

	// BlockUntilCancel makes Run park after emitting its events until
	// the context is cancelled, returning ctx.Err(). Used for stop and
	// timeout tests.
	BlockUntilCancel bool
}

func New(attempts ...Attempt) *Driver {
	return &Driver{attempts: attempts}
}

func (d *Driver) Run(ctx context.Context, inv agent.Invocation, emit func(agent.Event)) error {
	d.mu.Lock()
	n := len(d.invocations)
	d.invocations = append(d.invocations, inv)
	var attempt Attempt
	if len(d.attempts) > 0 {
		attempt = d.attempts[min(n, len(d.attempts)-1)]
	}
	d.mu.Unlock()

	for _, ev := range attempt.Events {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		emit(ev)
	}

	if d.BlockUntilCancel {
		<-ctx.Done()
		return ctx.Err()
	}
	return attempt.Err
}

// Invocations returns a copy of every recorded invocation.
func (d *Driver) Invocations() []agent.Invocation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]agent.Invocation, len(d.invocations))
	copy(out, d.invocations)
	return out
}

// Calls returns how many times Run was invoked.
func (d *Driver) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.invocations)
}
