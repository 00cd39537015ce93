// Package engine runs agent turns: admission, driver streaming,
// retry with session resumption, and final status classification.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"

	"github.com/mainthread/mainthread/internal/agent"
	"github.com/mainthread/mainthread/internal/bus"
	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/metrics"
	"github.com/mainthread/mainthread/internal/store"
	"github.com/mainthread/mainthread/internal/taskreg"
)

// Sentinel outcomes the façade maps to distinct HTTP statuses.
var (
	ErrStopped = errors.New("turn stopped")
	ErrTimeout = errors.New("agent execution timed out")
)

const continuationPrompt = "Your previous execution was interrupted. Please continue where you left off and complete the task."

// Config bounds a turn's execution.
type Config struct {
	// MaxConcurrent caps simultaneously running agents across all
	// threads.
	MaxConcurrent int64
	// AgentTimeout is the hard per-attempt wall-clock limit.
	AgentTimeout time.Duration
	// MaxRetries is the number of additional attempts after a broken
	// stream.
	MaxRetries int
	// RetryDelay is the pause before each retry.
	RetryDelay time.Duration
}

// DefaultConfig matches the documented defaults: 10 concurrent agents,
// 1800 s timeout, 2 retries 3 s apart.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 10,
		AgentTimeout:  1800 * time.Second,
		MaxRetries:    2,
		RetryDelay:    3 * time.Second,
	}
}

// TurnOptions modulate a single RunTurn call.
type TurnOptions struct {
	Images []agent.Image
	// BroadcastStatus controls the status_change{running} event at
	// turn start.
	BroadcastStatus bool
	// SkipAddUserMessage is set when the caller already persisted the
	// prompt as a message (send path, notifications, spawn).
	SkipAddUserMessage bool
}

// TurnResult reports how a successful turn ended.
type TurnResult struct {
	// Status is the classified final status already persisted on the
	// thread.
	Status store.Status
	// Signalled is true when the agent called SignalStatus explicitly;
	// the parent was then already notified through the tool pathway.
	Signalled bool
	// AssistantMessage is the final aggregated assistant message.
	AssistantMessage *store.Message
}

// Engine executes turns against the configured driver.
type Engine struct {
	store  *store.Store
	bus    *bus.Bus
	tasks  *taskreg.Registry
	driver agent.Driver
	sem    *semaphore.Weighted
	cfg    Config
	log    *slog.Logger
}

func New(st *store.Store, b *bus.Bus, tasks *taskreg.Registry, driver agent.Driver, cfg Config, log *slog.Logger) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Engine{
		store:  st,
		bus:    b,
		tasks:  tasks,
		driver: driver,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		cfg:    cfg,
		log:    log.With("component", "engine"),
	}
}

// RunTurn executes one agent turn on the thread. It blocks until the
// turn ends; callers that need fire-and-forget run it in a goroutine.
// The context should be app-scoped: a new turn or an explicit stop
// cancels the previous one through the task registry.
func (e *Engine) RunTurn(ctx context.Context, threadID, prompt string, opts TurnOptions) (*TurnResult, error) {
	thread, err := e.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	turnCtx, release := e.tasks.Begin(ctx, threadID)
	defer release()

	if !opts.SkipAddUserMessage {
		if _, err := e.store.AddMessage(turnCtx, threadID, store.RoleUser, prompt, nil); err != nil {
			return nil, err
		}
	}

	// Seed the assistant message; the stream rewrites it as events
	// arrive.
	seed, err := e.store.AddMessage(turnCtx, threadID, store.RoleAssistant, "", nil)
	if err != nil {
		return nil, err
	}
	ms := newMessageStream(e.store, e.bus, e.log, thread, seed.ID)

	if !e.sem.TryAcquire(1) {
		e.publish(turnCtx, threadID, event.TypeQueueWaiting,
			event.QueueWaiting{Message: "Waiting for an execution slot..."})
		if err := e.sem.Acquire(turnCtx, 1); err != nil {
			return nil, e.onStopped(context.WithoutCancel(turnCtx), threadID)
		}
	}
	defer e.sem.Release(1)
	e.publish(turnCtx, threadID, event.TypeQueueAcquired, struct{}{})

	metrics.RunningAgents.Inc()
	defer metrics.RunningAgents.Dec()

	if err := e.store.UpdateThreadStatus(turnCtx, threadID, store.StatusRunning); err != nil {
		return nil, err
	}
	if opts.BroadcastStatus {
		e.publish(turnCtx, threadID, event.TypeStatusChange, event.StatusChange{Status: store.StatusRunning})
	}

	start := time.Now()
	result, err := e.attemptLoop(turnCtx, thread, ms, prompt, opts.Images)
	outcome := "success"
	switch {
	case errors.Is(err, ErrStopped):
		outcome = "stopped"
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
	return result, err
}

// attemptLoop drives the agent with bounded retries. Each failed
// attempt keeps its partial aggregate; the next attempt resumes the
// session with a continuation prompt.
func (e *Engine) attemptLoop(turnCtx context.Context, thread *store.Thread, ms *messageStream, prompt string, images []agent.Image) (*TurnResult, error) {
	// Escalation paths still persist and publish after turnCtx is
	// cancelled.
	bgCtx := context.WithoutCancel(turnCtx)
	bo := backoff.NewConstantBackOff(e.cfg.RetryDelay)
	sessionID := ""
	if thread.SessionID != nil {
		sessionID = *thread.SessionID
	}
	workDir := ""
	if thread.WorkDir != nil {
		workDir = *thread.WorkDir
	}

	for attempt := 0; ; attempt++ {
		inv := agent.Invocation{
			ThreadID:         thread.ID,
			Prompt:           prompt,
			Images:           images,
			SessionID:        sessionID,
			Model:            thread.Model,
			PermissionMode:   thread.PermissionMode,
			ExtendedThinking: thread.ExtendedThinking,
			WorkDir:          workDir,
		}

		attemptCtx, cancel := context.WithTimeout(turnCtx, e.cfg.AgentTimeout)
		err := e.driver.Run(attemptCtx, inv, func(ev agent.Event) {
			ms.Apply(attemptCtx, ev)
		})
		timedOut := attemptCtx.Err() == context.DeadlineExceeded && turnCtx.Err() == nil
		cancel()

		if ms.sessionID != "" {
			sessionID = ms.sessionID
		}

		switch {
		case turnCtx.Err() != nil:
			return nil, e.onStopped(bgCtx, thread.ID)

		case timedOut:
			return nil, e.onTimeout(bgCtx, thread.ID, ms)

		case err == nil:
			return e.onSuccess(turnCtx, thread, ms, sessionID)
		}

		// Broken stream. Keep what we have, then retry or escalate.
		e.saveProgress(bgCtx, thread.ID, sessionID)

		if attempt >= e.cfg.MaxRetries {
			e.publish(bgCtx, thread.ID, event.TypeError, event.Error{Error: err.Error()})
			e.setStatus(bgCtx, thread.ID, store.StatusNeedsAttention)
			return nil, fmt.Errorf("turn failed after %d attempts: %w", attempt+1, err)
		}

		metrics.TurnRetriesTotal.Inc()
		e.log.Warn("agent stream broke, retrying",
			"thread_id", thread.ID, "attempt", attempt+1, "error", err)

		select {
		case <-time.After(bo.NextBackOff()):
		case <-turnCtx.Done():
			return nil, e.onStopped(bgCtx, thread.ID)
		}

		// attempt is the index of the failed attempt; the note names the
		// one about to start, so the first retry reads "attempt 2".
		retryNote := fmt.Sprintf(
			"[system] Previous execution was interrupted (%s). Automatically retrying with session resumption (attempt %d).",
			err.Error(), attempt+2)
		msg, addErr := e.store.AddMessage(bgCtx, thread.ID, store.RoleSystem, retryNote, nil)
		if addErr != nil {
			e.log.Warn("failed to record retry message", "thread_id", thread.ID, "error", addErr)
		} else {
			e.publish(bgCtx, thread.ID, event.TypeMessage, event.Message{Message: msg})
		}

		prompt = continuationPrompt
		images = nil
	}
}

func (e *Engine) onSuccess(ctx context.Context, thread *store.Thread, ms *messageStream, sessionID string) (*TurnResult, error) {
	ms.Finalize(ctx)

	status := agent.ClassifyStatus(ms.Blocks(), ms.Text())
	_, signalled := agent.ExplicitSignal(ms.Blocks())

	if err := e.store.UpdateThreadStatus(ctx, thread.ID, status); err != nil {
		return nil, err
	}
	if sessionID != "" {
		if err := e.store.UpdateThreadSession(ctx, thread.ID, sessionID); err != nil {
			e.log.Warn("failed to persist session", "thread_id", thread.ID, "error", err)
		}
	}

	msg := &store.Message{
		ID:            ms.messageID,
		ThreadID:      thread.ID,
		Role:          store.RoleAssistant,
		Content:       ms.Text(),
		ContentBlocks: event.MarshalBlocks(ms.Blocks()),
	}
	e.publish(ctx, thread.ID, event.TypeComplete, event.Complete{AssistantMessage: msg, Status: status})

	return &TurnResult{Status: status, Signalled: signalled, AssistantMessage: msg}, nil
}

func (e *Engine) onStopped(ctx context.Context, threadID string) error {
	e.setStatus(ctx, threadID, store.StatusActive)
	e.publish(ctx, threadID, event.TypeStopped, struct{}{})
	return ErrStopped
}

func (e *Engine) onTimeout(ctx context.Context, threadID string, ms *messageStream) error {
	ms.Finalize(ctx)
	e.publish(ctx, threadID, event.TypeError, event.Error{
		Error: fmt.Sprintf("Execution timed out after %d seconds", int(e.cfg.AgentTimeout.Seconds())),
	})
	e.setStatus(ctx, threadID, store.StatusNeedsAttention)
	return ErrTimeout
}

// saveProgress persists the session token and resets the watchdog
// clock after a broken attempt.
func (e *Engine) saveProgress(ctx context.Context, threadID, sessionID string) {
	if sessionID != "" {
		if err := e.store.UpdateThreadSession(ctx, threadID, sessionID); err != nil {
			e.log.Warn("failed to persist session", "thread_id", threadID, "error", err)
		}
	}
	if err := e.store.TouchThread(ctx, threadID); err != nil {
		e.log.Warn("failed to touch thread", "thread_id", threadID, "error", err)
	}
}

func (e *Engine) setStatus(ctx context.Context, threadID string, status store.Status) {
	if err := e.store.UpdateThreadStatus(ctx, threadID, status); err != nil {
		e.log.Warn("failed to update status", "thread_id", threadID, "status", status, "error", err)
		return
	}
	e.publish(ctx, threadID, event.TypeStatusChange, event.StatusChange{Status: status})
}

func (e *Engine) publish(ctx context.Context, threadID, eventType string, payload any) {
	if _, err := e.bus.Publish(ctx, threadID, eventType, payload); err != nil {
		e.log.Warn("failed to publish event", "type", eventType, "thread_id", threadID, "error", err)
	}
}
