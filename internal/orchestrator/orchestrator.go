// Package orchestrator coordinates thread lifecycle: message sends,
// child spawning, parent escalation, interactive prompts, and the
// background watchdog and housekeeping loops.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mainthread/mainthread/internal/bus"
	"github.com/mainthread/mainthread/internal/engine"
	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/gitutil"
	"github.com/mainthread/mainthread/internal/rendezvous"
	"github.com/mainthread/mainthread/internal/store"
	"github.com/mainthread/mainthread/internal/taskreg"
	"github.com/mainthread/mainthread/internal/validate"
)

// Error kinds surfaced to the API layer.
var (
	ErrDepthExceeded = errors.New("sub-thread depth limit exceeded")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrNotChild      = errors.New("target thread is not a child of the source thread")
)

// Config bounds the orchestrator's interactive and background
// behaviour.
type Config struct {
	QuestionTimeout       time.Duration
	PlanTimeout           time.Duration
	FileInlineCap         int
	SendRateLimit         int
	SendRateWindow        time.Duration
	WatchdogInterval      time.Duration
	WatchdogGrace         time.Duration
	AgentTimeout          time.Duration
	HousekeepInterval     time.Duration
	EventRetention        time.Duration
	DefaultModel          string
	DefaultMaxThreadDepth int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		QuestionTimeout:       300 * time.Second,
		PlanTimeout:           600 * time.Second,
		FileInlineCap:         100000,
		SendRateLimit:         5,
		SendRateWindow:        60 * time.Second,
		WatchdogInterval:      15 * time.Second,
		WatchdogGrace:         60 * time.Second,
		AgentTimeout:          1800 * time.Second,
		HousekeepInterval:     time.Hour,
		EventRetention:        24 * time.Hour,
		DefaultModel:          store.DefaultModel,
		DefaultMaxThreadDepth: 1,
	}
}

// Orchestrator wires the store, bus, engine, and prompt rendezvous
// into the thread-level operations the API exposes.
type Orchestrator struct {
	store   *store.Store
	bus     *bus.Bus
	engine  *engine.Engine
	tasks   *taskreg.Registry
	prompts *rendezvous.Rendezvous
	cfg     Config
	log     *slog.Logger

	// appCtx scopes background turns so an HTTP disconnect never
	// cancels a running agent; only shutdown or an explicit stop does.
	appCtx context.Context

	notifier *scheduler
	limiter  *rateLimiter

	bg sync.WaitGroup
}

func New(appCtx context.Context, st *store.Store, b *bus.Bus, eng *engine.Engine, tasks *taskreg.Registry, prompts *rendezvous.Rendezvous, cfg Config, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		store:   st,
		bus:     b,
		engine:  eng,
		tasks:   tasks,
		prompts: prompts,
		cfg:     cfg,
		log:     log.With("component", "orchestrator"),
		appCtx:  appCtx,
		limiter: newRateLimiter(cfg.SendRateLimit, cfg.SendRateWindow),
	}
	o.notifier = newScheduler(o)
	return o
}

// Startup resets threads a crashed process left in pending or running.
func (o *Orchestrator) Startup(ctx context.Context) error {
	n, err := o.store.ResetStalledThreads(ctx)
	if err != nil {
		return fmt.Errorf("reset stalled threads: %w", err)
	}
	if n > 0 {
		o.log.Info("reset stalled threads from previous run", "count", n)
	}
	return nil
}

// Shutdown stops background loops, closes subscribers, and cancels
// running tasks.
func (o *Orchestrator) Shutdown() {
	o.notifier.shutdown()
	o.bus.Shutdown()
	o.tasks.StopAll()
	o.bg.Wait()
}

// CreateThreadParams mirrors the POST /threads body.
type CreateThreadParams struct {
	Title                 string
	ParentID              *string
	WorkDir               *string
	Model                 string
	ExtendedThinking      *bool
	PermissionMode        string
	AutoReact             *bool
	UseWorktree           bool
	AllowNestedSubthreads bool
	MaxThreadDepth        int
	InitialMessage        string
}

// CreateThread creates a thread from the API surface. Work dirs are
// sanitised and annotated with git metadata when they sit in a repo.
func (o *Orchestrator) CreateThread(ctx context.Context, p CreateThreadParams) (*store.Thread, error) {
	if p.ParentID != nil {
		return o.SpawnChild(ctx, *p.ParentID, SpawnParams{
			Title:            p.Title,
			WorkDir:          p.WorkDir,
			InitialMessage:   p.InitialMessage,
			Model:            p.Model,
			PermissionMode:   p.PermissionMode,
			ExtendedThinking: p.ExtendedThinking,
			UseWorktree:      p.UseWorktree,
		})
	}

	sp := store.CreateThreadParams{
		Title:                 p.Title,
		Model:                 p.Model,
		PermissionMode:        p.PermissionMode,
		ExtendedThinking:      p.ExtendedThinking,
		AutoReact:             p.AutoReact,
		AllowNestedSubthreads: p.AllowNestedSubthreads,
		MaxThreadDepth:        p.MaxThreadDepth,
	}
	if sp.MaxThreadDepth == 0 {
		sp.MaxThreadDepth = o.cfg.DefaultMaxThreadDepth
	}

	if p.WorkDir != nil && *p.WorkDir != "" {
		home, _ := os.UserHomeDir()
		dir := validate.SanitizePath(*p.WorkDir, home)
		if dir == "" {
			return nil, fmt.Errorf("%w: invalid work directory %q", store.ErrValidation, *p.WorkDir)
		}
		sp.WorkDir = &dir
		if info, err := gitutil.Detect(dir); err == nil && info.IsGitRepo {
			sp.GitRepo = &info.RepoName
			sp.GitBranch = &info.Branch
		}
	}

	// thread_created is only announced on a parent's stream; a root
	// thread's creator already holds the thread from the API response.
	th, err := o.store.CreateThread(ctx, sp)
	if err != nil {
		return nil, err
	}

	if p.InitialMessage != "" {
		if _, err := o.store.AddMessage(ctx, th.ID, store.RoleUser, p.InitialMessage, nil); err != nil {
			return nil, err
		}
		o.runTurnAsync(th.ID, p.InitialMessage)
	}
	return th, nil
}

// Thread returns one thread by id.
func (o *Orchestrator) Thread(ctx context.Context, threadID string) (*store.Thread, error) {
	return o.store.GetThread(ctx, threadID)
}

// ListThreads returns threads with their messages embedded.
func (o *Orchestrator) ListThreads(ctx context.Context, includeArchived bool) ([]*store.Thread, error) {
	return o.store.ListThreads(ctx, includeArchived)
}

// ThreadMessages returns a thread's full message history.
func (o *Orchestrator) ThreadMessages(ctx context.Context, threadID string) ([]store.Message, error) {
	return o.store.MessagesByThread(ctx, threadID)
}

// Stop cancels the thread's running turn, if any.
func (o *Orchestrator) Stop(threadID string) bool {
	return o.tasks.Stop(threadID)
}

// UpdateStatus sets a thread's status and broadcasts the change.
func (o *Orchestrator) UpdateStatus(ctx context.Context, threadID string, status store.Status) error {
	if err := o.store.UpdateThreadStatus(ctx, threadID, status); err != nil {
		return err
	}
	o.publish(ctx, threadID, event.TypeStatusChange, event.StatusChange{Status: status})
	return nil
}

// UpdateConfig applies a partial config update and broadcasts it.
func (o *Orchestrator) UpdateConfig(ctx context.Context, threadID string, u store.ConfigUpdate) error {
	if err := o.store.UpdateThreadConfig(ctx, threadID, u); err != nil {
		return err
	}
	o.publish(ctx, threadID, event.TypeConfigChange, event.ConfigChange{
		Model:            u.Model,
		ExtendedThinking: u.ExtendedThinking,
		PermissionMode:   u.PermissionMode,
		AutoReact:        u.AutoReact,
	})
	return nil
}

// UpdateTitle renames a thread and broadcasts the change.
func (o *Orchestrator) UpdateTitle(ctx context.Context, threadID, title string) error {
	clean, err := validate.SanitizeTitle(title)
	if err != nil {
		return fmt.Errorf("%w: %s", store.ErrValidation, err)
	}
	if err := o.store.UpdateThreadTitle(ctx, threadID, clean); err != nil {
		return err
	}
	o.publish(ctx, threadID, event.TypeTitleChange, event.TitleChange{Title: clean})
	return nil
}

// ClearMessages deletes a thread's messages, resets its session, and
// broadcasts messages_cleared.
func (o *Orchestrator) ClearMessages(ctx context.Context, threadID string) (int64, error) {
	if _, err := o.store.GetThread(ctx, threadID); err != nil {
		return 0, err
	}
	n, err := o.store.ClearThreadMessages(ctx, threadID)
	if err != nil {
		return 0, err
	}
	o.publish(ctx, threadID, event.TypeMessagesCleared, event.MessagesCleared{ThreadID: threadID})
	return n, nil
}

// ResetAll cancels every running task and returns all non-archived
// threads to active. Requires explicit confirmation at the API layer.
func (o *Orchestrator) ResetAll(ctx context.Context) (int64, error) {
	o.tasks.StopAll()
	n, err := o.store.ResetAllThreads(ctx)
	if err != nil {
		return 0, err
	}

	threads, err := o.store.ListThreads(ctx, false)
	if err != nil {
		return n, err
	}
	for _, th := range threads {
		o.publish(ctx, th.ID, event.TypeAllThreadsReset, struct{}{})
	}
	return n, nil
}

// runTurnAsync starts a turn in the background on the app context.
func (o *Orchestrator) runTurnAsync(threadID, prompt string) {
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		o.runTurn(o.appCtx, threadID, prompt, engine.TurnOptions{
			BroadcastStatus:    true,
			SkipAddUserMessage: true,
		})
	}()
}

func (o *Orchestrator) publish(ctx context.Context, threadID, eventType string, payload any) {
	if _, err := o.bus.Publish(ctx, threadID, eventType, payload); err != nil {
		o.log.Warn("failed to publish event", "type", eventType, "thread_id", threadID, "error", err)
	}
}
