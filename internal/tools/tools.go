// Package tools exposes the thread-management tools an agent can call
// during a turn: spawning and archiving sub-threads, reading and
// messaging them, and signalling completion to the parent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mainthread/mainthread/internal/orchestrator"
	"github.com/mainthread/mainthread/internal/store"
)

// Services is the narrow control-plane surface the tools need. The
// orchestrator implements it.
type Services interface {
	SpawnChild(ctx context.Context, parentID string, p orchestrator.SpawnParams) (*store.Thread, error)
	ListThreads(ctx context.Context, includeArchived bool) ([]*store.Thread, error)
	Thread(ctx context.Context, threadID string) (*store.Thread, error)
	ThreadMessages(ctx context.Context, threadID string) ([]store.Message, error)
	Archive(ctx context.Context, threadID string) error
	SendToThread(ctx context.Context, sourceID, targetID, message string) error
	BroadcastStatusSignal(ctx context.Context, childID, status, reason string) error
}

var _ Services = (*orchestrator.Orchestrator)(nil)

// Result is a tool invocation's textual outcome. IsError marks
// failures the agent should see and react to, not infra errors.
type Result struct {
	Text    string `json:"text"`
	IsError bool   `json:"is_error,omitempty"`
}

func errorf(format string, args ...any) Result {
	return Result{Text: fmt.Sprintf(format, args...), IsError: true}
}

// Handler executes one tool call against its JSON input.
type Handler func(ctx context.Context, input json.RawMessage) Result

// Tool pairs a name the model addresses with its handler and the
// description surfaced in the tool listing.
type Tool struct {
	Name        string
	Description string
	Handler     Handler
}

// Registry holds the tools bound to one thread. The thread id scopes
// depth gating, rate limiting, and status signalling.
type Registry struct {
	threadID string
	svc      Services
	log      *slog.Logger

	tools map[string]Tool
	order []string
}

// NewRegistry builds the per-thread tool set.
func NewRegistry(svc Services, threadID string, log *slog.Logger) *Registry {
	r := &Registry{
		threadID: threadID,
		svc:      svc,
		log:      log.With("component", "tools", "thread_id", threadID),
		tools:    make(map[string]Tool),
	}
	r.register(Tool{
		Name: "SpawnThread",
		Description: "Create a new sub-thread for a specific task. Use this to delegate work to a " +
			"separate agent context. If initial_message is provided, the sub-thread starts processing " +
			"immediately. Sub-threads automatically notify the parent when they complete or need " +
			"attention; you do not need to poll.",
		Handler: r.spawnThread,
	})
	r.register(Tool{
		Name: "ListThreads",
		Description: "List all existing threads with their status. Use this to see what threads " +
			"exist before creating new ones.",
		Handler: r.listThreads,
	})
	r.register(Tool{
		Name: "ReadThread",
		Description: "Read a thread's conversation history to understand context or review results. " +
			"Use this AFTER receiving a notification that a sub-thread completed. Parameters: " +
			"thread_id (required), limit (optional, default 200, max 1000).",
		Handler: r.readThread,
	})
	r.register(Tool{
		Name: "ArchiveThread",
		Description: "Archive a sub-thread after receiving its results. Use this when a delegated " +
			"task is complete and you no longer need the thread in the active list.",
		Handler: r.archiveThread,
	})
	r.register(Tool{
		Name: "SendToThread",
		Description: "Send a follow-up message to one of your sub-threads. The message is delivered " +
			"asynchronously; the thread processes it and notifies you when complete. You can only " +
			"send to child threads you spawned.",
		Handler: r.sendToThread,
	})
	r.register(Tool{
		Name: "SignalStatus",
		Description: "Signal your completion status to the parent thread. Call this when your task " +
			"is complete (status='done') or when you are blocked and need human input " +
			"(status='blocked'). Include a reason explaining the status.",
		Handler: r.signalStatus,
	})
	return r
}

func (r *Registry) register(t Tool) {
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
}

// Execute runs the named tool. An unknown name is an error result, not
// an infra failure: the model can correct itself.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) Result {
	t, ok := r.tools[name]
	if !ok {
		return errorf("unknown tool %q", name)
	}
	res := t.Handler(ctx, input)
	if res.IsError {
		r.log.Warn("tool call failed", "tool", name, "error", res.Text)
	}
	return res
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns the named tool's definition.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}
