package tools_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mainthread/mainthread/internal/agent/agenttest"
	"github.com/mainthread/mainthread/internal/bus"
	"github.com/mainthread/mainthread/internal/engine"
	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/orchestrator"
	"github.com/mainthread/mainthread/internal/rendezvous"
	"github.com/mainthread/mainthread/internal/store"
	"github.com/mainthread/mainthread/internal/taskreg"
	"github.com/mainthread/mainthread/internal/tools"
)

type fixture struct {
	store *store.Store
	orch  *orchestrator.Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(db))

	log := slog.Default()
	s := store.New(db)
	b := bus.New(s, log)
	tasks := taskreg.New()
	eng := engine.New(s, b, tasks, agenttest.New(), engine.DefaultConfig(), log)
	o := orchestrator.New(context.Background(), s, b, eng, tasks, rendezvous.New(log), orchestrator.DefaultConfig(), log)
	t.Cleanup(o.Shutdown)
	return &fixture{store: s, orch: o}
}

func (f *fixture) registry(t *testing.T, threadID string) *tools.Registry {
	t.Helper()
	return tools.NewRegistry(f.orch, threadID, slog.Default())
}

func (f *fixture) createThread(t *testing.T, p orchestrator.CreateThreadParams) *store.Thread {
	t.Helper()
	th, err := f.orch.CreateThread(context.Background(), p)
	require.NoError(t, err)
	return th
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestSpawnThread_CreatesChildWithMarker(t *testing.T) {
	f := newFixture(t)
	parent := f.createThread(t, orchestrator.CreateThreadParams{Title: "parent"})
	reg := f.registry(t, parent.ID)

	res := reg.Execute(context.Background(), "SpawnThread", raw(t, map[string]any{
		"title": "investigate",
	}))
	require.False(t, res.IsError, res.Text)
	assert.Contains(t, res.Text, "Created sub-thread 'investigate'")

	// The marker carries the new thread id so the stream layer can
	// surface it in the tool_result event.
	idx := strings.LastIndex(res.Text, "<!--SPAWN_DATA:")
	require.NotEqual(t, -1, idx)
	childID := strings.TrimSuffix(res.Text[idx+len("<!--SPAWN_DATA:"):], "-->")

	child, err := f.store.GetThread(context.Background(), childID)
	require.NoError(t, err)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, parent.ID, *child.ParentID)
	assert.Equal(t, parent.Model, child.Model)
}

func TestSpawnThread_ValidatesModel(t *testing.T) {
	f := newFixture(t)
	parent := f.createThread(t, orchestrator.CreateThreadParams{Title: "parent"})
	reg := f.registry(t, parent.ID)

	res := reg.Execute(context.Background(), "SpawnThread", raw(t, map[string]any{
		"title": "bad",
		"model": "gpt-7",
	}))
	require.True(t, res.IsError)
	assert.Contains(t, res.Text, "Invalid model 'gpt-7'")
	assert.Contains(t, res.Text, "claude-haiku-4-5, claude-opus-4-5, claude-sonnet-4-5")
}

func TestSpawnThread_DepthLimit(t *testing.T) {
	f := newFixture(t)
	parent := f.createThread(t, orchestrator.CreateThreadParams{Title: "parent"})
	child, err := f.orch.SpawnChild(context.Background(), parent.ID, orchestrator.SpawnParams{Title: "child"})
	require.NoError(t, err)

	reg := f.registry(t, child.ID)
	res := reg.Execute(context.Background(), "SpawnThread", raw(t, map[string]any{
		"title": "grandchild",
	}))
	require.True(t, res.IsError)
	assert.Contains(t, res.Text, "depth limit")
}

func TestListThreads(t *testing.T) {
	f := newFixture(t)
	reg := f.registry(t, "any")

	res := reg.Execute(context.Background(), "ListThreads", nil)
	require.False(t, res.IsError)
	assert.Equal(t, "No threads exist yet.", res.Text)

	parent := f.createThread(t, orchestrator.CreateThreadParams{Title: "main work"})
	_, err := f.orch.SpawnChild(context.Background(), parent.ID, orchestrator.SpawnParams{Title: "helper"})
	require.NoError(t, err)

	res = reg.Execute(context.Background(), "ListThreads", nil)
	require.False(t, res.IsError)
	assert.Contains(t, res.Text, "main work")
	assert.Contains(t, res.Text, "(main thread)")
	assert.Contains(t, res.Text, "helper")
	assert.Contains(t, res.Text, "(sub-thread of "+parent.ID+")")
}

func TestReadThread_FormatsTranscript(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	th := f.createThread(t, orchestrator.CreateThreadParams{Title: "notes"})
	_, err := f.store.AddMessage(ctx, th.ID, store.RoleUser, "first question", nil)
	require.NoError(t, err)
	_, err = f.store.AddMessage(ctx, th.ID, store.RoleAssistant, "first answer", nil)
	require.NoError(t, err)

	reg := f.registry(t, th.ID)
	res := reg.Execute(ctx, "ReadThread", raw(t, map[string]any{"thread_id": th.ID}))
	require.False(t, res.IsError, res.Text)

	assert.Contains(t, res.Text, `Thread: "notes" (ID: `+th.ID+`)`)
	assert.Contains(t, res.Text, "Messages: 2")
	assert.Contains(t, res.Text, "Created: just now")
	assert.Contains(t, res.Text, "[user] first question")
	assert.Contains(t, res.Text, "[assistant] first answer")
}

func TestReadThread_LimitAndTruncation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	th := f.createThread(t, orchestrator.CreateThreadParams{Title: "long"})
	for i := 0; i < 5; i++ {
		_, err := f.store.AddMessage(ctx, th.ID, store.RoleUser, strings.Repeat("x", 2500), nil)
		require.NoError(t, err)
	}

	reg := f.registry(t, th.ID)
	res := reg.Execute(ctx, "ReadThread", raw(t, map[string]any{"thread_id": th.ID, "limit": 2}))
	require.False(t, res.IsError)

	assert.Contains(t, res.Text, "Messages: 2/5 (showing last 2)")
	assert.Contains(t, res.Text, "... [truncated]")
	assert.Equal(t, 2, strings.Count(res.Text, "[user]"))
}

func TestReadThread_NotFound(t *testing.T) {
	f := newFixture(t)
	reg := f.registry(t, "any")
	res := reg.Execute(context.Background(), "ReadThread", raw(t, map[string]any{"thread_id": "nope"}))
	require.True(t, res.IsError)
	assert.Equal(t, "Thread nope not found.", res.Text)
}

func TestArchiveThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	th := f.createThread(t, orchestrator.CreateThreadParams{Title: "done work"})
	reg := f.registry(t, "any")

	res := reg.Execute(ctx, "ArchiveThread", raw(t, map[string]any{"thread_id": th.ID}))
	require.False(t, res.IsError, res.Text)
	assert.Contains(t, res.Text, "Archived thread "+th.ID)

	// Second archive reports the error back to the agent.
	res = reg.Execute(ctx, "ArchiveThread", raw(t, map[string]any{"thread_id": th.ID}))
	require.True(t, res.IsError)
	assert.Contains(t, res.Text, "already archived or not found")
}

func TestSendToThread_OnlyChildren(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createThread(t, orchestrator.CreateThreadParams{Title: "a", AutoReact: boolPtr(false)})
	b := f.createThread(t, orchestrator.CreateThreadParams{Title: "b", AutoReact: boolPtr(false)})

	reg := f.registry(t, a.ID)
	res := reg.Execute(ctx, "SendToThread", raw(t, map[string]any{"thread_id": b.ID, "message": "hi"}))
	require.True(t, res.IsError)
	assert.Contains(t, res.Text, "not found or not a child thread")
}

func TestSendToThread_DeliversToChild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.createThread(t, orchestrator.CreateThreadParams{Title: "parent"})
	child, err := f.orch.SpawnChild(ctx, parent.ID, orchestrator.SpawnParams{Title: "helper"})
	require.NoError(t, err)

	reg := f.registry(t, parent.ID)
	res := reg.Execute(ctx, "SendToThread", raw(t, map[string]any{
		"thread_id": child.ID, "message": "extra context",
	}))
	require.False(t, res.IsError, res.Text)
	assert.Contains(t, res.Text, "Message sent to thread 'helper'")

	// The notifier may already be running the child's turn, so only
	// check the message landed, not that it is last.
	messages, err := f.store.MessagesByThread(ctx, child.ID)
	require.NoError(t, err)
	var found bool
	for _, m := range messages {
		if m.Role == store.RoleUser && m.Content == "extra context" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSignalStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.createThread(t, orchestrator.CreateThreadParams{Title: "parent"})
	child, err := f.orch.SpawnChild(ctx, parent.ID, orchestrator.SpawnParams{Title: "worker"})
	require.NoError(t, err)

	reg := f.registry(t, child.ID)
	res := reg.Execute(ctx, "SignalStatus", raw(t, map[string]any{
		"status": "blocked", "reason": "need credentials",
	}))
	require.False(t, res.IsError, res.Text)
	assert.Equal(t, "Status signaled: blocked and needs attention. Reason: need credentials", res.Text)

	got, err := f.store.GetThread(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusNeedsAttention, got.Status)

	// The parent stream carries the subthread_status announcement.
	events, err := f.store.EventsSince(ctx, parent.ID, 0)
	require.NoError(t, err)
	var found bool
	for _, e := range events {
		if e.Type == event.TypeSubthreadStatus {
			found = true
		}
	}
	assert.True(t, found)
}

func TestSignalStatus_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg := f.registry(t, "whatever")
	res := reg.Execute(ctx, "SignalStatus", raw(t, map[string]any{"status": "finished"}))
	require.True(t, res.IsError)
	assert.Equal(t, "Invalid status 'finished'. Must be 'done' or 'blocked'.", res.Text)

	// A root thread has no parent to signal.
	root := f.createThread(t, orchestrator.CreateThreadParams{Title: "root"})
	reg = f.registry(t, root.ID)
	res = reg.Execute(ctx, "SignalStatus", raw(t, map[string]any{"status": "done", "reason": "ok"}))
	require.True(t, res.IsError)
	assert.Contains(t, res.Text, "Failed to signal status")
}

func TestExecute_UnknownTool(t *testing.T) {
	f := newFixture(t)
	reg := f.registry(t, "any")
	res := reg.Execute(context.Background(), "LaunchMissiles", nil)
	require.True(t, res.IsError)
	assert.Equal(t, `unknown tool "LaunchMissiles"`, res.Text)
}

func TestNames_RegistrationOrder(t *testing.T) {
	f := newFixture(t)
	reg := f.registry(t, "any")
	assert.Equal(t, []string{
		"SpawnThread", "ListThreads", "ReadThread",
		"ArchiveThread", "SendToThread", "SignalStatus",
	}, reg.Names())
}

func boolPtr(b bool) *bool { return &b }
