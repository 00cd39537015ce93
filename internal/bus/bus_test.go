package bus_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mainthread/mainthread/internal/bus"
	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/store"
)

func newTestBus(t *testing.T) (*bus.Bus, *store.Store) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(db))

	s := store.New(db)
	return bus.New(s, slog.Default()), s
}

func createThread(t *testing.T, s *store.Store) string {
	t.Helper()
	th, err := s.CreateThread(context.Background(), store.CreateThreadParams{Title: "T"})
	require.NoError(t, err)
	return th.ID
}

func recvEvent(t *testing.T, sub *bus.Subscriber) event.Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.C():
		require.True(t, ok, "subscriber channel closed")
		return env
	default:
		t.Fatal("no event buffered")
		return event.Envelope{}
	}
}

func TestPublish_FansOutToSubscribers(t *testing.T) {
	b, s := newTestBus(t)
	ctx := context.Background()
	id := createThread(t, s)

	sub1, backlog1, err := b.Subscribe(ctx, id, 0)
	require.NoError(t, err)
	sub2, _, err := b.Subscribe(ctx, id, 0)
	require.NoError(t, err)

	// Empty thread: backlog is just the synthetic connected event.
	require.Len(t, backlog1, 1)
	assert.Equal(t, event.TypeConnected, backlog1[0].Type)
	assert.Equal(t, int64(0), backlog1[0].Seq)

	seq, err := b.Publish(ctx, id, event.TypeTextDelta, event.TextDelta{Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	for _, sub := range []*bus.Subscriber{sub1, sub2} {
		env := recvEvent(t, sub)
		assert.Equal(t, event.TypeTextDelta, env.Type)
		assert.Equal(t, int64(1), env.Seq)
		assert.JSONEq(t, `{"content":"hi"}`, string(env.Data))
	}
}

func TestPublish_PersistsThroughStore(t *testing.T) {
	b, s := newTestBus(t)
	ctx := context.Background()
	id := createThread(t, s)

	_, err := b.Publish(ctx, id, event.TypeTextDelta, event.TextDelta{Content: "a"})
	require.NoError(t, err)
	_, err = b.Publish(ctx, id, event.TypeStatusChange, event.StatusChange{Status: store.StatusDone})
	require.NoError(t, err)

	stored, err := s.EventsSince(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, event.TypeTextDelta, stored[0].Type)
	assert.Equal(t, event.TypeStatusChange, stored[1].Type)
}

func TestSubscribe_ReplaysBacklogFromSeq(t *testing.T) {
	b, s := newTestBus(t)
	ctx := context.Background()
	id := createThread(t, s)

	for i := 0; i < 5; i++ {
		_, err := b.Publish(ctx, id, event.TypeTextDelta, event.TextDelta{Content: "x"})
		require.NoError(t, err)
	}

	sub, backlog, err := b.Subscribe(ctx, id, 2)
	require.NoError(t, err)
	defer b.Unsubscribe(sub)

	// connected + events 3..5.
	require.Len(t, backlog, 4)
	assert.Equal(t, event.TypeConnected, backlog[0].Type)
	for i, want := range []int64{3, 4, 5} {
		assert.Equal(t, want, backlog[i+1].Seq)
	}

	// Live events continue after the backlog.
	seq, err := b.Publish(ctx, id, event.TypeComplete, event.Complete{Status: store.StatusDone})
	require.NoError(t, err)
	env := recvEvent(t, sub)
	assert.Equal(t, seq, env.Seq)
	assert.Equal(t, event.TypeComplete, env.Type)
}

func TestPublish_IsolatedPerThread(t *testing.T) {
	b, s := newTestBus(t)
	ctx := context.Background()
	t1 := createThread(t, s)
	t2 := createThread(t, s)

	sub, _, err := b.Subscribe(ctx, t1, 0)
	require.NoError(t, err)
	defer b.Unsubscribe(sub)

	_, err = b.Publish(ctx, t2, event.TypeTextDelta, event.TextDelta{Content: "other"})
	require.NoError(t, err)

	select {
	case env := <-sub.C():
		t.Fatalf("unexpected cross-thread delivery: %+v", env)
	default:
	}
}

func TestPublish_OverflowClosesSubscriber(t *testing.T) {
	b, s := newTestBus(t)
	ctx := context.Background()
	id := createThread(t, s)

	slow, _, err := b.Subscribe(ctx, id, 0)
	require.NoError(t, err)

	// 64-slot buffer plus one to trip the overflow.
	for i := 0; i < 65; i++ {
		_, err := b.Publish(ctx, id, event.TypeTextDelta, event.TextDelta{Content: "x"})
		require.NoError(t, err)
	}

	assert.Equal(t, 0, b.SubscriberCount(id))

	// Drain: 64 buffered events, then the closed channel.
	n := 0
	for range slow.C() {
		n++
	}
	assert.Equal(t, 64, n)

	// A fresh subscriber still replays everything from the store.
	_, backlog, err := b.Subscribe(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, backlog, 66) // connected + 65 events
}

func TestCloseThread_SendsShutdown(t *testing.T) {
	b, s := newTestBus(t)
	ctx := context.Background()
	id := createThread(t, s)

	sub, _, err := b.Subscribe(ctx, id, 0)
	require.NoError(t, err)
	require.Equal(t, 1, b.SubscriberCount(id))

	b.CloseThread(id)

	env := recvEvent(t, sub)
	assert.Equal(t, event.TypeShutdown, env.Type)

	_, ok := <-sub.C()
	assert.False(t, ok, "channel should be closed")
	assert.Equal(t, 0, b.SubscriberCount(id))
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	b, s := newTestBus(t)
	ctx := context.Background()
	id := createThread(t, s)

	sub, _, err := b.Subscribe(ctx, id, 0)
	require.NoError(t, err)

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount(id))
}

func TestPublish_NilPayload(t *testing.T) {
	b, s := newTestBus(t)
	ctx := context.Background()
	id := createThread(t, s)

	_, err := b.Publish(ctx, id, event.TypeStopped, struct{}{})
	require.NoError(t, err)

	stored, err := s.EventsSince(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(stored[0].Data, &decoded))
	assert.Empty(t, decoded)
}
