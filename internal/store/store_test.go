package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mainthread/mainthread/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, store.Migrate(db))
	return store.New(db)
}

func createThread(t *testing.T, s *store.Store, title string, parentID *string) *store.Thread {
	t.Helper()
	th, err := s.CreateThread(context.Background(), store.CreateThreadParams{
		Title:    title,
		ParentID: parentID,
	})
	require.NoError(t, err)
	return th
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, store.Migrate(db))
	require.NoError(t, store.Migrate(db))

	for _, table := range []string{"threads", "messages", "events"} {
		var count int64
		err := db.QueryRow("SELECT count(*) FROM " + table).Scan(&count)
		assert.NoError(t, err, "table %q does not exist or is not queryable", table)
	}
}

func TestCreateThread_Defaults(t *testing.T) {
	s := newTestStore(t)
	th := createThread(t, s, "T1", nil)

	assert.Equal(t, store.StatusActive, th.Status)
	assert.Equal(t, store.DefaultModel, th.Model)
	assert.Equal(t, store.PermissionAcceptEdits, th.PermissionMode)
	assert.Equal(t, 1, th.MaxThreadDepth)
	assert.Nil(t, th.ParentID)
	assert.Nil(t, th.ArchivedAt)
}

func TestCreateThread_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateThread(ctx, store.CreateThreadParams{Title: ""})
	assert.ErrorIs(t, err, store.ErrValidation)

	long := make([]byte, 256)
	for i := range long {
		long[i] = 'x'
	}
	_, err = s.CreateThread(ctx, store.CreateThreadParams{Title: string(long)})
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = s.CreateThread(ctx, store.CreateThreadParams{Title: "ok", PermissionMode: "yolo"})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestGetThread_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetThread(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateThreadStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := createThread(t, s, "T1", nil)

	require.NoError(t, s.UpdateThreadStatus(ctx, th.ID, store.StatusRunning))
	got, err := s.GetThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, got.Status)

	err = s.UpdateThreadStatus(ctx, th.ID, "bogus")
	assert.ErrorIs(t, err, store.ErrValidation)

	err = s.UpdateThreadStatus(ctx, "missing", store.StatusDone)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateThreadConfig_Partial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := createThread(t, s, "T1", nil)

	model := "claude-haiku-4-5"
	autoReact := false
	require.NoError(t, s.UpdateThreadConfig(ctx, th.ID, store.ConfigUpdate{
		Model:     &model,
		AutoReact: &autoReact,
	}))

	got, err := s.GetThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku-4-5", got.Model)
	assert.False(t, got.AutoReact)
	// Untouched fields keep their values.
	assert.True(t, got.ExtendedThinking)
	assert.Equal(t, store.PermissionAcceptEdits, got.PermissionMode)
}

func TestArchiveUnarchive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := createThread(t, s, "T1", nil)

	require.NoError(t, s.ArchiveThread(ctx, th.ID))
	got, err := s.GetThread(ctx, th.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ArchivedAt)

	// Double archive fails.
	assert.ErrorIs(t, s.ArchiveThread(ctx, th.ID), store.ErrValidation)

	require.NoError(t, s.UnarchiveThread(ctx, th.ID))
	got, err = s.GetThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ArchivedAt)

	// Everything except archived_at survived the round trip.
	assert.Equal(t, th.Title, got.Title)
	assert.Equal(t, th.Status, got.Status)
	assert.Equal(t, th.Model, got.Model)
}

func TestListThreads_ExcludesArchived(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t1 := createThread(t, s, "T1", nil)
	t2 := createThread(t, s, "T2", nil)
	require.NoError(t, s.ArchiveThread(ctx, t2.ID))

	threads, err := s.ListThreads(ctx, false)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, t1.ID, threads[0].ID)

	all, err := s.ListThreads(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestListThreads_IncludesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := createThread(t, s, "T1", nil)
	_, err := s.AddMessage(ctx, th.ID, store.RoleUser, "hello", nil)
	require.NoError(t, err)

	threads, err := s.ListThreads(ctx, false)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Len(t, threads[0].Messages, 1)
	assert.Equal(t, "hello", threads[0].Messages[0].Content)
}

func TestThreadDepth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := createThread(t, s, "root", nil)
	child := createThread(t, s, "child", &root.ID)
	grandchild := createThread(t, s, "grandchild", &child.ID)

	for _, tc := range []struct {
		id   string
		want int
	}{
		{root.ID, 0},
		{child.ID, 1},
		{grandchild.ID, 2},
	} {
		depth, err := s.ThreadDepth(ctx, tc.id)
		require.NoError(t, err)
		assert.Equal(t, tc.want, depth)
	}
}

func TestAddMessage_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := createThread(t, s, "T1", nil)

	_, err := s.AddMessage(ctx, th.ID, "robot", "hi", nil)
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = s.AddMessage(ctx, th.ID, store.RoleUser, "", nil)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestMessageBlocksRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := createThread(t, s, "T1", nil)

	blocks := json.RawMessage(`[{"type":"text","content":"streaming output that is long enough to trigger the zstd path in the codec because it exceeds the small-payload cutoff"}]`)
	msg, err := s.AddMessage(ctx, th.ID, store.RoleAssistant, "[streaming...]", blocks)
	require.NoError(t, err)

	messages, err := s.MessagesByThread(ctx, th.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.JSONEq(t, string(blocks), string(messages[0].ContentBlocks))

	// Incremental rewrite, as the engine does mid-stream.
	updated := json.RawMessage(`[{"type":"text","content":"finished"}]`)
	require.NoError(t, s.UpdateMessage(ctx, msg.ID, "finished", updated))
	messages, err = s.MessagesByThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, "finished", messages[0].Content)
	assert.JSONEq(t, string(updated), string(messages[0].ContentBlocks))
}

func TestMessagesPaginated_OffsetFromEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := createThread(t, s, "T1", nil)

	for i := 0; i < 10; i++ {
		_, err := s.AddMessage(ctx, th.ID, store.RoleUser, string(rune('a'+i)), nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct timestamps
	}

	// Most recent 4.
	page, err := s.MessagesPaginated(ctx, th.ID, 4, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 4)
	assert.Equal(t, "g", page.Messages[0].Content)
	assert.Equal(t, "j", page.Messages[3].Content)
	assert.Equal(t, 10, page.Total)
	assert.True(t, page.HasMore)

	// Skip the most recent 4, take the 4 before them.
	page, err = s.MessagesPaginated(ctx, th.ID, 4, 4)
	require.NoError(t, err)
	require.Len(t, page.Messages, 4)
	assert.Equal(t, "c", page.Messages[0].Content)
	assert.Equal(t, "f", page.Messages[3].Content)

	// Beyond the start.
	page, err = s.MessagesPaginated(ctx, th.ID, 4, 8)
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "a", page.Messages[0].Content)
	assert.False(t, page.HasMore)
}

func TestClearThreadMessages_ResetsSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := createThread(t, s, "T1", nil)
	require.NoError(t, s.UpdateThreadSession(ctx, th.ID, "sess-1"))
	_, err := s.AddMessage(ctx, th.ID, store.RoleUser, "hi", nil)
	require.NoError(t, err)

	deleted, err := s.ClearThreadMessages(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	got, err := s.GetThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SessionID)
}

func TestAppendEvent_DensePerThreadSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t1 := createThread(t, s, "T1", nil)
	t2 := createThread(t, s, "T2", nil)

	for want := int64(1); want <= 3; want++ {
		seq, err := s.AppendEvent(ctx, t1.ID, "text_delta", json.RawMessage(`{"content":"x"}`))
		require.NoError(t, err)
		assert.Equal(t, want, seq)
	}

	// Sequences are per-thread: a second thread starts at 1.
	seq, err := s.AppendEvent(ctx, t2.ID, "status_change", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	latest, err := s.LatestSeq(ctx, t1.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest)
}

func TestAppendEvent_SeqSurvivesClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := createThread(t, s, "T1", nil)

	for i := 0; i < 3; i++ {
		_, err := s.AppendEvent(ctx, th.ID, "text_delta", nil)
		require.NoError(t, err)
	}

	n, err := s.ClearThreadEvents(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Cleared events never free their sequence numbers, so replaying
	// clients can't mistake a post-clear event for one they already saw.
	seq, err := s.AppendEvent(ctx, th.ID, "thread_archived", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)

	latest, err := s.LatestSeq(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), latest)

	_, err = s.AppendEvent(ctx, "missing", "error", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEventsSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := createThread(t, s, "T1", nil)

	for i := 0; i < 5; i++ {
		_, err := s.AppendEvent(ctx, th.ID, "text_delta", json.RawMessage(`{"content":"chunk"}`))
		require.NoError(t, err)
	}

	events, err := s.EventsSince(ctx, th.ID, 2)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[0].Seq)
	assert.Equal(t, int64(5), events[2].Seq)
	assert.Equal(t, "text_delta", events[0].Type)
	assert.JSONEq(t, `{"content":"chunk"}`, string(events[0].Data))
}

func TestUpdateThreadUsage_Cumulative(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := createThread(t, s, "T1", nil)

	require.NoError(t, s.UpdateThreadUsage(ctx, th.ID, 100, 50, 0.25))
	require.NoError(t, s.UpdateThreadUsage(ctx, th.ID, 10, 5, 0.05))

	got, err := s.GetThread(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(110), got.InputTokens)
	assert.Equal(t, int64(55), got.OutputTokens)
	assert.InDelta(t, 0.30, got.TotalCostUSD, 1e-9)
}

func TestThreadUsageWithChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	parent := createThread(t, s, "P", nil)
	child := createThread(t, s, "C", &parent.ID)

	require.NoError(t, s.UpdateThreadUsage(ctx, parent.ID, 100, 50, 0.5))
	require.NoError(t, s.UpdateThreadUsage(ctx, child.ID, 30, 20, 0.1))

	usage, err := s.ThreadUsageWithChildren(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), usage.InputTokens)
	assert.Equal(t, int64(30), usage.ChildrenInputTokens)
	assert.Equal(t, int64(20), usage.ChildrenOutputTokens)
	assert.InDelta(t, 0.1, usage.ChildrenTotalCost, 1e-9)
}

func TestResetStalledThreads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t1 := createThread(t, s, "T1", nil)
	t2 := createThread(t, s, "T2", nil)
	t3 := createThread(t, s, "T3", nil)
	require.NoError(t, s.UpdateThreadStatus(ctx, t1.ID, store.StatusPending))
	require.NoError(t, s.UpdateThreadStatus(ctx, t2.ID, store.StatusRunning))
	require.NoError(t, s.UpdateThreadStatus(ctx, t3.ID, store.StatusDone))

	n, err := s.ResetStalledThreads(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []string{t1.ID, t2.ID} {
		got, err := s.GetThread(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusActive, got.Status)
	}
	got, err := s.GetThread(ctx, t3.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDone, got.Status)
}

func TestCreateEphemeralThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	parent := createThread(t, s, "P", nil)

	th, err := s.CreateEphemeralThread(ctx, "toolu_01abc", "Explore codebase", parent.ID, parent.WorkDir)
	require.NoError(t, err)
	assert.Equal(t, "toolu_01abc", th.ID)
	assert.True(t, th.IsEphemeral)
	assert.Equal(t, store.StatusPending, th.Status)
	require.NotNil(t, th.ParentID)
	assert.Equal(t, parent.ID, *th.ParentID)
}

func TestEstimateThreadTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	th := createThread(t, s, "T1", nil)

	content := make([]byte, 400)
	for i := range content {
		content[i] = 'a'
	}
	_, err := s.AddMessage(ctx, th.ID, store.RoleUser, string(content), nil)
	require.NoError(t, err)

	est, err := s.EstimateThreadTokens(ctx, th.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, est.TotalTokens)
	assert.Equal(t, 100, est.UserTokens)
	assert.Equal(t, 1, est.MessageCount)
	assert.Empty(t, est.Warnings)
}
