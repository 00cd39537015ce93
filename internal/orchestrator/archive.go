package orchestrator

import (
	"context"
	"fmt"

	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/gitutil"
	"github.com/mainthread/mainthread/internal/store"
)

// Archive tears down a thread: worktree, pending prompt, subscribers,
// queued notifications, running task, and event log, then marks it
// archived. Fails if already archived.
func (o *Orchestrator) Archive(ctx context.Context, threadID string) error {
	th, err := o.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if th.ArchivedAt != nil {
		return fmt.Errorf("%w: thread is already archived", store.ErrValidation)
	}

	o.cleanupWorktree(th)
	o.prompts.Clear(threadID)
	o.notifier.cancel(threadID)
	o.tasks.Stop(threadID)

	if _, err := o.store.ClearThreadEvents(ctx, threadID); err != nil {
		o.log.Warn("failed to clear events", "thread_id", threadID, "error", err)
	}
	if err := o.store.ArchiveThread(ctx, threadID); err != nil {
		return err
	}

	o.publish(ctx, threadID, event.TypeThreadArchived, event.ThreadArchived{ThreadID: threadID})
	if th.ParentID != nil {
		o.publish(ctx, *th.ParentID, event.TypeThreadArchived, event.ThreadArchived{ThreadID: threadID})
	}
	o.bus.CloseThread(threadID)
	return nil
}

// Unarchive restores an archived thread and broadcasts the change.
func (o *Orchestrator) Unarchive(ctx context.Context, threadID string) error {
	if err := o.store.UnarchiveThread(ctx, threadID); err != nil {
		return err
	}
	o.publish(ctx, threadID, event.TypeThreadUnarchived, event.ThreadUnarchived{ThreadID: threadID})
	return nil
}

// cleanupWorktree best-effort removes an archived thread's worktree
// and, when its branch carries no unique commits, the branch too.
func (o *Orchestrator) cleanupWorktree(th *store.Thread) {
	if !th.IsWorktree || th.WorkDir == nil {
		return
	}

	info, err := gitutil.Detect(*th.WorkDir)
	if err != nil || !info.IsGitRepo {
		return
	}

	unique, err := gitutil.HasUniqueCommits(*th.WorkDir)
	if err != nil {
		o.log.Warn("could not inspect worktree commits", "thread_id", th.ID, "error", err)
		unique = true // keep the branch when unsure
	}

	if err := gitutil.RemoveWorktree(info.RepoRoot, *th.WorkDir); err != nil {
		o.log.Warn("worktree removal failed", "thread_id", th.ID, "path", *th.WorkDir, "error", err)
		return
	}

	if th.WorktreeBranch != nil && !unique {
		if err := gitutil.DeleteBranch(info.RepoRoot, *th.WorktreeBranch); err != nil {
			o.log.Warn("worktree branch deletion failed",
				"thread_id", th.ID, "branch", *th.WorktreeBranch, "error", err)
		}
	}
}
