package orchestrator

import (
	"context"
	"fmt"
	"os"

	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/gitutil"
	"github.com/mainthread/mainthread/internal/id"
	"github.com/mainthread/mainthread/internal/store"
	"github.com/mainthread/mainthread/internal/validate"
)

// SpawnParams configures a new sub-thread. Unset fields inherit from
// the parent.
type SpawnParams struct {
	Title            string
	WorkDir          *string
	InitialMessage   string
	Model            string
	PermissionMode   string
	ExtendedThinking *bool
	UseWorktree      bool
}

// SpawnChild creates a sub-thread of parentID, optionally on an
// isolated git worktree, and starts its first turn in the background
// when an initial message is given.
func (o *Orchestrator) SpawnChild(ctx context.Context, parentID string, p SpawnParams) (*store.Thread, error) {
	parent, err := o.store.GetThread(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.ArchivedAt != nil {
		return nil, fmt.Errorf("%w: parent thread is archived", store.ErrValidation)
	}

	depth, err := o.store.ThreadDepth(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if depth < 0 || depth >= parent.MaxThreadDepth || (depth > 0 && !parent.AllowNestedSubthreads) {
		return nil, fmt.Errorf("%w: thread %s at depth %d", ErrDepthExceeded, parentID, depth)
	}

	sp := store.CreateThreadParams{
		ID:               id.New(),
		Title:            p.Title,
		ParentID:         &parentID,
		Model:            p.Model,
		PermissionMode:   p.PermissionMode,
		ExtendedThinking: p.ExtendedThinking,
		WorkDir:          parent.WorkDir,
		MaxThreadDepth:   parent.MaxThreadDepth,
	}
	if sp.Model == "" {
		sp.Model = parent.Model
	}
	if sp.PermissionMode == "" {
		sp.PermissionMode = parent.PermissionMode
	}
	if sp.ExtendedThinking == nil {
		sp.ExtendedThinking = &parent.ExtendedThinking
	}
	if p.WorkDir != nil && *p.WorkDir != "" {
		home, _ := os.UserHomeDir()
		dir := validate.SanitizePath(*p.WorkDir, home)
		if dir == "" {
			return nil, fmt.Errorf("%w: invalid work directory %q", store.ErrValidation, *p.WorkDir)
		}
		sp.WorkDir = &dir
	}

	if sp.WorkDir != nil {
		o.applyGitMetadata(&sp, p.UseWorktree)
	}

	th, err := o.store.CreateThread(ctx, sp)
	if err != nil {
		return nil, err
	}

	// Persist the first message before announcing the thread, so a
	// client reacting to thread_created never sees an empty thread.
	if p.InitialMessage != "" {
		if _, err := o.store.AddMessage(ctx, th.ID, store.RoleUser, p.InitialMessage, nil); err != nil {
			return nil, err
		}
	}
	o.publish(ctx, parentID, event.TypeThreadCreated, event.ThreadCreated{Thread: th})

	if p.InitialMessage != "" {
		o.runTurnAsync(th.ID, p.InitialMessage)
	}
	return th, nil
}

// applyGitMetadata annotates the new thread with its repo context and,
// when requested, carves out a dedicated worktree. Worktree failures
// degrade to the parent's work directory.
func (o *Orchestrator) applyGitMetadata(sp *store.CreateThreadParams, useWorktree bool) {
	info, err := gitutil.Detect(*sp.WorkDir)
	if err != nil || !info.IsGitRepo {
		return
	}
	sp.GitRepo = &info.RepoName
	sp.GitBranch = &info.Branch

	// Never nest a worktree inside another worktree.
	if !useWorktree || info.IsWorktree {
		return
	}

	wt, err := gitutil.PlanWorktree(info.RepoRoot, sp.ID)
	if err == nil {
		err = gitutil.CreateWorktree(info.RepoRoot, wt, "HEAD")
	}
	if err != nil {
		o.log.Warn("worktree creation failed, using parent work dir",
			"thread_id", sp.ID, "error", err)
		return
	}

	sp.WorkDir = &wt.Path
	sp.IsWorktree = true
	sp.WorktreeBranch = &wt.Branch
	sp.GitBranch = &wt.Branch
}
