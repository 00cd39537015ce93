package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mainthread/mainthread/internal/orchestrator"
	"github.com/mainthread/mainthread/internal/store"
)

// ValidModels is the closed set of models a spawned sub-thread may use.
var ValidModels = map[string]bool{
	"claude-sonnet-4-5": true,
	"claude-opus-4-5":   true,
	"claude-haiku-4-5":  true,
}

// spawnMarker trails every successful SpawnThread result so the stream
// layer can lift the new thread id into the tool_result event.
const spawnMarker = "\n<!--SPAWN_DATA:%s-->"

type spawnInput struct {
	Title            string `json:"title"`
	WorkDir          string `json:"work_dir"`
	InitialMessage   string `json:"initial_message"`
	Model            string `json:"model"`
	PermissionMode   string `json:"permission_mode"`
	ExtendedThinking *bool  `json:"extended_thinking"`
	UseWorktree      bool   `json:"use_worktree"`
}

func (r *Registry) spawnThread(ctx context.Context, input json.RawMessage) Result {
	var in spawnInput
	if err := json.Unmarshal(input, &in); err != nil {
		return errorf("invalid SpawnThread input: %v", err)
	}
	if in.Title == "" {
		return errorf("title is required")
	}
	if in.Model != "" && !ValidModels[in.Model] {
		return errorf("Invalid model '%s'. Must be one of: %s", in.Model, joinSorted(ValidModels))
	}
	if in.PermissionMode != "" && !store.ValidPermissionModes[in.PermissionMode] {
		return errorf("Invalid permission_mode '%s'. Must be one of: %s", in.PermissionMode, joinSorted(store.ValidPermissionModes))
	}

	p := orchestrator.SpawnParams{
		Title:            in.Title,
		InitialMessage:   in.InitialMessage,
		Model:            in.Model,
		PermissionMode:   in.PermissionMode,
		ExtendedThinking: in.ExtendedThinking,
		UseWorktree:      in.UseWorktree,
	}
	if in.WorkDir != "" {
		p.WorkDir = &in.WorkDir
	}

	th, err := r.svc.SpawnChild(ctx, r.threadID, p)
	if err != nil {
		if errors.Is(err, orchestrator.ErrDepthExceeded) {
			return errorf("Cannot spawn sub-thread: the depth limit is reached. Finish the task in this thread instead.")
		}
		return errorf("Failed to create thread: %v", err)
	}

	var worktree string
	if th.IsWorktree && th.WorktreeBranch != nil {
		worktree = fmt.Sprintf(" Created in isolated worktree on branch `%s`.", *th.WorktreeBranch)
	}

	if in.InitialMessage != "" {
		preview := in.InitialMessage
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		return Result{Text: fmt.Sprintf(
			"Created and started sub-thread '%s' (ID: %s).%s Initial message: %q. "+
				"The sub-thread is now running in parallel and will notify you when complete or blocked."+
				spawnMarker,
			in.Title, th.ID, worktree, preview, th.ID)}
	}
	return Result{Text: fmt.Sprintf(
		"Created sub-thread '%s' (ID: %s).%s The sub-thread is ready but not started. "+
			"Open the thread to interact with it, or use SpawnThread with initial_message to start it "+
			"immediately. You will be notified automatically when the sub-thread completes or needs attention."+
			spawnMarker,
		in.Title, th.ID, worktree, th.ID)}
}

func joinSorted(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
