package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mainthread/mainthread/internal/agent"
	"github.com/mainthread/mainthread/internal/engine"
	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/store"
	"github.com/mainthread/mainthread/internal/validate"
)

// SendMessage persists a user message and runs a turn on the thread,
// blocking until the turn ends. @file references are inlined ahead of
// the content, sandboxed to the thread's work directory.
func (o *Orchestrator) SendMessage(ctx context.Context, threadID, content string, images []agent.Image, fileRefs []string) error {
	th, err := o.store.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if th.ArchivedAt != nil {
		return fmt.Errorf("%w: thread is archived", store.ErrValidation)
	}

	if len(fileRefs) > 0 {
		inlined, err := o.inlineFiles(th, fileRefs)
		if err != nil {
			return err
		}
		if inlined != "" {
			content = inlined + content
		}
	}

	msg, err := o.store.AddMessage(ctx, threadID, store.RoleUser, content, nil)
	if err != nil {
		return err
	}
	o.publish(ctx, threadID, event.TypeMessage, event.Message{Message: msg})

	if err := o.store.UpdateThreadStatus(ctx, threadID, store.StatusPending); err != nil {
		return err
	}

	// The turn runs on the app context: a dropped HTTP connection must
	// not cancel the agent, only an explicit stop does.
	_, err = o.runTurn(o.appCtx, threadID, content, engine.TurnOptions{
		Images:             images,
		BroadcastStatus:    true,
		SkipAddUserMessage: true,
	})
	return err
}

// inlineFiles reads each referenced file and wraps it in a file block.
// Paths must resolve inside the thread's work directory; the combined
// inlined size is capped.
func (o *Orchestrator) inlineFiles(th *store.Thread, refs []string) (string, error) {
	if th.WorkDir == nil {
		return "", fmt.Errorf("%w: thread has no work directory for file references", store.ErrValidation)
	}
	workDir := *th.WorkDir

	var sb strings.Builder
	for _, ref := range refs {
		path := ref
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}
		clean := validate.SanitizePath(path, "")
		if clean == "" || !validate.WithinDir(clean, workDir) {
			return "", fmt.Errorf("%w: file reference %q escapes the work directory", store.ErrValidation, ref)
		}

		data, err := os.ReadFile(clean)
		if err != nil {
			o.log.Warn("skipping unreadable file reference", "path", clean, "error", err)
			continue
		}

		block := fmt.Sprintf("<file path=%q>\n%s\n</file>\n", ref, string(data))
		if sb.Len()+len(block) > o.cfg.FileInlineCap {
			o.log.Warn("file reference cap reached, truncating", "path", ref, "cap", o.cfg.FileInlineCap)
			// The agent must see that content is missing, not just a
			// shorter list of files.
			sb.WriteString(fmt.Sprintf("<file path=%q>\n[Truncated: Total context size exceeded]\n</file>\n", ref))
			break
		}
		sb.WriteString(block)
	}
	return sb.String(), nil
}
