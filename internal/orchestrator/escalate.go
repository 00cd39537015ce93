package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/mainthread/mainthread/internal/engine"
	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/store"
)

const maxEscalationErrLen = 200

// runTurn executes one turn and, for sub-threads, handles the parent
// escalation protocol: exactly one subthread_status per terminated run
// plus a parent-side notification message.
func (o *Orchestrator) runTurn(ctx context.Context, threadID, prompt string, opts engine.TurnOptions) (*engine.TurnResult, error) {
	res, runErr := o.engine.RunTurn(ctx, threadID, prompt, opts)

	// A stopped turn is user intent, never escalated.
	if errors.Is(runErr, engine.ErrStopped) {
		return res, runErr
	}

	bg := context.WithoutCancel(ctx)
	th, err := o.store.GetThread(bg, threadID)
	if err != nil {
		o.log.Warn("turn ended on unknown thread", "thread_id", threadID, "error", err)
		return res, runErr
	}
	if th.ParentID == nil {
		return res, runErr
	}
	parentID := *th.ParentID

	if runErr != nil {
		reason := truncate(runErr.Error(), maxEscalationErrLen)
		o.publish(bg, parentID, event.TypeSubthreadStatus, event.SubthreadStatus{
			ThreadID: threadID,
			Title:    th.Title,
			Status:   store.StatusNeedsAttention,
			Reason:   reason,
		})
		o.notifyParent(bg, parentID,
			fmt.Sprintf("[notification] Sub-thread %q encountered an error: %s", th.Title, reason))
		return res, runErr
	}

	status := res.Status
	if status == store.StatusActive {
		// The agent finished without signalling; for a sub-thread that
		// counts as done.
		status = store.StatusDone
		if err := o.store.UpdateThreadStatus(bg, threadID, status); err != nil {
			o.log.Warn("failed to rewrite child status", "thread_id", threadID, "error", err)
		}
		res.Status = status
	}

	// The SignalStatus tool already published subthread_status; never
	// deliver it twice.
	if !res.Signalled {
		o.publish(bg, parentID, event.TypeSubthreadStatus, event.SubthreadStatus{
			ThreadID: threadID,
			Title:    th.Title,
			Status:   status,
		})
	}

	outcome := "completed"
	if status == store.StatusNeedsAttention {
		outcome = "needs attention"
	}
	o.notifyParent(bg, parentID, fmt.Sprintf("[notification] Sub-thread %q %s.", th.Title, outcome))
	return res, nil
}

// notifyParent persists the notification as a parent user message,
// broadcasts it, and enqueues an auto-react turn when enabled.
func (o *Orchestrator) notifyParent(ctx context.Context, parentID, text string) {
	parent, err := o.store.GetThread(ctx, parentID)
	if err != nil {
		o.log.Warn("cannot notify missing parent", "parent_id", parentID, "error", err)
		return
	}
	if parent.ArchivedAt != nil {
		return
	}

	msg, err := o.store.AddMessage(ctx, parentID, store.RoleUser, text, nil)
	if err != nil {
		o.log.Warn("failed to persist parent notification", "parent_id", parentID, "error", err)
		return
	}
	o.publish(ctx, parentID, event.TypeMessage, event.Message{Message: msg})

	if parent.AutoReact {
		o.notifier.enqueue(parentID, text)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
