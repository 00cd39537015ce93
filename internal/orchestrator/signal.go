package orchestrator

import (
	"context"
	"fmt"

	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/store"
)

// BroadcastStatusSignal handles an explicit SignalStatus call from a
// sub-thread's agent: persists the mapped status on the child and
// announces it on the parent stream.
func (o *Orchestrator) BroadcastStatusSignal(ctx context.Context, childID, status, reason string) error {
	child, err := o.store.GetThread(ctx, childID)
	if err != nil {
		return err
	}
	if child.ParentID == nil {
		return fmt.Errorf("%w: thread %s has no parent to signal", store.ErrValidation, childID)
	}

	var mapped store.Status
	switch status {
	case "done":
		mapped = store.StatusDone
	case "blocked":
		mapped = store.StatusNeedsAttention
	default:
		return fmt.Errorf("%w: invalid signal status %q", store.ErrValidation, status)
	}

	if err := o.store.UpdateThreadStatus(ctx, childID, mapped); err != nil {
		return err
	}
	o.publish(ctx, childID, event.TypeStatusChange, event.StatusChange{Status: mapped})
	o.publish(ctx, *child.ParentID, event.TypeSubthreadStatus, event.SubthreadStatus{
		ThreadID: childID,
		Title:    child.Title,
		Status:   mapped,
		Reason:   reason,
	})
	return nil
}
