package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/store"
)

// Plan-approval actions a client may take.
const (
	PlanActionProceed = "proceed"
	PlanActionModify  = "modify"
	PlanActionCompact = "compact"
)

// AskQuestion broadcasts an interactive question and parks the caller
// until the user answers or the question times out. A nil result with
// nil error means timeout.
func (o *Orchestrator) AskQuestion(ctx context.Context, threadID string, questions json.RawMessage) (json.RawMessage, error) {
	th, err := o.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	o.publish(ctx, threadID, event.TypeQuestion, event.Question{Questions: questions})
	if th.ParentID != nil {
		o.publish(ctx, *th.ParentID, event.TypeChildQuestion, event.ChildQuestion{
			ThreadID:  threadID,
			Title:     th.Title,
			Questions: questions,
		})
	}

	return o.prompts.AwaitResponse(ctx, threadID, o.cfg.QuestionTimeout)
}

// AnswerQuestion resolves a pending question with the user's answers.
func (o *Orchestrator) AnswerQuestion(threadID string, answers json.RawMessage) {
	o.prompts.Resolve(threadID, answers)
}

// RequestPlanApproval broadcasts a plan for approval and parks the
// caller. On timeout it publishes plan_approval{timeout:true} so the
// client can unwind, and returns nil.
func (o *Orchestrator) RequestPlanApproval(ctx context.Context, threadID, planContent string, allowedPrompts json.RawMessage, pushToRemote bool) (json.RawMessage, error) {
	o.publish(ctx, threadID, event.TypePlanApproval, event.PlanApproval{
		PlanContent:    planContent,
		AllowedPrompts: allowedPrompts,
		PushToRemote:   pushToRemote,
	})

	resp, err := o.prompts.AwaitResponse(ctx, threadID, o.cfg.PlanTimeout)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		o.publish(context.WithoutCancel(ctx), threadID, event.TypePlanApproval, event.PlanApproval{Timeout: true})
	}
	return resp, nil
}

// PlanActionResponse is the payload delivered to the waiting agent
// when the user acts on a plan.
type PlanActionResponse struct {
	Action         string `json:"action"`
	PermissionMode string `json:"permission_mode,omitempty"`
}

// PlanAction resolves a pending plan approval. compact additionally
// clears the conversation and seeds a system summary so the next turn
// starts from a fresh context.
func (o *Orchestrator) PlanAction(ctx context.Context, threadID, action, permissionMode string) error {
	switch action {
	case PlanActionProceed, PlanActionModify, PlanActionCompact:
	default:
		return fmt.Errorf("%w: invalid plan action %q", store.ErrValidation, action)
	}
	if permissionMode != "" && !store.ValidPermissionModes[permissionMode] {
		return fmt.Errorf("%w: invalid permission mode %q", store.ErrValidation, permissionMode)
	}

	if permissionMode != "" {
		if err := o.UpdateConfig(ctx, threadID, store.ConfigUpdate{PermissionMode: &permissionMode}); err != nil {
			return err
		}
	}

	if action == PlanActionCompact {
		if _, err := o.ClearMessages(ctx, threadID); err != nil {
			return err
		}
		summary := "[system] Conversation history was compacted before plan execution. Continue with the approved plan."
		if _, err := o.store.AddMessage(ctx, threadID, store.RoleSystem, summary, nil); err != nil {
			return err
		}
	}

	o.prompts.Resolve(threadID, event.Marshal(PlanActionResponse{Action: action, PermissionMode: permissionMode}))
	o.publish(ctx, threadID, event.TypePlanAction, event.PlanAction{Action: action, PermissionMode: permissionMode})
	return nil
}
