package main

import (
	"context"
	"encoding/json"

	"github.com/mainthread/mainthread/internal/agent/claudecli"
	"github.com/mainthread/mainthread/internal/orchestrator"
)

// promptHost is the orchestrator surface the permission handler needs.
type promptHost interface {
	AskQuestion(ctx context.Context, threadID string, questions json.RawMessage) (json.RawMessage, error)
	RequestPlanApproval(ctx context.Context, threadID, planContent string, allowedPrompts json.RawMessage, pushToRemote bool) (json.RawMessage, error)
}

// askToolPermission resolves a driver permission prompt. AskUserQuestion
// and ExitPlanMode get their dedicated interactive flows; every other
// tool becomes a generic allow/deny question on the thread's stream.
func askToolPermission(ctx context.Context, host promptHost, threadID, toolName string, input json.RawMessage) claudecli.PermissionDecision {
	switch toolName {
	case "AskUserQuestion":
		return askUserQuestion(ctx, host, threadID, input)
	case "ExitPlanMode":
		return approvePlan(ctx, host, threadID, input)
	}
	return genericPermission(ctx, host, threadID, toolName, input)
}

// askUserQuestion relays the agent's questions to the user and, when
// answered, allows the tool with the answers merged into its input.
func askUserQuestion(ctx context.Context, host promptHost, threadID string, input json.RawMessage) claudecli.PermissionDecision {
	var in struct {
		Questions json.RawMessage `json:"questions"`
	}
	_ = json.Unmarshal(input, &in)
	if len(in.Questions) == 0 {
		in.Questions = json.RawMessage(`[]`)
	}

	answers, err := host.AskQuestion(ctx, threadID, in.Questions)
	if err != nil {
		return claudecli.PermissionDecision{Message: "question delivery failed"}
	}
	if answers == nil {
		return claudecli.PermissionDecision{Message: "User did not respond to question"}
	}

	var updated map[string]json.RawMessage
	if err := json.Unmarshal(input, &updated); err != nil || updated == nil {
		updated = map[string]json.RawMessage{}
	}
	updated["answers"] = answers
	data, err := json.Marshal(updated)
	if err != nil {
		return claudecli.PermissionDecision{Message: "internal error"}
	}
	return claudecli.PermissionDecision{Allow: true, UpdatedInput: data}
}

// approvePlan parks the turn on plan approval. Only an explicit
// "modify" or "compact" denies; timeout denies with its own message.
func approvePlan(ctx context.Context, host promptHost, threadID string, input json.RawMessage) claudecli.PermissionDecision {
	var in struct {
		Plan           string          `json:"plan"`
		AllowedPrompts json.RawMessage `json:"allowedPrompts"`
		PushToRemote   bool            `json:"pushToRemote"`
	}
	_ = json.Unmarshal(input, &in)

	resp, err := host.RequestPlanApproval(ctx, threadID, in.Plan, in.AllowedPrompts, in.PushToRemote)
	if err != nil {
		return claudecli.PermissionDecision{Message: "plan approval failed"}
	}
	if resp == nil {
		return claudecli.PermissionDecision{Message: "Timeout waiting for plan approval"}
	}

	var action orchestrator.PlanActionResponse
	if err := json.Unmarshal(resp, &action); err != nil {
		return claudecli.PermissionDecision{Message: "unparseable plan action"}
	}
	switch action.Action {
	case orchestrator.PlanActionModify:
		return claudecli.PermissionDecision{Message: "User requested plan modification"}
	case orchestrator.PlanActionCompact:
		return claudecli.PermissionDecision{Message: "User requested context compaction"}
	default:
		return claudecli.PermissionDecision{Allow: true}
	}
}

// genericPermission turns any other tool prompt into an allow/deny
// question. Timeout or an unparseable answer denies the call.
func genericPermission(ctx context.Context, host promptHost, threadID, toolName string, input json.RawMessage) claudecli.PermissionDecision {
	question, err := json.Marshal(map[string]any{
		"type":    "permission",
		"tool":    toolName,
		"input":   input,
		"options": []string{"allow", "deny"},
	})
	if err != nil {
		return claudecli.PermissionDecision{Message: "internal error"}
	}

	resp, err := host.AskQuestion(ctx, threadID, question)
	if err != nil {
		return claudecli.PermissionDecision{Message: "permission request failed"}
	}
	if resp == nil {
		return claudecli.PermissionDecision{Message: "permission request timed out"}
	}

	var answer struct {
		Behavior string `json:"behavior"`
		Answer   string `json:"answer"`
	}
	if err := json.Unmarshal(resp, &answer); err != nil {
		return claudecli.PermissionDecision{Message: "unparseable permission answer"}
	}
	if answer.Behavior == "allow" || answer.Answer == "allow" {
		return claudecli.PermissionDecision{Allow: true}
	}
	return claudecli.PermissionDecision{Message: "denied by user"}
}
