package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mainthread/mainthread/internal/orchestrator"
)

type stubPromptHost struct {
	questionResp json.RawMessage
	questionErr  error
	planResp     json.RawMessage
	planErr      error

	gotQuestions json.RawMessage
	gotPlan      string
	gotPush      bool
}

func (s *stubPromptHost) AskQuestion(ctx context.Context, threadID string, questions json.RawMessage) (json.RawMessage, error) {
	s.gotQuestions = questions
	return s.questionResp, s.questionErr
}

func (s *stubPromptHost) RequestPlanApproval(ctx context.Context, threadID, planContent string, allowedPrompts json.RawMessage, pushToRemote bool) (json.RawMessage, error) {
	s.gotPlan = planContent
	s.gotPush = pushToRemote
	return s.planResp, s.planErr
}

func TestAskToolPermission_QuestionAnswered(t *testing.T) {
	host := &stubPromptHost{questionResp: json.RawMessage(`{"0":"blue"}`)}
	input := json.RawMessage(`{"questions":[{"question":"favorite color?"}]}`)

	dec := askToolPermission(context.Background(), host, "th_1", "AskUserQuestion", input)

	require.True(t, dec.Allow)
	assert.JSONEq(t, `[{"question":"favorite color?"}]`, string(host.gotQuestions))

	var updated map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(dec.UpdatedInput, &updated))
	assert.JSONEq(t, `{"0":"blue"}`, string(updated["answers"]))
	assert.JSONEq(t, `[{"question":"favorite color?"}]`, string(updated["questions"]))
}

func TestAskToolPermission_QuestionTimeout(t *testing.T) {
	host := &stubPromptHost{questionResp: nil}

	dec := askToolPermission(context.Background(), host, "th_1", "AskUserQuestion", json.RawMessage(`{"questions":[]}`))

	assert.False(t, dec.Allow)
	assert.Equal(t, "User did not respond to question", dec.Message)
}

func TestAskToolPermission_PlanProceed(t *testing.T) {
	resp, _ := json.Marshal(orchestrator.PlanActionResponse{Action: orchestrator.PlanActionProceed})
	host := &stubPromptHost{planResp: resp}
	input := json.RawMessage(`{"plan":"ship it","pushToRemote":true}`)

	dec := askToolPermission(context.Background(), host, "th_1", "ExitPlanMode", input)

	assert.True(t, dec.Allow)
	assert.Equal(t, "ship it", host.gotPlan)
	assert.True(t, host.gotPush)
}

func TestAskToolPermission_PlanModifyAndCompact(t *testing.T) {
	modify, _ := json.Marshal(orchestrator.PlanActionResponse{Action: orchestrator.PlanActionModify})
	host := &stubPromptHost{planResp: modify}
	dec := askToolPermission(context.Background(), host, "th_1", "ExitPlanMode", json.RawMessage(`{"plan":"p"}`))
	assert.False(t, dec.Allow)
	assert.Equal(t, "User requested plan modification", dec.Message)

	compact, _ := json.Marshal(orchestrator.PlanActionResponse{Action: orchestrator.PlanActionCompact})
	host.planResp = compact
	dec = askToolPermission(context.Background(), host, "th_1", "ExitPlanMode", json.RawMessage(`{"plan":"p"}`))
	assert.False(t, dec.Allow)
	assert.Equal(t, "User requested context compaction", dec.Message)
}

func TestAskToolPermission_PlanTimeout(t *testing.T) {
	host := &stubPromptHost{planResp: nil}

	dec := askToolPermission(context.Background(), host, "th_1", "ExitPlanMode", json.RawMessage(`{"plan":"p"}`))

	assert.False(t, dec.Allow)
	assert.Equal(t, "Timeout waiting for plan approval", dec.Message)
}

func TestAskToolPermission_GenericAllowDeny(t *testing.T) {
	host := &stubPromptHost{questionResp: json.RawMessage(`{"answer":"allow"}`)}
	dec := askToolPermission(context.Background(), host, "th_1", "Bash", json.RawMessage(`{"command":"ls"}`))
	assert.True(t, dec.Allow)

	var q map[string]any
	require.NoError(t, json.Unmarshal(host.gotQuestions, &q))
	assert.Equal(t, "permission", q["type"])
	assert.Equal(t, "Bash", q["tool"])

	host.questionResp = json.RawMessage(`{"answer":"deny"}`)
	dec = askToolPermission(context.Background(), host, "th_1", "Bash", json.RawMessage(`{"command":"rm"}`))
	assert.False(t, dec.Allow)
	assert.Equal(t, "denied by user", dec.Message)

	host.questionResp = nil
	dec = askToolPermission(context.Background(), host, "th_1", "Bash", json.RawMessage(`{"command":"rm"}`))
	assert.False(t, dec.Allow)
	assert.Equal(t, "permission request timed out", dec.Message)
}
