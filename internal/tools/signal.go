package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

type signalInput struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// signalStatus replaces the fragile [BLOCKED]/[DONE] text markers with
// a structured call. Only sub-threads have a parent to signal.
func (r *Registry) signalStatus(ctx context.Context, input json.RawMessage) Result {
	var in signalInput
	if err := json.Unmarshal(input, &in); err != nil {
		return errorf("invalid SignalStatus input: %v", err)
	}
	if in.Status != "done" && in.Status != "blocked" {
		return errorf("Invalid status '%s'. Must be 'done' or 'blocked'.", in.Status)
	}

	if err := r.svc.BroadcastStatusSignal(ctx, r.threadID, in.Status, in.Reason); err != nil {
		return errorf("Failed to signal status: %v", err)
	}

	outcome := "completed"
	if in.Status == "blocked" {
		outcome = "blocked and needs attention"
	}
	return Result{Text: fmt.Sprintf("Status signaled: %s. Reason: %s", outcome, in.Reason)}
}
