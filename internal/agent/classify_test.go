package agent_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mainthread/mainthread/internal/agent"
	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/store"
)

func signalBlock(status string) event.Block {
	return event.Block{
		Type:  event.BlockToolUse,
		Name:  agent.ToolSignalStatus,
		Input: json.RawMessage(`{"status":"` + status + `"}`),
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name   string
		blocks []event.Block
		text   string
		want   store.Status
	}{
		{
			name: "no signals",
			text: "task finished normally",
			want: store.StatusActive,
		},
		{
			name:   "signal done",
			blocks: []event.Block{signalBlock("done")},
			want:   store.StatusDone,
		},
		{
			name:   "signal blocked",
			blocks: []event.Block{signalBlock("blocked")},
			want:   store.StatusNeedsAttention,
		},
		{
			name: "text done marker",
			text: "All steps complete. [DONE]",
			want: store.StatusDone,
		},
		{
			name: "text blocked marker",
			text: "[BLOCKED] waiting on credentials",
			want: store.StatusNeedsAttention,
		},
		{
			name:   "signal beats text marker",
			blocks: []event.Block{signalBlock("done")},
			text:   "[BLOCKED] stale marker from earlier output",
			want:   store.StatusDone,
		},
		{
			name: "blocked marker beats done marker",
			text: "[DONE] but also [BLOCKED]",
			want: store.StatusNeedsAttention,
		},
		{
			name: "other tool calls ignored",
			blocks: []event.Block{{
				Type:  event.BlockToolUse,
				Name:  "Bash",
				Input: json.RawMessage(`{"command":"ls"}`),
			}},
			want: store.StatusActive,
		},
		{
			name: "malformed signal input ignored",
			blocks: []event.Block{{
				Type:  event.BlockToolUse,
				Name:  agent.ToolSignalStatus,
				Input: json.RawMessage(`not json`),
			}},
			text: "[DONE]",
			want: store.StatusDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, agent.ClassifyStatus(tt.blocks, tt.text))
		})
	}
}
