package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mainthread/mainthread/internal/agent"
	"github.com/mainthread/mainthread/internal/bus"
	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/store"
)

// Spawned threads announce themselves through a trailer line in the
// tool result text.
var spawnMarkerRe = regexp.MustCompile(`<!--SPAWN_DATA:([a-f0-9-]+)-->`)

const maxEphemeralTitleLen = 60

// messageStream aggregates one turn's driver events into the assistant
// message's block list, broadcasting each event and rewriting the
// stored message after every apply so a mid-turn crash loses at most
// one event.
type messageStream struct {
	store *store.Store
	bus   *bus.Bus
	log   *slog.Logger

	thread    *store.Thread
	messageID string

	blocks  []event.Block
	pending []string // tool-use ids awaiting a result, FIFO
	// Task tool invocations by id; their results additionally emit
	// subagent_stop.
	subagents map[string]string

	finalStatus string
	sessionID   string
}

func newMessageStream(st *store.Store, b *bus.Bus, log *slog.Logger, thread *store.Thread, messageID string) *messageStream {
	return &messageStream{
		store:     st,
		bus:       b,
		log:       log,
		thread:    thread,
		messageID: messageID,
		subagents: make(map[string]string),
	}
}

// Apply folds one driver event into the aggregate and broadcasts it.
func (ms *messageStream) Apply(ctx context.Context, ev agent.Event) {
	switch ev.Kind {
	case agent.KindText:
		ms.appendText(ev.Content)
		ms.publish(ctx, event.TypeTextDelta, event.TextDelta{Content: ev.Content})

	case agent.KindThinking:
		ms.appendThinking(ev.Content, ev.Signature)
		ms.publish(ctx, event.TypeThinking, event.Thinking{Content: ev.Content, Signature: ev.Signature})

	case agent.KindToolUse:
		ms.pending = append(ms.pending, ev.ToolID)
		incomplete := false
		ms.blocks = append(ms.blocks, event.Block{
			Type:       event.BlockToolUse,
			ID:         ev.ToolID,
			Name:       ev.ToolName,
			Input:      ev.ToolInput,
			IsComplete: &incomplete,
		})
		ms.publish(ctx, event.TypeToolUse, event.ToolUse{ID: ev.ToolID, Name: ev.ToolName, Input: ev.ToolInput})
		if ev.ToolName == agent.ToolTask {
			ms.startSubagent(ctx, ev)
		}

	case agent.KindToolInput:
		for i := range ms.blocks {
			if ms.blocks[i].Type == event.BlockToolUse && ms.blocks[i].ID == ev.ToolID {
				ms.blocks[i].Input = ev.ToolInput
				break
			}
		}
		ms.publish(ctx, event.TypeToolInput, event.ToolInput{ID: ev.ToolID, Input: ev.ToolInput})

	case agent.KindToolResult:
		ms.closeTool(ctx, ev)

	case agent.KindError:
		ms.publish(ctx, event.TypeError, event.Error{Error: ev.Content})

	case agent.KindUsage:
		ms.publish(ctx, event.TypeUsage, event.Usage{
			InputTokens:  ev.InputTokens,
			OutputTokens: ev.OutputTokens,
			TotalCostUSD: ev.CostUSD,
		})
		if err := ms.store.UpdateThreadUsage(ctx, ms.thread.ID, ev.InputTokens, ev.OutputTokens, ev.CostUSD); err != nil {
			ms.log.Warn("failed to record usage", "thread_id", ms.thread.ID, "error", err)
		}

	case agent.KindStatus:
		// Not broadcast; the complete event carries the final status.
		ms.finalStatus = ev.Status
		if ev.SessionID != "" {
			ms.sessionID = ev.SessionID
		}

	default:
		ms.log.Warn("dropping unknown driver event", "kind", ev.Kind, "thread_id", ms.thread.ID)
		return
	}

	ms.persist(ctx)
}

// Finalize completes any tool-use blocks whose results never arrived,
// in FIFO order.
func (ms *messageStream) Finalize(ctx context.Context) {
	for _, toolID := range ms.pending {
		ms.markComplete(toolID, false)
		ms.publish(ctx, event.TypeToolResult, event.ToolResult{ToolUseID: toolID})
	}
	ms.pending = nil
	ms.persist(ctx)
}

// Text returns the concatenated text-block content.
func (ms *messageStream) Text() string {
	var sb strings.Builder
	for _, b := range ms.blocks {
		if b.Type == event.BlockText {
			sb.WriteString(b.Content)
		}
	}
	return sb.String()
}

func (ms *messageStream) Blocks() []event.Block {
	return ms.blocks
}

func (ms *messageStream) appendText(content string) {
	if n := len(ms.blocks); n > 0 && ms.blocks[n-1].Type == event.BlockText {
		ms.blocks[n-1].Content += content
		return
	}
	ms.blocks = append(ms.blocks, event.Block{Type: event.BlockText, Content: content})
}

func (ms *messageStream) appendThinking(content, signature string) {
	if n := len(ms.blocks); n > 0 && ms.blocks[n-1].Type == event.BlockThinking {
		ms.blocks[n-1].Content += content
		if signature != "" {
			ms.blocks[n-1].Signature = signature
		}
		return
	}
	ms.blocks = append(ms.blocks, event.Block{Type: event.BlockThinking, Content: content, Signature: signature})
}

// startSubagent records an in-process Task invocation as an ephemeral
// thread so the UI can render it like any other sub-thread.
func (ms *messageStream) startSubagent(ctx context.Context, ev agent.Event) {
	var input struct {
		Description  string `json:"description"`
		SubagentType string `json:"subagent_type"`
	}
	_ = json.Unmarshal(ev.ToolInput, &input)

	title := input.Description
	if title == "" {
		title = "Subagent task"
	}
	if r := []rune(title); len(r) > maxEphemeralTitleLen {
		title = string(r[:maxEphemeralTitleLen])
	}

	if _, err := ms.store.CreateEphemeralThread(ctx, ev.ToolID, title, ms.thread.ID, ms.thread.WorkDir); err != nil {
		ms.log.Warn("failed to create ephemeral thread", "tool_id", ev.ToolID, "error", err)
		return
	}
	ms.subagents[ev.ToolID] = input.SubagentType
	ms.publish(ctx, event.TypeSubagentStart, event.SubagentStart{
		ThreadID:     ev.ToolID,
		Title:        title,
		SubagentType: input.SubagentType,
	})
}

// closeTool resolves which pending tool a result belongs to: matching
// id when given, FIFO head when the driver omitted it.
func (ms *messageStream) closeTool(ctx context.Context, ev agent.Event) {
	toolID := ev.ToolID
	if idx := indexOf(ms.pending, toolID); idx >= 0 {
		ms.pending = append(ms.pending[:idx], ms.pending[idx+1:]...)
	} else if len(ms.pending) > 0 {
		toolID = ms.pending[0]
		ms.pending = ms.pending[1:]
	}

	ms.markComplete(toolID, ev.IsError)

	result := event.ToolResult{ToolUseID: toolID, IsError: ev.IsError, Content: ev.Content}
	if m := spawnMarkerRe.FindStringSubmatch(ev.Content); m != nil {
		result.ThreadID = &m[1]
	}
	ms.publish(ctx, event.TypeToolResult, result)

	if agentType, ok := ms.subagents[toolID]; ok {
		delete(ms.subagents, toolID)
		stop := event.SubagentStop{AgentType: agentType, IsBackground: false, ToolUseID: &toolID}
		if ev.IsError {
			stop.Error = ev.Content
		} else {
			stop.Result = ev.Content
		}
		ms.publish(ctx, event.TypeSubagentStop, stop)
	}
}

func (ms *messageStream) markComplete(toolID string, isError bool) {
	for i := range ms.blocks {
		if ms.blocks[i].Type == event.BlockToolUse && ms.blocks[i].ID == toolID {
			complete := true
			ms.blocks[i].IsComplete = &complete
			ms.blocks[i].IsError = isError
			return
		}
	}
}

func (ms *messageStream) persist(ctx context.Context) {
	if err := ms.store.UpdateMessage(ctx, ms.messageID, ms.Text(), event.MarshalBlocks(ms.blocks)); err != nil {
		ms.log.Warn("failed to persist message aggregate", "message_id", ms.messageID, "error", err)
	}
}

func (ms *messageStream) publish(ctx context.Context, eventType string, payload any) {
	if _, err := ms.bus.Publish(ctx, ms.thread.ID, eventType, payload); err != nil {
		ms.log.Warn("failed to publish event", "type", eventType, "thread_id", ms.thread.ID, "error", err)
	}
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
