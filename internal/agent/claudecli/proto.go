package claudecli

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/mainthread/mainthread/internal/agent"
)

// session is one turn's stream state: stdout frames in, control
// responses out. handleLine runs on the single read goroutine; the
// stdin mutex guards against a concurrent cancel writer.
type session struct {
	driver *Driver
	inv    agent.Invocation
	emit   func(agent.Event)
	tools  ToolSet

	mu    sync.Mutex
	stdin io.Writer

	sessionID string
	sawResult bool

	// Deduplicates whole-message blocks already emitted as partial
	// stream deltas.
	streamedText     bool
	streamedThinking bool
	seenToolIDs      map[string]bool
}

type frame struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
	Event     json.RawMessage `json:"event"`

	// control_request fields.
	RequestID string          `json:"request_id"`
	Request   json.RawMessage `json:"request"`

	// result fields.
	IsError      bool            `json:"is_error"`
	Result       string          `json:"result"`
	Usage        json.RawMessage `json:"usage"`
	TotalCostUSD float64         `json:"total_cost_usd"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	Signature string          `json:"signature"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

func (s *session) handleLine(ctx context.Context, line []byte) {
	var f frame
	if err := json.Unmarshal(line, &f); err != nil {
		s.driver.log.Warn("unparseable stream line", "error", err)
		return
	}
	if f.SessionID != "" {
		s.sessionID = f.SessionID
	}

	switch f.Type {
	case "assistant":
		s.handleAssistant(f.Message)
	case "user":
		s.handleToolResults(f.Message)
	case "stream_event":
		s.handleStreamEvent(f.Event)
	case "result":
		s.handleResult(&f)
	case "control_request":
		s.handleControl(ctx, f.RequestID, f.Request)
	case "system", "control_cancel_request":
		// init and bookkeeping frames carry no conversation content.
	default:
		s.driver.log.Debug("unknown frame type", "type", f.Type)
	}
}

func (s *session) handleAssistant(raw json.RawMessage) {
	var msg struct {
		Content []contentBlock `json:"content"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			if !s.streamedText && b.Text != "" {
				s.emit(agent.Event{Kind: agent.KindText, Content: b.Text})
			}
		case "thinking":
			if !s.streamedThinking && b.Thinking != "" {
				s.emit(agent.Event{Kind: agent.KindThinking, Content: b.Thinking, Signature: b.Signature})
			}
		case "tool_use":
			if s.seenToolIDs[b.ID] {
				// Already announced from the partial stream; the whole
				// message carries the full input.
				if len(b.Input) > 0 {
					s.emit(agent.Event{Kind: agent.KindToolInput, ToolID: b.ID, ToolInput: b.Input})
				}
				continue
			}
			s.markToolSeen(b.ID)
			s.emit(agent.Event{Kind: agent.KindToolUse, ToolID: b.ID, ToolName: b.Name, ToolInput: b.Input})
		}
	}
}

func (s *session) handleToolResults(raw json.RawMessage) {
	var msg struct {
		Content []contentBlock `json:"content"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	for _, b := range msg.Content {
		if b.Type != "tool_result" {
			continue
		}
		s.emit(agent.Event{
			Kind:    agent.KindToolResult,
			ToolID:  b.ToolUseID,
			Content: resultText(b.Content),
			IsError: b.IsError,
		})
	}
}

// handleStreamEvent forwards partial deltas so the UI renders text as
// it is produced instead of per whole message.
func (s *session) handleStreamEvent(raw json.RawMessage) {
	var ev struct {
		Type  string `json:"type"`
		Delta struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			Thinking string `json:"thinking"`
		} `json:"delta"`
		ContentBlock *contentBlock `json:"content_block"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return
	}
	switch ev.Type {
	case "content_block_delta":
		switch ev.Delta.Type {
		case "text_delta":
			if ev.Delta.Text != "" {
				s.streamedText = true
				s.emit(agent.Event{Kind: agent.KindText, Content: ev.Delta.Text})
			}
		case "thinking_delta":
			if ev.Delta.Thinking != "" {
				s.streamedThinking = true
				s.emit(agent.Event{Kind: agent.KindThinking, Content: ev.Delta.Thinking})
			}
		}
	case "content_block_start":
		if b := ev.ContentBlock; b != nil && b.Type == "tool_use" && !s.seenToolIDs[b.ID] {
			s.markToolSeen(b.ID)
			s.emit(agent.Event{Kind: agent.KindToolUse, ToolID: b.ID, ToolName: b.Name, ToolInput: b.Input})
		}
	}
}

func (s *session) handleResult(f *frame) {
	s.sawResult = true

	if len(f.Usage) > 0 {
		var u struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		}
		if err := json.Unmarshal(f.Usage, &u); err == nil {
			s.emit(agent.Event{
				Kind:         agent.KindUsage,
				InputTokens:  u.InputTokens,
				OutputTokens: u.OutputTokens,
				CostUSD:      f.TotalCostUSD,
			})
		}
	}
	if f.IsError {
		msg := f.Result
		if msg == "" {
			msg = "unknown agent error"
		}
		s.emit(agent.Event{Kind: agent.KindError, Content: msg})
	}
	s.emit(agent.Event{Kind: agent.KindStatus, Status: f.Subtype, SessionID: s.sessionID})
}

func (s *session) markToolSeen(id string) {
	if s.seenToolIDs == nil {
		s.seenToolIDs = make(map[string]bool)
	}
	s.seenToolIDs[id] = true
}

// resultText flattens a tool result's content, which is either a bare
// string or a list of text blocks.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

func (s *session) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.stdin.Write(append(data, '\n'))
	return err
}
