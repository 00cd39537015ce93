// Package event defines the closed set of thread-stream event types and
// their wire payloads. Every event published on a thread carries one of
// these type tags; unknown tags from the agent driver are logged and
// dropped rather than forwarded.
package event

import (
	"encoding/json"

	"github.com/mainthread/mainthread/internal/store"
)

// Event type tags as they appear on the wire (SSE event name, stored
// event_type column).
const (
	TypeConnected        = "connected"
	TypeTextDelta        = "text_delta"
	TypeThinking         = "thinking"
	TypeToolUse          = "tool_use"
	TypeToolInput        = "tool_input"
	TypeToolResult       = "tool_result"
	TypeStatusChange     = "status_change"
	TypeConfigChange     = "config_change"
	TypeTitleChange      = "title_change"
	TypeMessage          = "message"
	TypeComplete         = "complete"
	TypeError            = "error"
	TypeUsage            = "usage"
	TypeQuestion         = "question"
	TypeChildQuestion    = "child_question"
	TypePlanApproval     = "plan_approval"
	TypePlanAction       = "plan_action"
	TypeSubthreadStatus  = "subthread_status"
	TypeSubagentStart    = "subagent_start"
	TypeSubagentStop     = "subagent_stop"
	TypeThreadCreated    = "thread_created"
	TypeThreadArchived   = "thread_archived"
	TypeThreadUnarchived = "thread_unarchived"
	TypeMessagesCleared  = "messages_cleared"
	TypeAllThreadsReset  = "all_threads_reset"
	TypeStopped          = "stopped"
	TypeQueueWaiting     = "queue_waiting"
	TypeQueueAcquired    = "queue_acquired"
	TypeShutdown         = "shutdown"
)

// Envelope is one event as delivered to a subscriber: the stored
// sequence number plus type tag and raw payload.
type Envelope struct {
	ThreadID string          `json:"thread_id"`
	Seq      int64           `json:"seq"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
}

// Connected is the synthetic first event of every subscription. Seq 0,
// never persisted.
type Connected struct {
	ThreadID string `json:"thread_id"`
}

type TextDelta struct {
	Content string `json:"content"`
}

type Thinking struct {
	Content   string `json:"content"`
	Signature string `json:"signature,omitempty"`
}

// ToolUse announces a tool invocation. Input may be absent when the
// driver streams it separately; a later tool_input carries the full
// value.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

type ToolInput struct {
	ID    string          `json:"id"`
	Input json.RawMessage `json:"input"`
}

// ToolResult completes a tool invocation. ThreadID is set when the
// result text embeds a spawn marker, surfacing the spawned thread to
// the client.
type ToolResult struct {
	ToolUseID string  `json:"tool_use_id"`
	IsError   bool    `json:"is_error"`
	Content   string  `json:"content,omitempty"`
	ThreadID  *string `json:"thread_id,omitempty"`
}

type StatusChange struct {
	Status store.Status `json:"status"`
}

// ConfigChange carries only the fields that changed.
type ConfigChange struct {
	Model            *string `json:"model,omitempty"`
	ExtendedThinking *bool   `json:"extendedThinking,omitempty"`
	PermissionMode   *string `json:"permissionMode,omitempty"`
	AutoReact        *bool   `json:"autoReact,omitempty"`
}

type TitleChange struct {
	Title string `json:"title"`
}

// Message wraps a newly persisted message, typically a user send or a
// sub-thread notification.
type Message struct {
	Message *store.Message `json:"message"`
}

// Complete ends a turn: the final assistant message and the status the
// thread settled on.
type Complete struct {
	AssistantMessage *store.Message `json:"assistant_message"`
	Status           store.Status   `json:"status"`
}

type Error struct {
	Error string `json:"error"`
}

type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// Question is an interactive prompt from the agent. Questions keeps the
// driver's shape verbatim; the server relays it to the client untouched.
type Question struct {
	Questions json.RawMessage `json:"questions"`
}

// ChildQuestion bubbles a sub-thread's question to its parent stream.
type ChildQuestion struct {
	ThreadID  string          `json:"thread_id"`
	Title     string          `json:"title"`
	Questions json.RawMessage `json:"questions"`
}

// PlanApproval asks the user to approve a plan before execution.
// Timeout true means the prompt expired unanswered and the UI should
// unwind.
type PlanApproval struct {
	PlanContent    string          `json:"plan_content,omitempty"`
	AllowedPrompts json.RawMessage `json:"allowed_prompts,omitempty"`
	PushToRemote   bool            `json:"push_to_remote,omitempty"`
	Timeout        bool            `json:"timeout,omitempty"`
}

type PlanAction struct {
	Action         string `json:"action"`
	PermissionMode string `json:"permission_mode,omitempty"`
}

// SubthreadStatus announces a child's terminal status on the parent
// stream. Exactly one is delivered per child run.
type SubthreadStatus struct {
	ThreadID string       `json:"thread_id"`
	Title    string       `json:"title"`
	Status   store.Status `json:"status"`
	Reason   string       `json:"reason,omitempty"`
}

type SubagentStart struct {
	ThreadID     string `json:"thread_id"`
	Title        string `json:"title"`
	SubagentType string `json:"subagent_type"`
}

type SubagentStop struct {
	AgentType    string  `json:"agent_type"`
	Result       string  `json:"result,omitempty"`
	Error        string  `json:"error,omitempty"`
	IsBackground bool    `json:"is_background"`
	ToolUseID    *string `json:"tool_use_id,omitempty"`
}

type ThreadCreated struct {
	Thread *store.Thread `json:"thread"`
}

type ThreadArchived struct {
	ThreadID string `json:"thread_id"`
}

type ThreadUnarchived struct {
	ThreadID string `json:"thread_id"`
}

type MessagesCleared struct {
	ThreadID string `json:"thread_id"`
}

type QueueWaiting struct {
	Message string `json:"message"`
}

// Marshal encodes a payload, panicking on failure. Payload types in
// this package contain nothing unencodable, so an error here is a
// programming bug.
func Marshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic("event: marshal payload: " + err.Error())
	}
	return b
}
