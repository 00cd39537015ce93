package store

import (
	"encoding/json"
	"time"
)

// Status is a thread's lifecycle state.
type Status string

const (
	StatusActive         Status = "active"
	StatusPending        Status = "pending"
	StatusRunning        Status = "running"
	StatusNeedsAttention Status = "needs_attention"
	StatusDone           Status = "done"
	StatusNewMessage     Status = "new_message"
)

// ValidStatuses is the closed set of thread statuses.
var ValidStatuses = map[Status]bool{
	StatusActive:         true,
	StatusPending:        true,
	StatusRunning:        true,
	StatusNeedsAttention: true,
	StatusDone:           true,
	StatusNewMessage:     true,
}

// Permission modes control how much autonomy the agent gets.
const (
	PermissionDefault     = "default"
	PermissionAcceptEdits = "acceptEdits"
	PermissionBypass      = "bypassPermissions"
	PermissionPlan        = "plan"
)

// ValidPermissionModes is the closed set of permission modes.
var ValidPermissionModes = map[string]bool{
	PermissionDefault:     true,
	PermissionAcceptEdits: true,
	PermissionBypass:      true,
	PermissionPlan:        true,
}

// DefaultModel is used when a thread is created without a model selector.
const DefaultModel = "claude-opus-4-5"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ValidRoles is the closed set of message roles.
var ValidRoles = map[string]bool{
	RoleUser:      true,
	RoleAssistant: true,
	RoleSystem:    true,
}

// Thread is one conversation with an agent.
type Thread struct {
	ID                    string     `json:"id"`
	Title                 string     `json:"title"`
	Status                Status     `json:"status"`
	ParentID              *string    `json:"parentId"`
	WorkDir               *string    `json:"workDir"`
	SessionID             *string    `json:"sessionId"`
	Model                 string     `json:"model"`
	ExtendedThinking      bool       `json:"extendedThinking"`
	PermissionMode        string     `json:"permissionMode"`
	AutoReact             bool       `json:"autoReact"`
	GitBranch             *string    `json:"gitBranch"`
	GitRepo               *string    `json:"gitRepo"`
	IsWorktree            bool       `json:"isWorktree"`
	WorktreeBranch        *string    `json:"worktreeBranch"`
	IsEphemeral           bool       `json:"isEphemeral"`
	AllowNestedSubthreads bool       `json:"allowNestedSubthreads"`
	MaxThreadDepth        int        `json:"maxThreadDepth"`
	InputTokens           int64      `json:"inputTokens"`
	OutputTokens          int64      `json:"outputTokens"`
	TotalCostUSD          float64    `json:"totalCostUsd"`
	ArchivedAt            *time.Time `json:"archivedAt"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
	Messages              []Message  `json:"messages,omitempty"`
}

// Message is one entry in a thread's conversation.
type Message struct {
	ID            string          `json:"id"`
	ThreadID      string          `json:"thread_id"`
	Role          string          `json:"role"`
	Content       string          `json:"content"`
	ContentBlocks json.RawMessage `json:"content_blocks,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Event is one persisted entry in a thread's event log. Seq is dense,
// starts at 1 and is assigned atomically with the insert.
type Event struct {
	ThreadID  string          `json:"thread_id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Usage aggregates a thread's persisted token accounting, with a
// rollup over direct children.
type Usage struct {
	InputTokens          int64   `json:"inputTokens"`
	OutputTokens         int64   `json:"outputTokens"`
	TotalCostUSD         float64 `json:"totalCostUsd"`
	ChildrenInputTokens  int64   `json:"childrenInputTokens"`
	ChildrenOutputTokens int64   `json:"childrenOutputTokens"`
	ChildrenTotalCost    float64 `json:"childrenTotalCostUsd"`
}

// TokenEstimate is the advisory chars/4 context-size heuristic.
// Authoritative counters come from the driver's usage events.
type TokenEstimate struct {
	TotalTokens     int      `json:"totalTokens"`
	UserTokens      int      `json:"userTokens"`
	AssistantTokens int      `json:"assistantTokens"`
	SystemTokens    int      `json:"systemTokens"`
	MessageCount    int      `json:"messageCount"`
	Warnings        []string `json:"warnings"`
}
