// Package agent defines the driver boundary: the typed event stream a
// coding-agent backend yields for one conversation turn.
package agent

import (
	"context"
	"encoding/json"
)

// Tool names the host recognises in the driver's tool-use events.
const (
	ToolTask         = "Task"
	ToolSpawnThread  = "SpawnThread"
	ToolSignalStatus = "SignalStatus"
	ToolSendToThread = "SendToThread"
	ToolListThreads  = "ListThreads"
	ToolGetOutput    = "GetThreadOutput"
	ToolWaitThreads  = "WaitForThreads"
)

// Kind tags one driver event. The set is closed; the engine logs and
// drops anything else a driver emits.
type Kind string

const (
	KindText       Kind = "text"
	KindThinking   Kind = "thinking"
	KindToolUse    Kind = "tool_use"
	KindToolInput  Kind = "tool_input"
	KindToolResult Kind = "tool_result"
	KindError      Kind = "error"
	KindUsage      Kind = "usage"
	KindStatus     Kind = "status"
)

// Event is one element of the driver's stream. Only the fields of the
// tagged kind are meaningful.
type Event struct {
	Kind Kind

	// text, thinking, tool_result content, error message.
	Content   string
	Signature string

	// tool_use / tool_input / tool_result.
	ToolID    string
	ToolName  string
	ToolInput json.RawMessage
	IsError   bool

	// usage.
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64

	// status (terminal): the driver's status string and the session
	// token to resume from next turn.
	Status    string
	SessionID string
}

// Image is an inline attachment sent with the prompt.
type Image struct {
	MediaType string
	Data      []byte
}

// Invocation is one turn's worth of driver input.
type Invocation struct {
	ThreadID         string
	Prompt           string
	Images           []Image
	SessionID        string // resume token from a previous turn, empty for a fresh session
	Model            string
	PermissionMode   string
	ExtendedThinking bool
	WorkDir          string
}

// Driver runs one agent turn, calling emit for each event in stream
// order. Run returns when the stream ends: nil on a normal end, the
// context error on cancellation or timeout, any other error on a
// broken stream. Emit is called from a single goroutine.
type Driver interface {
	Run(ctx context.Context, inv Invocation, emit func(Event)) error
}
