package event

import "encoding/json"

// Block kinds within an assistant message's content_blocks list.
const (
	BlockText     = "text"
	BlockThinking = "thinking"
	BlockToolUse  = "tool_use"
)

// Block is one structured element of an assistant message. Text and
// thinking blocks carry Content; tool-use blocks carry ID/Name/Input
// and are marked complete when their result arrives.
type Block struct {
	Type       string          `json:"type"`
	Content    string          `json:"content,omitempty"`
	Signature  string          `json:"signature,omitempty"`
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	IsComplete *bool           `json:"is_complete,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
}

// MarshalBlocks serialises a block list for persistence. An empty list
// serialises to nil so the store skips the column.
func MarshalBlocks(blocks []Block) json.RawMessage {
	if len(blocks) == 0 {
		return nil
	}
	return Marshal(blocks)
}
