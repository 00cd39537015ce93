package agent

import (
	"encoding/json"
	"strings"

	"github.com/mainthread/mainthread/internal/event"
	"github.com/mainthread/mainthread/internal/store"
)

// Text markers an agent may leave in its final output to signal a
// terminal status without calling SignalStatus.
const (
	MarkerBlocked = "[BLOCKED]"
	MarkerDone    = "[DONE]"
)

type signalInput struct {
	Status string `json:"status"`
}

// ExplicitSignal reports the status of a SignalStatus tool call found
// in the blocks, if any.
func ExplicitSignal(blocks []event.Block) (store.Status, bool) {
	for _, b := range blocks {
		if b.Type != event.BlockToolUse || b.Name != ToolSignalStatus {
			continue
		}
		var in signalInput
		if err := json.Unmarshal(b.Input, &in); err != nil {
			continue
		}
		switch in.Status {
		case "done":
			return store.StatusDone, true
		case "blocked":
			return store.StatusNeedsAttention, true
		}
	}
	return "", false
}

// ClassifyStatus derives a turn's final thread status from the
// aggregated blocks and text. An explicit SignalStatus tool call wins
// over text markers; with neither, the thread stays active.
func ClassifyStatus(blocks []event.Block, text string) store.Status {
	if status, ok := ExplicitSignal(blocks); ok {
		return status
	}

	if strings.Contains(text, MarkerBlocked) {
		return store.StatusNeedsAttention
	}
	if strings.Contains(text, MarkerDone) {
		return store.StatusDone
	}
	return store.StatusActive
}
