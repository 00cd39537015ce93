package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mainthread/mainthread/internal/orchestrator"
	"github.com/mainthread/mainthread/internal/store"
	"github.com/mainthread/mainthread/internal/util/timefmt"
)

const (
	// Long messages are cut in ReadThread output to keep transcripts
	// readable inside the agent context.
	maxMessageDisplayLen = 2000

	defaultReadLimit = 200
	maxReadLimit     = 1000
)

func (r *Registry) listThreads(ctx context.Context, _ json.RawMessage) Result {
	threads, err := r.svc.ListThreads(ctx, true)
	if err != nil {
		return errorf("Failed to list threads: %v", err)
	}
	if len(threads) == 0 {
		return Result{Text: "No threads exist yet."}
	}

	lines := make([]string, 0, len(threads))
	for _, t := range threads {
		parent := " (main thread)"
		if t.ParentID != nil {
			parent = fmt.Sprintf(" (sub-thread of %s)", *t.ParentID)
		}
		archived := ""
		if t.ArchivedAt != nil {
			archived = ", Archived: " + timefmt.Format(*t.ArchivedAt)
		}
		lines = append(lines, fmt.Sprintf("- %s (ID: %s)%s\n  Status: %s, Messages: %d%s",
			t.Title, t.ID, parent, t.Status, len(t.Messages), archived))
	}
	return Result{Text: "Existing threads:\n\n" + strings.Join(lines, "\n")}
}

type readInput struct {
	ThreadID string `json:"thread_id"`
	Limit    int    `json:"limit"`
}

func (r *Registry) readThread(ctx context.Context, input json.RawMessage) Result {
	var in readInput
	if err := json.Unmarshal(input, &in); err != nil {
		return errorf("invalid ReadThread input: %v", err)
	}
	if in.ThreadID == "" {
		return errorf("thread_id is required")
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultReadLimit
	} else if limit > maxReadLimit {
		limit = maxReadLimit
	}

	th, err := r.svc.Thread(ctx, in.ThreadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorf("Thread %s not found.", in.ThreadID)
		}
		return errorf("Failed to read thread: %v", err)
	}
	messages, err := r.svc.ThreadMessages(ctx, in.ThreadID)
	if err != nil {
		return errorf("Failed to read thread: %v", err)
	}
	return Result{Text: formatTranscript(th, messages, limit)}
}

// formatTranscript renders the tail of a thread's conversation with a
// metadata header, matching what the agent expects after a sub-thread
// notification.
func formatTranscript(th *store.Thread, messages []store.Message, limit int) string {
	total := len(messages)
	if total > limit {
		messages = messages[total-limit:]
	}

	msgInfo := fmt.Sprintf("%d", total)
	if len(messages) < total {
		msgInfo = fmt.Sprintf("%d/%d (showing last %d)", len(messages), total, limit)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Thread: %q (ID: %s)\n", th.Title, th.ID)
	fmt.Fprintf(&sb, "Status: %s | Messages: %s | Created: %s\n", th.Status, msgInfo, timefmt.Ago(th.CreatedAt))

	for i, m := range messages {
		content := m.Content
		if len(content) > maxMessageDisplayLen {
			content = content[:maxMessageDisplayLen] + "... [truncated]"
		}
		sb.WriteString("\n")
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[%s] %s", m.Role, content)
	}
	return sb.String()
}

type archiveInput struct {
	ThreadID string `json:"thread_id"`
}

func (r *Registry) archiveThread(ctx context.Context, input json.RawMessage) Result {
	var in archiveInput
	if err := json.Unmarshal(input, &in); err != nil {
		return errorf("invalid ArchiveThread input: %v", err)
	}
	if in.ThreadID == "" {
		return errorf("thread_id is required")
	}

	if err := r.svc.Archive(ctx, in.ThreadID); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrValidation) {
			return errorf("Thread %s was already archived or not found.", in.ThreadID)
		}
		return errorf("Failed to archive thread: %v", err)
	}
	return Result{Text: fmt.Sprintf("Archived thread %s. It can be restored later if needed.", in.ThreadID)}
}

type sendInput struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

func (r *Registry) sendToThread(ctx context.Context, input json.RawMessage) Result {
	var in sendInput
	if err := json.Unmarshal(input, &in); err != nil {
		return errorf("invalid SendToThread input: %v", err)
	}
	if in.ThreadID == "" || in.Message == "" {
		return errorf("thread_id and message are required")
	}

	if err := r.svc.SendToThread(ctx, r.threadID, in.ThreadID, in.Message); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrNotChild), errors.Is(err, store.ErrNotFound):
			return errorf("Thread %s not found or not a child thread", in.ThreadID)
		case errors.Is(err, orchestrator.ErrRateLimited):
			return errorf("Rate limit exceeded: %v", err)
		default:
			return errorf("Error sending to thread: %v", err)
		}
	}

	title := in.ThreadID
	if th, err := r.svc.Thread(ctx, in.ThreadID); err == nil {
		title = th.Title
	}
	return Result{Text: fmt.Sprintf(
		"Message sent to thread '%s'. The thread will process your message and notify you when complete.", title)}
}
