package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mainthread/mainthread/internal/id"
	"github.com/mainthread/mainthread/internal/util/timefmt"
)

// AddMessage appends a message to a thread. Content must be non-empty;
// blocks is an optional JSON payload of structured content blocks and
// is compressed at rest.
func (s *Store) AddMessage(ctx context.Context, threadID, role, content string, blocks json.RawMessage) (*Message, error) {
	if !ValidRoles[role] {
		return nil, fmt.Errorf("%w: invalid role %q", ErrValidation, role)
	}
	// Assistant messages start empty: the engine seeds a placeholder
	// and fills it in as the stream arrives.
	if content == "" && role != RoleAssistant {
		return nil, fmt.Errorf("%w: content must not be empty", ErrValidation)
	}

	messageID := id.New()
	now := time.Now()

	blob, compression := compressBlocks(blocks)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, role, content, content_blocks, blocks_compression, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		messageID, threadID, role, content, blob, compression, timefmt.Format(now))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return &Message{
		ID:            messageID,
		ThreadID:      threadID,
		Role:          role,
		Content:       content,
		ContentBlocks: blocks,
		Timestamp:     now.UTC().Truncate(time.Millisecond),
	}, nil
}

// UpdateMessage rewrites a message's content and blocks. The engine
// calls this after every streamed event so a crash mid-turn loses at
// most one event.
func (s *Store) UpdateMessage(ctx context.Context, messageID, content string, blocks json.RawMessage) error {
	blob, compression := compressBlocks(blocks)
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, content_blocks = ?, blocks_compression = ? WHERE id = ?`,
		content, blob, compression, messageID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

// MessagesByThread returns all messages of a thread in chronological order.
func (s *Store) MessagesByThread(ctx context.Context, threadID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, role, content, content_blocks, blocks_compression, timestamp
		FROM messages WHERE thread_id = ? ORDER BY timestamp ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("messages by thread: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

// MessagePage is one page of a thread's messages, chronological
// ascending. Offset counts from the end: offset 0 returns the most
// recent messages.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
	HasMore  bool      `json:"hasMore"`
}

// MessagesPaginated returns the most recent limit messages, skipping
// offset messages from the end. Limit is clamped to 1..100.
func (s *Store) MessagesPaginated(ctx context.Context, threadID string, limit, offset int) (*MessagePage, error) {
	limit = min(max(limit, 1), 100)
	offset = max(offset, 0)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE thread_id = ?`, threadID).Scan(&total); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	// The window ends offset messages before the newest; the limit
	// shrinks when the window reaches past the oldest message.
	end := total - offset
	startFrom := max(0, end-limit)
	actualLimit := end - startFrom
	page := &MessagePage{Messages: []Message{}, Total: total, Limit: limit, Offset: offset}
	if actualLimit <= 0 {
		return page, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, role, content, content_blocks, blocks_compression, timestamp
		FROM messages WHERE thread_id = ?
		ORDER BY timestamp ASC LIMIT ? OFFSET ?`,
		threadID, actualLimit, startFrom)
	if err != nil {
		return nil, fmt.Errorf("paginate messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		page.Messages = append(page.Messages, *m)
	}
	page.HasMore = startFrom > 0
	return page, rows.Err()
}

// ClearThreadMessages deletes a thread's messages and clears its
// session token so the next turn starts a fresh driver session.
// Returns the number of deleted messages.
func (s *Store) ClearThreadMessages(ctx context.Context, threadID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE thread_id = ?`, threadID)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET session_id = NULL, updated_at = ? WHERE id = ?`,
		timefmt.Format(time.Now()), threadID); err != nil {
		return 0, fmt.Errorf("clear session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return deleted, nil
}

// EstimateThreadTokens computes the advisory chars/4 context estimate
// for a thread's conversation.
func (s *Store) EstimateThreadTokens(ctx context.Context, threadID string) (*TokenEstimate, error) {
	messages, err := s.MessagesByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	est := &TokenEstimate{MessageCount: len(messages), Warnings: []string{}}
	for _, m := range messages {
		tokens := len(m.Content) / 4
		// Blocks repeat much of the text content; count them at half
		// weight to avoid double-counting.
		tokens += len(m.ContentBlocks) / 4 / 2

		est.TotalTokens += tokens
		switch m.Role {
		case RoleUser:
			est.UserTokens += tokens
		case RoleAssistant:
			est.AssistantTokens += tokens
		case RoleSystem:
			est.SystemTokens += tokens
		}
	}

	switch {
	case est.TotalTokens > 100000:
		est.Warnings = append(est.Warnings, "High context usage (>100K tokens) - consider compacting")
	case est.TotalTokens > 50000:
		est.Warnings = append(est.Warnings, "Moderate context usage (>50K tokens)")
	}
	return est, nil
}

func compressBlocks(blocks json.RawMessage) (any, Compression) {
	if len(blocks) == 0 {
		return nil, CompressionNone
	}
	blob, compression := compress(blocks)
	return blob, compression
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m           Message
		blob        []byte
		compression Compression
		ts          string
	)
	err := row.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &blob, &compression, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(blob) > 0 {
		blocks, err := decompress(blob, compression)
		if err != nil {
			return nil, fmt.Errorf("decompress blocks: %w", err)
		}
		m.ContentBlocks = blocks
	}
	if m.Timestamp, err = timefmt.Parse(ts); err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	return &m, nil
}
