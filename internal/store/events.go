package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mainthread/mainthread/internal/util/timefmt"
)

// AppendEvent persists an event and returns its per-thread sequence
// number. Sequence numbers start at 1 and come from a high-water mark
// on the thread row, so they keep climbing after events are cleared or
// trimmed; a seq is never reissued.
func (s *Store) AppendEvent(ctx context.Context, threadID, eventType string, data json.RawMessage) (int64, error) {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	blob, compression := compress(data)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`UPDATE threads SET last_event_seq = last_event_seq + 1 WHERE id = ? RETURNING last_event_seq`,
		threadID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("append event: thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (thread_id, seq, event_type, data, compression, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		threadID, seq, eventType, blob, compression, timefmt.Format(time.Now())); err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return seq, nil
}

// EventsSince returns a thread's events with seq > lastSeq, ascending.
// Used for replay on stream reconnect.
func (s *Store) EventsSince(ctx context.Context, threadID string, lastSeq int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, seq, event_type, data, compression, created_at
		FROM events WHERE thread_id = ? AND seq > ?
		ORDER BY seq ASC`, threadID, lastSeq)
	if err != nil {
		return nil, fmt.Errorf("events since: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			e           Event
			blob        []byte
			compression Compression
			createdAt   string
		)
		if err := rows.Scan(&e.ThreadID, &e.Seq, &e.Type, &blob, &compression, &createdAt); err != nil {
			return nil, err
		}
		if e.Data, err = decompress(blob, compression); err != nil {
			return nil, fmt.Errorf("decompress event: %w", err)
		}
		if e.CreatedAt, err = timefmt.Parse(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestSeq returns the newest sequence number ever issued for a
// thread, 0 when the thread has no events or does not exist. Clearing
// events does not lower it.
func (s *Store) LatestSeq(ctx context.Context, threadID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT last_event_seq FROM threads WHERE id = ?), 0)`, threadID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	return seq, nil
}

// ClearThreadEvents deletes a thread's events. Returns the count.
func (s *Store) ClearThreadEvents(ctx context.Context, threadID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE thread_id = ?`, threadID)
	if err != nil {
		return 0, fmt.Errorf("clear events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// TrimEventsOlderThan removes events older than maxAge. Trimming never
// renumbers: retained events keep their sequence numbers, so replay
// across a trimmed gap skips the purged range.
func (s *Store) TrimEventsOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := timefmt.Format(time.Now().Add(-maxAge))
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("trim events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
