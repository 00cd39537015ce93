package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mainthread/mainthread/internal/id"
	"github.com/mainthread/mainthread/internal/util/timefmt"
)

// maxDepthWalk bounds the parent-chain walk in ThreadDepth as a cycle guard.
const maxDepthWalk = 10

const threadColumns = `id, title, status, parent_id, work_dir, session_id, model,
	extended_thinking, permission_mode, auto_react, git_branch, git_repo,
	is_worktree, worktree_branch, is_ephemeral, allow_nested_subthreads,
	max_thread_depth, input_tokens, output_tokens, total_cost_usd,
	archived_at, created_at, updated_at`

// CreateThreadParams holds the fields for a new thread. Zero values
// fall back to defaults (model, max depth).
type CreateThreadParams struct {
	ID                    string // optional; generated when empty
	Title                 string
	ParentID              *string
	WorkDir               *string
	Model                 string
	ExtendedThinking      *bool // nil means on
	PermissionMode        string
	AutoReact             *bool // nil means on
	GitBranch             *string
	GitRepo               *string
	IsWorktree            bool
	WorktreeBranch        *string
	AllowNestedSubthreads bool
	MaxThreadDepth        int
}

// CreateThread inserts a new thread and returns it. The title must be
// 1..255 characters and the permission mode one of the closed set.
func (s *Store) CreateThread(ctx context.Context, p CreateThreadParams) (*Thread, error) {
	if p.Title == "" || len(p.Title) > 255 {
		return nil, fmt.Errorf("%w: title must be between 1 and 255 characters", ErrValidation)
	}
	if p.PermissionMode == "" {
		p.PermissionMode = PermissionAcceptEdits
	}
	if !ValidPermissionModes[p.PermissionMode] {
		return nil, fmt.Errorf("%w: invalid permission mode %q", ErrValidation, p.PermissionMode)
	}
	if p.Model == "" {
		p.Model = DefaultModel
	}
	if p.MaxThreadDepth < 1 {
		p.MaxThreadDepth = 1
	}
	extendedThinking := p.ExtendedThinking == nil || *p.ExtendedThinking
	autoReact := p.AutoReact == nil || *p.AutoReact

	threadID := p.ID
	if threadID == "" {
		threadID = id.New()
	}
	now := timefmt.Format(time.Now())

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, title, parent_id, work_dir, model, extended_thinking,
			permission_mode, auto_react, git_branch, git_repo, is_worktree, worktree_branch,
			allow_nested_subthreads, max_thread_depth, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		threadID, p.Title, p.ParentID, p.WorkDir, p.Model, boolInt(extendedThinking),
		p.PermissionMode, boolInt(autoReact), p.GitBranch, p.GitRepo, boolInt(p.IsWorktree),
		p.WorktreeBranch, boolInt(p.AllowNestedSubthreads), p.MaxThreadDepth, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert thread: %w", err)
	}

	return s.GetThread(ctx, threadID)
}

// CreateEphemeralThread inserts a read-only thread record for a Task
// subagent. The id is supplied by the caller (the tool-use id), so the
// tool_result stream can reference it.
func (s *Store) CreateEphemeralThread(ctx context.Context, threadID, title, parentID string, workDir *string) (*Thread, error) {
	now := timefmt.Format(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, title, parent_id, work_dir, status, is_ephemeral, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', 1, ?, ?)`,
		threadID, title, parentID, workDir, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert ephemeral thread: %w", err)
	}
	return s.GetThread(ctx, threadID)
}

// GetThread returns a thread by id, without its messages.
func (s *Store) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = ?`, threadID)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	return t, err
}

// ListThreads returns all threads, newest first, each with its
// messages in chronological order. Archived threads are excluded
// unless includeArchived is set.
func (s *Store) ListThreads(ctx context.Context, includeArchived bool) ([]*Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads`
	if !includeArchived {
		query += ` WHERE archived_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var threads []*Thread
	byID := make(map[string]*Thread)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		t.Messages = []Message{}
		threads = append(threads, t)
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgRows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, role, content, content_blocks, blocks_compression, timestamp
		FROM messages ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = msgRows.Close() }()

	for msgRows.Next() {
		m, err := scanMessage(msgRows)
		if err != nil {
			return nil, err
		}
		if t, ok := byID[m.ThreadID]; ok {
			t.Messages = append(t.Messages, *m)
		}
	}
	return threads, msgRows.Err()
}

// UpdateThreadStatus sets a thread's status and touches updated_at.
func (s *Store) UpdateThreadStatus(ctx context.Context, threadID string, status Status) error {
	if !ValidStatuses[status] {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, status)
	}
	return s.execOnThread(ctx,
		`UPDATE threads SET status = ?, updated_at = ? WHERE id = ?`,
		status, timefmt.Format(time.Now()), threadID)
}

// UpdateThreadSession stores the driver session token used for resumption.
func (s *Store) UpdateThreadSession(ctx context.Context, threadID, sessionID string) error {
	return s.execOnThread(ctx,
		`UPDATE threads SET session_id = ?, updated_at = ? WHERE id = ?`,
		sessionID, timefmt.Format(time.Now()), threadID)
}

// TouchThread refreshes updated_at only. The watchdog treats a stale
// updated_at on a running thread as a dead agent, so the engine touches
// the thread when a retry begins.
func (s *Store) TouchThread(ctx context.Context, threadID string) error {
	return s.execOnThread(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`,
		timefmt.Format(time.Now()), threadID)
}

// ConfigUpdate holds a partial thread configuration change. Nil fields
// are left untouched.
type ConfigUpdate struct {
	Model            *string `json:"model"`
	ExtendedThinking *bool   `json:"extendedThinking"`
	PermissionMode   *string `json:"permissionMode"`
	AutoReact        *bool   `json:"autoReact"`
}

// UpdateThreadConfig applies a partial configuration update.
func (s *Store) UpdateThreadConfig(ctx context.Context, threadID string, u ConfigUpdate) error {
	sets := "updated_at = ?"
	args := []any{timefmt.Format(time.Now())}

	if u.Model != nil {
		sets += ", model = ?"
		args = append(args, *u.Model)
	}
	if u.ExtendedThinking != nil {
		sets += ", extended_thinking = ?"
		args = append(args, boolInt(*u.ExtendedThinking))
	}
	if u.PermissionMode != nil {
		if !ValidPermissionModes[*u.PermissionMode] {
			return fmt.Errorf("%w: invalid permission mode %q", ErrValidation, *u.PermissionMode)
		}
		sets += ", permission_mode = ?"
		args = append(args, *u.PermissionMode)
	}
	if u.AutoReact != nil {
		sets += ", auto_react = ?"
		args = append(args, boolInt(*u.AutoReact))
	}
	args = append(args, threadID)
	return s.execOnThread(ctx, `UPDATE threads SET `+sets+` WHERE id = ?`, args...)
}

// UpdateThreadTitle renames a thread.
func (s *Store) UpdateThreadTitle(ctx context.Context, threadID, title string) error {
	if title == "" || len(title) > 255 {
		return fmt.Errorf("%w: title must be between 1 and 255 characters", ErrValidation)
	}
	return s.execOnThread(ctx,
		`UPDATE threads SET title = ?, updated_at = ? WHERE id = ?`,
		title, timefmt.Format(time.Now()), threadID)
}

// UpdateThreadUsage cumulatively adds token usage and cost.
func (s *Store) UpdateThreadUsage(ctx context.Context, threadID string, inputTokens, outputTokens int64, costUSD float64) error {
	return s.execOnThread(ctx, `
		UPDATE threads SET
			input_tokens = input_tokens + ?,
			output_tokens = output_tokens + ?,
			total_cost_usd = total_cost_usd + ?,
			updated_at = ?
		WHERE id = ?`,
		inputTokens, outputTokens, costUSD, timefmt.Format(time.Now()), threadID)
}

// ArchiveThread stamps archived_at. Archiving an already archived
// thread is a validation error.
func (s *Store) ArchiveThread(ctx context.Context, threadID string) error {
	now := timefmt.Format(time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET archived_at = ?, updated_at = ? WHERE id = ? AND archived_at IS NULL`,
		now, now, threadID)
	if err != nil {
		return fmt.Errorf("archive thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("thread %s not found or already archived: %w", threadID, ErrValidation)
	}
	return nil
}

// UnarchiveThread clears archived_at.
func (s *Store) UnarchiveThread(ctx context.Context, threadID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET archived_at = NULL, updated_at = ? WHERE id = ? AND archived_at IS NOT NULL`,
		timefmt.Format(time.Now()), threadID)
	if err != nil {
		return fmt.Errorf("unarchive thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("thread %s not found or not archived: %w", threadID, ErrValidation)
	}
	return nil
}

// ThreadDepth walks the parent chain and returns the thread's depth:
// 0 for roots, 1 for direct sub-threads. Returns -1 when the walk
// exceeds the cycle guard.
func (s *Store) ThreadDepth(ctx context.Context, threadID string) (int, error) {
	depth := 0
	current := threadID
	for {
		var parent sql.NullString
		err := s.db.QueryRowContext(ctx,
			`SELECT parent_id FROM threads WHERE id = ?`, current).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !parent.Valid) {
			return depth, nil
		}
		if err != nil {
			return 0, fmt.Errorf("thread depth: %w", err)
		}
		depth++
		current = parent.String
		if depth > maxDepthWalk {
			return -1, nil
		}
	}
}

// ThreadUsageWithChildren returns a thread's persisted usage plus the
// sum over its direct children. Missing threads report zero usage.
func (s *Store) ThreadUsageWithChildren(ctx context.Context, threadID string) (*Usage, error) {
	u := &Usage{}
	err := s.db.QueryRowContext(ctx,
		`SELECT input_tokens, output_tokens, total_cost_usd FROM threads WHERE id = ?`,
		threadID).Scan(&u.InputTokens, &u.OutputTokens, &u.TotalCostUSD)
	if errors.Is(err, sql.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("thread usage: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_cost_usd), 0)
		FROM threads WHERE parent_id = ?`,
		threadID).Scan(&u.ChildrenInputTokens, &u.ChildrenOutputTokens, &u.ChildrenTotalCost)
	if err != nil {
		return nil, fmt.Errorf("children usage: %w", err)
	}
	return u, nil
}

// RecentWorkDirs returns unique working directories from recent
// threads, most recent first.
func (s *Store) RecentWorkDirs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT work_dir FROM threads
		WHERE work_dir IS NOT NULL AND work_dir != ''
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent work dirs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dirs []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dirs = append(dirs, d)
	}
	return dirs, rows.Err()
}

// ThreadsInStatus returns non-archived threads currently in the given
// status. Used by the watchdog.
func (s *Store) ThreadsInStatus(ctx context.Context, status Status) ([]*Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE status = ? AND archived_at IS NULL`,
		status)
	if err != nil {
		return nil, fmt.Errorf("threads in status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var threads []*Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// ResetStalledThreads moves threads stuck in pending or running back
// to active. No agent can be mid-turn when the process just started,
// so anything left over is residue from a crash.
func (s *Store) ResetStalledThreads(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET status = 'active', updated_at = ? WHERE status IN ('pending', 'running')`,
		timefmt.Format(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("reset stalled threads: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ResetAllThreads deletes every thread, message and event. Returns the
// count of deleted threads.
func (s *Store) ResetAllThreads(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads`)
	if err != nil {
		return 0, fmt.Errorf("reset threads: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// execOnThread runs an UPDATE that targets one thread and converts a
// zero-row result into ErrNotFound.
func (s *Store) execOnThread(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*Thread, error) {
	var (
		t                          Thread
		parentID, workDir, session sql.NullString
		gitBranch, gitRepo, wtree  sql.NullString
		archivedAt                 sql.NullString
		extThinking, autoReact     int
		isWorktree, isEphemeral    int
		allowNested                int
		createdAt, updatedAt       string
	)
	err := row.Scan(&t.ID, &t.Title, &t.Status, &parentID, &workDir, &session,
		&t.Model, &extThinking, &t.PermissionMode, &autoReact, &gitBranch, &gitRepo,
		&isWorktree, &wtree, &isEphemeral, &allowNested, &t.MaxThreadDepth,
		&t.InputTokens, &t.OutputTokens, &t.TotalCostUSD,
		&archivedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.ParentID = nullStr(parentID)
	t.WorkDir = nullStr(workDir)
	t.SessionID = nullStr(session)
	t.GitBranch = nullStr(gitBranch)
	t.GitRepo = nullStr(gitRepo)
	t.WorktreeBranch = nullStr(wtree)
	t.ExtendedThinking = extThinking != 0
	t.AutoReact = autoReact != 0
	t.IsWorktree = isWorktree != 0
	t.IsEphemeral = isEphemeral != 0
	t.AllowNestedSubthreads = allowNested != 0

	if t.CreatedAt, err = timefmt.Parse(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = timefmt.Parse(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if archivedAt.Valid {
		at, err := timefmt.Parse(archivedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse archived_at: %w", err)
		}
		t.ArchivedAt = &at
	}
	return &t, nil
}

func nullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
