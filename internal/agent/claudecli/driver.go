// Package claudecli drives the Claude Code CLI as a subprocess in
// stream-json mode. Each Run spawns one CLI process for one turn,
// streams its NDJSON output into agent events, and serves the
// thread-management tools back to the CLI over the control protocol.
package claudecli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mainthread/mainthread/internal/agent"
	"github.com/mainthread/mainthread/internal/tools"
)

const (
	defaultBinary            = "claude"
	defaultMaxThinkingTokens = 10000
	mcpServerName            = "mainthread"

	// NDJSON lines carry whole assistant messages; tool inputs can be
	// large.
	maxLineBytes = 8 << 20
)

// ToolSet is the per-thread tool surface served to the CLI. Satisfied
// by *tools.Registry.
type ToolSet interface {
	Names() []string
	Get(name string) (tools.Tool, bool)
	Execute(ctx context.Context, name string, input json.RawMessage) tools.Result
}

var _ ToolSet = (*tools.Registry)(nil)

// PermissionDecision is the handler's verdict on one tool call.
type PermissionDecision struct {
	Allow bool
	// UpdatedInput, when set on an allow, replaces the tool input. The
	// question flow uses it to hand the user's answers to the agent.
	UpdatedInput json.RawMessage
	// Message explains a denial to the agent.
	Message string
}

// CanUseToolFunc decides a tool permission request mid-turn.
type CanUseToolFunc func(ctx context.Context, threadID, toolName string, input json.RawMessage) PermissionDecision

// Options configures the driver.
type Options struct {
	// Binary is the CLI executable, resolved via PATH when relative.
	Binary string
	// Tools builds the thread's tool registry; nil disables the
	// in-process MCP server.
	Tools func(threadID string) ToolSet
	// CanUseTool handles permission prompts; nil allows everything.
	CanUseTool CanUseToolFunc
	// MaxThinkingTokens caps extended thinking.
	MaxThinkingTokens int
	// SystemPrompt is appended to the CLI's default system prompt.
	SystemPrompt func(threadID string) string

	Log *slog.Logger
}

// Driver implements agent.Driver on top of the CLI.
type Driver struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Driver {
	if opts.Binary == "" {
		opts.Binary = defaultBinary
	}
	if opts.MaxThinkingTokens <= 0 {
		opts.MaxThinkingTokens = defaultMaxThinkingTokens
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Driver{opts: opts, log: log.With("component", "claudecli")}
}

// Run spawns the CLI, sends the prompt, and streams events until the
// terminal result frame. The context cancels the subprocess.
func (d *Driver) Run(ctx context.Context, inv agent.Invocation, emit func(agent.Event)) error {
	var ts ToolSet
	if d.opts.Tools != nil {
		ts = d.opts.Tools(inv.ThreadID)
	}

	cmd := exec.CommandContext(ctx, d.opts.Binary, d.buildArgs(inv, ts)...)
	if inv.WorkDir != "" {
		cmd.Dir = inv.WorkDir
	}
	cmd.Env = os.Environ()
	if inv.ExtendedThinking {
		cmd.Env = append(cmd.Env, "MAX_THINKING_TOKENS="+strconv.Itoa(d.opts.MaxThinkingTokens))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", d.opts.Binary, err)
	}

	sess := &session{
		driver: d,
		inv:    inv,
		emit:   emit,
		stdin:  stdin,
		tools:  ts,
	}

	if err := sess.sendPrompt(); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("send prompt: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		sess.handleLine(ctx, line)
	}
	scanErr := scanner.Err()
	_ = stdin.Close()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if scanErr != nil {
		return fmt.Errorf("read agent stream: %w", scanErr)
	}
	if !sess.sawResult {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" && waitErr != nil {
			detail = waitErr.Error()
		}
		return fmt.Errorf("agent stream ended without result: %s", tail(detail, 500))
	}
	return nil
}

func (d *Driver) buildArgs(inv agent.Invocation, ts ToolSet) []string {
	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--include-partial-messages",
	}
	if inv.Model != "" {
		args = append(args, "--model", inv.Model)
	}
	if inv.PermissionMode != "" {
		args = append(args, "--permission-mode", inv.PermissionMode)
	}
	if inv.SessionID != "" {
		args = append(args, "--resume", inv.SessionID)
	}
	if d.opts.SystemPrompt != nil {
		if p := d.opts.SystemPrompt(inv.ThreadID); p != "" {
			args = append(args, "--append-system-prompt", p)
		}
	}

	settings, _ := json.Marshal(map[string]bool{"alwaysThinkingEnabled": inv.ExtendedThinking})
	args = append(args, "--settings", string(settings))

	if ts != nil {
		mcpConfig, _ := json.Marshal(map[string]any{
			"mcpServers": map[string]any{
				mcpServerName: map[string]string{"type": "sdk", "name": mcpServerName},
			},
		})
		args = append(args, "--mcp-config", string(mcpConfig))

		allowed := make([]string, 0, len(ts.Names()))
		for _, name := range ts.Names() {
			allowed = append(allowed, "mcp__"+mcpServerName+"__"+name)
		}
		args = append(args, "--allowed-tools", strings.Join(allowed, ","))
	}
	return args
}

// sendPrompt writes the turn's user message as the first stdin frame.
// Images ride along as base64 content blocks.
func (s *session) sendPrompt() error {
	content := make([]map[string]any, 0, len(s.inv.Images)+1)
	for _, img := range s.inv.Images {
		content = append(content, map[string]any{
			"type": "image",
			"source": map[string]string{
				"type":       "base64",
				"media_type": img.MediaType,
				"data":       base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	content = append(content, map[string]any{"type": "text", "text": s.inv.Prompt})

	return s.write(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": content,
		},
	})
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
