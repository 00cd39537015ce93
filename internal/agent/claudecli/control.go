package claudecli

import (
	"context"
	"encoding/json"
	"fmt"
)

// Control protocol: the CLI issues control_request frames on stdout
// (permission prompts, MCP traffic for "sdk"-type servers) and expects
// matching control_response frames on stdin.

type controlRequest struct {
	Subtype string `json:"subtype"`

	// can_use_tool.
	ToolName string          `json:"tool_name"`
	Input    json.RawMessage `json:"input"`

	// mcp_message.
	ServerName string          `json:"server_name"`
	Message    json.RawMessage `json:"message"`
}

type mcpRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"params"`
}

func (s *session) handleControl(ctx context.Context, requestID string, raw json.RawMessage) {
	var req controlRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.respondControlError(requestID, fmt.Sprintf("bad control request: %v", err))
		return
	}

	switch req.Subtype {
	case "can_use_tool":
		s.respondControl(requestID, s.decidePermission(ctx, &req))
	case "mcp_message":
		if req.ServerName != mcpServerName || s.tools == nil {
			s.respondControlError(requestID, "unknown MCP server: "+req.ServerName)
			return
		}
		s.respondControl(requestID, map[string]any{
			"mcp_response": s.serveMCP(ctx, req.Message),
		})
	case "hook_callback":
		s.respondControl(requestID, map[string]any{"response": map[string]any{}})
	default:
		s.respondControlError(requestID, "unsupported control subtype: "+req.Subtype)
	}
}

// decidePermission routes a permission prompt to the configured
// handler. With no handler every call is allowed; permission gating
// then rests on the CLI's own --permission-mode.
func (s *session) decidePermission(ctx context.Context, req *controlRequest) map[string]any {
	if s.driver.opts.CanUseTool == nil {
		return map[string]any{"behavior": "allow", "updatedInput": req.Input}
	}
	dec := s.driver.opts.CanUseTool(ctx, s.inv.ThreadID, req.ToolName, req.Input)
	if dec.Allow {
		updated := dec.UpdatedInput
		if len(updated) == 0 {
			updated = req.Input
		}
		return map[string]any{"behavior": "allow", "updatedInput": updated}
	}
	reason := dec.Message
	if reason == "" {
		reason = "denied"
	}
	return map[string]any{"behavior": "deny", "message": reason}
}

// serveMCP answers one JSON-RPC message for the in-process tool
// server.
func (s *session) serveMCP(ctx context.Context, raw json.RawMessage) map[string]any {
	var req mcpRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return mcpError(nil, -32700, "parse error")
	}
	// Notifications carry no id and need no result.
	if len(req.ID) == 0 {
		return map[string]any{"jsonrpc": "2.0"}
	}

	switch req.Method {
	case "initialize":
		return mcpResult(req.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": mcpServerName, "version": "1.0.0"},
		})
	case "tools/list":
		list := make([]map[string]any, 0, len(s.tools.Names()))
		for _, name := range s.tools.Names() {
			t, ok := s.tools.Get(name)
			if !ok {
				continue
			}
			list = append(list, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"inputSchema": map[string]any{"type": "object"},
			})
		}
		return mcpResult(req.ID, map[string]any{"tools": list})
	case "tools/call":
		res := s.tools.Execute(ctx, req.Params.Name, req.Params.Arguments)
		return mcpResult(req.ID, map[string]any{
			"content": []map[string]any{{"type": "text", "text": res.Text}},
			"isError": res.IsError,
		})
	default:
		return mcpError(req.ID, -32601, "method not found: "+req.Method)
	}
}

func mcpResult(id json.RawMessage, result any) map[string]any {
	return map[string]any{"jsonrpc": "2.0", "id": id, "result": result}
}

func mcpError(id json.RawMessage, code int, message string) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	}
}

func (s *session) respondControl(requestID string, response map[string]any) {
	err := s.write(map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "success",
			"request_id": requestID,
			"response":   response,
		},
	})
	if err != nil {
		s.driver.log.Warn("control response write failed", "error", err)
	}
}

func (s *session) respondControlError(requestID, message string) {
	err := s.write(map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "error",
			"request_id": requestID,
			"error":      message,
		},
	})
	if err != nil {
		s.driver.log.Warn("control response write failed", "error", err)
	}
}
