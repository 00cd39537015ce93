package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/mainthread/mainthread/internal/filebrowser"
	"github.com/mainthread/mainthread/internal/orchestrator"
	"github.com/mainthread/mainthread/internal/store"
)

type createThreadRequest struct {
	Title                 string  `json:"title"`
	ParentID              *string `json:"parentId"`
	WorkDir               *string `json:"workDir"`
	Model                 string  `json:"model"`
	ExtendedThinking      *bool   `json:"extendedThinking"`
	PermissionMode        string  `json:"permissionMode"`
	AutoReact             *bool   `json:"autoReact"`
	UseWorktree           bool    `json:"useWorktree"`
	AllowNestedSubthreads bool    `json:"allowNestedSubthreads"`
	MaxThreadDepth        int     `json:"maxThreadDepth"`
	InitialMessage        string  `json:"initialMessage"`
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("include_archived") == "true"
	threads, err := s.orch.ListThreads(r.Context(), includeArchived)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if threads == nil {
		threads = []*store.Thread{}
	}
	respondJSON(w, http.StatusOK, threads)
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if req.MaxThreadDepth != 0 && (req.MaxThreadDepth < 1 || req.MaxThreadDepth > 5) {
		s.badRequest(w, "maxThreadDepth must be between 1 and 5")
		return
	}

	th, err := s.orch.CreateThread(r.Context(), orchestrator.CreateThreadParams{
		Title:                 req.Title,
		ParentID:              req.ParentID,
		WorkDir:               req.WorkDir,
		Model:                 req.Model,
		ExtendedThinking:      req.ExtendedThinking,
		PermissionMode:        req.PermissionMode,
		AutoReact:             req.AutoReact,
		UseWorktree:           req.UseWorktree,
		AllowNestedSubthreads: req.AllowNestedSubthreads,
		MaxThreadDepth:        req.MaxThreadDepth,
		InitialMessage:        req.InitialMessage,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, th)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	th, err := s.orch.Thread(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	msgs, err := s.orch.ThreadMessages(r.Context(), th.ID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	th.Messages = msgs
	respondJSON(w, http.StatusOK, th)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status store.Status `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if !store.ValidStatuses[req.Status] {
		s.badRequest(w, "invalid status: "+string(req.Status))
		return
	}
	if err := s.orch.UpdateStatus(r.Context(), r.PathValue("id"), req.Status); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var u store.ConfigUpdate
	if err := decodeJSON(r, &u); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if u.PermissionMode != nil && !store.ValidPermissionModes[*u.PermissionMode] {
		s.badRequest(w, "invalid permission mode: "+*u.PermissionMode)
		return
	}
	if u.Model != nil && *u.Model == "" {
		s.badRequest(w, "model must not be empty")
		return
	}
	if err := s.orch.UpdateConfig(r.Context(), r.PathValue("id"), u); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if err := s.orch.UpdateTitle(r.Context(), r.PathValue("id"), req.Title); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Archive(r.Context(), r.PathValue("id")); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleUnarchive(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Unarchive(r.Context(), r.PathValue("id")); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if _, err := s.orch.Thread(r.Context(), threadID); err != nil {
		s.respondError(w, err)
		return
	}
	stopped := s.orch.Stop(threadID)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true, "stopped": stopped})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if _, err := s.orch.Thread(r.Context(), threadID); err != nil {
		s.respondError(w, err)
		return
	}
	var req struct {
		Answers json.RawMessage `json:"answers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	s.orch.AnswerQuestion(threadID, req.Answers)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handlePlanAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action         string `json:"action"`
		PermissionMode string `json:"permissionMode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if err := s.orch.PlanAction(r.Context(), r.PathValue("id"), req.Action, req.PermissionMode); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if _, err := s.orch.Thread(r.Context(), threadID); err != nil {
		s.respondError(w, err)
		return
	}
	est, err := s.store.EstimateThreadTokens(r.Context(), threadID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, est)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if _, err := s.orch.Thread(r.Context(), threadID); err != nil {
		s.respondError(w, err)
		return
	}
	usage, err := s.store.ThreadUsageWithChildren(r.Context(), threadID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, usage)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	th, err := s.orch.Thread(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	if th.WorkDir == nil || *th.WorkDir == "" {
		s.badRequest(w, "thread has no work directory")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.badRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, 100)
	}

	matches := filebrowser.SearchWorkDir(*th.WorkDir, r.URL.Query().Get("query"), limit)
	if matches == nil {
		matches = []filebrowser.FileMatch{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"files": matches})
}

func (s *Server) handleResetAll(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		s.badRequest(w, "pass confirm=true to reset all threads")
		return
	}
	n, err := s.orch.ResetAll(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "threadsReset": n})
}
