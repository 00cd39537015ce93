package server

import (
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/mainthread/mainthread/internal/filebrowser"
	"github.com/mainthread/mainthread/internal/gitutil"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"serverTime": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCwd(w http.ResponseWriter, r *http.Request) {
	cwd, err := os.Getwd()
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"cwd": cwd})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"runningAgents": s.tasks.Count(),
		"uptimeSeconds": int64(time.Since(s.started).Seconds()),
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		stats["cpuPercent"] = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats["memory"] = map[string]any{
			"totalBytes":  vm.Total,
			"usedBytes":   vm.Used,
			"usedPercent": vm.UsedPercent,
		}
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "~"
	}
	typeFilter := r.URL.Query().Get("type")
	if typeFilter == "" {
		typeFilter = "directory"
	}
	entries := filebrowser.Browse(path, typeFilter)
	if entries == nil {
		entries = []filebrowser.BrowseEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleCreateDirectory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if req.Path == "" {
		s.badRequest(w, "path must not be empty")
		return
	}
	created, err := filebrowser.CreateDirectory(req.Path)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"success": true, "path": created})
}

func (s *Server) handleDirectorySuggestions(w http.ResponseWriter, r *http.Request) {
	recent, err := s.store.RecentWorkDirs(r.Context(), 5)
	if err != nil {
		s.respondError(w, err)
		return
	}
	suggestions := filebrowser.Suggestions(recent)
	if suggestions == nil {
		suggestions = []filebrowser.Suggestion{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

type gitInfoResponse struct {
	IsGitRepo      bool     `json:"isGitRepo"`
	RepoRoot       string   `json:"repoRoot,omitempty"`
	RepoName       string   `json:"repoName,omitempty"`
	CurrentBranch  string   `json:"currentBranch,omitempty"`
	Branches       []string `json:"branches"`
	IsWorktree     bool     `json:"isWorktree"`
	WorktreeBranch string   `json:"worktreeBranch,omitempty"`
}

func (s *Server) handleGitInfo(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.badRequest(w, "path query parameter is required")
		return
	}

	info, err := gitutil.Detect(path)
	if err != nil {
		s.respondError(w, err)
		return
	}

	resp := gitInfoResponse{
		IsGitRepo:  info.IsGitRepo,
		RepoRoot:   info.RepoRoot,
		RepoName:   info.RepoName,
		IsWorktree: info.IsWorktree,
		Branches:   []string{},
	}
	if info.IsGitRepo {
		resp.CurrentBranch = info.Branch
		if branches := gitutil.Branches(path); branches != nil {
			resp.Branches = branches
		}
		if info.IsWorktree {
			resp.WorktreeBranch = info.Branch
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
