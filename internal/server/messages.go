package server

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/mainthread/mainthread/internal/agent"
)

const (
	maxMessageLength = 100000
	maxImages        = 10
	maxFileRefs      = 20
)

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

type imagePayload struct {
	Data      string `json:"data"` // base64
	MediaType string `json:"media_type"`
}

type sendMessageRequest struct {
	Content        string         `json:"content"`
	Images         []imagePayload `json:"images"`
	FileReferences []string       `json:"file_references"`
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")
	if _, err := s.orch.Thread(r.Context(), threadID); err != nil {
		s.respondError(w, err)
		return
	}

	limit, offset := 100, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.badRequest(w, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	page, err := s.store.MessagesPaginated(r.Context(), threadID, limit, offset)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if req.Content == "" {
		s.badRequest(w, "content must not be empty")
		return
	}
	if len(req.Content) > maxMessageLength {
		s.badRequest(w, "content exceeds "+strconv.Itoa(maxMessageLength)+" characters")
		return
	}
	if len(req.Images) > maxImages {
		s.badRequest(w, "at most "+strconv.Itoa(maxImages)+" images per message")
		return
	}
	if len(req.FileReferences) > maxFileRefs {
		s.badRequest(w, "at most "+strconv.Itoa(maxFileRefs)+" file references per message")
		return
	}

	images := make([]agent.Image, 0, len(req.Images))
	for _, img := range req.Images {
		if !allowedImageTypes[img.MediaType] {
			s.badRequest(w, "unsupported image media type: "+img.MediaType)
			return
		}
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			s.badRequest(w, "image data is not valid base64")
			return
		}
		images = append(images, agent.Image{MediaType: img.MediaType, Data: data})
	}

	if err := s.orch.SendMessage(r.Context(), r.PathValue("id"), req.Content, images, req.FileReferences); err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	n, err := s.orch.ClearMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}
