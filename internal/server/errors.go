package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mainthread/mainthread/internal/engine"
	"github.com/mainthread/mainthread/internal/orchestrator"
	"github.com/mainthread/mainthread/internal/rendezvous"
	"github.com/mainthread/mainthread/internal/store"
)

// Nginx's non-standard "client closed request". There is no standard
// status for a turn cancelled by an explicit stop.
const statusClientClosedRequest = 499

type errorBody struct {
	Detail string `json:"detail"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps domain error kinds onto HTTP statuses. Anything
// unrecognised is a 500 with the message passed through; the store
// never leaks SQL into error strings.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrValidation),
		errors.Is(err, orchestrator.ErrDepthExceeded),
		errors.Is(err, orchestrator.ErrNotChild):
		status = http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, rendezvous.ErrAlreadyPending):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrStopped), errors.Is(err, context.Canceled):
		status = statusClientClosedRequest
	case errors.Is(err, engine.ErrTimeout):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	respondJSON(w, status, errorBody{Detail: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, detail string) {
	respondJSON(w, http.StatusBadRequest, errorBody{Detail: detail})
}

// decodeJSON reads the request body into v. An empty body is an error;
// callers with optional bodies check ContentLength first.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
