package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/mainthread/mainthread/internal/event"
)

const sseHeartbeat = 30 * time.Second

// handleStreamSSE streams a thread's event log over Server-Sent
// Events. The backlog since last_event_id is written first, then live
// events as they are published. The SSE id field carries the event
// seq, so EventSource reconnects resume without gaps.
func (s *Server) handleStreamSSE(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdownCh:
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	threadID := r.PathValue("id")
	if _, err := s.orch.Thread(r.Context(), threadID); err != nil {
		s.respondError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, backlog, err := s.bus.Subscribe(r.Context(), threadID, lastEventID(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	defer s.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, env := range backlog {
		writeSSE(w, env)
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.shutdownCh:
			return
		case env, open := <-sub.C():
			if !open {
				return
			}
			writeSSE(w, env)
			flusher.Flush()
			if env.Type == event.TypeShutdown {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// handleStreamWS mirrors the SSE stream over a WebSocket; each frame
// is one full event envelope as JSON text.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdownCh:
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	threadID := r.PathValue("id")
	if _, err := s.orch.Thread(r.Context(), threadID); err != nil {
		s.respondError(w, err)
		return
	}

	opts := &websocket.AcceptOptions{}
	if s.originAllowed("*") {
		opts.InsecureSkipVerify = true
	} else {
		for _, o := range s.cfg.CORSOrigins {
			opts.OriginPatterns = append(opts.OriginPatterns, originHost(o))
		}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	sub, backlog, err := s.bus.Subscribe(ctx, threadID, lastEventID(r))
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer s.bus.Unsubscribe(sub)

	// Drain incoming frames so pings are answered and a client close
	// cancels the request context.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	write := func(env event.Envelope) error {
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageText, data)
	}

	for _, env := range backlog {
		if err := write(env); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case env, open := <-sub.C():
			if !open {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if err := write(env); err != nil {
				return
			}
			if env.Type == event.TypeShutdown {
				_ = conn.Close(websocket.StatusNormalClosure, "thread closed")
				return
			}
		}
	}
}

func lastEventID(r *http.Request) int64 {
	v := r.URL.Query().Get("last_event_id")
	if v == "" {
		// EventSource sends the id of the last event it saw on
		// reconnect.
		v = r.Header.Get("Last-Event-ID")
	}
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// originHost strips the scheme; AcceptOptions matches on host, not on
// the full origin URL.
func originHost(origin string) string {
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return u.Host
	}
	return origin
}

func writeSSE(w io.Writer, env event.Envelope) {
	fmt.Fprintf(w, "event: %s\n", env.Type)
	if env.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", env.Seq)
	}
	fmt.Fprintf(w, "data: %s\n\n", env.Data)
}
