package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

func (s *Server) handleEventsRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	if s.cfg.Bus == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	limit := atoiDefault(r.URL.Query().Get("limit"), 100)
	writeJSON(w, http.StatusOK, s.cfg.Bus.GetRecent(limit))
}

// handleEventsStream is the SSE endpoint, grounded on gateway/stream.go's
// handleTaskStream but adding spec §6's 15s keepalive ping.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		writeError(w, http.StatusInternalServerError, "event bus not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.cfg.Bus.Subscribe("")
	defer s.cfg.Bus.Unsubscribe(sub)

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-sub.Ch():
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("dashboard: failed to marshal event", "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
