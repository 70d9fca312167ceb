package dashboard

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// handleEventsWS is a push-based alternative to the SSE stream for clients
// that prefer a websocket, grounded on gateway.go's handleWS accept/close
// shape. Same event payloads as /api/events/stream, one JSON message per
// event plus a periodic ping so idle proxies don't recycle the connection.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		writeError(w, http.StatusInternalServerError, "event bus not configured")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	sub := s.cfg.Bus.Subscribe("")
	defer s.cfg.Bus.Unsubscribe(sub)

	ctx := r.Context()
	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		case ev, open := <-sub.Ch():
			if !open {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}
