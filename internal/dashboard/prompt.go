package dashboard

import (
	"encoding/json"
	"net/http"

	"github.com/nx/nxclaw/internal/runtime"
)

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	var req struct {
		ChannelID string `json:"channelId"`
		SessionID string `json:"sessionId"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.ChannelID == "" {
		req.ChannelID = "dashboard"
	}
	reply := s.cfg.Orchestrator.HandleIncoming(r.Context(), runtime.Incoming{
		Source:    "dashboard",
		ChannelID: req.ChannelID,
		SessionID: req.SessionID,
	}, req.Text)
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}
