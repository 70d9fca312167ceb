package dashboard

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		prefix := r.URL.Query().Get("base")
		writeJSON(w, http.StatusOK, s.cfg.Orchestrator.ListConversationSessions(prefix))
	case http.MethodPost:
		var req struct {
			Source    string `json:"source"`
			ChannelID string `json:"channelId"`
			SessionID string `json:"sessionId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid session payload: "+err.Error())
			return
		}
		if req.Source == "" || req.ChannelID == "" {
			writeError(w, http.StatusBadRequest, "source and channelId are required")
			return
		}
		sess, err := s.cfg.Orchestrator.CreateConversationSession(req.Source, req.ChannelID, req.SessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sess)
	default:
		writeError(w, http.StatusBadRequest, "method not allowed")
	}
}

func (s *Server) handleSessionsArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	var req struct {
		LaneKey string `json:"laneKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LaneKey == "" {
		writeError(w, http.StatusBadRequest, "laneKey is required")
		return
	}
	ok := s.cfg.Orchestrator.ArchiveConversationSession(req.LaneKey)
	writeJSON(w, http.StatusOK, map[string]bool{"archived": ok})
}
