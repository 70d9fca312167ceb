package dashboard

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/nx/nxclaw/internal/memstore"
)

func atoiDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Memory.Stats())
}

func (s *Server) handleMemoryRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	limit := atoiDefault(r.URL.Query().Get("limit"), 50)
	writeJSON(w, http.StatusOK, s.cfg.Memory.RecentRaw(limit))
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := atoiDefault(r.URL.Query().Get("limit"), 20)
	mode := memstore.ModeGlobal
	if r.URL.Query().Get("mode") == string(memstore.ModeSessionStrict) {
		mode = memstore.ModeSessionStrict
	}
	opts := memstore.SearchOptions{SessionKey: r.URL.Query().Get("sessionKey"), Mode: mode}
	hits, err := s.cfg.Memory.Search(r.Context(), q, limit, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (s *Server) handleMemoryNote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	var req struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	note, err := s.cfg.Memory.AddNote(req.Title, req.Text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (s *Server) handleMemoryCompact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	if err := s.cfg.Memory.RebuildIndex(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMemorySync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	if err := s.cfg.Memory.RebuildIndex(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Memory.Stats())
}

func (s *Server) handleMemorySoul(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		text, err := s.cfg.Memory.ReadSoul()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"text": text})
	case http.MethodPost:
		var req struct {
			Mode          string `json:"mode"`
			Text          string `json:"text"`
			MirrorJournal bool   `json:"mirrorJournal"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid soul payload: "+err.Error())
			return
		}
		mode := memstore.SoulReplace
		if req.Mode == "append" {
			mode = memstore.SoulAppend
		}
		if err := s.cfg.Memory.WriteSoul(mode, req.Text, req.MirrorJournal); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	default:
		writeError(w, http.StatusBadRequest, "method not allowed")
	}
}
