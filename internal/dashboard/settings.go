package dashboard

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.cfg.LoadConfig()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPost:
		cfg, err := s.cfg.LoadConfig()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// Decoding a patch onto the freshly-loaded struct leaves fields the
		// caller omitted untouched; only keys present in the body overwrite.
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid settings payload: "+err.Error())
			return
		}
		if err := s.cfg.SaveConfig(cfg); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		writeError(w, http.StatusBadRequest, "method not allowed")
	}
}
