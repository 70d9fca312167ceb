package dashboard

import (
	"net/http"

	"github.com/nx/nxclaw/internal/chromectl"
	"github.com/nx/nxclaw/internal/memstore"
	"github.com/nx/nxclaw/internal/runtime"
	"github.com/nx/nxclaw/internal/tasks"
)

// stateResponse embeds the orchestrator's own snapshot and adds the
// subsystems it doesn't own (tasks, chrome, memory), grounded on
// gateway.Config's aggregate wiring in gateway.go.
type stateResponse struct {
	runtime.StateSnapshot
	Tasks          tasks.Health            `json:"tasks"`
	ChromeSessions []chromectl.SessionInfo `json:"chromeSessions"`
	Memory         memstore.Stats          `json:"memory"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	snap := s.cfg.Orchestrator.GetState(true, true)
	if s.cfg.AutonomousStatus != nil {
		snap.Autonomous = s.cfg.AutonomousStatus()
	}
	resp := stateResponse{StateSnapshot: snap}
	if s.cfg.Tasks != nil {
		resp.Tasks = s.cfg.Tasks.GetHealth()
	}
	if s.cfg.Chrome != nil {
		resp.ChromeSessions = s.cfg.Chrome.List()
	}
	if s.cfg.Memory != nil {
		resp.Memory = s.cfg.Memory.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
