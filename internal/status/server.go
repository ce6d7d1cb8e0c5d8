// Package status exposes a small read-only HTTP surface over the sync
// engine, for health checks and dashboards.
package status

import (
	"encoding/json"
	"net/http"

	"vaultbot/internal/gitsync"
)

type Server struct {
	engine *gitsync.SyncCoordinator
}

func New(engine *gitsync.SyncCoordinator) *Server {
	return &Server{engine: engine}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	state := s.engine.GetSyncState()
	payload := map[string]any{
		"sync": state,
	}
	if session, ok := s.engine.CurrentSession(); ok {
		payload["conflict"] = map[string]any{
			"id":        session.ID,
			"openedAt":  session.OpenedAt,
			"expiresAt": session.ExpiresAt,
			"paths":     len(session.Files),
			"decided":   len(session.Choices),
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
