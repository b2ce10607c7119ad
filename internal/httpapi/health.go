package httpapi

import (
	"context"
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// handleReady reports whether the store answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn(r.Context(), "readiness check failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
