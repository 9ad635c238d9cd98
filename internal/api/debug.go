package api

import (
	"net/http"
	"time"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/buildinfo"
)

// DebugJSON serves build info and the non-secret configuration. Admin only.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.admin(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build":  buildinfo.Info(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"config": s.Config.Public(),
	})
}
