package api

import (
	"net/http"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/auth"
)

// principal resolves the caller or writes a 401.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := s.Auth.FromRequest(r)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return auth.Principal{}, false
	}
	return p, true
}

// admin resolves an admin caller or writes a 401/403.
func (s *Server) admin(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := s.principal(w, r)
	if !ok {
		return p, false
	}
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, CodeForbidden, "Forbidden", "admin required", r.URL.Path)
		return p, false
	}
	return p, true
}
