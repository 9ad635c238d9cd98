package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/webhooks"
)

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// WebhooksHandler handles POST/GET /v1/webhooks
func (s *Server) WebhooksHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/webhooks" {
		writeProblem(w, http.StatusNotFound, CodeNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodPost:
		p, ok := s.admin(w, r)
		if !ok {
			return
		}
		var in model.EndpointInput
		if !decodeJSON(w, r, &in) {
			return
		}
		ep, err := s.Registry.Create(r.Context(), p.Tenant, in)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		// The only response that carries the secret.
		writeJSON(w, http.StatusCreated, ep)
	case http.MethodGet:
		p, ok := s.admin(w, r)
		if !ok {
			return
		}
		limit, offset, err := pageParams(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		q := model.EndpointQuery{
			Status: model.EndpointStatus(r.URL.Query().Get("status")),
			Limit:  limit,
			Offset: offset,
		}
		items, err := s.Registry.List(r.Context(), p.Tenant, q)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listResponse[model.Endpoint]{Items: items, Limit: limit, Offset: offset})
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

// WebhookByIDHandler handles /v1/webhooks/{id} and /v1/webhooks/{id}/deliveries
func (s *Server) WebhookByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/webhooks/"), "/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" || (sub != "" && sub != "deliveries") {
		writeProblem(w, http.StatusNotFound, CodeNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if sub == "deliveries" {
		s.deliveries(w, r, id)
		return
	}
	p, ok := s.admin(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		ep, err := s.Registry.Get(r.Context(), id, p.Tenant)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ep)
	case http.MethodPatch:
		var patch model.EndpointPatch
		if !decodeJSON(w, r, &patch) {
			return
		}
		ep, err := s.Registry.Update(r.Context(), id, p.Tenant, patch)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ep)
	case http.MethodDelete:
		if err := s.Registry.Delete(r.Context(), id, p.Tenant); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, "GET, PATCH, DELETE")
	}
}

func (s *Server) deliveries(w http.ResponseWriter, r *http.Request, endpointID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	p, ok := s.admin(w, r)
	if !ok {
		return
	}
	limit, offset, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := s.History.List(r.Context(), endpointID, p.Tenant, model.Page{Limit: limit, Offset: offset})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[model.DeliveryAttempt]{Items: items, Limit: limit, Offset: offset})
}

type triggerRequest struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// EventsHandler handles POST /v1/events. It blocks until every matching
// endpoint has settled.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	if !p.CanTrigger() {
		writeProblem(w, http.StatusForbidden, CodeForbidden, "Forbidden", "admin or service required", r.URL.Path)
		return
	}
	var req triggerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Event = strings.TrimSpace(req.Event)
	if req.Event == "" {
		s.writeError(w, r, &webhooks.ValidationError{Field: "event", Message: "is required"})
		return
	}
	sum := s.Dispatcher.Trigger(r.Context(), p.Tenant, req.Event, req.Data)
	writeJSON(w, http.StatusOK, sum)
}

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler handles GET /readyz
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		s.Log.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
