package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/store"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/webhooks"
)

// Machine-readable problem codes.
const (
	CodeValidation       = "VALIDATION_FAILED"
	CodeInvalidJSON      = "INVALID_JSON"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInternal         = "INTERNAL_ERROR"
)

const maxBodyBytes = 1 << 20

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Code     string `json:"code"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, code, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Code:     code,
		Detail:   detail,
		Instance: instance,
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	writeProblem(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported", r.URL.Path)
}

// writeError maps domain errors onto problem responses. Anything that is not
// a validation or not-found error is logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *webhooks.ValidationError
	switch {
	case errors.As(err, &verr):
		writeProblem(w, http.StatusBadRequest, CodeValidation, "Validation failed", verr.Error(), r.URL.Path)
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusNotFound, CodeNotFound, "Not Found", "", r.URL.Path)
	default:
		s.Log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeProblem(w, http.StatusInternalServerError, CodeInternal, "Internal Server Error", "", r.URL.Path)
	}
}

// decodeJSON reads a bounded JSON body into v, writing the 400 itself.
// Numbers in untyped fields stay json.Number so event data is relayed
// digit for digit.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, CodeInvalidJSON, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	return true
}

// pageParams parses limit and offset, clamped to the registry bounds.
func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, &webhooks.ValidationError{Field: "limit", Message: fmt.Sprintf("must be an integer, got %q", v)}
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, &webhooks.ValidationError{Field: "offset", Message: fmt.Sprintf("must be an integer, got %q", v)}
		}
	}
	limit, offset = webhooks.ClampPage(limit, offset)
	return limit, offset, nil
}
