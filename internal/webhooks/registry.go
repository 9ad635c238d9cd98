package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/store"
)

const (
	DefaultPageLimit   = 50
	MaxPageLimit       = 100
	DefaultSecretBytes = 32
	// MinSecretLength bounds caller-supplied secrets.
	MinSecretLength = 16
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error { return &ValidationError{Field: field, Message: msg} }

// Registry manages a tenant's webhook endpoints. Only Create returns the
// secret; every other read is redacted.
type Registry struct {
	Store       store.EndpointStore
	Filters     *Filters
	SecretBytes int
	Now         func() time.Time
}

func NewRegistry(s store.EndpointStore, filters *Filters) *Registry {
	if filters == nil {
		filters = NewFilters()
	}
	return &Registry{Store: s, Filters: filters, SecretBytes: DefaultSecretBytes, Now: time.Now}
}

func (r *Registry) now() time.Time { return r.Now().UTC() }

func (r *Registry) Create(ctx context.Context, tenantID string, in model.EndpointInput) (model.Endpoint, error) {
	if strings.TrimSpace(tenantID) == "" {
		return model.Endpoint{}, invalid("organizationId", "is required")
	}
	u, err := validateURL(in.URL)
	if err != nil {
		return model.Endpoint{}, err
	}
	events, err := normalizeEvents(in.Events)
	if err != nil {
		return model.Endpoint{}, err
	}
	if err := r.validateFilter(in.Filter); err != nil {
		return model.Endpoint{}, err
	}
	if err := validateSecret(in.Secret); err != nil {
		return model.Endpoint{}, err
	}
	secret := in.Secret
	if secret == "" {
		if secret, err = GenerateSecret(r.SecretBytes); err != nil {
			return model.Endpoint{}, err
		}
	}
	now := r.now()
	ep := model.Endpoint{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		URL:         u,
		Events:      events,
		Secret:      secret,
		Filter:      strings.TrimSpace(in.Filter),
		Description: in.Description,
		Status:      model.EndpointActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := r.Store.CreateEndpoint(ctx, ep)
	if err != nil {
		return model.Endpoint{}, fmt.Errorf("create endpoint: %w", err)
	}
	return created, nil
}

func (r *Registry) List(ctx context.Context, tenantID string, q model.EndpointQuery) ([]model.Endpoint, error) {
	if q.Status != "" && !q.Status.Valid() {
		return nil, invalid("status", "must be active or inactive")
	}
	q.Limit, q.Offset = ClampPage(q.Limit, q.Offset)
	eps, err := r.Store.ListEndpoints(ctx, tenantID, q)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	for i := range eps {
		eps[i] = eps[i].Redacted()
	}
	return eps, nil
}

func (r *Registry) Get(ctx context.Context, id, tenantID string) (model.Endpoint, error) {
	ep, err := r.Store.GetEndpoint(ctx, tenantID, id)
	if err != nil {
		return model.Endpoint{}, err
	}
	return ep.Redacted(), nil
}

func (r *Registry) Update(ctx context.Context, id, tenantID string, p model.EndpointPatch) (model.Endpoint, error) {
	ep, err := r.Store.GetEndpoint(ctx, tenantID, id)
	if err != nil {
		return model.Endpoint{}, err
	}
	if p.URL != nil {
		if ep.URL, err = validateURL(*p.URL); err != nil {
			return model.Endpoint{}, err
		}
	}
	if p.Events != nil {
		if ep.Events, err = normalizeEvents(*p.Events); err != nil {
			return model.Endpoint{}, err
		}
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return model.Endpoint{}, invalid("status", "must be active or inactive")
		}
		ep.Status = *p.Status
	}
	if p.Filter != nil {
		if err := r.validateFilter(*p.Filter); err != nil {
			return model.Endpoint{}, err
		}
		ep.Filter = strings.TrimSpace(*p.Filter)
	}
	if p.Description != nil {
		ep.Description = *p.Description
	}
	ep.UpdatedAt = r.now()
	updated, err := r.Store.UpdateEndpoint(ctx, ep)
	if err != nil {
		return model.Endpoint{}, err
	}
	return updated.Redacted(), nil
}

func (r *Registry) Delete(ctx context.Context, id, tenantID string) error {
	return r.Store.DeleteEndpoint(ctx, tenantID, id, r.now())
}

func (r *Registry) validateFilter(src string) error {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil
	}
	if _, err := r.Filters.Compile(src); err != nil {
		return invalid("filter", err.Error())
	}
	return nil
}

// validateSecret accepts an empty secret (one is generated) or one of at
// least MinSecretLength characters. Surrounding whitespace is rejected, not
// trimmed, since the receiver signs with the exact bytes it supplied.
func validateSecret(secret string) error {
	if secret == "" {
		return nil
	}
	if strings.TrimSpace(secret) != secret {
		return invalid("secret", "must not have leading or trailing whitespace")
	}
	if utf8.RuneCountInString(secret) < MinSecretLength {
		return invalid("secret", fmt.Sprintf("must be at least %d characters", MinSecretLength))
	}
	return nil
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid("url", "is required")
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "", invalid("url", "must start with http:// or https://")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", invalid("url", "must be an absolute URL with a host")
	}
	return raw, nil
}

// normalizeEvents trims, rejects blanks, and drops duplicates keeping the
// first occurrence.
func normalizeEvents(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, invalid("events", "must not be empty")
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, ev := range in {
		ev = strings.TrimSpace(ev)
		if ev == "" {
			return nil, invalid("events", "must not contain empty event types")
		}
		if _, dup := seen[ev]; dup {
			continue
		}
		seen[ev] = struct{}{}
		out = append(out, ev)
	}
	return out, nil
}

// GenerateSecret returns n random bytes hex-encoded.
func GenerateSecret(n int) (string, error) {
	if n <= 0 {
		n = DefaultSecretBytes
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ClampPage applies the default and maximum page size and floors the
// offset at zero.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
