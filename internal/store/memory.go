package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	endpoints map[string]*memEndpoint // id -> endpoint
	byTenant  map[string][]string     // tenant -> endpoint ids
	attempts  []model.DeliveryAttempt // append-only
	attemptIx map[int64]int           // attempt id -> index in attempts
	nextID    int64
	retries   map[int64]model.RetryTicket // attempt id -> ticket
}

func NewMemory() *Memory {
	return &Memory{
		endpoints: map[string]*memEndpoint{},
		byTenant:  map[string][]string{},
		attemptIx: map[int64]int{},
		retries:   map[int64]model.RetryTicket{},
	}
}

// memEndpoint keeps the soft-delete marker next to the record.
type memEndpoint struct {
	model.Endpoint
	DeletedAt *time.Time
}

func (m *Memory) lookup(tenantID, id string) (*memEndpoint, error) {
	e, ok := m.endpoints[id]
	if !ok || e.TenantID != tenantID || e.DeletedAt != nil {
		return nil, fmt.Errorf("endpoint %s: %w", id, ErrNotFound)
	}
	return e, nil
}

func (m *Memory) CreateEndpoint(ctx context.Context, ep model.Endpoint) (model.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.endpoints[ep.ID]; exists {
		return model.Endpoint{}, fmt.Errorf("endpoint %s already exists", ep.ID)
	}
	ep.Events = append([]string(nil), ep.Events...)
	m.endpoints[ep.ID] = &memEndpoint{Endpoint: ep}
	m.byTenant[ep.TenantID] = append(m.byTenant[ep.TenantID], ep.ID)
	return copyEndpoint(ep), nil
}

func (m *Memory) GetEndpoint(ctx context.Context, tenantID, id string) (model.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(tenantID, id)
	if err != nil {
		return model.Endpoint{}, err
	}
	return copyEndpoint(e.Endpoint), nil
}

func (m *Memory) ListEndpoints(ctx context.Context, tenantID string, q model.EndpointQuery) ([]model.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Endpoint{}
	for _, id := range m.byTenant[tenantID] {
		e := m.endpoints[id]
		if e.DeletedAt != nil {
			continue
		}
		if q.Status != "" && e.Status != q.Status {
			continue
		}
		out = append(out, copyEndpoint(e.Endpoint))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return pageOf(out, q.Limit, q.Offset), nil
}

func (m *Memory) ListActiveEndpoints(ctx context.Context, tenantID string) ([]model.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Endpoint{}
	for _, id := range m.byTenant[tenantID] {
		e := m.endpoints[id]
		if e.DeletedAt != nil || e.Status != model.EndpointActive {
			continue
		}
		out = append(out, copyEndpoint(e.Endpoint))
	}
	return out, nil
}

func (m *Memory) UpdateEndpoint(ctx context.Context, ep model.Endpoint) (model.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(ep.TenantID, ep.ID)
	if err != nil {
		return model.Endpoint{}, err
	}
	// Secret, tenant and creation time are not updatable.
	e.URL = ep.URL
	e.Events = append([]string(nil), ep.Events...)
	e.Status = ep.Status
	e.Filter = ep.Filter
	e.Description = ep.Description
	e.UpdatedAt = ep.UpdatedAt
	return copyEndpoint(e.Endpoint), nil
}

func (m *Memory) DeleteEndpoint(ctx context.Context, tenantID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(tenantID, id)
	if err != nil {
		return err
	}
	e.DeletedAt = &at
	return nil
}

func (m *Memory) MarkEndpointDelivered(ctx context.Context, tenantID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(tenantID, id)
	if err != nil {
		return err
	}
	e.LastDeliveredAt = &at
	return nil
}

func (m *Memory) InsertDeliveryAttempt(ctx context.Context, a model.DeliveryAttempt) (model.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	a.Payload = append([]byte(nil), a.Payload...)
	m.attemptIx[a.ID] = len(m.attempts)
	m.attempts = append(m.attempts, a)
	return a, nil
}

func (m *Memory) ListDeliveryAttempts(ctx context.Context, tenantID, endpointID string, page model.Page) ([]model.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.DeliveryAttempt{}
	for _, a := range m.attempts {
		if a.TenantID == tenantID && a.EndpointID == endpointID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return pageOf(out, page.Limit, page.Offset), nil
}

func (m *Memory) ScheduleRetry(ctx context.Context, t model.RetryTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attemptIx[t.AttemptID]; !ok {
		return fmt.Errorf("attempt %d: %w", t.AttemptID, ErrNotFound)
	}
	m.retries[t.AttemptID] = t
	return nil
}

func (m *Memory) ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]model.DueRetry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := []model.RetryTicket{}
	for _, t := range m.retries {
		if !t.DueAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]model.DueRetry, 0, len(due))
	for _, t := range due {
		delete(m.retries, t.AttemptID)
		a := m.attempts[m.attemptIx[t.AttemptID]]
		out = append(out, model.DueRetry{
			RetryTicket:  t,
			EventType:    a.EventType,
			Payload:      append([]byte(nil), a.Payload...),
			AttemptCount: a.AttemptCount,
		})
	}
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func copyEndpoint(e model.Endpoint) model.Endpoint {
	e.Events = append([]string(nil), e.Events...)
	if e.LastDeliveredAt != nil {
		t := *e.LastDeliveredAt
		e.LastDeliveredAt = &t
	}
	return e
}

func pageOf[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
