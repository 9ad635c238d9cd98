package store

import (
	"context"
	"errors"
	"time"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
)

// EndpointStore persists webhook endpoints. Every lookup is conjoined with
// the tenant ID; records of other tenants surface as ErrNotFound.
type EndpointStore interface {
	CreateEndpoint(ctx context.Context, ep model.Endpoint) (model.Endpoint, error)
	GetEndpoint(ctx context.Context, tenantID, id string) (model.Endpoint, error)
	ListEndpoints(ctx context.Context, tenantID string, q model.EndpointQuery) ([]model.Endpoint, error)
	ListActiveEndpoints(ctx context.Context, tenantID string) ([]model.Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep model.Endpoint) (model.Endpoint, error)
	DeleteEndpoint(ctx context.Context, tenantID, id string, at time.Time) error
	MarkEndpointDelivered(ctx context.Context, tenantID, id string, at time.Time) error
}

// DeliveryStore persists delivery attempts. Attempts are append-only.
type DeliveryStore interface {
	InsertDeliveryAttempt(ctx context.Context, a model.DeliveryAttempt) (model.DeliveryAttempt, error)
	ListDeliveryAttempts(ctx context.Context, tenantID, endpointID string, page model.Page) ([]model.DeliveryAttempt, error)
}

// RetryStore holds redelivery tickets.
type RetryStore interface {
	ScheduleRetry(ctx context.Context, t model.RetryTicket) error
	ClaimDueRetries(ctx context.Context, now time.Time, limit int) ([]model.DueRetry, error)
}

// Store is the persistence interface used by the API server.
type Store interface {
	EndpointStore
	DeliveryStore
	RetryStore
	Ping(ctx context.Context) error
	Close() error
}

var ErrNotFound = errors.New("not found")
