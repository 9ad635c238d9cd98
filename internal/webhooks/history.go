package webhooks

import (
	"context"
	"fmt"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/store"
)

// History reads the delivery attempts of one endpoint.
type History struct {
	Endpoints  store.EndpointStore
	Deliveries store.DeliveryStore
}

func NewHistory(s store.Store) *History {
	return &History{Endpoints: s, Deliveries: s}
}

// List returns attempts newest first. It fails with store.ErrNotFound when
// the endpoint does not belong to tenantID.
func (h *History) List(ctx context.Context, endpointID, tenantID string, page model.Page) ([]model.DeliveryAttempt, error) {
	if _, err := h.Endpoints.GetEndpoint(ctx, tenantID, endpointID); err != nil {
		return nil, err
	}
	page.Limit, page.Offset = ClampPage(page.Limit, page.Offset)
	rows, err := h.Deliveries.ListDeliveryAttempts(ctx, tenantID, endpointID, page)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return rows, nil
}
