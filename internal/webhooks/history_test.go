package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/store"
)

func TestHistoryNotFoundForOtherTenant(t *testing.T) {
	s := store.NewMemory()
	ep := mustRegister(t, newTestRegistry(s), "org_a", "https://x.io", "e")
	h := NewHistory(s)
	if _, err := h.List(context.Background(), ep.ID, "org_b", model.Page{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := h.List(context.Background(), "missing", "org_a", model.Page{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestHistoryPagingNewestFirst(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	ep := mustRegister(t, newTestRegistry(s), "org", "https://x.io", "e")
	for i := 0; i < 130; i++ {
		_, err := s.InsertDeliveryAttempt(ctx, model.DeliveryAttempt{
			EndpointID: ep.ID, TenantID: "org", EventType: "e", Payload: []byte(`{}`),
			Outcome: model.OutcomeSuccess, AttemptCount: 1, CreatedAt: fixedNow.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	h := NewHistory(s)
	def, _ := h.List(ctx, ep.ID, "org", model.Page{})
	if len(def) != 50 || !def[0].CreatedAt.Equal(fixedNow.Add(129*time.Second)) {
		t.Fatalf("default page: len=%d first=%v", len(def), def[0].CreatedAt)
	}
	capped, _ := h.List(ctx, ep.ID, "org", model.Page{Limit: 500})
	if len(capped) != 100 {
		t.Fatalf("cap: %d", len(capped))
	}
	neg, _ := h.List(ctx, ep.ID, "org", model.Page{Limit: 5, Offset: -10})
	if len(neg) != 5 || neg[0].ID != def[0].ID {
		t.Fatalf("negative offset: %+v", neg)
	}
	tail, _ := h.List(ctx, ep.ID, "org", model.Page{Limit: 100, Offset: 120})
	if len(tail) != 10 {
		t.Fatalf("tail: %d", len(tail))
	}
}

func TestHistoryHiddenAfterDelete(t *testing.T) {
	s := store.NewMemory()
	r := newTestRegistry(s)
	ep := mustRegister(t, r, "org", "https://x.io", "e")
	if err := r.Delete(context.Background(), ep.ID, "org"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := NewHistory(s).List(context.Background(), ep.ID, "org", model.Page{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
