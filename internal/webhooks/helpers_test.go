package webhooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/store"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 123_000_000, time.UTC)

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestExecutor(s store.Store) *Executor {
	ex := NewExecutor(s)
	ex.Log = quietLog()
	ex.Now = func() time.Time { return fixedNow }
	return ex
}

func newTestRegistry(s store.EndpointStore) *Registry {
	r := NewRegistry(s, nil)
	r.Now = func() time.Time { return fixedNow }
	return r
}

func mustRegister(t *testing.T, r *Registry, tenant, url string, events ...string) model.Endpoint {
	t.Helper()
	ep, err := r.Create(context.Background(), tenant, model.EndpointInput{URL: url, Events: events})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return ep
}

// recordStore counts calls on top of the memory store.
type recordStore struct {
	*store.Memory
	mu          sync.Mutex
	listCalls   int
	inserts     int
	failInserts bool
	failList    bool
}

var errBoom = errors.New("boom")

func newRecordStore() *recordStore { return &recordStore{Memory: store.NewMemory()} }

func (r *recordStore) ListActiveEndpoints(ctx context.Context, tenantID string) ([]model.Endpoint, error) {
	r.mu.Lock()
	r.listCalls++
	fail := r.failList
	r.mu.Unlock()
	if fail {
		return nil, errBoom
	}
	return r.Memory.ListActiveEndpoints(ctx, tenantID)
}

func (r *recordStore) InsertDeliveryAttempt(ctx context.Context, a model.DeliveryAttempt) (model.DeliveryAttempt, error) {
	r.mu.Lock()
	r.inserts++
	fail := r.failInserts
	r.mu.Unlock()
	if fail {
		return model.DeliveryAttempt{}, errBoom
	}
	return r.Memory.InsertDeliveryAttempt(ctx, a)
}
