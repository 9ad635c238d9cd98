package webhooks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/metrics"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/store"
)

// Deliverer is the part of the Executor the Dispatcher needs.
type Deliverer interface {
	Accepts(ep model.Endpoint, env model.Envelope) bool
	Deliver(ctx context.Context, ep model.Endpoint, env model.Envelope) (*model.DeliveryAttempt, error)
}

// Dispatcher fans one event out to every matching endpoint of a tenant.
type Dispatcher struct {
	Endpoints      store.EndpointStore
	Executor       Deliverer
	MaxConcurrency int // 0 means one goroutine per endpoint
	Log            *slog.Logger
	Now            func() time.Time
}

func NewDispatcher(s store.EndpointStore, ex Deliverer) *Dispatcher {
	return &Dispatcher{Endpoints: s, Executor: ex, Log: slog.Default(), Now: time.Now}
}

type deliveryResult struct {
	attempt *model.DeliveryAttempt
	err     error
}

// Trigger delivers eventType to all of tenantID's matching endpoints and
// waits for every delivery to settle. It never fails; load errors are
// logged and yield an empty summary.
func (d *Dispatcher) Trigger(ctx context.Context, tenantID, eventType string, data any) model.DeliverySummary {
	log := d.logger().With("tenant_id", tenantID, "event", eventType)
	eps, err := d.Endpoints.ListActiveEndpoints(ctx, tenantID)
	if err != nil {
		log.Error("load webhook endpoints", "error", err)
		return model.DeliverySummary{}
	}

	env := NewEnvelope(tenantID, eventType, data, d.now())
	matched := eps[:0:0]
	for _, ep := range eps {
		if d.Executor.Accepts(ep, env) {
			matched = append(matched, ep)
		}
	}
	metrics.WebhookFanout.Observe(float64(len(matched)))
	if len(matched) == 0 {
		return model.DeliverySummary{}
	}

	// Each task owns one slot; nothing else is shared between tasks.
	results := make([]deliveryResult, len(matched))
	var g errgroup.Group
	if d.MaxConcurrency > 0 {
		g.SetLimit(d.MaxConcurrency)
	}
	for i, ep := range matched {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = deliveryResult{err: fmt.Errorf("delivery panic: %v", r)}
				}
			}()
			a, err := d.Executor.Deliver(ctx, ep, env)
			results[i] = deliveryResult{attempt: a, err: err}
			return nil
		})
	}
	_ = g.Wait()

	sum := model.DeliverySummary{Triggered: len(matched)}
	for i, r := range results {
		switch {
		case r.err != nil:
			sum.Failed++
			log.Error("webhook delivery", "endpoint_id", matched[i].ID, "error", r.err)
		case r.attempt == nil:
			// endpoint changed between load and delivery
			sum.Triggered--
		case r.attempt.Outcome == model.OutcomeSuccess:
			sum.Successful++
		default:
			sum.Failed++
		}
	}
	return sum
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
