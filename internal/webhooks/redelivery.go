package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/metrics"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/store"
)

// RetryPolicy controls redelivery of failed attempts. Disabled by default:
// each trigger then produces exactly one attempt per endpoint.
type RetryPolicy struct {
	Enabled     bool
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Backoff: 30 * time.Second, MaxBackoff: time.Hour}
}

// Delay is the wait before retrying an attempt that was try number
// attemptCount: Backoff doubled per previous try, capped at MaxBackoff.
func (p RetryPolicy) Delay(attemptCount int) time.Duration {
	base, ceiling := p.Backoff, p.MaxBackoff
	if base <= 0 {
		base = 30 * time.Second
	}
	if ceiling <= 0 {
		ceiling = time.Hour
	}
	if attemptCount < 1 {
		attemptCount = 1
	}
	d := base
	for i := 1; i < attemptCount; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 5
	}
	return p.MaxAttempts
}

// Redeliverer periodically claims due retry tickets and resends the stored
// payload through the Executor.
type Redeliverer struct {
	Store    store.Store
	Executor *Executor
	Interval time.Duration
	Batch    int
	Limiter  *rate.Limiter
	Log      *slog.Logger
	Now      func() time.Time

	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

func NewRedeliverer(s store.Store, ex *Executor, interval time.Duration, batch int, perSecond float64) *Redeliverer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	if perSecond <= 0 {
		perSecond = 10
	}
	return &Redeliverer{
		Store:    s,
		Executor: ex,
		Interval: interval,
		Batch:    batch,
		Limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
		Log:      slog.Default(),
		Now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (r *Redeliverer) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(r.done)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-r.stop:
				cancel()
			case <-ctx.Done():
			}
		}()
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.ProcessOnce(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for the current sweep to return. Claimed
// tickets that were not yet sent are dropped.
func (r *Redeliverer) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	if r.started.Load() {
		<-r.done
	}
}

// ProcessOnce runs one sweep and returns how many redeliveries were sent.
func (r *Redeliverer) ProcessOnce(ctx context.Context) int {
	due, err := r.Store.ClaimDueRetries(ctx, r.now().UTC(), r.Batch)
	if err != nil {
		r.logger().Error("claim redeliveries", "error", err)
	}
	sent := 0
	for _, d := range due {
		if r.Limiter != nil {
			if err := r.Limiter.Wait(ctx); err != nil {
				return sent
			}
		}
		if r.redeliver(ctx, d) {
			sent++
		}
	}
	return sent
}

func (r *Redeliverer) redeliver(ctx context.Context, d model.DueRetry) bool {
	log := r.logger().With("attempt_id", d.AttemptID, "endpoint_id", d.EndpointID, "tenant_id", d.TenantID)
	ep, err := r.Store.GetEndpoint(ctx, d.TenantID, d.EndpointID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("redelivery dropped: endpoint gone")
		return false
	}
	if err != nil {
		log.Error("redelivery endpoint lookup", "error", err)
		return false
	}
	// Status, subscription and filter are judged as they are now, not as
	// they were when the first attempt failed.
	env := storedEnvelope(d)
	if !r.Executor.Accepts(ep, env) {
		log.Debug("redelivery dropped: endpoint no longer accepts event")
		return false
	}
	rec, err := r.Executor.send(ctx, ep, d.EventType, d.Payload, env.Timestamp, d.AttemptCount+1)
	if err != nil {
		log.Error("redelivery", "error", err)
		metrics.WebhookRedeliveries.WithLabelValues("error").Inc()
		return false
	}
	metrics.WebhookRedeliveries.WithLabelValues(string(rec.Outcome)).Inc()
	return true
}

// storedEnvelope decodes the signed payload of d so filters see the data
// that was sent. The event and tenant always come from the ticket;
// Timestamp feeds X-Webhook-Timestamp so it matches the signed body.
func storedEnvelope(d model.DueRetry) model.Envelope {
	var env model.Envelope
	dec := json.NewDecoder(bytes.NewReader(d.Payload))
	dec.UseNumber()
	_ = dec.Decode(&env)
	env.Event = d.EventType
	env.OrganizationID = d.TenantID
	return env
}

func (r *Redeliverer) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r *Redeliverer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
