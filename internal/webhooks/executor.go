package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/buildinfo"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/feed"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/metrics"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/store"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"

	DefaultTimeout   = 10 * time.Second
	DefaultBodyLimit = 500
)

// Executor performs one signed POST to one endpoint and records it.
type Executor struct {
	Store     store.Store
	HTTP      *http.Client
	Signer    *Signer
	Filters   *Filters
	Feed      feed.Broker
	Log       *slog.Logger
	Timeout   time.Duration
	BodyLimit int // runes kept from the response body or error
	Retry     RetryPolicy
	Now       func() time.Time
}

func NewExecutor(s store.Store) *Executor {
	return &Executor{
		Store:     s,
		HTTP:      NewHTTPClient(),
		Signer:    NewSigner(),
		Filters:   NewFilters(),
		Feed:      feed.Nop{},
		Log:       slog.Default(),
		Timeout:   DefaultTimeout,
		BodyLimit: DefaultBodyLimit,
		Retry:     DefaultRetryPolicy(),
		Now:       time.Now,
	}
}

// NewHTTPClient returns a client that does not follow redirects; a 3xx is
// reported as the endpoint's answer. Timeouts come from the request context.
func NewHTTPClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Deliver sends env to ep once. It returns (nil, nil) without any I/O when
// the endpoint is inactive, not subscribed to the event, or its filter does
// not match. Transport failures become failed attempts; an error is
// returned only when the attempt could not be built or persisted.
func (e *Executor) Deliver(ctx context.Context, ep model.Endpoint, env model.Envelope) (*model.DeliveryAttempt, error) {
	if !e.Accepts(ep, env) {
		return nil, nil
	}
	payload, err := Canonical(env)
	if err != nil {
		return nil, err
	}
	return e.send(ctx, ep, env.Event, payload, env.Timestamp, 1)
}

// Accepts reports whether ep should receive env.
func (e *Executor) Accepts(ep model.Endpoint, env model.Envelope) bool {
	if ep.Status != model.EndpointActive || !ep.Subscribes(env.Event) {
		return false
	}
	if ep.Filter == "" {
		return true
	}
	ok, err := e.filters().Match(ep.Filter, env)
	if err != nil {
		e.logger().Warn("webhook filter error", "endpoint_id", ep.ID, "tenant_id", ep.TenantID, "error", err)
		return false
	}
	return ok
}

// send posts payload as-is, so redeliveries carry the original bytes and
// signature.
func (e *Executor) send(ctx context.Context, ep model.Endpoint, eventType string, payload []byte, timestamp string, attemptCount int) (*model.DeliveryAttempt, error) {
	log := e.logger()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "webhook.deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("webhook.endpoint_id", ep.ID),
			attribute.String("webhook.tenant_id", ep.TenantID),
			attribute.String("webhook.event", eventType),
			attribute.Int("webhook.attempt", attemptCount),
		))
	defer span.End()

	// The caller going away must not cut a delivery short.
	detached := context.WithoutCancel(ctx)
	reqCtx, cancel := context.WithTimeout(detached, e.timeout())
	defer cancel()

	status, body, latency := e.post(reqCtx, ep, eventType, payload, timestamp)

	outcome := model.OutcomeFailed
	if status != nil && *status >= 200 && *status < 300 {
		outcome = model.OutcomeSuccess
	}
	metrics.WebhookDeliveries.WithLabelValues(eventType, string(outcome)).Inc()
	metrics.WebhookLatency.WithLabelValues(eventType, string(outcome)).Observe(float64(latency.Milliseconds()))
	if status != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", *status))
	}
	if outcome == model.OutcomeFailed {
		span.SetStatus(codes.Error, "delivery failed")
	}

	// Bookkeeping gets its own budget so a stalled store cannot hold the
	// fan-out past timeout plus this bound.
	persistCtx, cancelPersist := context.WithTimeout(detached, e.timeout())
	defer cancelPersist()

	now := e.now()
	rec, err := e.Store.InsertDeliveryAttempt(persistCtx, model.DeliveryAttempt{
		EndpointID:     ep.ID,
		TenantID:       ep.TenantID,
		EventType:      eventType,
		Payload:        payload,
		Outcome:        outcome,
		ResponseStatus: status,
		ResponseBody:   body,
		AttemptCount:   attemptCount,
		LatencyMs:      int(latency.Milliseconds()),
		CreatedAt:      now,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist delivery attempt: %w", err)
	}

	if outcome == model.OutcomeSuccess {
		if err := e.Store.MarkEndpointDelivered(persistCtx, ep.TenantID, ep.ID, now); err != nil {
			log.Warn("mark endpoint delivered", "endpoint_id", ep.ID, "tenant_id", ep.TenantID, "error", err)
		}
	} else {
		e.scheduleRetry(persistCtx, rec, now)
	}

	published := rec
	published.Payload = nil
	e.feed().Publish(ep.TenantID, feed.Event{Type: feed.TypeDeliveryAttempted, Data: published})

	log.Debug("webhook delivered", "endpoint_id", ep.ID, "tenant_id", ep.TenantID, "event", eventType,
		"outcome", outcome, "attempt", attemptCount, "latency_ms", rec.LatencyMs)
	return &rec, nil
}

// post performs the HTTP exchange. A nil status means no response.
func (e *Executor) post(ctx context.Context, ep model.Endpoint, eventType string, payload []byte, timestamp string) (*int, *string, time.Duration) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		msg := e.truncate(err.Error())
		return nil, &msg, time.Since(start)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	req.Header.Set(HeaderSignature, e.signer().Sign(payload, []byte(ep.Secret)))
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderTimestamp, timestamp)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := e.client().Do(req)
	if err != nil {
		msg := e.truncate(err.Error())
		return nil, &msg, time.Since(start)
	}
	defer resp.Body.Close()
	limit := e.bodyLimit()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, int64(limit)*utf8.UTFMax))
	// drain a bounded remainder so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	latency := time.Since(start)
	code := resp.StatusCode
	snapshot := e.truncate(string(raw))
	return &code, &snapshot, latency
}

func (e *Executor) scheduleRetry(ctx context.Context, rec model.DeliveryAttempt, now time.Time) {
	p := e.Retry
	if !p.Enabled {
		return
	}
	if rec.AttemptCount >= p.maxAttempts() {
		metrics.WebhookDeadLetters.Inc()
		e.logger().Warn("webhook dead-lettered", "endpoint_id", rec.EndpointID, "tenant_id", rec.TenantID,
			"attempt_id", rec.ID, "attempts", rec.AttemptCount)
		return
	}
	t := model.RetryTicket{
		AttemptID:  rec.ID,
		TenantID:   rec.TenantID,
		EndpointID: rec.EndpointID,
		DueAt:      now.Add(p.Delay(rec.AttemptCount)),
	}
	if err := e.Store.ScheduleRetry(ctx, t); err != nil {
		e.logger().Warn("schedule redelivery", "attempt_id", rec.ID, "tenant_id", rec.TenantID, "error", err)
	}
}

// truncate keeps at most BodyLimit runes of s, as valid UTF-8 without NULs.
func (e *Executor) truncate(s string) string {
	return truncateRunes(s, e.bodyLimit())
}

func truncateRunes(s string, n int) string {
	s = strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

const tracerName = "github.com/pauly7610/ai-evaluation-platform-sub002/internal/webhooks"

var defaultFilters = NewFilters()

func (e *Executor) timeout() time.Duration {
	if e.Timeout <= 0 {
		return DefaultTimeout
	}
	return e.Timeout
}

func (e *Executor) bodyLimit() int {
	if e.BodyLimit <= 0 {
		return DefaultBodyLimit
	}
	return e.BodyLimit
}

func (e *Executor) client() *http.Client {
	if e.HTTP == nil {
		return NewHTTPClient()
	}
	return e.HTTP
}

func (e *Executor) signer() *Signer {
	if e.Signer == nil {
		return NewSigner()
	}
	return e.Signer
}

func (e *Executor) filters() *Filters {
	if e.Filters == nil {
		return defaultFilters
	}
	return e.Filters
}

func (e *Executor) feed() feed.Broker {
	if e.Feed == nil {
		return feed.Nop{}
	}
	return e.Feed
}

func (e *Executor) logger() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

func (e *Executor) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}
