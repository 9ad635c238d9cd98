package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/model"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/store"
)

func newTestDispatcher(s store.EndpointStore, ex Deliverer) *Dispatcher {
	d := NewDispatcher(s, ex)
	d.Log = quietLog()
	d.Now = func() time.Time { return fixedNow }
	return d
}

func TestTriggerFanOutIsolatesFailures(t *testing.T) {
	okSrv, okGot := receiver(t, 200, "fine")
	badSrv, badGot := receiver(t, 500, "broken")
	s := store.NewMemory()
	r := newTestRegistry(s)
	ctx := context.Background()

	good := mustRegister(t, r, "org", okSrv.URL, "evaluation.completed")
	bad := mustRegister(t, r, "org", badSrv.URL, "evaluation.completed", "span.failed")
	paused := mustRegister(t, r, "org", okSrv.URL, "evaluation.completed")
	inactive := model.EndpointInactive
	if _, err := r.Update(ctx, paused.ID, "org", model.EndpointPatch{Status: &inactive}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	mustRegister(t, r, "org", okSrv.URL, "trace.completed")
	mustRegister(t, r, "org_other", okSrv.URL, "evaluation.completed")

	d := newTestDispatcher(s, newTestExecutor(s))
	sum := d.Trigger(ctx, "org", "evaluation.completed", map[string]any{"evaluationId": "ev_1", "score": 0.8})
	if sum != (model.DeliverySummary{Triggered: 2, Successful: 1, Failed: 1}) {
		t.Fatalf("summary: %+v", sum)
	}
	_, _, okHits := okGot.snapshot()
	_, _, badHits := badGot.snapshot()
	if okHits != 1 || badHits != 1 {
		t.Fatalf("hits: ok=%d bad=%d", okHits, badHits)
	}

	h := NewHistory(s)
	goodRows, _ := h.List(ctx, good.ID, "org", model.Page{})
	badRows, _ := h.List(ctx, bad.ID, "org", model.Page{})
	pausedRows, _ := h.List(ctx, paused.ID, "org", model.Page{})
	if len(goodRows) != 1 || goodRows[0].Outcome != model.OutcomeSuccess {
		t.Fatalf("good history: %+v", goodRows)
	}
	if len(badRows) != 1 || badRows[0].Outcome != model.OutcomeFailed || *badRows[0].ResponseBody != "broken" {
		t.Fatalf("bad history: %+v", badRows)
	}
	if len(pausedRows) != 0 {
		t.Fatalf("inactive endpoint was delivered to")
	}
	if string(goodRows[0].Payload) != string(badRows[0].Payload) {
		t.Fatalf("recipients got different envelopes")
	}
}

func TestTriggerNoMatchesDoesNoIO(t *testing.T) {
	srv, got := receiver(t, 200, "")
	rs := newRecordStore()
	mustRegister(t, newTestRegistry(rs), "org", srv.URL, "trace.completed")
	d := newTestDispatcher(rs, newTestExecutor(rs))

	sum := d.Trigger(context.Background(), "org", "span.failed", nil)
	if sum != (model.DeliverySummary{}) {
		t.Fatalf("summary: %+v", sum)
	}
	if _, _, hits := got.snapshot(); hits != 0 || rs.inserts != 0 {
		t.Fatalf("I/O: hits=%d inserts=%d", hits, rs.inserts)
	}
	if sum := d.Trigger(context.Background(), "nobody", "trace.completed", nil); sum != (model.DeliverySummary{}) {
		t.Fatalf("unknown tenant summary: %+v", sum)
	}
}

func TestTriggerLoadErrorGivesZeroSummary(t *testing.T) {
	rs := newRecordStore()
	rs.failList = true
	d := newTestDispatcher(rs, newTestExecutor(rs))
	if sum := d.Trigger(context.Background(), "org", "x", nil); sum != (model.DeliverySummary{}) {
		t.Fatalf("summary: %+v", sum)
	}
}

func TestTriggerAppliesFilters(t *testing.T) {
	srv, got := receiver(t, 200, "")
	s := store.NewMemory()
	r := newTestRegistry(s)
	ctx := context.Background()
	if _, err := r.Create(ctx, "org", model.EndpointInput{URL: srv.URL, Events: []string{"evaluation.completed"}, Filter: `data.score < 0.5`}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	d := newTestDispatcher(s, newTestExecutor(s))
	if sum := d.Trigger(ctx, "org", "evaluation.completed", map[string]any{"score": 0.9}); sum.Triggered != 0 {
		t.Fatalf("filtered event delivered: %+v", sum)
	}
	if sum := d.Trigger(ctx, "org", "evaluation.completed", map[string]any{"score": 0.1}); sum.Successful != 1 {
		t.Fatalf("matching event not delivered: %+v", sum)
	}
	if _, _, hits := got.snapshot(); hits != 1 {
		t.Fatalf("hits: %d", hits)
	}
}

// scripted answers per endpoint URL.
type scripted struct {
	active  atomic.Int32
	peak    atomic.Int32
	answers map[string]func() (*model.DeliveryAttempt, error)
}

func (s *scripted) Accepts(ep model.Endpoint, env model.Envelope) bool {
	return ep.Status == model.EndpointActive && ep.Subscribes(env.Event)
}

func (s *scripted) Deliver(ctx context.Context, ep model.Endpoint, env model.Envelope) (*model.DeliveryAttempt, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return s.answers[ep.URL]()
}

func TestTriggerCountsErrorsPanicsAndVanishedEndpoints(t *testing.T) {
	s := store.NewMemory()
	r := newTestRegistry(s)
	for _, u := range []string{"https://ok.io", "https://err.io", "https://panic.io", "https://gone.io", "https://fail.io"} {
		mustRegister(t, r, "org", u, "e")
	}
	ex := &scripted{answers: map[string]func() (*model.DeliveryAttempt, error){
		"https://ok.io":    func() (*model.DeliveryAttempt, error) { return &model.DeliveryAttempt{Outcome: model.OutcomeSuccess}, nil },
		"https://fail.io":  func() (*model.DeliveryAttempt, error) { return &model.DeliveryAttempt{Outcome: model.OutcomeFailed}, nil },
		"https://err.io":   func() (*model.DeliveryAttempt, error) { return nil, errBoom },
		"https://panic.io": func() (*model.DeliveryAttempt, error) { panic("receiver exploded") },
		"https://gone.io":  func() (*model.DeliveryAttempt, error) { return nil, nil },
	}}
	sum := newTestDispatcher(s, ex).Trigger(context.Background(), "org", "e", nil)
	if sum != (model.DeliverySummary{Triggered: 4, Successful: 1, Failed: 3}) {
		t.Fatalf("summary: %+v", sum)
	}
}

func TestTriggerConcurrency(t *testing.T) {
	s := store.NewMemory()
	r := newTestRegistry(s)
	answers := map[string]func() (*model.DeliveryAttempt, error){}
	for i := 0; i < 8; i++ {
		u := "https://x.io/" + string(rune('a'+i))
		mustRegister(t, r, "org", u, "e")
		answers[u] = func() (*model.DeliveryAttempt, error) { return &model.DeliveryAttempt{Outcome: model.OutcomeSuccess}, nil }
	}

	limited := &scripted{answers: answers}
	d := newTestDispatcher(s, limited)
	d.MaxConcurrency = 2
	if sum := d.Trigger(context.Background(), "org", "e", nil); sum.Successful != 8 {
		t.Fatalf("limited summary: %+v", sum)
	}
	if p := limited.peak.Load(); p > 2 {
		t.Fatalf("limit exceeded: peak %d", p)
	}

	unlimited := &scripted{answers: answers}
	if sum := newTestDispatcher(s, unlimited).Trigger(context.Background(), "org", "e", nil); sum.Successful != 8 {
		t.Fatalf("unlimited summary: %+v", sum)
	}
	if p := unlimited.peak.Load(); p < 2 {
		t.Fatalf("deliveries did not run concurrently: peak %d", p)
	}
}

func TestTriggerWaitsForSlowDeliveries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()
	s := store.NewMemory()
	r := newTestRegistry(s)
	for i := 0; i < 3; i++ {
		mustRegister(t, r, "org", srv.URL, "e")
	}
	start := time.Now()
	sum := newTestDispatcher(s, newTestExecutor(s)).Trigger(context.Background(), "org", "e", nil)
	if sum.Successful != 3 {
		t.Fatalf("summary: %+v", sum)
	}
	if el := time.Since(start); el > 290*time.Millisecond {
		t.Fatalf("deliveries ran sequentially: %v", el)
	}
}

func TestDispatcherLiteralUsesDefaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	rs := newRecordStore()
	mustRegister(t, newTestRegistry(rs), "org", srv.URL, "e")

	d := &Dispatcher{Endpoints: rs, Executor: newTestExecutor(rs)}
	if sum := d.Trigger(context.Background(), "org", "e", nil); sum != (model.DeliverySummary{Triggered: 1, Successful: 1}) {
		t.Fatalf("summary: %+v", sum)
	}
	rs.failList = true
	if sum := d.Trigger(context.Background(), "org", "e", nil); sum != (model.DeliverySummary{}) {
		t.Fatalf("load error summary: %+v", sum)
	}
}
