// Package api implements the HTTP surface of the webhook service.
package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/auth"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/config"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/feed"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/metrics"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/store"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/webhooks"
)

type Server struct {
	Store      store.Store
	Registry   *webhooks.Registry
	History    *webhooks.History
	Dispatcher *webhooks.Dispatcher
	Auth       *auth.Verifier
	Feed       feed.Broker
	Config     config.Config
	Log        *slog.Logger
}

// NewServer wires the registry, history reader and dispatcher around s and
// the given executor.
func NewServer(cfg config.Config, s store.Store, ex *webhooks.Executor, fb feed.Broker, v *auth.Verifier, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if fb == nil {
		fb = feed.Nop{}
	}
	reg := webhooks.NewRegistry(s, ex.Filters)
	reg.SecretBytes = cfg.Webhooks.SecretBytes
	d := webhooks.NewDispatcher(s, ex)
	d.MaxConcurrency = cfg.Webhooks.MaxConcurrency
	d.Log = log
	return &Server{
		Store:      s,
		Registry:   reg,
		History:    webhooks.NewHistory(s),
		Dispatcher: d,
		Auth:       v,
		Feed:       fb,
		Config:     cfg,
		Log:        log,
	}
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	metrics.RegisterDefault()
	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, instrument(pattern, h))
	}

	// Endpoint registry and history
	route("/v1/webhooks", s.WebhooksHandler)
	route("/v1/webhooks/", s.WebhookByIDHandler) // includes /{id}/deliveries

	// Event intake and live feed
	route("/v1/events", s.EventsHandler)
	route("/v1/deliveries/stream", s.DeliveryStreamHandler)

	// Health
	route("/healthz", s.HealthHandler)
	route("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	route("/debug/info", s.DebugJSON)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, CodeNotFound, "Not Found", "", r.URL.Path)
	})
	return logMiddleware(s.Log, mux)
}
