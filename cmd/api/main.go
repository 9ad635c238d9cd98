package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/api"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/auth"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/buildinfo"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/config"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/feed"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/intake"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/logger"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/store"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/telemetry"
	"github.com/pauly7610/ai-evaluation-platform-sub002/internal/webhooks"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "webhooks", buildinfo.Version, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()
	if m, ok := st.(store.Migrator); ok && cfg.DBMigrate {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}

	// Feed selection
	var (
		fb  feed.Broker = feed.NewMemory()
		rdb *redis.Client
	)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
		rf := feed.NewRedis(rdb, log)
		defer rf.Close()
		fb = rf
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return err
	}

	wh := cfg.Webhooks
	ex := webhooks.NewExecutor(st)
	ex.Timeout = wh.Timeout
	ex.BodyLimit = wh.BodyLimit
	ex.Feed = fb
	ex.Log = log
	ex.Retry = webhooks.RetryPolicy{
		Enabled:     wh.Redelivery.Enabled,
		MaxAttempts: wh.Redelivery.MaxAttempts,
		Backoff:     wh.Redelivery.Backoff,
		MaxBackoff:  wh.Redelivery.MaxBackoff,
	}

	srv := api.NewServer(cfg, st, ex, fb, verifier, log)

	if wh.Redelivery.Enabled {
		rd := webhooks.NewRedeliverer(st, ex, wh.Redelivery.Interval, wh.Redelivery.Batch, wh.Redelivery.RPS)
		rd.Log = log
		rd.Start()
		defer rd.Stop()
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if wh.Intake.Stream != "" && rdb != nil {
		c := intake.NewConsumer(rdb, wh.Intake.Stream, wh.Intake.Group, wh.Intake.Consumer, srv.Dispatcher)
		c.Log = log
		g.Go(func() error { return c.Run(gctx) })
	}
	g.Go(func() error {
		log.Info("API listening", "addr", httpSrv.Addr, "version", buildinfo.Version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}
