// Command reflow runs the server-side UI runtime with the bundled demo app.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/reflow-ui/reflow/pkg/config"
	"github.com/reflow-ui/reflow/pkg/fragment"
	"github.com/reflow-ui/reflow/pkg/observability"
	"github.com/reflow-ui/reflow/pkg/runloop"
	"github.com/reflow-ui/reflow/pkg/session"
	"github.com/reflow-ui/reflow/pkg/store"
	"github.com/reflow-ui/reflow/pkg/transport"
)

func main() {
	profileName := flag.String("profile", "", "deployment profile name (profiles/profile_<name>.yaml)")
	profilesDir := flag.String("profiles-dir", "profiles", "directory holding deployment profiles")
	flag.Parse()

	cfg := config.Load()
	if *profileName != "" {
		p, err := config.LoadProfile(*profilesDir, *profileName)
		if err != nil {
			log.Fatalf("load profile: %v", err)
		}
		if err := p.Apply(cfg); err != nil {
			log.Fatalf("apply profile: %v", err)
		}
	}

	setupLogging(cfg.LogLevel)
	logger := slog.Default()

	ctx := context.Background()

	var metrics runloop.Metrics
	var hooks transport.SessionHooks
	if cfg.TelemetryEnabled {
		provider, err := observability.New(ctx, &observability.Config{
			ServiceName:    "reflow",
			ServiceVersion: "0.1.0",
			Environment:    cfg.Environment,
			OTLPEndpoint:   cfg.OTLPEndpoint,
			SampleRate:     1.0,
			BatchTimeout:   5 * time.Second,
			Enabled:        true,
			Insecure:       cfg.Environment == "development",
		})
		if err != nil {
			log.Fatalf("init observability: %v", err)
		}
		defer func() { _ = provider.Shutdown(ctx) }()
		metrics = provider
		hooks = provider
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		log.Fatalf("init state backend: %v", err)
	}
	defer func() { _ = backend.Close() }()

	manager := session.NewManager(session.ManagerOptions{
		MaxRuns: cfg.MaxRuns,
		IdleTTL: cfg.SessionTTL,
	})
	runner := runloop.NewRunner(runloop.Options{
		MaxReruns: cfg.MaxReruns,
		Metrics:   metrics,
	})
	fragRunner := fragment.NewRunner(cfg.MaxReruns)

	server := transport.NewServer(transport.Options{
		Manager:    manager,
		Runner:     runner,
		Fragments:  fragRunner,
		Scheduler:  fragment.NewScheduler(fragRunner).WithSlots(manager),
		Script:     demoApp(manager),
		Backend:    backend,
		Limiter:    transport.NewRateLimiter(cfg.RateRPS, cfg.RateBurst),
		Validator:  transport.NewTokenValidator(cfg.JWTSecret),
		Hooks:      hooks,
		RunTimeout: cfg.RunTimeout,
		QueueLen:   cfg.EventQueueLen,
	})

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go manager.Sweep(sweepCtx, time.Minute)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("reflow listening",
			"addr", httpServer.Addr,
			"state_backend", cfg.StateBackend,
			"auth", cfg.JWTSecret != "")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func buildBackend(cfg *config.Config) (store.Backend, error) {
	switch cfg.StateBackend {
	case "", "memory":
		return store.NewMemoryBackend(), nil
	case "sqlite":
		return store.NewSQLiteBackend(cfg.SQLitePath)
	case "redis":
		return store.NewRedisBackend(cfg.RedisAddr, "", cfg.RedisDB, 24*time.Hour), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
	}
}
