package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/xsign/api"
	"github.com/use-agent/xsign/cache"
	"github.com/use-agent/xsign/config"
	"github.com/use-agent/xsign/metrics"
	"github.com/use-agent/xsign/pool"
	"github.com/use-agent/xsign/sandbox"
	"github.com/use-agent/xsign/session"
	"github.com/use-agent/xsign/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("xsign starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"target", cfg.Target.URL,
		"min_instances", cfg.Pool.MinInstances,
		"max_instances", cfg.Pool.MaxInstances,
	)

	// ── 3. Preflight the target over plain HTTP ─────────────────────
	// A cheap reachability check before paying for a browser boot. A
	// failure is logged, not fatal: the page may still load fine with
	// the browser's own network stack.
	pfCtx, pfCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if pf, err := sandbox.Preflight(pfCtx, cfg.Target.URL); err != nil {
		slog.Warn("target preflight failed", "url", cfg.Target.URL, "error", err)
	} else {
		slog.Info("target preflight", "status", pf.StatusCode, "title", pf.Title)
	}
	pfCancel()

	// ── 4. Launch the browser ───────────────────────────────────────
	browser, err := sandbox.NewBrowser(cfg.Browser, cfg.Target, cfg.Pool.SettleDelay)
	if err != nil {
		slog.Error("failed to launch browser", "error", err)
		os.Exit(1)
	}
	defer browser.Close()

	// ── 5. Load session cookies (file, then env overrides) ──────────
	store := session.NewStore(cfg.Session.CookieFile)
	if err := store.Load(); err != nil {
		slog.Warn("loading session cookies", "error", err)
	}
	store.Merge(session.ParsePairs(cfg.Session.Cookies))

	// ── 6. Metrics ──────────────────────────────────────────────────
	m := metrics.New()

	// ── 7. Build and start the worker pool ──────────────────────────
	mgr := pool.NewManager(pool.Config{
		MinInstances: cfg.Pool.MinInstances,
		MaxInstances: cfg.Pool.MaxInstances,
		Worker: pool.WorkerOptions{
			TargetURL:        cfg.Target.URL,
			SignScript:       sandbox.SignJS,
			PageTimeout:      cfg.Pool.PageTimeout,
			ExecTimeout:      cfg.Pool.ExecTimeout,
			ProbeTimeout:     cfg.Pool.ProbeTimeout,
			ProbeAttempts:    cfg.Pool.ProbeAttempts,
			ProbeDelay:       cfg.Pool.ProbeDelay,
			RecoverThreshold: cfg.Pool.RecoverThreshold,
		},
		Ambient: store.Cookies(),
		Hooks:   poolHooks(cfg.Webhook, m),
	}, func(ctx context.Context) (pool.Sandbox, error) {
		s, err := browser.NewSession(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	if err := mgr.Start(context.Background()); err != nil {
		slog.Error("failed to start worker pool", "error", err)
		os.Exit(1)
	}
	webhook.DeliverAsync(cfg.Webhook.URL, cfg.Webhook.Secret,
		webhook.NewEvent(webhook.EventPoolStarted, "", map[string]int{
			"workers": mgr.Stats().TotalWorkers,
		}))

	// Gauge poller: per-status worker counts every 15s.
	pollDone := make(chan struct{})
	go m.WatchPool(pollDone, 15*time.Second, func() map[string]int {
		counts := map[string]int{
			string(pool.StatusStarting): 0,
			string(pool.StatusReady):    0,
			string(pool.StatusBusy):     0,
			string(pool.StatusError):    0,
			string(pool.StatusStopped):  0,
		}
		for _, ws := range mgr.ListWorkers() {
			counts[ws.Status]++
		}
		return counts
	})

	// ── 8. Setup router ─────────────────────────────────────────────
	startTime := time.Now()
	cc := cache.New(cfg.Cache.MaxEntries)
	router := api.NewRouter(mgr, cc, m, cfg, startTime)

	// ── 9. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 10. Graceful shutdown ───────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}
	close(pollDone)

	// Snapshot cookies from a live worker before the pool goes away so
	// the login session survives the restart.
	jar, jarErr := mgr.Cookies(ctx)

	mgr.Stop()
	webhook.DeliverAsync(cfg.Webhook.URL, cfg.Webhook.Secret,
		webhook.NewEvent(webhook.EventPoolStopped, "", nil))

	if jarErr != nil {
		slog.Warn("could not snapshot session cookies", "error", jarErr)
	} else {
		store.Update(jar)
	}
	if err := store.Save(); err != nil {
		slog.Warn("saving session cookies", "error", err)
	}

	// browser.Close() runs via defer — kills Chrome.
	slog.Info("xsign stopped")
}

// poolHooks wires pool lifecycle events to metrics and webhooks.
func poolHooks(whCfg config.WebhookConfig, m *metrics.Metrics) pool.Hooks {
	return pool.Hooks{
		OnStateChange: func(workerID string, from, to pool.Status) {
			if to == pool.StatusError {
				webhook.DeliverAsync(whCfg.URL, whCfg.Secret,
					webhook.NewEvent(webhook.EventWorkerError, workerID, map[string]string{
						"from": string(from),
					}))
			}
		},
		OnRecoverResult: func(workerID string, err error) {
			m.RecordRecovery(err)
			eventType := webhook.EventWorkerRecovered
			var data interface{}
			if err != nil {
				eventType = webhook.EventWorkerRecoveryFailed
				data = map[string]string{"error": err.Error()}
			}
			webhook.DeliverAsync(whCfg.URL, whCfg.Secret,
				webhook.NewEvent(eventType, workerID, data))
		},
	}
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
