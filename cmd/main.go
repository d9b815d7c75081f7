package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/okian/soccer-tracker/internal/adapters/http/api"
	app "github.com/okian/soccer-tracker/internal/app"
	"github.com/okian/soccer-tracker/internal/config"
	"github.com/okian/soccer-tracker/internal/domain/aggregator"
	"github.com/okian/soccer-tracker/pkg/logger"
	"github.com/okian/soccer-tracker/pkg/metrics"
)

// HTTP server timeout constants. WriteTimeout stays unset so websocket
// streams are not cut off; REST handlers carry their own timeout.
const (
	readTimeout               = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	cpuSampleWindow           = 200 * time.Millisecond
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	loggerInstance := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> .env -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc, err := newService(cfg, loggerInstance)
	if err != nil {
		loggerInstance.Error(ctx, "invalid service configuration", logger.Error(err))
		return
	}
	if err := svc.Start(ctx); err != nil {
		loggerInstance.Error(ctx, "failed to start service", logger.Error(err))
		return
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(cfg, svc, loggerInstance),
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		loggerInstance.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("persistence", cfg.Persistence),
			logger.String("analytics", cfg.Analytics),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggerInstance.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	loggerInstance.Info(context.Background(), "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}

	loggerInstance.Info(shutdownCtx, "server stopped")
}

// newService translates configuration into service options.
func newService(cfg *config.Config, l logger.Logger) (*app.Service, error) {
	policy, err := aggregator.ParseFailurePolicy(cfg.FacetFailurePolicy)
	if err != nil {
		return nil, err
	}
	return app.New(
		app.WithLogger(l),
		app.WithPersistence(cfg.Persistence, cfg.StorePath),
		app.WithAnalytics(cfg.Analytics),
		app.WithUpstream(cfg.UpstreamURL, cfg.UpstreamTimeout(), cfg.UpstreamRetries),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.FetchQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithFetchTimeout(cfg.FetchTimeout()),
		app.WithCoalesceDelay(cfg.CoalesceDelay()),
		app.WithFailurePolicy(policy),
		app.WithRequestDefaults(cfg.HorizonDays, cfg.InsightsMaxAge, cfg.InsightsTopN),
		app.WithSessionJanitor(cfg.SessionIdleTTL(), cfg.JanitorSchedule),
		app.WithLocalLatencyRange(
			time.Duration(cfg.LocalLatencyMinMS)*time.Millisecond,
			time.Duration(cfg.LocalLatencyMaxMS)*time.Millisecond,
		),
	), nil
}

// newRouter registers the business API, including the websocket stream.
func newRouter(cfg *config.Config, svc *app.Service, l logger.Logger) http.Handler {
	streams := func() (api.StreamSession, error) {
		sess, err := svc.OpenSession()
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
	return api.NewServer(svc, svc,
		api.WithCORSOrigins(cfg.CORSOrigins),
		api.WithStreams(streams),
		api.WithLogger(l.Named("api")),
	).Routes()
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes the queue, worker and session gauges.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// GetStats publishes the service gauges as a side effect.
			_ = svc.GetStats()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}

	if pct, err := cpu.Percent(cpuSampleWindow, false); err == nil && len(pct) > 0 {
		metrics.UpdateSystemCPUPercent(pct[0])
	}
}
