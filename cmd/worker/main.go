package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/laitim2001/freight-mapping-engine/internal/adapters/worker"
	"github.com/laitim2001/freight-mapping-engine/internal/bootstrap"
	"github.com/laitim2001/freight-mapping-engine/internal/config"
	"github.com/laitim2001/freight-mapping-engine/internal/observability/logging"
	"github.com/laitim2001/freight-mapping-engine/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:  logger,
		Metrics: workerMetrics.Engine(),
		Queue:   true,
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	runner := worker.NewRunner("worker", app.MapUC, app.VersionUC, app.RuleCache, workerMetrics, logger)
	scheduler, err := runner.Schedule(ctx, cfg.AccuracyJobSchedule, cfg.RuleCacheRefresh)
	if err != nil {
		logger.Error("scheduler_init_failed", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", workerMetrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed",
		"subject", cfg.NATSExtractionSubject,
		"accuracy_schedule", cfg.AccuracyJobSchedule,
		"refresh_schedule", cfg.RuleCacheRefresh,
	)
	if err := app.Queue.SubscribeExtractions(ctx, runner.HandleExtraction); err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
	}
}
