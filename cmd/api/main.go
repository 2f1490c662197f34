package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/laitim2001/freight-mapping-engine/internal/adapters/http"
	"github.com/laitim2001/freight-mapping-engine/internal/adapters/worker"
	"github.com/laitim2001/freight-mapping-engine/internal/bootstrap"
	"github.com/laitim2001/freight-mapping-engine/internal/config"
	"github.com/laitim2001/freight-mapping-engine/internal/observability/logging"
	"github.com/laitim2001/freight-mapping-engine/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:  logger,
		Metrics: httpMetrics.Engine(),
		Queue:   true,
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// Rule changes made by other processes reach this cache on the schedule.
	refresher := worker.NewRunner("api", app.MapUC, app.VersionUC, app.RuleCache, nil, logger)
	scheduler, err := refresher.ScheduleRefresh(ctx, cfg.RuleCacheRefresh)
	if err != nil {
		logger.Error("scheduler_init_failed", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	router, err := httpadapter.NewRouter(cfg, httpadapter.Services{
		Mapper:      app.MapUC,
		Corrections: app.CorrectionUC,
		Suggestions: app.SuggestionUC,
		Versions:    app.VersionUC,
	}, logger, httpMetrics)
	if err != nil {
		logger.Error("router_init_failed", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
