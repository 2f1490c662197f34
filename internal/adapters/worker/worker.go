// Package worker drives the engine from the extraction queue and from
// scheduled jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

const (
	jobAccuracy    = "accuracy_evaluation"
	jobRuleRefresh = "rule_cache_refresh"

	defaultMapTimeout = 2 * time.Minute
)

// Observer receives worker-level measurements.
type Observer interface {
	StartEvent()
	FinishEvent(service string, duration time.Duration, err error)
	ObserveJob(service, job string, duration time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) StartEvent()                                     {}
func (noopObserver) FinishEvent(string, time.Duration, error)        {}
func (noopObserver) ObserveJob(string, string, time.Duration, error) {}

type Runner struct {
	service    string
	mapper     ports.DocumentMapper
	versions   ports.RuleVersioner
	rules      ports.RuleSource
	observer   Observer
	logger     *slog.Logger
	mapTimeout time.Duration
	now        func() time.Time
}

func NewRunner(
	service string,
	mapper ports.DocumentMapper,
	versions ports.RuleVersioner,
	rules ports.RuleSource,
	observer Observer,
	logger *slog.Logger,
) *Runner {
	if observer == nil {
		observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		service:    service,
		mapper:     mapper,
		versions:   versions,
		rules:      rules,
		observer:   observer,
		logger:     logger,
		mapTimeout: defaultMapTimeout,
		now:        time.Now,
	}
}

// HandleExtraction maps one document delivered by the OCR pipeline.
func (r *Runner) HandleExtraction(ctx context.Context, event domain.ExtractionEvent) error {
	started := r.now()
	r.observer.StartEvent()

	mapCtx, cancel := context.WithTimeout(ctx, r.mapTimeout)
	defer cancel()

	mapping, err := r.mapper.MapDocument(mapCtx, event.DocumentID, event.OrganizationID, event.Fields)
	r.observer.FinishEvent(r.service, r.now().Sub(started), err)
	if err != nil {
		return fmt.Errorf("map extracted document %s: %w", event.DocumentID, err)
	}

	r.logger.Info("extraction_event_mapped",
		"document_id", event.DocumentID,
		"run_id", mapping.RunID,
		"path", string(mapping.Routing.Path),
	)
	return nil
}

// EvaluateRules runs the accuracy job once and returns how many lineages were
// rolled back.
func (r *Runner) EvaluateRules(ctx context.Context) (int, error) {
	started := r.now()
	report, err := r.versions.EvaluateAll(ctx)
	r.observer.ObserveJob(r.service, jobAccuracy, r.now().Sub(started), err)
	if err != nil {
		return 0, fmt.Errorf("evaluate rules: %w", err)
	}

	rolledBack, failed := 0, 0
	for _, eval := range report {
		switch eval.Outcome {
		case domain.OutcomeRolledBack:
			rolledBack++
		case domain.OutcomeFailed:
			failed++
		}
	}
	r.logger.Info("accuracy_job_completed", "lineages", len(report), "rolled_back", rolledBack, "failed", failed)
	return rolledBack, nil
}

func (r *Runner) RefreshRules(ctx context.Context) error {
	started := r.now()
	err := r.rules.Refresh(ctx)
	r.observer.ObserveJob(r.service, jobRuleRefresh, r.now().Sub(started), err)
	if err != nil {
		return fmt.Errorf("refresh rules: %w", err)
	}
	return nil
}

// Schedule registers the accuracy job and the rule refresh. Overlapping runs
// of the same job are skipped. The caller starts and stops the scheduler.
func (r *Runner) Schedule(ctx context.Context, accuracySpec, refreshSpec string) (*cron.Cron, error) {
	scheduler := newScheduler()

	if _, err := scheduler.AddFunc(accuracySpec, func() {
		if _, err := r.EvaluateRules(ctx); err != nil {
			r.logger.Error("accuracy_job_failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule %s %q: %w", jobAccuracy, accuracySpec, err)
	}
	if err := r.addRefresh(ctx, scheduler, refreshSpec); err != nil {
		return nil, err
	}
	return scheduler, nil
}

// ScheduleRefresh registers only the rule refresh, for processes that map
// documents but leave the accuracy job to the worker.
func (r *Runner) ScheduleRefresh(ctx context.Context, refreshSpec string) (*cron.Cron, error) {
	scheduler := newScheduler()
	if err := r.addRefresh(ctx, scheduler, refreshSpec); err != nil {
		return nil, err
	}
	return scheduler, nil
}

func (r *Runner) addRefresh(ctx context.Context, scheduler *cron.Cron, spec string) error {
	if _, err := scheduler.AddFunc(spec, func() {
		if err := r.RefreshRules(ctx); err != nil {
			r.logger.Warn("rule_cache_refresh_failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule %s %q: %w", jobRuleRefresh, spec, err)
	}
	return nil
}

func newScheduler() *cron.Cron {
	return cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
}
