package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
	"github.com/laitim2001/freight-mapping-engine/internal/core/usecase"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/repository/memory"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/ruleset"
)

type mapperFake struct {
	event domain.ExtractionEvent
	err   error
}

func (f *mapperFake) MapDocument(_ context.Context, documentID, organizationID string, fields []domain.FieldExtraction) (*domain.DocumentMapping, error) {
	f.event = domain.ExtractionEvent{DocumentID: documentID, OrganizationID: organizationID, Fields: fields}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.DocumentMapping{RunID: "run-1", DocumentID: documentID, Routing: domain.RoutingDecision{Path: domain.PathAutoApprove}}, nil
}

type versionerFake struct {
	report []domain.LineageEvaluation
	err    error
}

func (f *versionerFake) CreateVersion(context.Context, domain.LineageKey, domain.RuleDraft) (*domain.MappingRule, error) {
	return nil, errors.New("not used")
}

func (f *versionerFake) RollbackRule(context.Context, domain.LineageKey, int, domain.RollbackTrigger, string) (*domain.RollbackEvent, error) {
	return nil, errors.New("not used")
}

func (f *versionerFake) GetVersionHistory(context.Context, domain.LineageKey) ([]domain.VersionSummary, error) {
	return nil, errors.New("not used")
}

func (f *versionerFake) ListRollbackEvents(context.Context, domain.LineageKey) ([]domain.RollbackEvent, error) {
	return nil, errors.New("not used")
}

func (f *versionerFake) EvaluateAll(context.Context) ([]domain.LineageEvaluation, error) {
	return f.report, f.err
}

type ruleSourceFake struct {
	refreshes int
	err       error
}

func (f *ruleSourceFake) Snapshot() ports.RuleSnapshot { return nil }

func (f *ruleSourceFake) Refresh(context.Context) error {
	f.refreshes++
	return f.err
}

type observerFake struct {
	started  int
	finished []error
	jobs     map[string]int
}

func (o *observerFake) StartEvent() { o.started++ }

func (o *observerFake) FinishEvent(_ string, _ time.Duration, err error) {
	o.finished = append(o.finished, err)
}

func (o *observerFake) ObserveJob(_ string, job string, _ time.Duration, _ error) {
	if o.jobs == nil {
		o.jobs = make(map[string]int)
	}
	o.jobs[job]++
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleExtractionMapsEvent(t *testing.T) {
	mapper := &mapperFake{}
	observer := &observerFake{}
	runner := NewRunner("worker", mapper, &versionerFake{}, &ruleSourceFake{}, observer, discardLogger())

	event := domain.ExtractionEvent{
		DocumentID:     "doc-1",
		OrganizationID: "org-1",
		Fields:         []domain.FieldExtraction{{DocumentID: "doc-1", FieldName: "Total", RawValue: "10", OCRConfidence: 90}},
	}
	if err := runner.HandleExtraction(context.Background(), event); err != nil {
		t.Fatalf("handle extraction: %v", err)
	}
	if mapper.event.DocumentID != "doc-1" || len(mapper.event.Fields) != 1 {
		t.Fatalf("unexpected mapper call: %+v", mapper.event)
	}
	if observer.started != 1 || len(observer.finished) != 1 || observer.finished[0] != nil {
		t.Fatalf("unexpected observations: %+v", observer)
	}
}

func TestHandleExtractionReportsFailure(t *testing.T) {
	mapper := &mapperFake{err: domain.WrapError(domain.ErrTemporary, "save", errors.New("db down"))}
	observer := &observerFake{}
	runner := NewRunner("worker", mapper, &versionerFake{}, &ruleSourceFake{}, observer, discardLogger())

	err := runner.HandleExtraction(context.Background(), domain.ExtractionEvent{DocumentID: "doc-1", OrganizationID: "org-1"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if len(observer.finished) != 1 || observer.finished[0] == nil {
		t.Fatalf("expected failed event observation, got %+v", observer.finished)
	}
}

func TestEvaluateRulesCountsRollbacks(t *testing.T) {
	versions := &versionerFake{report: []domain.LineageEvaluation{
		{Outcome: domain.OutcomeRolledBack},
		{Outcome: domain.OutcomeKept},
		{Outcome: domain.OutcomeRolledBack},
		{Outcome: domain.OutcomeFailed},
	}}
	observer := &observerFake{}
	runner := NewRunner("worker", &mapperFake{}, versions, &ruleSourceFake{}, observer, discardLogger())

	rolledBack, err := runner.EvaluateRules(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if rolledBack != 2 {
		t.Fatalf("expected 2 rollbacks, got %d", rolledBack)
	}
	if observer.jobs[jobAccuracy] != 1 {
		t.Fatalf("expected accuracy job observation, got %+v", observer.jobs)
	}
}

func TestRefreshRulesWrapsError(t *testing.T) {
	rules := &ruleSourceFake{err: errors.New("db down")}
	runner := NewRunner("worker", &mapperFake{}, &versionerFake{}, rules, nil, discardLogger())

	if err := runner.RefreshRules(context.Background()); err == nil {
		t.Fatalf("expected refresh error")
	}
	if rules.refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", rules.refreshes)
	}
}

func TestScheduleValidatesSpecs(t *testing.T) {
	runner := NewRunner("worker", &mapperFake{}, &versionerFake{}, &ruleSourceFake{}, nil, discardLogger())

	scheduler, err := runner.Schedule(context.Background(), "@every 15m", "@every 1m")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if got := len(scheduler.Entries()); got != 2 {
		t.Fatalf("expected 2 entries, got %d", got)
	}

	if _, err := runner.Schedule(context.Background(), "every quarter hour", "@every 1m"); err == nil {
		t.Fatalf("expected invalid accuracy schedule to fail")
	}
}

func TestScheduleRefreshRegistersOnlyRefresh(t *testing.T) {
	runner := NewRunner("api", &mapperFake{}, &versionerFake{}, &ruleSourceFake{}, nil, discardLogger())

	scheduler, err := runner.ScheduleRefresh(context.Background(), "@every 1m")
	if err != nil {
		t.Fatalf("schedule refresh: %v", err)
	}
	if got := len(scheduler.Entries()); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}

	if _, err := runner.ScheduleRefresh(context.Background(), "now and then"); err == nil {
		t.Fatalf("expected invalid refresh schedule to fail")
	}
}

func TestRefreshRulesPicksUpRollbackFromAnotherProcess(t *testing.T) {
	ctx := context.Background()
	logger := discardLogger()
	store := memory.NewStore()
	key := domain.LineageKey{FieldName: "total_amount", Tier: domain.TierGlobal}

	workerCache := ruleset.NewCache(store, logger)
	versions := usecase.NewVersionUseCase(store, store, workerCache, domain.DefaultPolicy().Rollback, logger, nil)
	for _, pattern := range []string{"grand total", "amount due"} {
		if _, err := versions.CreateVersion(ctx, key, domain.RuleDraft{MatchPattern: pattern, PatternType: domain.PatternExact}); err != nil {
			t.Fatalf("create %q: %v", pattern, err)
		}
	}

	apiCache := ruleset.NewCache(store, logger)
	if err := apiCache.Refresh(ctx); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}
	if got := activePattern(t, apiCache); got != "amount due" {
		t.Fatalf("expected api cache to start on version 2, got %q", got)
	}

	if _, err := versions.RollbackRule(ctx, key, 1, domain.TriggerEmergency, "bad release"); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if got := activePattern(t, apiCache); got != "amount due" {
		t.Fatalf("expected api cache unchanged before refresh, got %q", got)
	}

	apiRunner := NewRunner("api", &mapperFake{}, &versionerFake{}, apiCache, nil, logger)
	if err := apiRunner.RefreshRules(ctx); err != nil {
		t.Fatalf("refresh rules: %v", err)
	}
	if got := activePattern(t, apiCache); got != "grand total" {
		t.Fatalf("expected api cache on rolled back version, got %q", got)
	}
}

func activePattern(t *testing.T, cache *ruleset.Cache) string {
	t.Helper()
	rules := cache.Snapshot().Rules(domain.TierGlobal, "")
	if len(rules) != 1 {
		t.Fatalf("expected 1 active global rule, got %d", len(rules))
	}
	return rules[0].MatchPattern
}
