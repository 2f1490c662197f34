package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/repository/memory"
)

var seaLineage = domain.LineageKey{OrganizationID: "ACME", FieldName: "sea_freight", Tier: domain.TierOrgSpecific}

type versionAccuracyFake struct {
	samples map[string]domain.AccuracySample
}

func (f *versionAccuracyFake) HistoricalAccuracy(context.Context, string, string, time.Time, int) (*float64, error) {
	return nil, nil
}

func (f *versionAccuracyFake) VersionAccuracy(_ context.Context, ruleID string) (domain.AccuracySample, error) {
	return f.samples[ruleID], nil
}

func newVersionFixture(t *testing.T) (*VersionUseCase, *memory.Store, *versionAccuracyFake, *ruleSourceFake, *metricsSpy) {
	t.Helper()
	store := memory.NewStore()
	accuracy := &versionAccuracyFake{samples: make(map[string]domain.AccuracySample)}
	cache := newRuleSource()
	metrics := newMetricsSpy()
	uc := NewVersionUseCase(store, accuracy, cache, domain.DefaultPolicy().Rollback, discardLogger(), metrics)
	return uc, store, accuracy, cache, metrics
}

func createVersions(t *testing.T, uc *VersionUseCase, n int) []*domain.MappingRule {
	t.Helper()
	out := make([]*domain.MappingRule, 0, n)
	for i := 1; i <= n; i++ {
		rule, err := uc.CreateVersion(context.Background(), seaLineage, domain.RuleDraft{
			MatchPattern: fmt.Sprintf("ocean freight v%d", i),
			PatternType:  domain.PatternKeyword,
			Reason:       "test",
		})
		if err != nil {
			t.Fatalf("CreateVersion() error = %v", err)
		}
		out = append(out, rule)
	}
	return out
}

func assertSingleActive(t *testing.T, store *memory.Store, wantVersion int) {
	t.Helper()
	versions, err := store.ListVersions(context.Background(), seaLineage)
	if err != nil {
		t.Fatalf("ListVersions() error = %v", err)
	}
	active := 0
	for _, v := range versions {
		if v.IsActive {
			active++
			if v.Version != wantVersion {
				t.Fatalf("expected v%d active, got v%d", wantVersion, v.Version)
			}
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active version, got %d", active)
	}
	rules, _ := store.ListActiveRules(context.Background())
	if len(rules) != 1 || rules[0].Version != wantVersion {
		t.Fatalf("active rule listing disagrees: %+v", rules)
	}
}

func TestCreateVersionIncrementsAndActivates(t *testing.T) {
	uc, store, _, cache, metrics := newVersionFixture(t)
	rules := createVersions(t, uc, 3)

	for i, r := range rules {
		if r.Version != i+1 {
			t.Fatalf("expected version %d, got %d", i+1, r.Version)
		}
	}
	assertSingleActive(t, store, 3)
	if cache.refresh != 3 {
		t.Fatalf("expected cache refresh per transition, got %d", cache.refresh)
	}
	if len(metrics.rollbacks) != 0 {
		t.Fatalf("forward progress must not count as rollback")
	}
	events, _ := uc.ListRollbackEvents(context.Background(), seaLineage)
	if len(events) != 0 {
		t.Fatalf("expected no rollback events, got %d", len(events))
	}
}

func TestCreateVersionRejectsInvalidDrafts(t *testing.T) {
	uc, _, _, _, _ := newVersionFixture(t)
	cases := []domain.RuleDraft{
		{MatchPattern: "", PatternType: domain.PatternExact},
		{MatchPattern: "x", PatternType: "FUZZY"},
		{MatchPattern: "(", PatternType: domain.PatternRegex},
		{MatchPattern: "| |", PatternType: domain.PatternKeyword},
		{MatchPattern: "x", PatternType: domain.PatternExact, ValidationPattern: "["},
	}
	for i, draft := range cases {
		if _, err := uc.CreateVersion(context.Background(), seaLineage, draft); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	bad := domain.LineageKey{FieldName: "sea_freight", Tier: domain.TierOrgSpecific}
	if _, err := uc.CreateVersion(context.Background(), bad, domain.RuleDraft{MatchPattern: "x", PatternType: domain.PatternExact}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid lineage, got %v", err)
	}
}

func TestRollbackInvariantAcrossTransitions(t *testing.T) {
	uc, store, accuracy, _, metrics := newVersionFixture(t)
	rules := createVersions(t, uc, 3)
	for _, r := range rules {
		accuracy.samples[r.ID] = domain.AccuracySample{Total: 50, Corrected: 5}
	}

	event, err := uc.RollbackRule(context.Background(), seaLineage, 1, domain.TriggerManual, "bad release")
	if err != nil {
		t.Fatalf("RollbackRule() error = %v", err)
	}
	if event.FromVersion != 3 || event.ToVersion != 1 || event.RuleID != rules[2].ID || event.Trigger != domain.TriggerManual {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.AccuracyBefore == nil || *event.AccuracyBefore != 90 || event.AccuracyAfter == nil {
		t.Fatalf("expected accuracies on event: %+v", event)
	}
	assertSingleActive(t, store, 1)

	createVersions(t, uc, 1)
	assertSingleActive(t, store, 4)

	if _, err := uc.RollbackRule(context.Background(), seaLineage, 2, domain.TriggerEmergency, ""); err != nil {
		t.Fatalf("emergency RollbackRule() error = %v", err)
	}
	assertSingleActive(t, store, 2)

	events, _ := uc.ListRollbackEvents(context.Background(), seaLineage)
	if len(events) != 2 {
		t.Fatalf("expected two rollback events, got %d", len(events))
	}
	if metrics.rollbacks[domain.TriggerManual] != 1 || metrics.rollbacks[domain.TriggerEmergency] != 1 {
		t.Fatalf("unexpected rollback metrics: %+v", metrics.rollbacks)
	}
}

func TestRollbackRejectsInvalidTargetsWithoutSideEffects(t *testing.T) {
	uc, store, _, _, _ := newVersionFixture(t)
	createVersions(t, uc, 2)

	cases := []struct {
		name   string
		key    domain.LineageKey
		target int
	}{
		{name: "missing version", key: seaLineage, target: 7},
		{name: "active version", key: seaLineage, target: 2},
		{name: "unknown lineage", key: domain.LineageKey{OrganizationID: "ACME", FieldName: "thc", Tier: domain.TierOrgSpecific}, target: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := uc.RollbackRule(context.Background(), tc.key, tc.target, domain.TriggerEmergency, "")
			if !domain.IsKind(err, domain.ErrRollback) {
				t.Fatalf("expected RollbackError, got %v", err)
			}
			assertSingleActive(t, store, 2)
			events, _ := store.ListRollbackEvents(context.Background(), seaLineage)
			if len(events) != 0 {
				t.Fatalf("rejected rollback must not append events")
			}
		})
	}
}

func TestManualRollbackRequiresMinimumSample(t *testing.T) {
	uc, store, accuracy, _, _ := newVersionFixture(t)
	rules := createVersions(t, uc, 2)
	accuracy.samples[rules[1].ID] = domain.AccuracySample{Total: 3}

	if _, err := uc.RollbackRule(context.Background(), seaLineage, 1, domain.TriggerManual, ""); !domain.IsKind(err, domain.ErrRollback) {
		t.Fatalf("expected RollbackError for small sample, got %v", err)
	}
	assertSingleActive(t, store, 2)

	if _, err := uc.RollbackRule(context.Background(), seaLineage, 1, domain.TriggerEmergency, "hotfix"); err != nil {
		t.Fatalf("emergency rollback must skip the sample check: %v", err)
	}
	assertSingleActive(t, store, 1)

	if _, err := uc.RollbackRule(context.Background(), seaLineage, 1, domain.TriggerAuto, ""); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected AUTO to be refused for operators, got %v", err)
	}
}

func TestGetVersionHistory(t *testing.T) {
	uc, _, accuracy, _, _ := newVersionFixture(t)
	rules := createVersions(t, uc, 2)
	accuracy.samples[rules[0].ID] = domain.AccuracySample{Total: 40, Corrected: 4}

	history, err := uc.GetVersionHistory(context.Background(), seaLineage)
	if err != nil {
		t.Fatalf("GetVersionHistory() error = %v", err)
	}
	if len(history) != 2 || history[0].Version != 1 || history[1].Version != 2 {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history[0].Accuracy == nil || *history[0].Accuracy != 90 || history[0].SampleSize != 40 {
		t.Fatalf("unexpected accuracy for v1: %+v", history[0])
	}
	if history[1].Accuracy != nil || !history[1].IsActive {
		t.Fatalf("unexpected summary for v2: %+v", history[1])
	}

	_, err = uc.GetVersionHistory(context.Background(), domain.LineageKey{FieldName: "nothing", Tier: domain.TierGlobal})
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEvaluateAllRollsBackDegradedVersion(t *testing.T) {
	uc, store, accuracy, _, metrics := newVersionFixture(t)
	rules := createVersions(t, uc, 2)
	accuracy.samples[rules[0].ID] = domain.AccuracySample{Total: 100, Corrected: 5}
	accuracy.samples[rules[1].ID] = domain.AccuracySample{Total: 60, Corrected: 15}

	report, err := uc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll() error = %v", err)
	}
	if len(report) != 1 || report[0].Outcome != domain.OutcomeRolledBack || report[0].BaselineVersion != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	assertSingleActive(t, store, 1)
	if metrics.rollbacks[domain.TriggerAuto] != 1 {
		t.Fatalf("expected AUTO rollback metric")
	}
	events, _ := store.ListRollbackEvents(context.Background(), seaLineage)
	if len(events) != 1 || events[0].Trigger != domain.TriggerAuto || *events[0].AccuracyBefore != 75 || *events[0].AccuracyAfter != 95 {
		t.Fatalf("unexpected rollback event: %+v", events)
	}
}

func TestEvaluateAllKeepsHealthyVersion(t *testing.T) {
	uc, store, accuracy, _, _ := newVersionFixture(t)
	rules := createVersions(t, uc, 2)
	accuracy.samples[rules[0].ID] = domain.AccuracySample{Total: 100, Corrected: 5}
	accuracy.samples[rules[1].ID] = domain.AccuracySample{Total: 100, Corrected: 8}

	report, err := uc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll() error = %v", err)
	}
	if report[0].Outcome != domain.OutcomeKept {
		t.Fatalf("expected KEPT within degradation floor, got %+v", report[0])
	}
	assertSingleActive(t, store, 2)
}

func TestEvaluateAllInsufficientDataHonoursGracePeriod(t *testing.T) {
	uc, store, accuracy, _, _ := newVersionFixture(t)
	rules := createVersions(t, uc, 2)
	accuracy.samples[rules[0].ID] = domain.AccuracySample{Total: 100, Corrected: 5}
	accuracy.samples[rules[1].ID] = domain.AccuracySample{Total: 4}

	report, err := uc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll() error = %v", err)
	}
	if report[0].Outcome != domain.OutcomeInsufficient {
		t.Fatalf("expected INSUFFICIENT_DATA inside grace period, got %+v", report[0])
	}

	uc.now = func() time.Time { return time.Now().Add(15 * 24 * time.Hour) }
	report, err = uc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll() error = %v", err)
	}
	if report[0].Outcome != domain.OutcomeRolledBack {
		t.Fatalf("expected AUTO rollback after grace period, got %+v", report[0])
	}
	assertSingleActive(t, store, 1)
}

func TestEvaluateAllWithoutBaseline(t *testing.T) {
	uc, _, _, _, _ := newVersionFixture(t)
	createVersions(t, uc, 1)

	report, err := uc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll() error = %v", err)
	}
	if report[0].Outcome != domain.OutcomeNoBaseline {
		t.Fatalf("expected NO_BASELINE, got %+v", report[0])
	}
}
