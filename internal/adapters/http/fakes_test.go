package httpadapter

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/laitim2001/freight-mapping-engine/internal/config"
	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

type mapperFake struct {
	calls          int
	documentID     string
	organizationID string
	fields         []domain.FieldExtraction
	err            error
}

func (f *mapperFake) MapDocument(_ context.Context, documentID, organizationID string, fields []domain.FieldExtraction) (*domain.DocumentMapping, error) {
	f.calls++
	f.documentID = documentID
	f.organizationID = organizationID
	f.fields = fields
	if f.err != nil {
		return nil, f.err
	}
	return &domain.DocumentMapping{
		RunID:          "run-1",
		DocumentID:     documentID,
		OrganizationID: organizationID,
		Routing: domain.RoutingDecision{
			DocumentID:        documentID,
			OverallConfidence: 88.5,
			Path:              domain.PathQuickReview,
		},
	}, nil
}

type correctionsFake struct {
	input      ports.CorrectionInput
	windowDays int
	err        error
}

func (f *correctionsFake) RecordCorrection(_ context.Context, input ports.CorrectionInput) (*domain.Correction, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Correction{
		ID:             "cor-1",
		DocumentID:     input.DocumentID,
		FieldName:      input.FieldName,
		CorrectedValue: input.CorrectedValue,
		Type:           input.Type,
		OrganizationID: input.OrganizationID,
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (f *correctionsFake) CountNormal(_ context.Context, _, _ string, windowDays int) (int, error) {
	f.windowDays = windowDays
	return 4, f.err
}

func (f *correctionsFake) StatsFor(_ context.Context, organizationID, fieldName string) (domain.CorrectionStats, error) {
	return domain.CorrectionStats{OrganizationID: organizationID, FieldName: fieldName, Total: 5, NormalCount: 4, ExceptionCount: 1}, f.err
}

type suggestionsFake struct {
	id       string
	reviewer string
	reason   string
	err      error
}

func (f *suggestionsFake) ListPendingSuggestions(context.Context, string) ([]domain.RuleSuggestion, error) {
	return nil, f.err
}

func (f *suggestionsFake) ApproveSuggestion(_ context.Context, id, reviewer string) (*domain.MappingRule, error) {
	f.id, f.reviewer = id, reviewer
	if f.err != nil {
		return nil, f.err
	}
	return &domain.MappingRule{ID: "rule-9", Tier: domain.TierOrgSpecific, OrganizationID: "org-1", FieldName: "sea_freight", Version: 2, IsActive: true}, nil
}

func (f *suggestionsFake) RejectSuggestion(_ context.Context, id, reviewer, reason string) (*domain.RuleSuggestion, error) {
	f.id, f.reviewer, f.reason = id, reviewer, reason
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RuleSuggestion{ID: id, Status: domain.SuggestionRejected, ReviewedBy: reviewer, DecisionReason: reason}, nil
}

type versionsFake struct {
	key     domain.LineageKey
	draft   domain.RuleDraft
	target  int
	trigger domain.RollbackTrigger
	err     error
}

func (f *versionsFake) CreateVersion(_ context.Context, key domain.LineageKey, draft domain.RuleDraft) (*domain.MappingRule, error) {
	f.key, f.draft = key, draft
	if f.err != nil {
		return nil, f.err
	}
	return &domain.MappingRule{ID: "rule-1", Tier: key.Tier, FieldName: key.FieldName, MatchPattern: draft.MatchPattern, PatternType: draft.PatternType, Version: 1, IsActive: true}, nil
}

func (f *versionsFake) RollbackRule(_ context.Context, key domain.LineageKey, target int, trigger domain.RollbackTrigger, reason string) (*domain.RollbackEvent, error) {
	f.key, f.target, f.trigger = key, target, trigger
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RollbackEvent{ID: "rb-1", Lineage: key, FromVersion: 3, ToVersion: target, Trigger: trigger, Reason: reason}, nil
}

func (f *versionsFake) GetVersionHistory(_ context.Context, key domain.LineageKey) ([]domain.VersionSummary, error) {
	f.key = key
	if f.err != nil {
		return nil, f.err
	}
	return []domain.VersionSummary{{Version: 1, RuleID: "rule-1"}, {Version: 2, RuleID: "rule-2", IsActive: true}}, nil
}

func (f *versionsFake) ListRollbackEvents(context.Context, domain.LineageKey) ([]domain.RollbackEvent, error) {
	return []domain.RollbackEvent{{ID: "rb-1", FromVersion: 3, ToVersion: 2, Trigger: domain.TriggerManual}}, nil
}

func (f *versionsFake) EvaluateAll(context.Context) ([]domain.LineageEvaluation, error) {
	return nil, f.err
}

type testServices struct {
	mapper      *mapperFake
	corrections *correctionsFake
	suggestions *suggestionsFake
	versions    *versionsFake
}

func newTestServices() testServices {
	return testServices{
		mapper:      &mapperFake{},
		corrections: &correctionsFake{},
		suggestions: &suggestionsFake{},
		versions:    &versionsFake{},
	}
}

func (s testServices) ports() Services {
	return Services{
		Mapper:      s.mapper,
		Corrections: s.corrections,
		Suggestions: s.suggestions,
		Versions:    s.versions,
	}
}

func testConfig() config.Config {
	return config.Config{
		APIMaxInFlight:      8,
		APIBackpressureWait: 50 * time.Millisecond,
		APIValidateRequest:  true,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
