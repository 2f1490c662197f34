package ports

import (
	"context"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

// DocumentMapper is the inbound contract driving resolution, blending and routing.
type DocumentMapper interface {
	MapDocument(ctx context.Context, documentID, organizationID string, fields []domain.FieldExtraction) (*domain.DocumentMapping, error)
}

// CorrectionRecorder stores reviewer corrections and exposes learning counters.
type CorrectionRecorder interface {
	RecordCorrection(ctx context.Context, input CorrectionInput) (*domain.Correction, error)
	CountNormal(ctx context.Context, organizationID, fieldName string, windowDays int) (int, error)
	StatsFor(ctx context.Context, organizationID, fieldName string) (domain.CorrectionStats, error)
}

type CorrectionInput struct {
	DocumentID     string
	FieldName      string
	CorrectedValue string
	Type           domain.CorrectionType
	OrganizationID string
}

// SuggestionReviewer owns the human decision on rule suggestions.
type SuggestionReviewer interface {
	ListPendingSuggestions(ctx context.Context, organizationID string) ([]domain.RuleSuggestion, error)
	ApproveSuggestion(ctx context.Context, id, reviewer string) (*domain.MappingRule, error)
	RejectSuggestion(ctx context.Context, id, reviewer, reason string) (*domain.RuleSuggestion, error)
}

// RuleVersioner manages rule lineages and rollbacks.
type RuleVersioner interface {
	CreateVersion(ctx context.Context, key domain.LineageKey, draft domain.RuleDraft) (*domain.MappingRule, error)
	RollbackRule(ctx context.Context, key domain.LineageKey, targetVersion int, trigger domain.RollbackTrigger, reason string) (*domain.RollbackEvent, error)
	GetVersionHistory(ctx context.Context, key domain.LineageKey) ([]domain.VersionSummary, error)
	ListRollbackEvents(ctx context.Context, key domain.LineageKey) ([]domain.RollbackEvent, error)
	EvaluateAll(ctx context.Context) ([]domain.LineageEvaluation, error)
}
