package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

type SuggestionUseCase struct {
	suggestions ports.SuggestionStore
	versions    ports.RuleVersioner
	logger      *slog.Logger
	metrics     ports.EngineMetrics
	now         func() time.Time
}

func NewSuggestionUseCase(
	suggestions ports.SuggestionStore,
	versions ports.RuleVersioner,
	logger *slog.Logger,
	metrics ports.EngineMetrics,
) *SuggestionUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &SuggestionUseCase{
		suggestions: suggestions,
		versions:    versions,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

func (uc *SuggestionUseCase) ListPendingSuggestions(ctx context.Context, organizationID string) ([]domain.RuleSuggestion, error) {
	items, err := uc.suggestions.List(ctx, domain.SuggestionFilter{
		OrganizationID: strings.TrimSpace(organizationID),
		Status:         domain.SuggestionPending,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending suggestions: %w", err)
	}
	return items, nil
}

// ApproveSuggestion records the approval, materializes a new organization rule
// version and marks the suggestion MERGED. A suggestion left APPROVED by a
// failed materialization may be approved again.
func (uc *SuggestionUseCase) ApproveSuggestion(ctx context.Context, id, reviewer string) (*domain.MappingRule, error) {
	suggestion, err := uc.suggestions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load suggestion: %w", err)
	}

	switch suggestion.Status {
	case domain.SuggestionPending:
		suggestion, err = uc.suggestions.Transition(ctx, id, domain.SuggestionPending, domain.SuggestionApproved, domain.SuggestionPatch{
			ReviewedBy: reviewer,
			DecidedAt:  uc.now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("approve suggestion: %w", err)
		}
		uc.metrics.IncSuggestionDecision(domain.SuggestionApproved)
	case domain.SuggestionApproved:
		uc.logger.Info("suggestion_merge_retry", "suggestion_id", id)
	default:
		return nil, domain.WrapError(domain.ErrInvalidTransition, "approve suggestion",
			fmt.Errorf("suggestion %s is %s", id, suggestion.Status))
	}

	// Concurrent approvals of the same suggestion resolve to one version.
	rule, err := uc.versions.CreateVersion(ctx, suggestion.Lineage(), domain.RuleDraft{
		MatchPattern: suggestion.ProposedPattern,
		PatternType:  suggestion.ProposedPatternType,
		SuggestionID: suggestion.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("materialize suggestion %s: %w", id, err)
	}

	_, err = uc.suggestions.Transition(ctx, id, domain.SuggestionApproved, domain.SuggestionMerged, domain.SuggestionPatch{
		ReviewedBy:   firstNonEmpty(reviewer, suggestion.ReviewedBy),
		MergedRuleID: rule.ID,
		DecidedAt:    uc.now().UTC(),
	})
	switch {
	case err == nil:
		uc.metrics.IncSuggestionDecision(domain.SuggestionMerged)
	case domain.IsKind(err, domain.ErrInvalidTransition):
		current, getErr := uc.suggestions.Get(ctx, id)
		if getErr != nil || current.Status != domain.SuggestionMerged || current.MergedRuleID != rule.ID {
			return nil, fmt.Errorf("mark suggestion merged: %w", err)
		}
		uc.logger.Info("suggestion_already_merged", "suggestion_id", id, "rule_id", rule.ID)
		return rule, nil
	default:
		return nil, fmt.Errorf("mark suggestion merged: %w", err)
	}
	uc.logger.Info("suggestion_merged",
		"suggestion_id", id,
		"rule_id", rule.ID,
		"lineage", rule.Lineage().String(),
		"version", rule.Version,
	)
	return rule, nil
}

func (uc *SuggestionUseCase) RejectSuggestion(ctx context.Context, id, reviewer, reason string) (*domain.RuleSuggestion, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "reject suggestion", errors.New("reason is required"))
	}
	suggestion, err := uc.suggestions.Transition(ctx, id, domain.SuggestionPending, domain.SuggestionRejected, domain.SuggestionPatch{
		ReviewedBy:     reviewer,
		DecisionReason: reason,
		DecidedAt:      uc.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("reject suggestion: %w", err)
	}
	uc.metrics.IncSuggestionDecision(domain.SuggestionRejected)
	return &suggestion, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
