package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

// CorrectionUseCase records reviewer corrections and runs the suggestion
// trigger inside the same per-(organization, field) transaction.
type CorrectionUseCase struct {
	corrections ports.CorrectionStore
	mappings    ports.MappingStore
	rules       ports.RuleSource
	notifier    ports.ReviewerNotifier
	policy      domain.LearningPolicy
	logger      *slog.Logger
	metrics     ports.EngineMetrics
	now         func() time.Time
	notifyWG    sync.WaitGroup
}

func NewCorrectionUseCase(
	corrections ports.CorrectionStore,
	mappings ports.MappingStore,
	rules ports.RuleSource,
	notifier ports.ReviewerNotifier,
	policy domain.LearningPolicy,
	logger *slog.Logger,
	metrics ports.EngineMetrics,
) *CorrectionUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &CorrectionUseCase{
		corrections: corrections,
		mappings:    mappings,
		rules:       rules,
		notifier:    notifier,
		policy:      policy,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

func (uc *CorrectionUseCase) RecordCorrection(ctx context.Context, input ports.CorrectionInput) (*domain.Correction, error) {
	input, err := normalizeCorrectionInput(input)
	if err != nil {
		return nil, err
	}

	correction := &domain.Correction{
		ID:             uuid.NewString(),
		DocumentID:     input.DocumentID,
		FieldName:      input.FieldName,
		OriginalValue:  uc.originalValue(ctx, input.DocumentID, input.FieldName),
		CorrectedValue: input.CorrectedValue,
		Type:           input.Type,
		OrganizationID: input.OrganizationID,
		CreatedAt:      uc.now().UTC(),
	}

	var created *domain.RuleSuggestion
	err = uc.corrections.WithCorrections(ctx, correction.OrganizationID, correction.FieldName, func(tx ports.CorrectionTx) error {
		if err := tx.InsertCorrection(ctx, correction); err != nil {
			return fmt.Errorf("insert correction: %w", err)
		}
		if correction.Type != domain.CorrectionNormal {
			return nil
		}
		suggestion, err := uc.onNormalCorrectionRecorded(ctx, tx, correction)
		if err != nil {
			return err
		}
		created = suggestion
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record correction: %w", err)
	}

	if created != nil {
		uc.metrics.IncSuggestionCreated()
		uc.logger.Info("rule_suggestion_created",
			"suggestion_id", created.ID,
			"organization_id", created.OrganizationID,
			"field_name", created.FieldName,
			"supporting_corrections", created.SupportingCorrectionCount,
		)
		uc.notifyAsync(*created)
	}
	return correction, nil
}

// onNormalCorrectionRecorded recomputes the rolling count and creates a
// suggestion when the threshold is reached and none is pending.
func (uc *CorrectionUseCase) onNormalCorrectionRecorded(ctx context.Context, tx ports.CorrectionTx, c *domain.Correction) (*domain.RuleSuggestion, error) {
	pending, err := tx.HasPendingSuggestion(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pending suggestion: %w", err)
	}
	if pending {
		return nil, nil
	}

	since := c.CreatedAt.Add(-uc.policy.CorrectionWindow)
	lastResolved, err := tx.LastResolvedAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("load last resolved suggestion: %w", err)
	}
	if lastResolved != nil && lastResolved.After(since) {
		since = *lastResolved
	}

	count, err := tx.CountNormal(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("count normal corrections: %w", err)
	}
	if count < uc.policy.SuggestionThreshold {
		return nil, nil
	}

	values, err := tx.NormalValues(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load corrected values: %w", err)
	}
	pattern := uc.proposePattern(c.OrganizationID, c.FieldName, values)
	if pattern == "" {
		return nil, nil
	}

	suggestion := &domain.RuleSuggestion{
		ID:                        uuid.NewString(),
		OrganizationID:            c.OrganizationID,
		FieldName:                 c.FieldName,
		ProposedPattern:           pattern,
		ProposedPatternType:       domain.PatternKeyword,
		SupportingCorrectionCount: count,
		Status:                    domain.SuggestionPending,
		CreatedAt:                 c.CreatedAt,
	}
	if err := tx.InsertSuggestion(ctx, suggestion); err != nil {
		if domain.IsKind(err, domain.ErrDuplicateSuggestion) {
			uc.logger.Debug("duplicate_suggestion_suppressed", "organization_id", c.OrganizationID, "field_name", c.FieldName)
			return nil, nil
		}
		return nil, fmt.Errorf("insert suggestion: %w", err)
	}
	return suggestion, nil
}

// proposePattern builds a KEYWORD pattern from the most frequent corrected
// values, merged with the organization's active KEYWORD rule for the field.
func (uc *CorrectionUseCase) proposePattern(organizationID, fieldName string, values []domain.ValueFrequency) string {
	counts := make(map[string]int, len(values))
	for _, v := range values {
		term := domain.NormalizeTerm(strings.ReplaceAll(v.Value, domain.KeywordSeparator, " "))
		if term != "" {
			counts[term] += v.Count
		}
	}
	ranked := make([]domain.ValueFrequency, 0, len(counts))
	for value, count := range counts {
		ranked = append(ranked, domain.ValueFrequency{Value: value, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Value < ranked[j].Value
	})
	if limit := uc.policy.SuggestionMaxTerms; limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	terms := make([]string, 0, len(ranked))
	seen := make(map[string]struct{}, len(ranked))
	if uc.rules != nil {
		for _, rule := range uc.rules.Snapshot().Rules(domain.TierOrgSpecific, organizationID) {
			if rule.FieldName != fieldName || rule.PatternType != domain.PatternKeyword {
				continue
			}
			for _, term := range domain.KeywordTerms(rule.MatchPattern) {
				if _, ok := seen[term]; !ok {
					seen[term] = struct{}{}
					terms = append(terms, term)
				}
			}
		}
	}
	for _, v := range ranked {
		if _, ok := seen[v.Value]; !ok {
			seen[v.Value] = struct{}{}
			terms = append(terms, v.Value)
		}
	}
	return strings.Join(terms, domain.KeywordSeparator)
}

func (uc *CorrectionUseCase) notifyAsync(suggestion domain.RuleSuggestion) {
	if uc.notifier == nil || len(uc.policy.Approvers) == 0 {
		return
	}
	recipients := append([]string(nil), uc.policy.Approvers...)
	timeout := uc.policy.NotificationTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	uc.notifyWG.Add(1)
	go func() {
		defer uc.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := uc.notifier.Notify(ctx, recipients, suggestion); err != nil {
			uc.logger.Warn("notification_failed", "suggestion_id", suggestion.ID, "error", err.Error())
		}
	}()
}

// WaitNotifications blocks until in-flight reviewer notifications finish.
func (uc *CorrectionUseCase) WaitNotifications() {
	uc.notifyWG.Wait()
}

func (uc *CorrectionUseCase) CountNormal(ctx context.Context, organizationID, fieldName string, windowDays int) (int, error) {
	window := uc.policy.CorrectionWindow
	if windowDays > 0 {
		window = time.Duration(windowDays) * 24 * time.Hour
	}
	count, err := uc.corrections.CountNormal(ctx, organizationID, fieldName, uc.now().UTC().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("count normal corrections: %w", err)
	}
	return count, nil
}

func (uc *CorrectionUseCase) StatsFor(ctx context.Context, organizationID, fieldName string) (domain.CorrectionStats, error) {
	if strings.TrimSpace(organizationID) == "" || strings.TrimSpace(fieldName) == "" {
		return domain.CorrectionStats{}, domain.WrapError(domain.ErrInvalidInput, "correction stats", errors.New("organization id and field name are required"))
	}
	stats, err := uc.corrections.Stats(ctx, organizationID, fieldName)
	if err != nil {
		return domain.CorrectionStats{}, fmt.Errorf("correction stats: %w", err)
	}
	return stats, nil
}

func (uc *CorrectionUseCase) originalValue(ctx context.Context, documentID, fieldName string) string {
	if uc.mappings == nil {
		return ""
	}
	result, err := uc.mappings.LatestFieldResult(ctx, documentID, fieldName)
	if err != nil {
		if !domain.IsKind(err, domain.ErrNotFound) {
			uc.logger.Warn("original_value_lookup_failed", "document_id", documentID, "field_name", fieldName, "error", err.Error())
		}
		return ""
	}
	if result == nil {
		return ""
	}
	return result.ResolvedValue
}

// normalizeCorrectionInput trims the identifiers and canonicalizes the
// correction type.
func normalizeCorrectionInput(input ports.CorrectionInput) (ports.CorrectionInput, error) {
	input.DocumentID = strings.TrimSpace(input.DocumentID)
	input.FieldName = strings.TrimSpace(input.FieldName)
	input.OrganizationID = strings.TrimSpace(input.OrganizationID)

	var missing []string
	if input.DocumentID == "" {
		missing = append(missing, "documentId")
	}
	if input.FieldName == "" {
		missing = append(missing, "fieldName")
	}
	if input.OrganizationID == "" {
		missing = append(missing, "organizationId")
	}
	if len(missing) > 0 {
		return input, domain.WrapError(domain.ErrInvalidInput, "record correction", fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	kind, err := domain.ParseCorrectionType(string(input.Type))
	if err != nil {
		return input, err
	}
	input.Type = kind
	return input, nil
}
