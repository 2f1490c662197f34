package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

const defaultMapConcurrency = 8

type MapDocumentUseCase struct {
	resolver    *TierResolver
	accuracy    ports.AccuracySource
	store       ports.MappingStore
	policy      domain.EnginePolicy
	concurrency int
	logger      *slog.Logger
	metrics     ports.EngineMetrics
	now         func() time.Time
}

func NewMapDocumentUseCase(
	resolver *TierResolver,
	accuracy ports.AccuracySource,
	store ports.MappingStore,
	policy domain.EnginePolicy,
	concurrency int,
	logger *slog.Logger,
	metrics ports.EngineMetrics,
) *MapDocumentUseCase {
	if concurrency <= 0 {
		concurrency = defaultMapConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &MapDocumentUseCase{
		resolver:    resolver,
		accuracy:    accuracy,
		store:       store,
		policy:      policy,
		concurrency: concurrency,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}
}

// MapDocument resolves, scores and routes every extracted field of a document.
// Per-field failures degrade that field only; the run itself fails on invalid
// input, cancellation or when the result cannot be persisted.
func (uc *MapDocumentUseCase) MapDocument(ctx context.Context, documentID, organizationID string, fields []domain.FieldExtraction) (*domain.DocumentMapping, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "map document", errors.New("document id is required"))
	}
	if strings.TrimSpace(organizationID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "map document", errors.New("organization id is required"))
	}

	started := uc.now()
	snapshot := uc.resolver.rules.Snapshot()
	candidates := uc.resolver.candidates(snapshot)
	since := started.Add(-uc.policy.Learning.CorrectionWindow)

	results := make([]domain.FieldMappingResult, len(fields))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.concurrency)
	for i, field := range fields {
		g.Go(func() error {
			results[i] = uc.mapField(gctx, snapshot, candidates, documentID, organizationID, field, since)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("map document %s: %w", documentID, err)
	}

	routing := Route(documentID, results, uc.policy.Routing)
	elapsed := uc.now().Sub(started)
	mapping := &domain.DocumentMapping{
		RunID:          uuid.NewString(),
		DocumentID:     documentID,
		OrganizationID: organizationID,
		MappingResults: results,
		Routing:        routing,
		Statistics:     buildStatistics(results, elapsed),
		CreatedAt:      uc.now().UTC(),
	}

	if err := uc.store.SaveDocumentMapping(ctx, mapping); err != nil {
		return nil, fmt.Errorf("save document mapping: %w", err)
	}

	uc.metrics.ObserveDocument(routing.Path, elapsed)
	uc.logger.Info("document_mapped",
		"document_id", documentID,
		"organization_id", organizationID,
		"path", string(routing.Path),
		"overall_confidence", routing.OverallConfidence,
		"fields", len(results),
	)
	return mapping, nil
}

func (uc *MapDocumentUseCase) mapField(
	ctx context.Context,
	snapshot ports.RuleSnapshot,
	candidates []string,
	documentID, organizationID string,
	field domain.FieldExtraction,
	since time.Time,
) domain.FieldMappingResult {
	result := domain.FieldMappingResult{
		DocumentID:    documentID,
		RawTerm:       field.FieldName,
		RawValue:      field.RawValue,
		OCRConfidence: clampPercent(field.OCRConfidence),
	}

	resolution, err := uc.resolver.resolveWith(ctx, snapshot, candidates, field.FieldName, organizationID, field.FieldHint)
	if err != nil {
		uc.logger.Debug("field_unresolved", "document_id", documentID, "term", field.FieldName, "error", err.Error())
		result.Tier = domain.TierUnresolved
		result.Band = domain.BandLow
		result.AttemptedTiers = resolution.Attempted
		return result
	}

	match := resolution.Match
	result.FieldName = match.FieldName
	result.Tier = match.Tier
	result.MatchConfidence = match.MatchConfidence
	if match.Rule != nil {
		result.MatchedRuleID = match.Rule.ID
		result.RuleVersion = match.Rule.Version
	}

	result.HistoricalAcc = uc.historicalAccuracy(ctx, organizationID, match.FieldName, since)
	result.BlendedConfidence = BlendConfidence(uc.policy.Weights, result.OCRConfidence, result.MatchConfidence, result.HistoricalAcc)
	result.Band = BandFor(result.BlendedConfidence)
	result.ResolvedValue = NormalizeValue(match.FieldName, field.RawValue)
	result.ValidationError = uc.resolver.matcher.validate(match.Rule, result.ResolvedValue)
	return result
}

func (uc *MapDocumentUseCase) historicalAccuracy(ctx context.Context, organizationID, fieldName string, since time.Time) *float64 {
	if uc.accuracy == nil {
		return nil
	}
	acc, err := uc.accuracy.HistoricalAccuracy(ctx, organizationID, fieldName, since, uc.policy.Learning.HistoryMinObservations)
	if err != nil {
		uc.logger.Warn("historical_accuracy_unavailable",
			"organization_id", organizationID,
			"field_name", fieldName,
			"error", err.Error(),
		)
		return nil
	}
	return acc
}

func buildStatistics(results []domain.FieldMappingResult, elapsed time.Duration) domain.MappingStatistics {
	stats := domain.MappingStatistics{
		TotalFields:      len(results),
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
	mapped := make([]float64, 0, len(results))
	for _, r := range results {
		if r.Unresolved() {
			stats.UnmappedFields++
			continue
		}
		stats.MappedFields++
		mapped = append(mapped, r.BlendedConfidence)
		if r.MatchedRuleID != "" {
			stats.RulesApplied++
		}
	}
	if stats.MappedFields > 0 {
		stats.AverageConfidence = round2(mean(mapped, 0))
	}
	return stats
}
