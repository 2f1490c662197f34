package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

// VersionUseCase is the only writer of rule activation state.
type VersionUseCase struct {
	store    ports.RuleVersionStore
	accuracy ports.AccuracySource
	cache    ports.RuleSource
	policy   domain.RollbackPolicy
	logger   *slog.Logger
	metrics  ports.EngineMetrics
	now      func() time.Time
}

func NewVersionUseCase(
	store ports.RuleVersionStore,
	accuracy ports.AccuracySource,
	cache ports.RuleSource,
	policy domain.RollbackPolicy,
	logger *slog.Logger,
	metrics ports.EngineMetrics,
) *VersionUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &VersionUseCase{
		store:    store,
		accuracy: accuracy,
		cache:    cache,
		policy:   policy,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// CreateVersion appends the next version of a lineage and activates it. An
// unknown lineage starts at version 1. No rollback event is recorded.
func (uc *VersionUseCase) CreateVersion(ctx context.Context, key domain.LineageKey, draft domain.RuleDraft) (*domain.MappingRule, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	if draft.SuggestionID != "" {
		draft.Reason = domain.SuggestionReason(draft.SuggestionID)
	}

	var (
		created domain.MappingRule
		reused  bool
	)
	err := uc.store.WithLineage(ctx, key, func(tx ports.LineageTx) error {
		if draft.SuggestionID != "" {
			versions, err := tx.Versions(ctx)
			if err != nil {
				return fmt.Errorf("load versions: %w", err)
			}
			for _, v := range versions {
				if v.Reason == draft.Reason {
					created, reused = v, true
					return nil
				}
			}
		}
		rule, err := tx.AppendVersion(ctx, draft)
		if err != nil {
			return fmt.Errorf("append version: %w", err)
		}
		created = rule
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create version for %s: %w", key, err)
	}

	if reused {
		uc.logger.Info("rule_version_reused", "lineage", key.String(), "version", created.Version, "suggestion_id", draft.SuggestionID)
		return &created, nil
	}
	uc.refresh(ctx)
	uc.logger.Info("rule_version_created", "lineage", key.String(), "version", created.Version, "rule_id", created.ID)
	return &created, nil
}

// RollbackRule is the operator entry point. AUTO rollbacks are reserved for
// the accuracy job.
func (uc *VersionUseCase) RollbackRule(ctx context.Context, key domain.LineageKey, targetVersion int, trigger domain.RollbackTrigger, reason string) (*domain.RollbackEvent, error) {
	if trigger != domain.TriggerManual && trigger != domain.TriggerEmergency {
		return nil, domain.WrapError(domain.ErrInvalidInput, "rollback rule",
			fmt.Errorf("trigger %q is not allowed for operator rollbacks", trigger))
	}
	return uc.rollback(ctx, key, targetVersion, trigger, reason)
}

func (uc *VersionUseCase) rollback(ctx context.Context, key domain.LineageKey, targetVersion int, trigger domain.RollbackTrigger, reason string) (*domain.RollbackEvent, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	reject := func(msg string) error {
		return &domain.RollbackError{Lineage: key, TargetVersion: targetVersion, Reason: msg}
	}

	var event domain.RollbackEvent
	err := uc.store.WithLineage(ctx, key, func(tx ports.LineageTx) error {
		lineage, err := tx.Lineage(ctx)
		if err != nil {
			if domain.IsKind(err, domain.ErrNotFound) {
				return reject("unknown lineage")
			}
			return fmt.Errorf("load lineage: %w", err)
		}
		versions, err := tx.Versions(ctx)
		if err != nil {
			return fmt.Errorf("load versions: %w", err)
		}

		current, okCurrent := findVersion(versions, lineage.ActiveVersion)
		target, okTarget := findVersion(versions, targetVersion)
		switch {
		case !okTarget:
			return reject("version does not exist")
		case targetVersion == lineage.ActiveVersion:
			return reject("version is already active")
		case targetVersion > lineage.ActiveVersion:
			return reject(fmt.Sprintf("target must be older than active version %d", lineage.ActiveVersion))
		case !okCurrent:
			return fmt.Errorf("active version %d of %s is missing", lineage.ActiveVersion, key)
		}

		before, err := uc.versionSample(ctx, current.ID)
		if err != nil {
			return err
		}
		after, err := uc.versionSample(ctx, target.ID)
		if err != nil {
			return err
		}
		if trigger == domain.TriggerManual && before.Total < uc.policy.MinSample {
			return reject(fmt.Sprintf("active version has %d results, %d required", before.Total, uc.policy.MinSample))
		}

		if _, err := tx.Activate(ctx, targetVersion); err != nil {
			return fmt.Errorf("activate version %d: %w", targetVersion, err)
		}
		event = domain.RollbackEvent{
			ID:             uuid.NewString(),
			Lineage:        key,
			RuleID:         current.ID,
			FromVersion:    current.Version,
			ToVersion:      targetVersion,
			Trigger:        trigger,
			Reason:         reason,
			AccuracyBefore: before.Accuracy(),
			AccuracyAfter:  after.Accuracy(),
			CreatedAt:      uc.now().UTC(),
		}
		if err := tx.AppendRollbackEvent(ctx, event); err != nil {
			return fmt.Errorf("append rollback event: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrRollback) {
			return nil, err
		}
		return nil, fmt.Errorf("rollback %s: %w", key, err)
	}

	uc.refresh(ctx)
	uc.metrics.IncRollback(trigger)
	uc.logger.Info("rule_rolled_back",
		"lineage", key.String(),
		"from_version", event.FromVersion,
		"to_version", event.ToVersion,
		"trigger", string(trigger),
	)
	return &event, nil
}

func (uc *VersionUseCase) GetVersionHistory(ctx context.Context, key domain.LineageKey) ([]domain.VersionSummary, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	versions, err := uc.store.ListVersions(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	if len(versions) == 0 {
		return nil, domain.WrapError(domain.ErrNotFound, "version history", fmt.Errorf("lineage %s", key))
	}

	out := make([]domain.VersionSummary, 0, len(versions))
	for _, v := range versions {
		sample, err := uc.versionSample(ctx, v.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.VersionSummary{
			Version:     v.Version,
			RuleID:      v.ID,
			Pattern:     v.MatchPattern,
			PatternType: v.PatternType,
			Priority:    v.Priority,
			IsActive:    v.IsActive,
			Reason:      v.Reason,
			CreatedAt:   v.CreatedAt,
			Accuracy:    sample.Accuracy(),
			SampleSize:  sample.Total,
		})
	}
	return out, nil
}

func (uc *VersionUseCase) ListRollbackEvents(ctx context.Context, key domain.LineageKey) ([]domain.RollbackEvent, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	events, err := uc.store.ListRollbackEvents(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list rollback events: %w", err)
	}
	return events, nil
}

// EvaluateAll runs the accuracy comparison for every lineage and applies AUTO
// rollbacks. A failing lineage is reported and does not stop the job.
func (uc *VersionUseCase) EvaluateAll(ctx context.Context) ([]domain.LineageEvaluation, error) {
	lineages, err := uc.store.ListLineages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list lineages: %w", err)
	}

	out := make([]domain.LineageEvaluation, 0, len(lineages))
	for _, lineage := range lineages {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		eval, err := uc.evaluate(ctx, lineage)
		if err != nil {
			eval.Outcome = domain.OutcomeFailed
			eval.Detail = err.Error()
			uc.logger.Warn("lineage_evaluation_failed", "lineage", lineage.Key.String(), "error", err.Error())
		}
		out = append(out, eval)
	}
	return out, nil
}

func (uc *VersionUseCase) evaluate(ctx context.Context, lineage domain.RuleLineage) (domain.LineageEvaluation, error) {
	eval := domain.LineageEvaluation{Lineage: lineage.Key, ActiveVersion: lineage.ActiveVersion}

	versions, err := uc.store.ListVersions(ctx, lineage.Key)
	if err != nil {
		return eval, fmt.Errorf("list versions: %w", err)
	}
	active, ok := findVersion(versions, lineage.ActiveVersion)
	if !ok {
		return eval, fmt.Errorf("active version %d is missing", lineage.ActiveVersion)
	}
	baseline, ok := predecessor(versions, lineage.ActiveVersion)
	if !ok {
		eval.Outcome = domain.OutcomeNoBaseline
		return eval, nil
	}
	eval.BaselineVersion = baseline.Version

	current, err := uc.versionSample(ctx, active.ID)
	if err != nil {
		return eval, err
	}
	previous, err := uc.versionSample(ctx, baseline.ID)
	if err != nil {
		return eval, err
	}
	eval.SampleSize = current.Total
	eval.CurrentAccuracy = current.Accuracy()
	eval.BaselineAccuracy = previous.Accuracy()

	if current.Total < uc.policy.MinSample {
		age := uc.now().Sub(lineage.ActivatedAt)
		if !uc.policy.RollbackOnInsufficientData || age < uc.policy.GracePeriod {
			eval.Outcome = domain.OutcomeInsufficient
			eval.Detail = fmt.Sprintf("%d of %d results", current.Total, uc.policy.MinSample)
			return eval, nil
		}
		reason := fmt.Sprintf("insufficient data after grace period: %d of %d results", current.Total, uc.policy.MinSample)
		return uc.autoRollback(ctx, eval, reason)
	}

	if previous.Total < uc.policy.MinSample {
		eval.Outcome = domain.OutcomeKept
		eval.Detail = "baseline sample too small"
		return eval, nil
	}
	if *eval.CurrentAccuracy < *eval.BaselineAccuracy-uc.policy.DegradationFloor {
		reason := fmt.Sprintf("accuracy %.2f below baseline %.2f by more than %g", *eval.CurrentAccuracy, *eval.BaselineAccuracy, uc.policy.DegradationFloor)
		return uc.autoRollback(ctx, eval, reason)
	}
	eval.Outcome = domain.OutcomeKept
	return eval, nil
}

func (uc *VersionUseCase) autoRollback(ctx context.Context, eval domain.LineageEvaluation, reason string) (domain.LineageEvaluation, error) {
	if _, err := uc.rollback(ctx, eval.Lineage, eval.BaselineVersion, domain.TriggerAuto, reason); err != nil {
		return eval, err
	}
	eval.Outcome = domain.OutcomeRolledBack
	eval.Detail = reason
	uc.logger.Warn("auto_rollback_applied", "lineage", eval.Lineage.String(), "to_version", eval.BaselineVersion, "reason", reason)
	return eval, nil
}

func (uc *VersionUseCase) versionSample(ctx context.Context, ruleID string) (domain.AccuracySample, error) {
	if uc.accuracy == nil {
		return domain.AccuracySample{}, nil
	}
	sample, err := uc.accuracy.VersionAccuracy(ctx, ruleID)
	if err != nil {
		return domain.AccuracySample{}, fmt.Errorf("version accuracy for rule %s: %w", ruleID, err)
	}
	return sample, nil
}

func (uc *VersionUseCase) refresh(ctx context.Context) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.Refresh(ctx); err != nil {
		uc.logger.Warn("rule_cache_refresh_failed", "error", err.Error())
	}
}

func findVersion(versions []domain.MappingRule, version int) (domain.MappingRule, bool) {
	for _, v := range versions {
		if v.Version == version {
			return v, true
		}
	}
	return domain.MappingRule{}, false
}

// predecessor returns the highest version below the given one.
func predecessor(versions []domain.MappingRule, version int) (domain.MappingRule, bool) {
	var (
		best  domain.MappingRule
		found bool
	)
	for _, v := range versions {
		if v.Version < version && (!found || v.Version > best.Version) {
			best, found = v, true
		}
	}
	return best, found
}

func validateDraft(draft domain.RuleDraft) error {
	if strings.TrimSpace(draft.MatchPattern) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate rule draft", errors.New("match pattern is required"))
	}
	if _, err := domain.ParsePatternType(string(draft.PatternType)); err != nil {
		return err
	}
	if draft.PatternType == domain.PatternRegex {
		if _, err := regexp.Compile("(?i)" + draft.MatchPattern); err != nil {
			return domain.WrapError(domain.ErrInvalidPattern, "validate rule draft", err)
		}
	}
	if draft.PatternType == domain.PatternKeyword && len(domain.KeywordTerms(draft.MatchPattern)) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "validate rule draft", errors.New("keyword pattern has no terms"))
	}
	if draft.ValidationPattern != "" {
		if _, err := regexp.Compile(draft.ValidationPattern); err != nil {
			return domain.WrapError(domain.ErrInvalidPattern, "validate rule draft", err)
		}
	}
	return nil
}
