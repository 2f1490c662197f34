package usecase

import (
	"fmt"
	"sort"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

// Route aggregates field confidences into a document routing decision. It is a
// pure function: identical inputs always produce an identical decision.
// Thresholds are compared against exact averages; only the reported figures
// are rounded.
func Route(documentID string, results []domain.FieldMappingResult, policy domain.RoutingPolicy) domain.RoutingDecision {
	critical := policy.CriticalSet()

	best := make(map[string]float64, len(critical))
	others := make([]float64, 0, len(results))
	unresolved := 0
	for _, r := range results {
		if r.Unresolved() {
			unresolved++
			others = append(others, 0)
			continue
		}
		s := clampPercent(r.BlendedConfidence)
		if _, ok := critical[r.FieldName]; ok {
			if current, seen := best[r.FieldName]; !seen || s > current {
				best[r.FieldName] = s
			}
			continue
		}
		others = append(others, s)
	}

	names := make([]string, 0, len(critical))
	for name := range critical {
		names = append(names, name)
	}
	sort.Strings(names)

	criticalScores := make([]float64, 0, len(names))
	weak := 0
	for _, name := range names {
		s := best[name]
		criticalScores = append(criticalScores, s)
		if s < policy.WeakCriticalThreshold {
			weak++
		}
	}

	criticalAvg := mean(criticalScores, 100)
	otherAvg := mean(others, 100)
	criticalWeight := score(policy.CriticalWeight)
	overall := criticalAvg.Mul(criticalWeight).Add(otherAvg.Mul(score(1).Sub(criticalWeight)))
	shown := overall.Truncate(4).String()

	decision := domain.RoutingDecision{
		DocumentID:        documentID,
		OverallConfidence: round2(overall),
		CriticalAverage:   round2(criticalAvg),
		OtherAverage:      round2(otherAvg),
		WeakCritical:      weak,
	}

	switch {
	case policy.WeakCriticalLimit > 0 && weak >= policy.WeakCriticalLimit:
		decision.Path = domain.PathManualRequired
		decision.Reason = fmt.Sprintf("override: %d critical fields below %g", weak, policy.WeakCriticalThreshold)
	case overall.GreaterThanOrEqual(score(policy.AutoApproveThreshold)):
		decision.Path = domain.PathAutoApprove
		decision.Reason = fmt.Sprintf("band: auto_approve (overall %s >= %g)", shown, policy.AutoApproveThreshold)
	case overall.GreaterThanOrEqual(score(policy.QuickReviewThreshold)):
		decision.Path = domain.PathQuickReview
		decision.Reason = fmt.Sprintf("band: quick_review (overall %s >= %g)", shown, policy.QuickReviewThreshold)
	default:
		decision.Path = domain.PathFullReview
		decision.Reason = fmt.Sprintf("band: full_review (overall %s < %g)", shown, policy.QuickReviewThreshold)
	}

	if unresolved > 0 && (decision.Path == domain.PathAutoApprove || decision.Path == domain.PathQuickReview) {
		decision.Path = domain.PathFullReview
		decision.Reason = fmt.Sprintf("unresolved: %d fields (overall %s)", unresolved, shown)
	}
	return decision
}
