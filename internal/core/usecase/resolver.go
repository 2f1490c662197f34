package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

// ResolveScope is the per-call context shared by all tier strategies.
type ResolveScope struct {
	OrganizationID string
	FieldHint      string
	Snapshot       ports.RuleSnapshot
	Candidates     []string
}

// TierStrategy is one source consulted by the resolver. A miss returns false
// with a nil error; an error is a degraded miss.
type TierStrategy interface {
	Tier() domain.Tier
	TryResolve(ctx context.Context, term string, scope ResolveScope) (domain.TierMatch, bool, error)
}

// Resolution is the outcome of resolving one raw term.
type Resolution struct {
	Match     domain.TierMatch
	Attempted []domain.Tier
}

type TierResolver struct {
	rules      ports.RuleSource
	strategies []TierStrategy
	critical   []string
	logger     *slog.Logger
	metrics    ports.EngineMetrics
	matcher    *patternMatcher
}

// NewTierResolver builds the ordered strategy list: organization overrides,
// global rules, then the classifier fallback when one is configured.
func NewTierResolver(
	rules ports.RuleSource,
	classifier ports.TermClassifier,
	policy domain.EnginePolicy,
	logger *slog.Logger,
	metrics ports.EngineMetrics,
) *TierResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	matcher := newPatternMatcher(logger, metrics)
	strategies := []TierStrategy{
		&ruleStrategy{tier: domain.TierOrgSpecific, matcher: matcher, policy: policy.Match},
		&ruleStrategy{tier: domain.TierGlobal, matcher: matcher, policy: policy.Match},
	}
	if classifier != nil {
		strategies = append(strategies, &classifierStrategy{classifier: classifier, policy: policy.Match, metrics: metrics})
	}
	return &TierResolver{
		rules:      rules,
		strategies: strategies,
		critical:   append([]string(nil), policy.Routing.CriticalFields...),
		logger:     logger,
		metrics:    metrics,
		matcher:    matcher,
	}
}

// Resolve maps rawTerm to a canonical field. It returns an error wrapping
// ErrUnresolvedTerm when no tier matched; the attempted tiers are still set.
func (r *TierResolver) Resolve(ctx context.Context, rawTerm, organizationID, fieldHint string) (Resolution, error) {
	snapshot := r.rules.Snapshot()
	return r.resolveWith(ctx, snapshot, r.candidates(snapshot), rawTerm, organizationID, fieldHint)
}

func (r *TierResolver) resolveWith(
	ctx context.Context,
	snapshot ports.RuleSnapshot,
	candidates []string,
	rawTerm, organizationID, fieldHint string,
) (Resolution, error) {
	term := domain.NormalizeTerm(rawTerm)
	scope := ResolveScope{
		OrganizationID: organizationID,
		FieldHint:      fieldHint,
		Snapshot:       snapshot,
		Candidates:     candidates,
	}

	out := Resolution{}
	var causes []error
	for _, strategy := range r.strategies {
		out.Attempted = append(out.Attempted, strategy.Tier())
		match, ok, err := strategy.TryResolve(ctx, term, scope)
		if err != nil {
			if errors.Is(err, domain.ErrClassifierTimeout) {
				r.metrics.IncClassifierTimeout()
			}
			r.logger.Warn("tier_resolution_failed",
				"tier", string(strategy.Tier()),
				"term", term,
				"organization_id", organizationID,
				"error", err.Error(),
			)
			causes = append(causes, err)
			continue
		}
		if ok {
			out.Match = match
			r.metrics.ObserveResolution(match.Tier)
			return out, nil
		}
	}

	r.metrics.ObserveResolution(domain.TierUnresolved)
	out.Match = domain.TierMatch{Tier: domain.TierUnresolved}
	cause := fmt.Errorf("no tier matched %q", term)
	if len(causes) > 0 {
		cause = fmt.Errorf("%w: %w", cause, errors.Join(causes...))
	}
	return out, domain.WrapError(domain.ErrUnresolvedTerm, "resolve term", cause)
}

// candidates lists the canonical field names the classifier may choose from.
func (r *TierResolver) candidates(snapshot ports.RuleSnapshot) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(r.critical))
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, name := range snapshot.FieldNames() {
		add(name)
	}
	for _, name := range r.critical {
		add(name)
	}
	sort.Strings(out)
	return out
}

type ruleStrategy struct {
	tier    domain.Tier
	matcher *patternMatcher
	policy  domain.MatchPolicy
}

func (s *ruleStrategy) Tier() domain.Tier { return s.tier }

func (s *ruleStrategy) TryResolve(_ context.Context, term string, scope ResolveScope) (domain.TierMatch, bool, error) {
	orgID := scope.OrganizationID
	if s.tier == domain.TierGlobal {
		orgID = ""
	} else if orgID == "" {
		return domain.TierMatch{}, false, nil
	}

	var (
		best      domain.MappingRule
		bestLen   int
		bestFound bool
	)
	for _, rule := range scope.Snapshot.Rules(s.tier, orgID) {
		length, ok := s.matcher.match(rule, term)
		if !ok {
			continue
		}
		if !bestFound || outranks(rule, length, best, bestLen, scope.FieldHint) {
			best, bestLen, bestFound = rule, length, true
		}
	}
	if !bestFound {
		return domain.TierMatch{}, false, nil
	}

	rule := best
	return domain.TierMatch{
		FieldName:       rule.FieldName,
		Tier:            s.tier,
		MatchConfidence: clampPercent(s.baseConfidence(rule.PatternType) + rule.ConfidenceBoost),
		Rule:            &rule,
		LiteralLength:   bestLen,
	}, true, nil
}

func (s *ruleStrategy) baseConfidence(patternType domain.PatternType) float64 {
	switch patternType {
	case domain.PatternExact:
		return s.policy.ExactConfidence
	case domain.PatternRegex:
		return s.policy.RegexConfidence
	default:
		return s.policy.KeywordConfidence
	}
}

// outranks orders candidate rules by priority, field hint, literal length and
// finally rule id so that selection is deterministic.
func outranks(rule domain.MappingRule, length int, best domain.MappingRule, bestLen int, hint string) bool {
	if rule.Priority != best.Priority {
		return rule.Priority > best.Priority
	}
	if hint != "" {
		ruleHint, bestHint := rule.FieldName == hint, best.FieldName == hint
		if ruleHint != bestHint {
			return ruleHint
		}
	}
	if length != bestLen {
		return length > bestLen
	}
	return rule.ID < best.ID
}

type classifierStrategy struct {
	classifier ports.TermClassifier
	policy     domain.MatchPolicy
	metrics    ports.EngineMetrics
}

func (s *classifierStrategy) Tier() domain.Tier { return domain.TierClassifier }

func (s *classifierStrategy) TryResolve(ctx context.Context, term string, scope ResolveScope) (domain.TierMatch, bool, error) {
	if term == "" {
		return domain.TierMatch{}, false, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, s.policy.ClassifierTimeout)
	defer cancel()

	guess, err := s.classifier.Classify(callCtx, term, scope.Candidates, scope.FieldHint)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return domain.TierMatch{}, false, domain.WrapError(domain.ErrClassifierTimeout, "classify term", err)
		}
		return domain.TierMatch{}, false, fmt.Errorf("classify term: %w", err)
	}

	confidence := clampPercent(guess.Confidence)
	if guess.FieldName == "" || confidence < s.policy.ClassifierMinConfidence {
		return domain.TierMatch{}, false, nil
	}
	if len(scope.Candidates) > 0 && !slices.Contains(scope.Candidates, guess.FieldName) {
		return domain.TierMatch{}, false, nil
	}
	return domain.TierMatch{
		FieldName:       guess.FieldName,
		Tier:            domain.TierClassifier,
		MatchConfidence: confidence,
	}, true, nil
}
