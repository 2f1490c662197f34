package domain

import (
	"fmt"
	"strings"
	"time"
)

type Tier string

const (
	TierGlobal      Tier = "GLOBAL"
	TierOrgSpecific Tier = "ORG_SPECIFIC"
	TierClassifier  Tier = "CLASSIFIER"
	TierUnresolved  Tier = "UNRESOLVED"
)

func ParseTier(raw string) (Tier, error) {
	switch Tier(strings.ToUpper(strings.TrimSpace(raw))) {
	case TierGlobal:
		return TierGlobal, nil
	case TierOrgSpecific:
		return TierOrgSpecific, nil
	case TierClassifier:
		return TierClassifier, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse tier", fmt.Errorf("unknown tier %q", raw))
	}
}

type PatternType string

const (
	PatternExact   PatternType = "EXACT"
	PatternRegex   PatternType = "REGEX"
	PatternKeyword PatternType = "KEYWORD"
)

func ParsePatternType(raw string) (PatternType, error) {
	switch PatternType(strings.ToUpper(strings.TrimSpace(raw))) {
	case PatternExact:
		return PatternExact, nil
	case PatternRegex:
		return PatternRegex, nil
	case PatternKeyword:
		return PatternKeyword, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse pattern type", fmt.Errorf("unknown pattern type %q", raw))
	}
}

// KeywordSeparator separates alternatives inside a KEYWORD pattern.
const KeywordSeparator = "|"

// LineageKey identifies a rule across all of its versions.
type LineageKey struct {
	OrganizationID string `json:"organizationId,omitempty"`
	FieldName      string `json:"fieldName"`
	Tier           Tier   `json:"tier"`
}

func (k LineageKey) String() string {
	org := k.OrganizationID
	if org == "" {
		org = "*"
	}
	return fmt.Sprintf("%s/%s/%s", k.Tier, org, k.FieldName)
}

func (k LineageKey) Validate() error {
	if strings.TrimSpace(k.FieldName) == "" {
		return WrapError(ErrInvalidInput, "validate lineage", fmt.Errorf("field name is required"))
	}
	switch k.Tier {
	case TierGlobal:
		if k.OrganizationID != "" {
			return WrapError(ErrInvalidInput, "validate lineage", fmt.Errorf("global lineage cannot be scoped to an organization"))
		}
	case TierOrgSpecific:
		if strings.TrimSpace(k.OrganizationID) == "" {
			return WrapError(ErrInvalidInput, "validate lineage", fmt.Errorf("organization id is required for %s", k.Tier))
		}
	default:
		return WrapError(ErrInvalidInput, "validate lineage", fmt.Errorf("tier %q has no rule lineage", k.Tier))
	}
	return nil
}

// MappingRule is one immutable version of a lineage.
type MappingRule struct {
	ID                string      `json:"id"`
	Tier              Tier        `json:"tier"`
	OrganizationID    string      `json:"organizationId,omitempty"`
	FieldName         string      `json:"fieldName"`
	MatchPattern      string      `json:"matchPattern"`
	PatternType       PatternType `json:"patternType"`
	Priority          int         `json:"priority"`
	ConfidenceBoost   float64     `json:"confidenceBoost,omitempty"`
	ValidationPattern string      `json:"validationPattern,omitempty"`
	Version           int         `json:"version"`
	IsActive          bool        `json:"isActive"`
	Reason            string      `json:"reason,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
}

func (r MappingRule) Lineage() LineageKey {
	return LineageKey{OrganizationID: r.OrganizationID, FieldName: r.FieldName, Tier: r.Tier}
}

// RuleDraft carries the content of a version that is about to be created.
type RuleDraft struct {
	MatchPattern      string
	PatternType       PatternType
	Priority          int
	ConfidenceBoost   float64
	ValidationPattern string
	Reason            string
	// SuggestionID makes creation idempotent: a lineage that already holds a
	// version materialized from this suggestion returns it unchanged.
	SuggestionID      string
}

// SuggestionReason is the version reason recorded for a merged suggestion.
func SuggestionReason(suggestionID string) string {
	return "suggestion " + suggestionID
}

// RuleLineage is the mutable pointer to the active version of a lineage.
type RuleLineage struct {
	ID            string     `json:"id"`
	Key           LineageKey `json:"key"`
	ActiveVersion int        `json:"activeVersion"`
	ActivatedAt   time.Time  `json:"activatedAt"`
}

// KeywordTerms splits a KEYWORD pattern into its normalized alternatives.
func KeywordTerms(pattern string) []string {
	parts := strings.Split(pattern, KeywordSeparator)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		term := NormalizeTerm(part)
		if term != "" {
			out = append(out, term)
		}
	}
	return out
}

// NormalizeTerm lower-cases, trims, collapses whitespace and drops a trailing colon.
func NormalizeTerm(raw string) string {
	term := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	term = strings.TrimRight(term, ":： ")
	return strings.TrimSpace(term)
}
