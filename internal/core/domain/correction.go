package domain

import (
	"fmt"
	"strings"
	"time"
)

type CorrectionType string

const (
	CorrectionNormal    CorrectionType = "NORMAL"
	CorrectionException CorrectionType = "EXCEPTION"
)

func ParseCorrectionType(raw string) (CorrectionType, error) {
	switch CorrectionType(strings.ToUpper(strings.TrimSpace(raw))) {
	case CorrectionNormal:
		return CorrectionNormal, nil
	case CorrectionException:
		return CorrectionException, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse correction type", fmt.Errorf("unknown correction type %q", raw))
	}
}

// Correction is an immutable audit record of a reviewer edit.
type Correction struct {
	ID             string         `json:"id"`
	DocumentID     string         `json:"documentId"`
	FieldName      string         `json:"fieldName"`
	OriginalValue  string         `json:"originalValue"`
	CorrectedValue string         `json:"correctedValue"`
	Type           CorrectionType `json:"type"`
	OrganizationID string         `json:"organizationId"`
	CreatedAt      time.Time      `json:"createdAt"`
}

type CorrectionStats struct {
	OrganizationID string `json:"organizationId"`
	FieldName      string `json:"fieldName"`
	Total          int    `json:"total"`
	NormalCount    int    `json:"normalCount"`
	ExceptionCount int    `json:"exceptionCount"`
}

// ValueFrequency counts how often a normalized corrected value was entered.
type ValueFrequency struct {
	Value string
	Count int
}

type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "PENDING"
	SuggestionApproved SuggestionStatus = "APPROVED"
	SuggestionRejected SuggestionStatus = "REJECTED"
	SuggestionMerged   SuggestionStatus = "MERGED"
)

type RuleSuggestion struct {
	ID                        string           `json:"id"`
	OrganizationID            string           `json:"organizationId"`
	FieldName                 string           `json:"fieldName"`
	ProposedPattern           string           `json:"proposedPattern"`
	ProposedPatternType       PatternType      `json:"proposedPatternType"`
	SupportingCorrectionCount int              `json:"supportingCorrectionCount"`
	Status                    SuggestionStatus `json:"status"`
	ReviewedBy                string           `json:"reviewedBy,omitempty"`
	DecisionReason            string           `json:"decisionReason,omitempty"`
	MergedRuleID              string           `json:"mergedRuleId,omitempty"`
	CreatedAt                 time.Time        `json:"createdAt"`
	DecidedAt                 *time.Time       `json:"decidedAt,omitempty"`
}

func (s RuleSuggestion) Lineage() LineageKey {
	return LineageKey{OrganizationID: s.OrganizationID, FieldName: s.FieldName, Tier: TierOrgSpecific}
}

// SuggestionPatch holds the columns written together with a status transition.
type SuggestionPatch struct {
	ReviewedBy     string
	DecisionReason string
	MergedRuleID   string
	DecidedAt      time.Time
}

type SuggestionFilter struct {
	OrganizationID string
	Status         SuggestionStatus
}
