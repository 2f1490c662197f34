package domain

import (
	"fmt"
	"strings"
	"time"
)

type RollbackTrigger string

const (
	TriggerAuto      RollbackTrigger = "AUTO"
	TriggerManual    RollbackTrigger = "MANUAL"
	TriggerEmergency RollbackTrigger = "EMERGENCY"
)

func ParseRollbackTrigger(raw string) (RollbackTrigger, error) {
	switch RollbackTrigger(strings.ToUpper(strings.TrimSpace(raw))) {
	case TriggerAuto:
		return TriggerAuto, nil
	case TriggerManual:
		return TriggerManual, nil
	case TriggerEmergency:
		return TriggerEmergency, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse rollback trigger", fmt.Errorf("unknown trigger %q", raw))
	}
}

// RollbackEvent is appended whenever a transition demotes the active version.
type RollbackEvent struct {
	ID             string          `json:"id"`
	Lineage        LineageKey      `json:"lineage"`
	RuleID         string          `json:"ruleId"`
	FromVersion    int             `json:"fromVersion"`
	ToVersion      int             `json:"toVersion"`
	Trigger        RollbackTrigger `json:"trigger"`
	Reason         string          `json:"reason,omitempty"`
	AccuracyBefore *float64        `json:"accuracyBefore,omitempty"`
	AccuracyAfter  *float64        `json:"accuracyAfter,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type VersionSummary struct {
	Version     int         `json:"version"`
	RuleID      string      `json:"ruleId"`
	Pattern     string      `json:"pattern"`
	PatternType PatternType `json:"patternType"`
	Priority    int         `json:"priority"`
	IsActive    bool        `json:"isActive"`
	Reason      string      `json:"reason,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	Accuracy    *float64    `json:"accuracy,omitempty"`
	SampleSize  int         `json:"sampleSize"`
}

// AccuracySample counts mapping results produced by one rule version and how
// many of them were later corrected.
type AccuracySample struct {
	Total     int
	Corrected int
}

// Accuracy returns the percentage of uncorrected results, or nil without data.
func (s AccuracySample) Accuracy() *float64 {
	if s.Total <= 0 {
		return nil
	}
	corrected := s.Corrected
	if corrected > s.Total {
		corrected = s.Total
	}
	v := 100 * (1 - float64(corrected)/float64(s.Total))
	return &v
}

type EvaluationOutcome string

const (
	OutcomeKept         EvaluationOutcome = "KEPT"
	OutcomeRolledBack   EvaluationOutcome = "ROLLED_BACK"
	OutcomeInsufficient EvaluationOutcome = "INSUFFICIENT_DATA"
	OutcomeNoBaseline   EvaluationOutcome = "NO_BASELINE"
	OutcomeFailed       EvaluationOutcome = "FAILED"
)

// LineageEvaluation is one line of an accuracy job report.
type LineageEvaluation struct {
	Lineage          LineageKey        `json:"lineage"`
	ActiveVersion    int               `json:"activeVersion"`
	BaselineVersion  int               `json:"baselineVersion,omitempty"`
	CurrentAccuracy  *float64          `json:"currentAccuracy,omitempty"`
	BaselineAccuracy *float64          `json:"baselineAccuracy,omitempty"`
	SampleSize       int               `json:"sampleSize"`
	Outcome          EvaluationOutcome `json:"outcome"`
	Detail           string            `json:"detail,omitempty"`
}
