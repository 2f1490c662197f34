package domain

import (
	"errors"
	"fmt"
	"time"
)

// ConfidenceWeights are the blend weights of the Confidence Calculator.
type ConfidenceWeights struct {
	OCR        float64 `json:"ocr"`
	Tier       float64 `json:"tier"`
	Historical float64 `json:"historical"`
}

type MatchPolicy struct {
	ExactConfidence         float64
	RegexConfidence         float64
	KeywordConfidence       float64
	ClassifierMinConfidence float64
	ClassifierTimeout       time.Duration
}

type RoutingPolicy struct {
	CriticalFields        []string
	CriticalWeight        float64
	AutoApproveThreshold  float64
	QuickReviewThreshold  float64
	WeakCriticalThreshold float64
	WeakCriticalLimit     int
}

// CriticalSet returns the critical field names as a set.
func (p RoutingPolicy) CriticalSet() map[string]struct{} {
	out := make(map[string]struct{}, len(p.CriticalFields))
	for _, name := range p.CriticalFields {
		if name != "" {
			out[name] = struct{}{}
		}
	}
	return out
}

type LearningPolicy struct {
	CorrectionWindow       time.Duration
	SuggestionThreshold    int
	SuggestionMaxTerms     int
	HistoryMinObservations int
	Approvers              []string
	NotificationTimeout    time.Duration
}

type RollbackPolicy struct {
	MinSample                  int
	DegradationFloor           float64
	GracePeriod                time.Duration
	RollbackOnInsufficientData bool
}

// EnginePolicy is the configuration value object handed to the engine at call
// time. It is never read from global state.
type EnginePolicy struct {
	Weights  ConfidenceWeights
	Match    MatchPolicy
	Routing  RoutingPolicy
	Learning LearningPolicy
	Rollback RollbackPolicy
}

func DefaultPolicy() EnginePolicy {
	return EnginePolicy{
		Weights: ConfidenceWeights{OCR: 0.4, Tier: 0.4, Historical: 0.2},
		Match: MatchPolicy{
			ExactConfidence:         95,
			RegexConfidence:         85,
			KeywordConfidence:       75,
			ClassifierMinConfidence: 20,
			ClassifierTimeout:       2 * time.Second,
		},
		Routing: RoutingPolicy{
			CriticalFields:        []string{"invoice_number", "invoice_date", "total_amount", "currency", "shipper_name", "sea_freight"},
			CriticalWeight:        0.7,
			AutoApproveThreshold:  95,
			QuickReviewThreshold:  80,
			WeakCriticalThreshold: 80,
			WeakCriticalLimit:     3,
		},
		Learning: LearningPolicy{
			CorrectionWindow:       30 * 24 * time.Hour,
			SuggestionThreshold:    3,
			SuggestionMaxTerms:     5,
			HistoryMinObservations: 20,
			NotificationTimeout:    5 * time.Second,
		},
		Rollback: RollbackPolicy{
			MinSample:                  30,
			DegradationFloor:           5,
			GracePeriod:                14 * 24 * time.Hour,
			RollbackOnInsufficientData: true,
		},
	}
}

// Validate fails fast on misconfiguration. It is meant for startup only.
func (p EnginePolicy) Validate() error {
	var errs []error

	w := p.Weights
	if w.OCR < 0 || w.Tier < 0 || w.Historical < 0 {
		errs = append(errs, fmt.Errorf("confidence weights must be non-negative: %+v", w))
	}
	if w.OCR+w.Tier <= 0 {
		errs = append(errs, fmt.Errorf("ocr and tier weights must not both be zero"))
	}

	bounded := []struct {
		name  string
		value float64
	}{
		{"exact confidence", p.Match.ExactConfidence},
		{"regex confidence", p.Match.RegexConfidence},
		{"keyword confidence", p.Match.KeywordConfidence},
		{"classifier min confidence", p.Match.ClassifierMinConfidence},
		{"auto approve threshold", p.Routing.AutoApproveThreshold},
		{"quick review threshold", p.Routing.QuickReviewThreshold},
		{"weak critical threshold", p.Routing.WeakCriticalThreshold},
		{"degradation floor", p.Rollback.DegradationFloor},
	}
	for _, b := range bounded {
		if b.value < 0 || b.value > 100 {
			errs = append(errs, fmt.Errorf("%s must be within [0,100], got %v", b.name, b.value))
		}
	}
	if p.Match.ClassifierTimeout <= 0 {
		errs = append(errs, fmt.Errorf("classifier timeout must be positive"))
	}

	r := p.Routing
	if r.CriticalWeight < 0 || r.CriticalWeight > 1 {
		errs = append(errs, fmt.Errorf("critical weight must be within [0,1], got %v", r.CriticalWeight))
	}
	if r.QuickReviewThreshold > r.AutoApproveThreshold {
		errs = append(errs, fmt.Errorf("quick review threshold %v exceeds auto approve threshold %v", r.QuickReviewThreshold, r.AutoApproveThreshold))
	}
	if r.WeakCriticalLimit <= 0 {
		errs = append(errs, fmt.Errorf("weak critical limit must be positive"))
	}

	l := p.Learning
	if l.CorrectionWindow <= 0 {
		errs = append(errs, fmt.Errorf("correction window must be positive"))
	}
	if l.SuggestionThreshold <= 0 {
		errs = append(errs, fmt.Errorf("suggestion threshold must be positive"))
	}
	if l.SuggestionMaxTerms <= 0 {
		errs = append(errs, fmt.Errorf("suggestion max terms must be positive"))
	}
	if l.HistoryMinObservations < 0 {
		errs = append(errs, fmt.Errorf("history min observations must be non-negative"))
	}

	if p.Rollback.MinSample <= 0 {
		errs = append(errs, fmt.Errorf("rollback min sample must be positive"))
	}
	if p.Rollback.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("rollback grace period must be non-negative"))
	}

	if len(errs) > 0 {
		return WrapError(ErrThresholdConfig, "validate engine policy", errors.Join(errs...))
	}
	return nil
}
