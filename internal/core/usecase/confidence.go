package usecase

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

// BlendConfidence combines OCR, tier-match and historical accuracy into one
// score in [0,100]. Inputs are clamped first. Without historical accuracy its
// weight is redistributed proportionally over the other two. The score is not
// rounded; thresholds compare against the exact value.
func BlendConfidence(weights domain.ConfidenceWeights, ocr, tier float64, historical *float64) float64 {
	ocr = clampPercent(ocr)
	tier = clampPercent(tier)

	wo := score(nonNegative(weights.OCR))
	wt := score(nonNegative(weights.Tier))
	wh := score(nonNegative(weights.Historical))

	sum := score(ocr).Mul(wo).Add(score(tier).Mul(wt))
	total := wo.Add(wt)
	if historical != nil {
		sum = sum.Add(score(clampPercent(*historical)).Mul(wh))
		total = total.Add(wh)
	}
	if total.IsZero() {
		return score(ocr).Add(score(tier)).Div(decimal.NewFromInt(2)).InexactFloat64()
	}
	return clampPercent(sum.Div(total).InexactFloat64())
}

func BandFor(confidence float64) domain.ConfidenceBand {
	switch {
	case confidence >= 90:
		return domain.BandHigh
	case confidence >= 70:
		return domain.BandMedium
	default:
		return domain.BandLow
	}
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// score lifts a float into exact decimal arithmetic using its shortest
// representation, so 0.4 is 0.4 and not its binary approximation.
func score(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// mean returns the exact average of values, or fallback when there are none.
func mean(values []float64, fallback float64) decimal.Decimal {
	if len(values) == 0 {
		return score(fallback)
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(score(v))
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

func round2(v decimal.Decimal) float64 {
	return v.Round(2).InexactFloat64()
}
