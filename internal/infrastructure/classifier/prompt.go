// Package classifier holds what the LLM-backed tier-3 providers share: the
// prompt and the parsing of the model answer.
package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

const maxTermLength = 200

// BuildPrompt asks the model to pick one canonical field for a raw invoice
// label, or none.
func BuildPrompt(term string, candidates []string, fieldHint string) string {
	if len(term) > maxTermLength {
		term = term[:maxTermLength]
	}
	var b strings.Builder
	b.WriteString(`You map labels found on freight invoices to canonical field names.
Return a strict JSON object with keys:
field (string, one of the candidates or "" when none fits), confidence (number from 0 to 1).
No markdown, no extra keys.

Candidates:
`)
	for _, c := range candidates {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteByte('\n')
	}
	if hint := strings.TrimSpace(fieldHint); hint != "" {
		fmt.Fprintf(&b, "\nThe extractor suggested: %s\n", hint)
	}
	fmt.Fprintf(&b, "\nLabel: %s\n", term)
	return b.String()
}

type answer struct {
	Field      string  `json:"field"`
	Confidence float64 `json:"confidence"`
}

// ParseGuess decodes the model answer. Confidences in [0,1] are scaled to
// percent. A field outside of candidates is returned as an empty guess.
func ParseGuess(raw string, candidates []string) (domain.ClassifierGuess, error) {
	var a answer
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &a); err != nil {
		return domain.ClassifierGuess{}, fmt.Errorf("parse classifier json: %w", err)
	}
	field := strings.TrimSpace(a.Field)
	if field == "" || !slices.Contains(candidates, field) {
		return domain.ClassifierGuess{}, nil
	}
	confidence := a.Confidence
	if confidence <= 1 {
		confidence *= 100
	}
	if math.IsNaN(confidence) {
		confidence = 0
	}
	confidence = math.Round(math.Max(0, math.Min(100, confidence))*100) / 100
	return domain.ClassifierGuess{FieldName: field, Confidence: confidence}, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
