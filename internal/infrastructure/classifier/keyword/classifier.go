// Package keyword is the offline tier-3 classifier: it compares stemmed
// tokens of a label with the tokens of each candidate field name and its
// known aliases.
package keyword

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

const (
	// maxConfidence keeps token overlap below what a deterministic rule earns.
	maxConfidence = 80.0
	hintBonus     = 5.0
)

// DefaultAliases lists common freight-invoice labels per canonical field.
var DefaultAliases = map[string][]string{
	"invoice_number":   {"invoice no", "inv no", "bill number", "document number"},
	"invoice_date":     {"date of issue", "billing date", "inv date"},
	"total_amount":     {"grand total", "amount due", "total due", "balance due"},
	"currency":         {"curr", "ccy", "currency code"},
	"shipper_name":     {"shipper", "consignor", "exporter"},
	"consignee_name":   {"consignee", "importer", "receiver"},
	"sea_freight":      {"ocean freight", "sea frt", "o f", "basic ocean freight"},
	"air_freight":      {"air frt", "airfreight", "a f"},
	"thc":              {"terminal handling", "terminal handling charge", "origin thc", "destination thc"},
	"bl_number":        {"bill of lading", "b l", "bol", "hbl", "mbl"},
	"gross_weight":     {"gross wt", "g w", "weight"},
	"container_number": {"container no", "cntr no", "equipment number"},
}

var stopWords = map[string]struct{}{
	"the": {}, "of": {}, "and": {}, "for": {}, "a": {}, "an": {}, "to": {}, "per": {},
}

type Classifier struct {
	stemmer *Stemmer
	aliases map[string][][]string
}

func New(stemmer *Stemmer, aliases map[string][]string) *Classifier {
	if stemmer == nil {
		stemmer = NewStemmer("english")
	}
	c := &Classifier{stemmer: stemmer, aliases: make(map[string][][]string, len(aliases))}
	for field, phrases := range aliases {
		for _, phrase := range phrases {
			if tokens := c.tokens(phrase); len(tokens) > 0 {
				c.aliases[field] = append(c.aliases[field], tokens)
			}
		}
	}
	return c
}

// Classify never blocks and returns an empty guess when no candidate shares a
// token with the term.
func (c *Classifier) Classify(ctx context.Context, term string, candidates []string, fieldHint string) (domain.ClassifierGuess, error) {
	if err := ctx.Err(); err != nil {
		return domain.ClassifierGuess{}, err
	}
	termTokens := c.tokens(term)
	if len(termTokens) == 0 {
		return domain.ClassifierGuess{}, nil
	}

	type scored struct {
		field string
		score float64
	}
	results := make([]scored, 0, len(candidates))
	for _, field := range candidates {
		best := dice(termTokens, c.tokens(strings.ReplaceAll(field, "_", " ")))
		for _, alias := range c.aliases[field] {
			if s := dice(termTokens, alias); s > best {
				best = s
			}
		}
		if best == 0 {
			continue
		}
		score := best * maxConfidence
		if field == fieldHint {
			score += hintBonus
		}
		results = append(results, scored{field: field, score: score})
	}
	if len(results) == 0 {
		return domain.ClassifierGuess{}, nil
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].field < results[j].field
	})
	return domain.ClassifierGuess{FieldName: results[0].field, Confidence: results[0].score}, nil
}

func (c *Classifier) tokens(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	kept := words[:0]
	for _, w := range words {
		if _, stop := stopWords[w]; !stop {
			kept = append(kept, w)
		}
	}
	return dedupe(c.stemmer.StemTokens(kept))
}

// dice is the Sørensen–Dice coefficient of two token sets.
func dice(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	shared := 0
	for _, t := range b {
		if _, ok := set[t]; ok {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(a)+len(b))
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
