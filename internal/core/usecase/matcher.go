package usecase

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

// patternMatcher evaluates rule patterns against normalized terms. Compiled
// regexes are cached per pattern; a pattern that fails to compile is reported
// once and then treated as a permanent non-match.
type patternMatcher struct {
	logger  *slog.Logger
	metrics ports.EngineMetrics
	regexes sync.Map // expression -> compiledPattern
}

type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

func newPatternMatcher(logger *slog.Logger, metrics ports.EngineMetrics) *patternMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &patternMatcher{logger: logger, metrics: metrics}
}

// match reports whether rule matches the normalized term and the length of the
// literal that matched.
func (m *patternMatcher) match(rule domain.MappingRule, term string) (int, bool) {
	if term == "" {
		return 0, false
	}
	switch rule.PatternType {
	case domain.PatternExact:
		if domain.NormalizeTerm(rule.MatchPattern) == term {
			return utf8.RuneCountInString(term), true
		}
		return 0, false
	case domain.PatternKeyword:
		longest := 0
		for _, keyword := range domain.KeywordTerms(rule.MatchPattern) {
			if containsWord(term, keyword) {
				if n := utf8.RuneCountInString(keyword); n > longest {
					longest = n
				}
			}
		}
		return longest, longest > 0
	case domain.PatternRegex:
		re, ok := m.regex(rule)
		if !ok {
			return 0, false
		}
		loc := re.FindStringIndex(term)
		if loc == nil || loc[1] == loc[0] {
			return 0, false
		}
		return utf8.RuneCountInString(term[loc[0]:loc[1]]), true
	default:
		return 0, false
	}
}

func (m *patternMatcher) regex(rule domain.MappingRule) (*regexp.Regexp, bool) {
	re, first, err := m.compile("(?i)" + rule.MatchPattern)
	if err != nil && first {
		m.metrics.IncInvalidPattern()
		m.logger.Warn("invalid_rule_pattern",
			"rule_id", rule.ID,
			"lineage", rule.Lineage().String(),
			"pattern", rule.MatchPattern,
			"error", domain.WrapError(domain.ErrInvalidPattern, "compile rule pattern", err).Error(),
		)
	}
	return re, err == nil
}

// compile returns the cached regex for expr; first is true for the call that
// populated the cache.
func (m *patternMatcher) compile(expr string) (*regexp.Regexp, bool, error) {
	if cached, ok := m.regexes.Load(expr); ok {
		c := cached.(compiledPattern)
		return c.re, false, c.err
	}
	re, err := regexp.Compile(expr)
	actual, loaded := m.regexes.LoadOrStore(expr, compiledPattern{re: re, err: err})
	c := actual.(compiledPattern)
	return c.re, !loaded, c.err
}

// validate applies a rule's optional validation pattern to a resolved value.
// An invalid validation pattern passes.
func (m *patternMatcher) validate(rule *domain.MappingRule, value string) string {
	if rule == nil || rule.ValidationPattern == "" || value == "" {
		return ""
	}
	re, first, err := m.compile("^(?:" + rule.ValidationPattern + ")")
	if err != nil {
		if first {
			m.logger.Warn("invalid_validation_pattern", "rule_id", rule.ID, "pattern", rule.ValidationPattern, "error", err.Error())
		}
		return ""
	}
	if re.MatchString(value) {
		return ""
	}
	return "value does not match pattern: " + rule.ValidationPattern
}

func containsWord(term, word string) bool {
	if word == "" {
		return false
	}
	for offset := 0; offset < len(term); {
		idx := strings.Index(term[offset:], word)
		if idx < 0 {
			return false
		}
		idx += offset
		if boundaryBefore(term, idx) && boundaryAfter(term, idx+len(word)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(term[idx:])
		offset = idx + size
	}
	return false
}

func boundaryBefore(s string, idx int) bool {
	if idx == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:idx])
	return !isWordRune(r)
}

func boundaryAfter(s string, end int) bool {
	if end >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[end:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
