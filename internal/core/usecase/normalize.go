package usecase

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	amountFieldKeywords = []string{"amount", "charge", "fee", "cost", "total", "price", "duty", "tax", "freight"}

	dateLayouts = []struct {
		pattern *regexp.Regexp
		layout  string
	}{
		{regexp.MustCompile(`\d{4}-\d{1,2}-\d{1,2}`), "2006-1-2"},
		{regexp.MustCompile(`\d{4}/\d{1,2}/\d{1,2}`), "2006/1/2"},
		{regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`), "1/2/2006"},
		{regexp.MustCompile(`\d{1,2}-\d{1,2}-\d{4}`), "1-2-2006"},
		{regexp.MustCompile(`\d{1,2}\.\d{1,2}\.\d{4}`), "2.1.2006"},
		{regexp.MustCompile(`(?i)\d{1,2}[ -][a-z]{3,9}[ ,-]+\d{4}`), ""},
		{regexp.MustCompile(`(?i)[a-z]{3,9} \d{1,2},? \d{4}`), ""},
	}

	nonNumeric  = regexp.MustCompile(`[^\d.,\-]`)
	weightUnits = regexp.MustCompile(`(?i)(kgs|kg|lbs|lb|grams|gram|g)\.?`)
	firstNumber = regexp.MustCompile(`[\d.,]+`)
)

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// NormalizeValue canonicalizes a resolved value according to its field name:
// dates become YYYY-MM-DD, amounts and weights become two-decimal numbers.
// Values that cannot be parsed are returned trimmed.
func NormalizeValue(fieldName, raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return value
	}
	name := strings.ToLower(fieldName)

	if strings.Contains(name, "date") {
		if v, ok := normalizeDate(value); ok {
			return v
		}
	}
	for _, keyword := range amountFieldKeywords {
		if strings.Contains(name, keyword) {
			if v, ok := normalizeAmount(value); ok {
				return v
			}
			break
		}
	}
	if strings.Contains(name, "weight") {
		if v, ok := normalizeWeight(value); ok {
			return v
		}
	}
	return value
}

func normalizeDate(value string) (string, bool) {
	for _, candidate := range dateLayouts {
		match := candidate.pattern.FindString(value)
		if match == "" {
			continue
		}
		if candidate.layout == "" {
			if t, ok := parseWrittenDate(match); ok {
				return t.Format(time.DateOnly), true
			}
			continue
		}
		if t, err := time.Parse(candidate.layout, match); err == nil {
			return t.Format(time.DateOnly), true
		}
	}
	return "", false
}

// parseWrittenDate accepts "18 Dec 2024", "18-December-2024" and "Dec 18, 2024".
func parseWrittenDate(value string) (time.Time, bool) {
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ' ' || r == '-' || r == ',' })
	if len(fields) != 3 {
		return time.Time{}, false
	}
	day, monthName, year := fields[0], fields[1], fields[2]
	if _, ok := lookupMonth(fields[0]); ok {
		monthName, day = fields[0], fields[1]
	}
	month, ok := lookupMonth(monthName)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-1-2", year+"-"+strconv.Itoa(int(month))+"-"+day)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func lookupMonth(name string) (time.Month, bool) {
	if len(name) < 3 {
		return 0, false
	}
	month, ok := monthNames[strings.ToLower(name[:3])]
	return month, ok
}

func normalizeAmount(value string) (string, bool) {
	negative := strings.HasPrefix(strings.TrimSpace(value), "(") && strings.HasSuffix(strings.TrimSpace(value), ")")
	cleaned := nonNumeric.ReplaceAllString(value, "")
	if cleaned == "" {
		return "", false
	}

	hasComma, hasDot := strings.Contains(cleaned, ","), strings.Contains(cleaned, ".")
	switch {
	case hasComma && hasDot:
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			// 1.234,56
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case hasComma:
		parts := strings.Split(cleaned, ",")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case strings.Count(cleaned, ".") > 1:
		cleaned = strings.ReplaceAll(cleaned, ".", "")
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return "", false
	}
	if negative && amount.IsPositive() {
		amount = amount.Neg()
	}
	return amount.StringFixed(2), true
}

func normalizeWeight(value string) (string, bool) {
	cleaned := strings.TrimSpace(weightUnits.ReplaceAllString(value, ""))
	number := firstNumber.FindString(cleaned)
	if number == "" {
		return "", false
	}
	return normalizeAmount(number)
}
