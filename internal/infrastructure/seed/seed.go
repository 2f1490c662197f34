// Package seed loads bootstrap rule files and creates version 1 of every
// lineage that does not exist yet.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

const seedReason = "seed"

var validate = validator.New(validator.WithRequiredStructEnabled())

type File struct {
	Rules []Rule `yaml:"rules" validate:"required,min=1,dive"`
}

type Rule struct {
	Tier              string  `yaml:"tier" validate:"required,oneof=GLOBAL ORG_SPECIFIC"`
	OrganizationID    string  `yaml:"organizationId" validate:"required_if=Tier ORG_SPECIFIC,excluded_if=Tier GLOBAL"`
	FieldName         string  `yaml:"fieldName" validate:"required,max=128"`
	MatchPattern      string  `yaml:"matchPattern" validate:"required,max=1024"`
	PatternType       string  `yaml:"patternType" validate:"required,oneof=EXACT REGEX KEYWORD"`
	Priority          int     `yaml:"priority" validate:"gte=0,lte=1000"`
	ConfidenceBoost   float64 `yaml:"confidenceBoost" validate:"gte=-100,lte=100"`
	ValidationPattern string  `yaml:"validationPattern" validate:"max=1024"`
}

func (r Rule) Lineage() domain.LineageKey {
	return domain.LineageKey{OrganizationID: r.OrganizationID, FieldName: r.FieldName, Tier: domain.Tier(r.Tier)}
}

func (r Rule) Draft() domain.RuleDraft {
	return domain.RuleDraft{
		MatchPattern:      r.MatchPattern,
		PatternType:       domain.PatternType(r.PatternType),
		Priority:          r.Priority,
		ConfidenceBoost:   r.ConfidenceBoost,
		ValidationPattern: r.ValidationPattern,
		Reason:            seedReason,
	}
}

func LoadFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a seed document. Unknown keys are rejected.
func Load(r io.Reader) ([]Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode seed file", err)
	}
	if err := validate.Struct(file); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate seed file", err)
	}

	seen := make(map[domain.LineageKey]int, len(file.Rules))
	for i, rule := range file.Rules {
		if err := rule.Lineage().Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if prev, dup := seen[rule.Lineage()]; dup {
			return nil, domain.WrapError(domain.ErrInvalidInput, "validate seed file",
				fmt.Errorf("rules %d and %d both define %s", prev, i, rule.Lineage()))
		}
		seen[rule.Lineage()] = i
		if rule.PatternType == string(domain.PatternRegex) {
			if _, err := regexp.Compile(rule.MatchPattern); err != nil {
				return nil, domain.WrapError(domain.ErrInvalidInput, fmt.Sprintf("rule %d", i), err)
			}
		}
	}
	return file.Rules, nil
}

type Result struct {
	Created []domain.MappingRule
	Skipped []domain.LineageKey
}

// Apply creates version 1 for every lineage without versions and skips the
// rest, so running it twice is harmless.
func Apply(ctx context.Context, rules []Rule, repo ports.RuleRepository, versions ports.RuleVersioner) (Result, error) {
	var result Result
	for _, rule := range rules {
		key := rule.Lineage()
		existing, err := repo.ListVersions(ctx, key)
		if err != nil {
			return result, fmt.Errorf("check lineage %s: %w", key, err)
		}
		if len(existing) > 0 {
			result.Skipped = append(result.Skipped, key)
			continue
		}
		created, err := versions.CreateVersion(ctx, key, rule.Draft())
		if err != nil {
			return result, fmt.Errorf("seed lineage %s: %w", key, err)
		}
		result.Created = append(result.Created, *created)
	}
	return result, nil
}
