package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

const sample = `
rules:
  - tier: GLOBAL
    fieldName: total_amount
    matchPattern: "grand total|total due|amount due"
    patternType: KEYWORD
    priority: 10
  - tier: ORG_SPECIFIC
    organizationId: org-1
    fieldName: sea_freight
    matchPattern: "^o/?f\\b"
    patternType: REGEX
    confidenceBoost: 3
    validationPattern: "[0-9.,]+"
`

func TestLoadParsesRules(t *testing.T) {
	rules, err := Load(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	key := rules[1].Lineage()
	if key.Tier != domain.TierOrgSpecific || key.OrganizationID != "org-1" || key.FieldName != "sea_freight" {
		t.Fatalf("unexpected lineage: %+v", key)
	}
	draft := rules[1].Draft()
	if draft.PatternType != domain.PatternRegex || draft.ConfidenceBoost != 3 || draft.Reason != "seed" {
		t.Fatalf("unexpected draft: %+v", draft)
	}
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	cases := map[string]string{
		"empty":              "rules: []\n",
		"unknown tier":       "rules:\n  - {tier: CLASSIFIER, fieldName: a, matchPattern: b, patternType: EXACT}\n",
		"org on global":      "rules:\n  - {tier: GLOBAL, organizationId: o, fieldName: a, matchPattern: b, patternType: EXACT}\n",
		"missing org":        "rules:\n  - {tier: ORG_SPECIFIC, fieldName: a, matchPattern: b, patternType: EXACT}\n",
		"bad regex":          "rules:\n  - {tier: GLOBAL, fieldName: a, matchPattern: '([', patternType: REGEX}\n",
		"unknown key":        "rules:\n  - {tier: GLOBAL, fieldName: a, matchPattern: b, patternType: EXACT, colour: red}\n",
		"duplicate":          "rules:\n  - {tier: GLOBAL, fieldName: a, matchPattern: b, patternType: EXACT}\n  - {tier: GLOBAL, fieldName: a, matchPattern: c, patternType: EXACT}\n",
		"boost out of range": "rules:\n  - {tier: GLOBAL, fieldName: a, matchPattern: b, patternType: EXACT, confidenceBoost: 500}\n",
	}
	for name, doc := range cases {
		if _, err := Load(strings.NewReader(doc)); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

type repoFake struct {
	versions map[domain.LineageKey][]domain.MappingRule
}

func (r *repoFake) ListActiveRules(context.Context) ([]domain.MappingRule, error) { return nil, nil }
func (r *repoFake) ListLineages(context.Context) ([]domain.RuleLineage, error)    { return nil, nil }
func (r *repoFake) ListVersions(_ context.Context, key domain.LineageKey) ([]domain.MappingRule, error) {
	return r.versions[key], nil
}
func (r *repoFake) ListRollbackEvents(context.Context, domain.LineageKey) ([]domain.RollbackEvent, error) {
	return nil, nil
}

type versionerFake struct {
	created []domain.LineageKey
}

func (v *versionerFake) CreateVersion(_ context.Context, key domain.LineageKey, draft domain.RuleDraft) (*domain.MappingRule, error) {
	v.created = append(v.created, key)
	return &domain.MappingRule{ID: "r", Tier: key.Tier, OrganizationID: key.OrganizationID, FieldName: key.FieldName,
		MatchPattern: draft.MatchPattern, PatternType: draft.PatternType, Version: 1, IsActive: true, Reason: draft.Reason}, nil
}

func (v *versionerFake) RollbackRule(context.Context, domain.LineageKey, int, domain.RollbackTrigger, string) (*domain.RollbackEvent, error) {
	return nil, nil
}

func (v *versionerFake) GetVersionHistory(context.Context, domain.LineageKey) ([]domain.VersionSummary, error) {
	return nil, nil
}

func (v *versionerFake) ListRollbackEvents(context.Context, domain.LineageKey) ([]domain.RollbackEvent, error) {
	return nil, nil
}

func (v *versionerFake) EvaluateAll(context.Context) ([]domain.LineageEvaluation, error) {
	return nil, nil
}

func TestApplySkipsExistingLineages(t *testing.T) {
	rules, err := Load(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	repo := &repoFake{versions: map[domain.LineageKey][]domain.MappingRule{
		rules[0].Lineage(): {{ID: "existing", Version: 4}},
	}}
	versioner := &versionerFake{}

	result, err := Apply(context.Background(), rules, repo, versioner)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != rules[0].Lineage() {
		t.Fatalf("unexpected skipped: %+v", result.Skipped)
	}
	if len(result.Created) != 1 || result.Created[0].Reason != "seed" || versioner.created[0] != rules[1].Lineage() {
		t.Fatalf("unexpected created: %+v", result.Created)
	}
}
