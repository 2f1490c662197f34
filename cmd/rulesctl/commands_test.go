package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/usecase"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/repository/memory"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/ruleset"
)

type testEngine struct {
	store    *memory.Store
	versions *usecase.VersionUseCase
	engine   *engine
}

func newTestEngine() *testEngine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	cache := ruleset.NewCache(store, logger)
	versions := usecase.NewVersionUseCase(store, store, cache, domain.DefaultPolicy().Rollback, logger, nil)
	suggestions := usecase.NewSuggestionUseCase(store, versions, logger, nil)
	return &testEngine{
		store:    store,
		versions: versions,
		engine: &engine{
			rules:       store,
			versions:    versions,
			suggestions: suggestions,
			close:       func() {},
		},
	}
}

func (te *testEngine) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(func(context.Context) (*engine, error) { return te.engine, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSeedThenHistory(t *testing.T) {
	te := newTestEngine()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `rules:
  - tier: GLOBAL
    fieldName: total_amount
    matchPattern: grand total
    patternType: EXACT
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	out, err := te.run(t, "seed", "--file", path)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out, "created") || !strings.Contains(out, "GLOBAL/*/total_amount") {
		t.Fatalf("unexpected seed output: %q", out)
	}

	out, err = te.run(t, "seed", "--file", path)
	if err != nil || !strings.Contains(out, "skipped") {
		t.Fatalf("expected second seed to skip, got %q %v", out, err)
	}

	out, err = te.run(t, "history", "--field", "total_amount")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "v1") || !strings.Contains(out, "grand total") || !strings.Contains(out, "seed") {
		t.Fatalf("unexpected history output: %q", out)
	}
}

func TestEmergencyRollbackPrintsTransition(t *testing.T) {
	te := newTestEngine()
	ctx := context.Background()
	key := domain.LineageKey{OrganizationID: "org-1", FieldName: "sea_freight", Tier: domain.TierOrgSpecific}
	for _, pattern := range []string{"ocean freight", "ocean freight|o/f"} {
		if _, err := te.versions.CreateVersion(ctx, key, domain.RuleDraft{MatchPattern: pattern, PatternType: domain.PatternKeyword}); err != nil {
			t.Fatalf("create version: %v", err)
		}
	}

	out, err := te.run(t, "rollback", "--tier", "ORG_SPECIFIC", "--org", "org-1", "--field", "sea_freight", "--to", "1", "--trigger", "emergency", "--reason", "bad keyword")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !strings.Contains(out, "v2 -> v1") || !strings.Contains(out, "EMERGENCY") {
		t.Fatalf("unexpected rollback output: %q", out)
	}

	out, err = te.run(t, "history", "--tier", "ORG_SPECIFIC", "--org", "org-1", "--field", "sea_freight", "--json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var payload struct {
		Versions  []domain.VersionSummary `json:"versions"`
		Rollbacks []domain.RollbackEvent  `json:"rollbacks"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode json output: %v", err)
	}
	if len(payload.Rollbacks) != 1 || !payload.Versions[0].IsActive || payload.Versions[1].IsActive {
		t.Fatalf("unexpected history: %+v", payload)
	}
}

func TestRollbackRejectsScopedGlobalLineage(t *testing.T) {
	te := newTestEngine()

	_, err := te.run(t, "rollback", "--tier", "GLOBAL", "--org", "org-1", "--field", "total_amount", "--to", "1")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestApproveUnknownSuggestionFails(t *testing.T) {
	te := newTestEngine()

	_, err := te.run(t, "suggestions", "approve", "missing", "--reviewer", "lead")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReportWritesWorkbook(t *testing.T) {
	te := newTestEngine()
	key := domain.LineageKey{FieldName: "total_amount", Tier: domain.TierGlobal}
	if _, err := te.versions.CreateVersion(context.Background(), key, domain.RuleDraft{MatchPattern: "grand total", PatternType: domain.PatternExact}); err != nil {
		t.Fatalf("create version: %v", err)
	}
	path := filepath.Join(t.TempDir(), "report.xlsx")

	out, err := te.run(t, "report", "--out", path)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	info, statErr := os.Stat(path)
	if statErr != nil || info.Size() == 0 {
		t.Fatalf("expected workbook at %s: %v", path, statErr)
	}
	if !strings.Contains(out, path) {
		t.Fatalf("unexpected output: %q", out)
	}
}
