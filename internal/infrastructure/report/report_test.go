package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

type lineagesFake []domain.RuleLineage

func (l lineagesFake) ListLineages(context.Context) ([]domain.RuleLineage, error) { return l, nil }

type historyFake struct {
	versions map[domain.LineageKey][]domain.VersionSummary
	events   map[domain.LineageKey][]domain.RollbackEvent
}

func (h historyFake) GetVersionHistory(_ context.Context, key domain.LineageKey) ([]domain.VersionSummary, error) {
	return h.versions[key], nil
}

func (h historyFake) ListRollbackEvents(_ context.Context, key domain.LineageKey) ([]domain.RollbackEvent, error) {
	return h.events[key], nil
}

func TestWriteProducesThreeSheets(t *testing.T) {
	at := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	key := domain.LineageKey{OrganizationID: "org-1", FieldName: "sea_freight", Tier: domain.TierOrgSpecific}
	acc := 91.5
	exporter := NewExporter(
		lineagesFake{{ID: "lin-1", Key: key, ActiveVersion: 1, ActivatedAt: at}},
		historyFake{
			versions: map[domain.LineageKey][]domain.VersionSummary{key: {
				{Version: 1, RuleID: "r1", Pattern: "ocean freight", PatternType: domain.PatternKeyword, IsActive: true, Accuracy: &acc, SampleSize: 40, CreatedAt: at},
				{Version: 2, RuleID: "r2", Pattern: "o/f", PatternType: domain.PatternKeyword, CreatedAt: at},
			}},
			events: map[domain.LineageKey][]domain.RollbackEvent{key: {
				{Lineage: key, RuleID: "r2", FromVersion: 2, ToVersion: 1, Trigger: domain.TriggerAuto, Reason: "degraded", CreatedAt: at},
			}},
		},
	)

	var buf bytes.Buffer
	if err := exporter.Write(context.Background(), &buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	if got := f.GetSheetList(); len(got) != 3 || got[0] != sheetLineages {
		t.Fatalf("unexpected sheets: %v", got)
	}
	lineageRows, err := f.GetRows(sheetLineages)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(lineageRows) != 2 || lineageRows[1][2] != "sea_freight" || lineageRows[1][5] != "2" || lineageRows[1][6] != "1" {
		t.Fatalf("unexpected lineage rows: %v", lineageRows)
	}
	versionRows, _ := f.GetRows(sheetVersions)
	if len(versionRows) != 3 || versionRows[1][6] != "ocean freight" || versionRows[1][9] != "91.5" {
		t.Fatalf("unexpected version rows: %v", versionRows)
	}
	rollbackRows, _ := f.GetRows(sheetRollbacks)
	if len(rollbackRows) != 2 || rollbackRows[1][5] != "AUTO" {
		t.Fatalf("unexpected rollback rows: %v", rollbackRows)
	}
}
