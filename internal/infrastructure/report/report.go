// Package report exports rule lineages, their versions and rollback events
// as an xlsx workbook for operators.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

const (
	sheetLineages  = "Lineages"
	sheetVersions  = "Versions"
	sheetRollbacks = "Rollbacks"
)

type LineageLister interface {
	ListLineages(ctx context.Context) ([]domain.RuleLineage, error)
}

type HistoryReader interface {
	GetVersionHistory(ctx context.Context, key domain.LineageKey) ([]domain.VersionSummary, error)
	ListRollbackEvents(ctx context.Context, key domain.LineageKey) ([]domain.RollbackEvent, error)
}

type Exporter struct {
	lineages LineageLister
	history  HistoryReader
}

func NewExporter(lineages LineageLister, history HistoryReader) *Exporter {
	return &Exporter{lineages: lineages, history: history}
}

func (e *Exporter) Write(ctx context.Context, w io.Writer) error {
	lineages, err := e.lineages.ListLineages(ctx)
	if err != nil {
		return fmt.Errorf("list lineages: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	sheets := []struct {
		name    string
		headers []string
	}{
		{sheetLineages, []string{"Tier", "Organization", "Field", "Active Version", "Activated At", "Versions", "Rollbacks"}},
		{sheetVersions, []string{"Tier", "Organization", "Field", "Version", "Rule ID", "Pattern Type", "Pattern", "Priority", "Active", "Accuracy", "Sample", "Reason", "Created At"}},
		{sheetRollbacks, []string{"Tier", "Organization", "Field", "From", "To", "Trigger", "Accuracy Before", "Accuracy After", "Reason", "At"}},
	}
	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet.name); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet.name, err)
		}
		if err := writeRow(f, sheet.name, 1, toCells(sheet.headers)); err != nil {
			return err
		}
		last, _ := excelize.CoordinatesToCellName(len(sheet.headers), 1)
		if err := f.SetCellStyle(sheet.name, "A1", last, headerStyle); err != nil {
			return fmt.Errorf("style header: %w", err)
		}
		lastCol, _ := excelize.ColumnNumberToName(len(sheet.headers))
		if err := f.SetColWidth(sheet.name, "A", lastCol, 16); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	versionRow, rollbackRow := 2, 2
	for i, lineage := range lineages {
		key := lineage.Key
		versions, err := e.history.GetVersionHistory(ctx, key)
		if err != nil && !domain.IsKind(err, domain.ErrNotFound) {
			return fmt.Errorf("version history %s: %w", key, err)
		}
		events, err := e.history.ListRollbackEvents(ctx, key)
		if err != nil {
			return fmt.Errorf("rollback events %s: %w", key, err)
		}

		prefix := []any{string(key.Tier), key.OrganizationID, key.FieldName}
		if err := writeRow(f, sheetLineages, i+2, append(prefix,
			lineage.ActiveVersion, formatTime(lineage.ActivatedAt), len(versions), len(events))); err != nil {
			return err
		}
		for _, v := range versions {
			if err := writeRow(f, sheetVersions, versionRow, append(prefix,
				v.Version, v.RuleID, string(v.PatternType), v.Pattern, v.Priority, v.IsActive,
				optional(v.Accuracy), v.SampleSize, v.Reason, formatTime(v.CreatedAt))); err != nil {
				return err
			}
			versionRow++
		}
		for _, ev := range events {
			if err := writeRow(f, sheetRollbacks, rollbackRow, append(prefix,
				ev.FromVersion, ev.ToVersion, string(ev.Trigger), optional(ev.AccuracyBefore),
				optional(ev.AccuracyAfter), ev.Reason, formatTime(ev.CreatedAt))); err != nil {
				return err
			}
			rollbackRow++
		}
	}

	f.SetActiveSheet(0)
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toCells(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func optional(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
