package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

// MappingStore persists mapping runs and derives accuracy from them. A
// result counts as corrected when a NORMAL correction for the same document
// and field was recorded at or after the run.
type MappingStore struct {
	db *sql.DB
}

func NewMappingStore(db *sql.DB) *MappingStore {
	return &MappingStore{db: db}
}

func (s *MappingStore) SaveDocumentMapping(ctx context.Context, mapping *domain.DocumentMapping) error {
	if mapping == nil {
		return domain.WrapError(domain.ErrInvalidInput, "save document mapping", fmt.Errorf("mapping is nil"))
	}
	routing, err := json.Marshal(mapping.Routing)
	if err != nil {
		return fmt.Errorf("marshal routing: %w", err)
	}
	stats, err := json.Marshal(mapping.Statistics)
	if err != nil {
		return fmt.Errorf("marshal statistics: %w", err)
	}

	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mapping_runs (
				run_id, document_id, organization_id, routing_path, overall_confidence, routing, statistics, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, mapping.RunID, mapping.DocumentID, mapping.OrganizationID, string(mapping.Routing.Path),
			mapping.Routing.OverallConfidence, routing, stats, mapping.CreatedAt); err != nil {
			return mapError("insert mapping run", err, nil)
		}

		for i, r := range mapping.MappingResults {
			attempted, err := json.Marshal(r.AttemptedTiers)
			if err != nil {
				return fmt.Errorf("marshal attempted tiers: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO mapping_results (
					run_id, position, document_id, organization_id, raw_term, field_name, raw_value,
					resolved_value, matched_rule_id, rule_version, tier, match_confidence, ocr_confidence,
					historical_accuracy, blended_confidence, band, validation_error, attempted_tiers, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			`, mapping.RunID, i, mapping.DocumentID, mapping.OrganizationID, r.RawTerm, r.FieldName, r.RawValue,
				r.ResolvedValue, nullableString(r.MatchedRuleID), r.RuleVersion, string(r.Tier), r.MatchConfidence,
				r.OCRConfidence, nullableFloat(r.HistoricalAcc), r.BlendedConfidence, string(r.Band),
				r.ValidationError, attempted, mapping.CreatedAt); err != nil {
				return mapError("insert mapping result", err, nil)
			}
		}
		return nil
	})
}

func (s *MappingStore) LatestFieldResult(ctx context.Context, documentID, fieldName string) (*domain.FieldMappingResult, error) {
	var (
		r         domain.FieldMappingResult
		ruleID    sql.NullString
		tier      string
		band      string
		hist      sql.NullFloat64
		attempted []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT r.document_id, r.raw_term, r.field_name, r.raw_value, r.resolved_value, r.matched_rule_id,
			r.rule_version, r.tier, r.match_confidence, r.ocr_confidence, r.historical_accuracy,
			r.blended_confidence, r.band, r.validation_error, r.attempted_tiers
		FROM mapping_results r
		JOIN mapping_runs m ON m.run_id = r.run_id
		WHERE r.document_id = $1 AND r.field_name = $2 AND r.tier <> 'UNRESOLVED'
		ORDER BY m.created_at DESC, r.position
		LIMIT 1
	`, documentID, fieldName).Scan(&r.DocumentID, &r.RawTerm, &r.FieldName, &r.RawValue, &r.ResolvedValue,
		&ruleID, &r.RuleVersion, &tier, &r.MatchConfidence, &r.OCRConfidence, &hist,
		&r.BlendedConfidence, &band, &r.ValidationError, &attempted)
	if err != nil {
		return nil, mapError(fmt.Sprintf("latest field result %s/%s", documentID, fieldName), err, nil)
	}
	r.MatchedRuleID = ruleID.String
	r.Tier = domain.Tier(tier)
	r.Band = domain.ConfidenceBand(band)
	r.HistoricalAcc = floatFromNull(hist)
	if len(attempted) > 0 {
		if err := json.Unmarshal(attempted, &r.AttemptedTiers); err != nil {
			return nil, fmt.Errorf("unmarshal attempted tiers: %w", err)
		}
	}
	return &r, nil
}

func (s *MappingStore) HistoricalAccuracy(ctx context.Context, organizationID, fieldName string, since time.Time, minObservations int) (*float64, error) {
	var sample domain.AccuracySample
	err := s.db.QueryRowContext(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (document_id) run_id, document_id, created_at
			FROM mapping_runs
			WHERE organization_id = $1 AND created_at > $3
			ORDER BY document_id, created_at DESC
		), observed AS (
			SELECT DISTINCT l.document_id, l.created_at
			FROM mapping_results r
			JOIN latest l ON l.run_id = r.run_id
			WHERE r.field_name = $2 AND r.tier <> 'UNRESOLVED'
		)
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE EXISTS (
				SELECT 1 FROM corrections c
				WHERE c.document_id = o.document_id AND c.field_name = $2
					AND c.correction_type = 'NORMAL' AND c.created_at >= o.created_at
			))
		FROM observed o
	`, organizationID, fieldName, since).Scan(&sample.Total, &sample.Corrected)
	if err != nil {
		return nil, mapError("historical accuracy", err, nil)
	}
	if sample.Total == 0 || sample.Total < minObservations {
		return nil, nil
	}
	return sample.Accuracy(), nil
}

func (s *MappingStore) VersionAccuracy(ctx context.Context, ruleID string) (domain.AccuracySample, error) {
	var sample domain.AccuracySample
	err := s.db.QueryRowContext(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (document_id) run_id, document_id, created_at
			FROM mapping_runs
			WHERE document_id IN (SELECT document_id FROM mapping_results WHERE matched_rule_id = $1)
			ORDER BY document_id, created_at DESC
		), observed AS (
			SELECT DISTINCT l.document_id, r.field_name, l.created_at
			FROM mapping_results r
			JOIN latest l ON l.run_id = r.run_id
			WHERE r.matched_rule_id = $1
		)
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE EXISTS (
				SELECT 1 FROM corrections c
				WHERE c.document_id = o.document_id AND c.field_name = o.field_name
					AND c.correction_type = 'NORMAL' AND c.created_at >= o.created_at
			))
		FROM observed o
	`, ruleID).Scan(&sample.Total, &sample.Corrected)
	if err != nil {
		return domain.AccuracySample{}, mapError("version accuracy", err, nil)
	}
	return sample, nil
}
