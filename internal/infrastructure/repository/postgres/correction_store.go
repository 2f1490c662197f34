package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

type CorrectionStore struct {
	db *sql.DB
}

func NewCorrectionStore(db *sql.DB) *CorrectionStore {
	return &CorrectionStore{db: db}
}

// WithCorrections runs fn in a transaction holding the advisory lock of the
// (organization, field) pair. The partial unique index on pending suggestions
// remains the last guard against duplicates.
func (s *CorrectionStore) WithCorrections(ctx context.Context, organizationID, fieldName string, fn func(tx ports.CorrectionTx) error) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockKey(ctx, tx, "corrections:"+organizationID+"/"+fieldName); err != nil {
			return err
		}
		return fn(&correctionTx{tx: tx, organizationID: organizationID, fieldName: fieldName})
	})
}

func (s *CorrectionStore) CountNormal(ctx context.Context, organizationID, fieldName string, since time.Time) (int, error) {
	return countNormal(ctx, s.db, organizationID, fieldName, since)
}

func (s *CorrectionStore) Stats(ctx context.Context, organizationID, fieldName string) (domain.CorrectionStats, error) {
	stats := domain.CorrectionStats{OrganizationID: organizationID, FieldName: fieldName}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE correction_type = 'NORMAL'),
			COUNT(*) FILTER (WHERE correction_type = 'EXCEPTION')
		FROM corrections
		WHERE organization_id = $1 AND field_name = $2
	`, organizationID, fieldName).Scan(&stats.Total, &stats.NormalCount, &stats.ExceptionCount)
	if err != nil {
		return domain.CorrectionStats{}, mapError("correction stats", err, nil)
	}
	return stats, nil
}

func countNormal(ctx context.Context, q querier, organizationID, fieldName string, since time.Time) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM corrections
		WHERE organization_id = $1 AND field_name = $2 AND correction_type = 'NORMAL' AND created_at > $3
	`, organizationID, fieldName, since).Scan(&n)
	if err != nil {
		return 0, mapError("count normal corrections", err, nil)
	}
	return n, nil
}

type correctionTx struct {
	tx             *sql.Tx
	organizationID string
	fieldName      string
}

func (t *correctionTx) InsertCorrection(ctx context.Context, c *domain.Correction) error {
	if c.OrganizationID != t.organizationID || c.FieldName != t.fieldName {
		return domain.WrapError(domain.ErrInvalidInput, "insert correction", fmt.Errorf("correction outside of %s/%s", t.organizationID, t.fieldName))
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO corrections (
			id, document_id, field_name, original_value, corrected_value, correction_type, organization_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.DocumentID, c.FieldName, c.OriginalValue, c.CorrectedValue, string(c.Type), c.OrganizationID, c.CreatedAt)
	return mapError("insert correction", err, nil)
}

func (t *correctionTx) CountNormal(ctx context.Context, since time.Time) (int, error) {
	return countNormal(ctx, t.tx, t.organizationID, t.fieldName, since)
}

func (t *correctionTx) NormalValues(ctx context.Context, since time.Time) ([]domain.ValueFrequency, error) {
	values, err := queryMany(ctx, t.tx, `
		SELECT lower(btrim(corrected_value)) AS value, COUNT(*) AS n
		FROM corrections
		WHERE organization_id = $1 AND field_name = $2 AND correction_type = 'NORMAL' AND created_at > $3
		GROUP BY value
		ORDER BY n DESC, value
	`, []any{t.organizationID, t.fieldName, since}, func(row scanner) (domain.ValueFrequency, error) {
		var v domain.ValueFrequency
		err := row.Scan(&v.Value, &v.Count)
		return v, err
	})
	if err != nil {
		return nil, mapError("normal correction values", err, nil)
	}
	return values, nil
}

func (t *correctionTx) HasPendingSuggestion(ctx context.Context) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM rule_suggestions
			WHERE organization_id = $1 AND field_name = $2 AND status = 'PENDING'
		)
	`, t.organizationID, t.fieldName).Scan(&exists)
	if err != nil {
		return false, mapError("check pending suggestion", err, nil)
	}
	return exists, nil
}

func (t *correctionTx) LastResolvedAt(ctx context.Context) (*time.Time, error) {
	var last sql.NullTime
	err := t.tx.QueryRowContext(ctx, `
		SELECT MAX(decided_at)
		FROM rule_suggestions
		WHERE organization_id = $1 AND field_name = $2 AND status <> 'PENDING'
	`, t.organizationID, t.fieldName).Scan(&last)
	if err != nil {
		return nil, mapError("last resolved suggestion", err, nil)
	}
	if !last.Valid {
		return nil, nil
	}
	at := last.Time
	return &at, nil
}

func (t *correctionTx) InsertSuggestion(ctx context.Context, sg *domain.RuleSuggestion) error {
	if sg.ID == "" {
		sg.ID = uuid.NewString()
	}
	var id string
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO rule_suggestions (
			id, organization_id, field_name, proposed_pattern, proposed_pattern_type,
			supporting_correction_count, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (organization_id, field_name) WHERE status = 'PENDING' DO NOTHING
		RETURNING id
	`, sg.ID, sg.OrganizationID, sg.FieldName, sg.ProposedPattern, string(sg.ProposedPatternType),
		sg.SupportingCorrectionCount, string(sg.Status), sg.CreatedAt).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrDuplicateSuggestion, "insert suggestion", fmt.Errorf("%s/%s", sg.OrganizationID, sg.FieldName))
	}
	return mapError("insert suggestion", err, domain.ErrDuplicateSuggestion)
}
