package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

const suggestionColumns = `id, organization_id, field_name, proposed_pattern, proposed_pattern_type,
	supporting_correction_count, status, reviewed_by, decision_reason, merged_rule_id, created_at, decided_at`

type SuggestionStore struct {
	db *sql.DB
}

func NewSuggestionStore(db *sql.DB) *SuggestionStore {
	return &SuggestionStore{db: db}
}

func (s *SuggestionStore) Get(ctx context.Context, id string) (domain.RuleSuggestion, error) {
	sg, err := scanSuggestion(s.db.QueryRowContext(ctx, `
		SELECT `+suggestionColumns+` FROM rule_suggestions WHERE id = $1
	`, id))
	if err != nil {
		return domain.RuleSuggestion{}, mapError(fmt.Sprintf("get suggestion %s", id), err, nil)
	}
	return sg, nil
}

func (s *SuggestionStore) List(ctx context.Context, filter domain.SuggestionFilter) ([]domain.RuleSuggestion, error) {
	items, err := queryMany(ctx, s.db, `
		SELECT `+suggestionColumns+`
		FROM rule_suggestions
		WHERE ($1 = '' OR organization_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at, id
	`, []any{filter.OrganizationID, string(filter.Status)}, scanSuggestion)
	if err != nil {
		return nil, mapError("list suggestions", err, nil)
	}
	return items, nil
}

// Transition is a compare-and-set on the status column.
func (s *SuggestionStore) Transition(ctx context.Context, id string, from, to domain.SuggestionStatus, patch domain.SuggestionPatch) (domain.RuleSuggestion, error) {
	var decidedAt any
	if !patch.DecidedAt.IsZero() {
		decidedAt = patch.DecidedAt
	}
	sg, err := scanSuggestion(s.db.QueryRowContext(ctx, `
		UPDATE rule_suggestions SET
			status = $3,
			reviewed_by = COALESCE($4, reviewed_by),
			decision_reason = COALESCE($5, decision_reason),
			merged_rule_id = COALESCE($6, merged_rule_id),
			decided_at = COALESCE($7, decided_at)
		WHERE id = $1 AND status = $2
		RETURNING `+suggestionColumns,
		id, string(from), string(to), nullableString(patch.ReviewedBy), nullableString(patch.DecisionReason),
		nullableString(patch.MergedRuleID), decidedAt))
	if err == nil {
		return sg, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.RuleSuggestion{}, mapError("transition suggestion", err, nil)
	}

	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return domain.RuleSuggestion{}, getErr
	}
	return domain.RuleSuggestion{}, domain.WrapError(domain.ErrInvalidTransition, "transition suggestion",
		fmt.Errorf("suggestion %s is %s, expected %s", id, current.Status, from))
}

func scanSuggestion(row scanner) (domain.RuleSuggestion, error) {
	var (
		sg          domain.RuleSuggestion
		patternType string
		status      string
		decidedAt   sql.NullTime
	)
	if err := row.Scan(&sg.ID, &sg.OrganizationID, &sg.FieldName, &sg.ProposedPattern, &patternType,
		&sg.SupportingCorrectionCount, &status, &sg.ReviewedBy, &sg.DecisionReason, &sg.MergedRuleID,
		&sg.CreatedAt, &decidedAt); err != nil {
		return domain.RuleSuggestion{}, err
	}
	sg.ProposedPatternType = domain.PatternType(patternType)
	sg.Status = domain.SuggestionStatus(status)
	if decidedAt.Valid {
		at := decidedAt.Time
		sg.DecidedAt = &at
	}
	return sg, nil
}
