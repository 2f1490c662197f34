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

const ruleColumns = `r.id, r.version, r.match_pattern, r.pattern_type, r.priority, r.confidence_boost,
	r.validation_pattern, r.is_active, r.reason, r.created_at, l.tier, l.organization_id, l.field_name`

// RuleStore keeps one row per lineage holding the active-version pointer and
// one immutable row per version.
type RuleStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db, now: time.Now}
}

func (s *RuleStore) ListActiveRules(ctx context.Context) ([]domain.MappingRule, error) {
	rules, err := queryMany(ctx, s.db, `
		SELECT `+ruleColumns+`
		FROM mapping_rules r
		JOIN rule_lineages l ON l.id = r.lineage_id AND r.version = l.active_version
		ORDER BY r.id
	`, nil, scanRule)
	if err != nil {
		return nil, mapError("list active rules", err, nil)
	}
	return rules, nil
}

func (s *RuleStore) ListLineages(ctx context.Context) ([]domain.RuleLineage, error) {
	lineages, err := queryMany(ctx, s.db, `
		SELECT id, tier, organization_id, field_name, active_version, activated_at
		FROM rule_lineages
		ORDER BY tier, organization_id, field_name
	`, nil, scanLineage)
	if err != nil {
		return nil, mapError("list lineages", err, nil)
	}
	return lineages, nil
}

func (s *RuleStore) ListVersions(ctx context.Context, key domain.LineageKey) ([]domain.MappingRule, error) {
	rules, err := queryMany(ctx, s.db, `
		SELECT `+ruleColumns+`
		FROM mapping_rules r
		JOIN rule_lineages l ON l.id = r.lineage_id
		WHERE l.tier = $1 AND l.organization_id = $2 AND l.field_name = $3
		ORDER BY r.version
	`, []any{string(key.Tier), key.OrganizationID, key.FieldName}, scanRule)
	if err != nil {
		return nil, mapError("list versions", err, nil)
	}
	return rules, nil
}

func (s *RuleStore) ListRollbackEvents(ctx context.Context, key domain.LineageKey) ([]domain.RollbackEvent, error) {
	events, err := queryMany(ctx, s.db, `
		SELECT e.id, e.rule_id, e.from_version, e.to_version, e.trigger, e.reason,
			e.accuracy_before, e.accuracy_after, e.created_at
		FROM rollback_events e
		JOIN rule_lineages l ON l.id = e.lineage_id
		WHERE l.tier = $1 AND l.organization_id = $2 AND l.field_name = $3
		ORDER BY e.created_at, e.id
	`, []any{string(key.Tier), key.OrganizationID, key.FieldName}, func(row scanner) (domain.RollbackEvent, error) {
		var (
			event         domain.RollbackEvent
			trigger       string
			before, after sql.NullFloat64
		)
		if err := row.Scan(&event.ID, &event.RuleID, &event.FromVersion, &event.ToVersion, &trigger,
			&event.Reason, &before, &after, &event.CreatedAt); err != nil {
			return domain.RollbackEvent{}, err
		}
		event.Lineage = key
		event.Trigger = domain.RollbackTrigger(trigger)
		event.AccuracyBefore = floatFromNull(before)
		event.AccuracyAfter = floatFromNull(after)
		return event, nil
	})
	if err != nil {
		return nil, mapError("list rollback events", err, nil)
	}
	return events, nil
}

// WithLineage runs fn in a transaction holding an advisory lock on the lineage
// key, so concurrent writers of the same lineage are serialized even before the
// lineage row exists.
func (s *RuleStore) WithLineage(ctx context.Context, key domain.LineageKey, fn func(tx ports.LineageTx) error) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockKey(ctx, tx, "lineage:"+key.String()); err != nil {
			return err
		}
		ltx := &lineageTx{tx: tx, key: key, now: s.now}
		lineage, err := scanLineage(tx.QueryRowContext(ctx, `
			SELECT id, tier, organization_id, field_name, active_version, activated_at
			FROM rule_lineages
			WHERE tier = $1 AND organization_id = $2 AND field_name = $3
			FOR UPDATE
		`, string(key.Tier), key.OrganizationID, key.FieldName))
		switch {
		case err == nil:
			ltx.lineage = &lineage
		case !errors.Is(err, sql.ErrNoRows):
			return mapError("lock lineage", err, nil)
		}
		return fn(ltx)
	})
}

type lineageTx struct {
	tx      *sql.Tx
	key     domain.LineageKey
	lineage *domain.RuleLineage
	now     func() time.Time
}

func (t *lineageTx) Lineage(context.Context) (domain.RuleLineage, error) {
	if t.lineage == nil {
		return domain.RuleLineage{}, domain.WrapError(domain.ErrNotFound, "load lineage", fmt.Errorf("lineage %s", t.key))
	}
	return *t.lineage, nil
}

func (t *lineageTx) Versions(ctx context.Context) ([]domain.MappingRule, error) {
	if t.lineage == nil {
		return nil, nil
	}
	rules, err := queryMany(ctx, t.tx, `
		SELECT `+ruleColumns+`
		FROM mapping_rules r
		JOIN rule_lineages l ON l.id = r.lineage_id
		WHERE r.lineage_id = $1
		ORDER BY r.version
	`, []any{t.lineage.ID}, scanRule)
	if err != nil {
		return nil, mapError("list lineage versions", err, nil)
	}
	return rules, nil
}

func (t *lineageTx) AppendVersion(ctx context.Context, draft domain.RuleDraft) (domain.MappingRule, error) {
	now := t.now().UTC()
	if t.lineage == nil {
		lineage := domain.RuleLineage{ID: uuid.NewString(), Key: t.key, ActivatedAt: now}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO rule_lineages (id, tier, organization_id, field_name, active_version, activated_at)
			VALUES ($1, $2, $3, $4, 0, $5)
		`, lineage.ID, string(t.key.Tier), t.key.OrganizationID, t.key.FieldName, now); err != nil {
			return domain.MappingRule{}, mapError("create lineage", err, nil)
		}
		t.lineage = &lineage
	}

	var next int
	if err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM mapping_rules WHERE lineage_id = $1
	`, t.lineage.ID).Scan(&next); err != nil {
		return domain.MappingRule{}, mapError("next version", err, nil)
	}

	if err := t.deactivate(ctx); err != nil {
		return domain.MappingRule{}, err
	}
	rule := domain.MappingRule{
		ID:                uuid.NewString(),
		Tier:              t.key.Tier,
		OrganizationID:    t.key.OrganizationID,
		FieldName:         t.key.FieldName,
		MatchPattern:      draft.MatchPattern,
		PatternType:       draft.PatternType,
		Priority:          draft.Priority,
		ConfidenceBoost:   draft.ConfidenceBoost,
		ValidationPattern: draft.ValidationPattern,
		Version:           next,
		IsActive:          true,
		Reason:            draft.Reason,
		CreatedAt:         now,
	}
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO mapping_rules (
			id, lineage_id, version, match_pattern, pattern_type, priority,
			confidence_boost, validation_pattern, is_active, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10)
	`, rule.ID, t.lineage.ID, rule.Version, rule.MatchPattern, string(rule.PatternType), rule.Priority,
		rule.ConfidenceBoost, rule.ValidationPattern, rule.Reason, rule.CreatedAt); err != nil {
		return domain.MappingRule{}, mapError("insert rule version", err, nil)
	}
	if err := t.movePointer(ctx, next, now); err != nil {
		return domain.MappingRule{}, err
	}
	return rule, nil
}

func (t *lineageTx) Activate(ctx context.Context, version int) (domain.MappingRule, error) {
	if t.lineage == nil {
		return domain.MappingRule{}, domain.WrapError(domain.ErrNotFound, "activate version", fmt.Errorf("lineage %s", t.key))
	}
	if err := t.deactivate(ctx); err != nil {
		return domain.MappingRule{}, err
	}
	err := execExpectOne(ctx, t.tx, `
		UPDATE mapping_rules SET is_active = TRUE WHERE lineage_id = $1 AND version = $2
	`, t.lineage.ID, version)
	if err != nil {
		return domain.MappingRule{}, mapError(fmt.Sprintf("activate %s v%d", t.key, version), err, nil)
	}
	now := t.now().UTC()
	if err := t.movePointer(ctx, version, now); err != nil {
		return domain.MappingRule{}, err
	}

	rule, err := scanRule(t.tx.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM mapping_rules r
		JOIN rule_lineages l ON l.id = r.lineage_id
		WHERE r.lineage_id = $1 AND r.version = $2
	`, t.lineage.ID, version))
	if err != nil {
		return domain.MappingRule{}, mapError("load activated version", err, nil)
	}
	return rule, nil
}

func (t *lineageTx) AppendRollbackEvent(ctx context.Context, event domain.RollbackEvent) error {
	if t.lineage == nil {
		return domain.WrapError(domain.ErrNotFound, "append rollback event", fmt.Errorf("lineage %s", t.key))
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = t.now().UTC()
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rollback_events (
			id, lineage_id, rule_id, from_version, to_version, trigger, reason,
			accuracy_before, accuracy_after, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, event.ID, t.lineage.ID, event.RuleID, event.FromVersion, event.ToVersion, string(event.Trigger),
		event.Reason, nullableFloat(event.AccuracyBefore), nullableFloat(event.AccuracyAfter), event.CreatedAt)
	return mapError("insert rollback event", err, nil)
}

func (t *lineageTx) deactivate(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE mapping_rules SET is_active = FALSE WHERE lineage_id = $1 AND is_active
	`, t.lineage.ID)
	return mapError("deactivate versions", err, nil)
}

func (t *lineageTx) movePointer(ctx context.Context, version int, at time.Time) error {
	err := execExpectOne(ctx, t.tx, `
		UPDATE rule_lineages SET active_version = $2, activated_at = $3 WHERE id = $1
	`, t.lineage.ID, version, at)
	if err != nil {
		return mapError("move active pointer", err, nil)
	}
	t.lineage.ActiveVersion = version
	t.lineage.ActivatedAt = at
	return nil
}

func scanRule(row scanner) (domain.MappingRule, error) {
	var (
		rule        domain.MappingRule
		patternType string
		tier        string
	)
	if err := row.Scan(&rule.ID, &rule.Version, &rule.MatchPattern, &patternType, &rule.Priority,
		&rule.ConfidenceBoost, &rule.ValidationPattern, &rule.IsActive, &rule.Reason, &rule.CreatedAt,
		&tier, &rule.OrganizationID, &rule.FieldName); err != nil {
		return domain.MappingRule{}, err
	}
	rule.PatternType = domain.PatternType(patternType)
	rule.Tier = domain.Tier(tier)
	return rule, nil
}

func scanLineage(row scanner) (domain.RuleLineage, error) {
	var (
		lineage domain.RuleLineage
		tier    string
	)
	if err := row.Scan(&lineage.ID, &tier, &lineage.Key.OrganizationID, &lineage.Key.FieldName,
		&lineage.ActiveVersion, &lineage.ActivatedAt); err != nil {
		return domain.RuleLineage{}, err
	}
	lineage.Key.Tier = domain.Tier(tier)
	return lineage, nil
}
