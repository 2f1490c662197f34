package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

func (s *Store) ListActiveRules(context.Context) ([]domain.MappingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.MappingRule, 0, len(s.lineages))
	for key, lineage := range s.lineages {
		for _, v := range s.versions[key] {
			if v.Version == lineage.ActiveVersion {
				out = append(out, v)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListLineages(context.Context) ([]domain.RuleLineage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RuleLineage, 0, len(s.lineages))
	for _, lineage := range s.lineages {
		out = append(out, lineage)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

func (s *Store) ListVersions(_ context.Context, key domain.LineageKey) ([]domain.MappingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.MappingRule(nil), s.versions[key]...), nil
}

func (s *Store) ListRollbackEvents(_ context.Context, key domain.LineageKey) ([]domain.RollbackEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.RollbackEvent(nil), s.events[key]...), nil
}

func (s *Store) WithLineage(ctx context.Context, key domain.LineageKey, fn func(tx ports.LineageTx) error) error {
	if err := key.Validate(); err != nil {
		return err
	}
	unlock := s.locks.lock("lineage:" + key.String())
	defer unlock()

	s.mu.RLock()
	tx := &lineageTx{store: s, key: key, versions: append([]domain.MappingRule(nil), s.versions[key]...)}
	if lineage, ok := s.lineages[key]; ok {
		tx.lineage = &lineage
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineages[key] = *tx.lineage
	s.versions[key] = tx.versions
	s.events[key] = append(s.events[key], tx.events...)
	return nil
}

type lineageTx struct {
	store    *Store
	key      domain.LineageKey
	lineage  *domain.RuleLineage
	versions []domain.MappingRule
	events   []domain.RollbackEvent
	dirty    bool
}

func (tx *lineageTx) Lineage(context.Context) (domain.RuleLineage, error) {
	if tx.lineage == nil {
		return domain.RuleLineage{}, domain.WrapError(domain.ErrNotFound, "load lineage", fmt.Errorf("lineage %s", tx.key))
	}
	return *tx.lineage, nil
}

func (tx *lineageTx) Versions(context.Context) ([]domain.MappingRule, error) {
	return append([]domain.MappingRule(nil), tx.versions...), nil
}

func (tx *lineageTx) AppendVersion(_ context.Context, draft domain.RuleDraft) (domain.MappingRule, error) {
	now := tx.store.now().UTC()
	next := 1
	for _, v := range tx.versions {
		if v.Version >= next {
			next = v.Version + 1
		}
	}
	rule := domain.MappingRule{
		ID:                uuid.NewString(),
		Tier:              tx.key.Tier,
		OrganizationID:    tx.key.OrganizationID,
		FieldName:         tx.key.FieldName,
		MatchPattern:      draft.MatchPattern,
		PatternType:       draft.PatternType,
		Priority:          draft.Priority,
		ConfidenceBoost:   draft.ConfidenceBoost,
		ValidationPattern: draft.ValidationPattern,
		Version:           next,
		Reason:            draft.Reason,
		CreatedAt:         now,
	}
	tx.versions = append(tx.versions, rule)
	if tx.lineage == nil {
		tx.lineage = &domain.RuleLineage{ID: uuid.NewString(), Key: tx.key}
	}
	return tx.activate(next, now), nil
}

func (tx *lineageTx) Activate(_ context.Context, version int) (domain.MappingRule, error) {
	if tx.lineage == nil {
		return domain.MappingRule{}, domain.WrapError(domain.ErrNotFound, "activate version", fmt.Errorf("lineage %s", tx.key))
	}
	found := false
	for _, v := range tx.versions {
		if v.Version == version {
			found = true
		}
	}
	if !found {
		return domain.MappingRule{}, domain.WrapError(domain.ErrNotFound, "activate version", fmt.Errorf("%s v%d", tx.key, version))
	}
	return tx.activate(version, tx.store.now().UTC()), nil
}

// activate flips the pointer and every version flag in the staged state.
func (tx *lineageTx) activate(version int, at time.Time) domain.MappingRule {
	var active domain.MappingRule
	versions := make([]domain.MappingRule, len(tx.versions))
	for i, v := range tx.versions {
		v.IsActive = v.Version == version
		if v.IsActive {
			active = v
		}
		versions[i] = v
	}
	tx.versions = versions
	lineage := *tx.lineage
	lineage.ActiveVersion = version
	lineage.ActivatedAt = at
	tx.lineage = &lineage
	tx.dirty = true
	return active
}

func (tx *lineageTx) AppendRollbackEvent(_ context.Context, event domain.RollbackEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	tx.events = append(tx.events, event)
	tx.dirty = true
	return nil
}
