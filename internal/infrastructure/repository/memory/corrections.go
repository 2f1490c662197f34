package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

func (s *Store) WithCorrections(ctx context.Context, organizationID, fieldName string, fn func(tx ports.CorrectionTx) error) error {
	unlock := s.locks.lock("corrections:" + organizationID + "/" + fieldName)
	defer unlock()

	tx := &correctionTx{store: s, organizationID: organizationID, fieldName: fieldName}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sg := range tx.suggestions {
		if s.hasPendingLocked(sg.OrganizationID, sg.FieldName) {
			return domain.WrapError(domain.ErrDuplicateSuggestion, "commit corrections", fmt.Errorf("%s/%s", sg.OrganizationID, sg.FieldName))
		}
	}
	s.corrections = append(s.corrections, tx.corrections...)
	for _, sg := range tx.suggestions {
		s.suggestions[sg.ID] = sg
	}
	return nil
}

func (s *Store) CountNormal(_ context.Context, organizationID, fieldName string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countNormal(s.corrections, organizationID, fieldName, since), nil
}

func (s *Store) Stats(_ context.Context, organizationID, fieldName string) (domain.CorrectionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.CorrectionStats{OrganizationID: organizationID, FieldName: fieldName}
	for _, c := range s.corrections {
		if c.OrganizationID != organizationID || c.FieldName != fieldName {
			continue
		}
		stats.Total++
		switch c.Type {
		case domain.CorrectionNormal:
			stats.NormalCount++
		case domain.CorrectionException:
			stats.ExceptionCount++
		}
	}
	return stats, nil
}

func (s *Store) hasPendingLocked(organizationID, fieldName string) bool {
	for _, sg := range s.suggestions {
		if sg.OrganizationID == organizationID && sg.FieldName == fieldName && sg.Status == domain.SuggestionPending {
			return true
		}
	}
	return false
}

func countNormal(corrections []domain.Correction, organizationID, fieldName string, since time.Time) int {
	n := 0
	for _, c := range corrections {
		if c.OrganizationID == organizationID && c.FieldName == fieldName &&
			c.Type == domain.CorrectionNormal && c.CreatedAt.After(since) {
			n++
		}
	}
	return n
}

type correctionTx struct {
	store          *Store
	organizationID string
	fieldName      string
	corrections    []domain.Correction
	suggestions    []domain.RuleSuggestion
}

func (tx *correctionTx) InsertCorrection(_ context.Context, c *domain.Correction) error {
	if c.OrganizationID != tx.organizationID || c.FieldName != tx.fieldName {
		return domain.WrapError(domain.ErrInvalidInput, "insert correction", fmt.Errorf("correction outside of %s/%s", tx.organizationID, tx.fieldName))
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	tx.corrections = append(tx.corrections, *c)
	return nil
}

func (tx *correctionTx) CountNormal(_ context.Context, since time.Time) (int, error) {
	tx.store.mu.RLock()
	n := countNormal(tx.store.corrections, tx.organizationID, tx.fieldName, since)
	tx.store.mu.RUnlock()
	return n + countNormal(tx.corrections, tx.organizationID, tx.fieldName, since), nil
}

func (tx *correctionTx) NormalValues(_ context.Context, since time.Time) ([]domain.ValueFrequency, error) {
	counts := make(map[string]int)
	collect := func(list []domain.Correction) {
		for _, c := range list {
			if c.OrganizationID == tx.organizationID && c.FieldName == tx.fieldName &&
				c.Type == domain.CorrectionNormal && c.CreatedAt.After(since) {
				counts[strings.ToLower(strings.TrimSpace(c.CorrectedValue))]++
			}
		}
	}
	tx.store.mu.RLock()
	collect(tx.store.corrections)
	tx.store.mu.RUnlock()
	collect(tx.corrections)

	out := make([]domain.ValueFrequency, 0, len(counts))
	for value, count := range counts {
		out = append(out, domain.ValueFrequency{Value: value, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

func (tx *correctionTx) HasPendingSuggestion(context.Context) (bool, error) {
	if len(tx.suggestions) > 0 {
		return true, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.hasPendingLocked(tx.organizationID, tx.fieldName), nil
}

func (tx *correctionTx) LastResolvedAt(context.Context) (*time.Time, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	var last *time.Time
	for _, sg := range tx.store.suggestions {
		if sg.OrganizationID != tx.organizationID || sg.FieldName != tx.fieldName {
			continue
		}
		if sg.Status == domain.SuggestionPending || sg.DecidedAt == nil {
			continue
		}
		if last == nil || sg.DecidedAt.After(*last) {
			at := *sg.DecidedAt
			last = &at
		}
	}
	return last, nil
}

func (tx *correctionTx) InsertSuggestion(ctx context.Context, sg *domain.RuleSuggestion) error {
	pending, err := tx.HasPendingSuggestion(ctx)
	if err != nil {
		return err
	}
	if pending {
		return domain.WrapError(domain.ErrDuplicateSuggestion, "insert suggestion", fmt.Errorf("%s/%s", sg.OrganizationID, sg.FieldName))
	}
	if sg.ID == "" {
		sg.ID = uuid.NewString()
	}
	tx.suggestions = append(tx.suggestions, *sg)
	return nil
}
