package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

func (s *Store) Get(_ context.Context, id string) (domain.RuleSuggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sg, ok := s.suggestions[id]
	if !ok {
		return domain.RuleSuggestion{}, domain.WrapError(domain.ErrNotFound, "get suggestion", fmt.Errorf("suggestion %s", id))
	}
	return sg, nil
}

func (s *Store) List(_ context.Context, filter domain.SuggestionFilter) ([]domain.RuleSuggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RuleSuggestion, 0)
	for _, sg := range s.suggestions {
		if filter.OrganizationID != "" && sg.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.Status != "" && sg.Status != filter.Status {
			continue
		}
		out = append(out, sg)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) Transition(_ context.Context, id string, from, to domain.SuggestionStatus, patch domain.SuggestionPatch) (domain.RuleSuggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sg, ok := s.suggestions[id]
	if !ok {
		return domain.RuleSuggestion{}, domain.WrapError(domain.ErrNotFound, "transition suggestion", fmt.Errorf("suggestion %s", id))
	}
	if sg.Status != from {
		return domain.RuleSuggestion{}, domain.WrapError(domain.ErrInvalidTransition, "transition suggestion",
			fmt.Errorf("suggestion %s is %s, expected %s", id, sg.Status, from))
	}
	sg.Status = to
	if patch.ReviewedBy != "" {
		sg.ReviewedBy = patch.ReviewedBy
	}
	if patch.DecisionReason != "" {
		sg.DecisionReason = patch.DecisionReason
	}
	if patch.MergedRuleID != "" {
		sg.MergedRuleID = patch.MergedRuleID
	}
	if !patch.DecidedAt.IsZero() {
		at := patch.DecidedAt
		sg.DecidedAt = &at
	}
	s.suggestions[id] = sg
	return sg, nil
}
