package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

func (s *Store) SaveDocumentMapping(_ context.Context, mapping *domain.DocumentMapping) error {
	if mapping == nil {
		return domain.WrapError(domain.ErrInvalidInput, "save document mapping", fmt.Errorf("mapping is nil"))
	}
	run := *mapping
	run.MappingResults = append([]domain.FieldMappingResult(nil), mapping.MappingResults...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *Store) LatestFieldResult(_ context.Context, documentID, fieldName string) (*domain.FieldMappingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.runs) - 1; i >= 0; i-- {
		run := s.runs[i]
		if run.DocumentID != documentID {
			continue
		}
		for _, r := range run.MappingResults {
			if r.FieldName == fieldName && !r.Unresolved() {
				out := r
				return &out, nil
			}
		}
	}
	return nil, domain.WrapError(domain.ErrNotFound, "latest field result", fmt.Errorf("%s/%s", documentID, fieldName))
}

func (s *Store) HistoricalAccuracy(_ context.Context, organizationID, fieldName string, since time.Time, minObservations int) (*float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sample := s.sampleLocked(func(run domain.DocumentMapping, r domain.FieldMappingResult) bool {
		return run.OrganizationID == organizationID && run.CreatedAt.After(since) && r.FieldName == fieldName && !r.Unresolved()
	})
	if sample.Total == 0 || sample.Total < minObservations {
		return nil, nil
	}
	return sample.Accuracy(), nil
}

func (s *Store) VersionAccuracy(_ context.Context, ruleID string) (domain.AccuracySample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sampleLocked(func(_ domain.DocumentMapping, r domain.FieldMappingResult) bool {
		return r.MatchedRuleID == ruleID
	}), nil
}

// sampleLocked counts results of the latest run per document that satisfy
// keep, and how many of them received a NORMAL correction after the run.
func (s *Store) sampleLocked(keep func(domain.DocumentMapping, domain.FieldMappingResult) bool) domain.AccuracySample {
	latest := make(map[string]int, len(s.runs))
	for i, run := range s.runs {
		if prev, ok := latest[run.DocumentID]; !ok || !run.CreatedAt.Before(s.runs[prev].CreatedAt) {
			latest[run.DocumentID] = i
		}
	}

	var sample domain.AccuracySample
	for _, idx := range latest {
		run := s.runs[idx]
		counted := make(map[string]struct{})
		for _, r := range run.MappingResults {
			if !keep(run, r) {
				continue
			}
			if _, dup := counted[r.FieldName]; dup {
				continue
			}
			counted[r.FieldName] = struct{}{}
			sample.Total++
			if s.correctedLocked(run.DocumentID, r.FieldName, run.CreatedAt) {
				sample.Corrected++
			}
		}
	}
	return sample
}

func (s *Store) correctedLocked(documentID, fieldName string, after time.Time) bool {
	for _, c := range s.corrections {
		if c.DocumentID == documentID && c.FieldName == fieldName &&
			c.Type == domain.CorrectionNormal && !c.CreatedAt.Before(after) {
			return true
		}
	}
	return false
}
