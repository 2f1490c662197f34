// Package memory keeps engine state in process. Writers are serialized per
// lineage and staged changes become visible only when the callback succeeds.
package memory

import (
	"sync"
	"time"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

type Store struct {
	mu sync.RWMutex

	lineages    map[domain.LineageKey]domain.RuleLineage
	versions    map[domain.LineageKey][]domain.MappingRule
	events      map[domain.LineageKey][]domain.RollbackEvent
	corrections []domain.Correction
	suggestions map[string]domain.RuleSuggestion
	runs        []domain.DocumentMapping

	locks keyedMutex
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{
		lineages:    make(map[domain.LineageKey]domain.RuleLineage),
		versions:    make(map[domain.LineageKey][]domain.MappingRule),
		events:      make(map[domain.LineageKey][]domain.RollbackEvent),
		suggestions: make(map[string]domain.RuleSuggestion),
		locks:       keyedMutex{locks: make(map[string]*sync.Mutex)},
		now:         time.Now,
	}
}

// keyedMutex hands out one mutex per key. Entries are never evicted; the key
// space is bounded by the number of lineages.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
