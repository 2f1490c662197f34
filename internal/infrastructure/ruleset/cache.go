package ruleset

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

// Loader reads the currently active rules.
type Loader interface {
	ListActiveRules(ctx context.Context) ([]domain.MappingRule, error)
}

type scopeKey struct {
	tier           domain.Tier
	organizationID string
}

// Snapshot is an immutable index of active rules by tier and organization.
type Snapshot struct {
	byScope  map[scopeKey][]domain.MappingRule
	fields   []string
	loadedAt time.Time
}

func NewSnapshot(rules []domain.MappingRule, loadedAt time.Time) *Snapshot {
	s := &Snapshot{byScope: make(map[scopeKey][]domain.MappingRule), loadedAt: loadedAt}
	seen := make(map[string]struct{})
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		key := scopeKey{tier: rule.Tier, organizationID: rule.OrganizationID}
		s.byScope[key] = append(s.byScope[key], rule)
		if _, ok := seen[rule.FieldName]; !ok {
			seen[rule.FieldName] = struct{}{}
			s.fields = append(s.fields, rule.FieldName)
		}
	}
	for key := range s.byScope {
		list := s.byScope[key]
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	sort.Strings(s.fields)
	return s
}

// Rules returns the active rules of a tier. The slice must not be modified.
func (s *Snapshot) Rules(tier domain.Tier, organizationID string) []domain.MappingRule {
	if tier == domain.TierGlobal {
		organizationID = ""
	}
	return s.byScope[scopeKey{tier: tier, organizationID: organizationID}]
}

func (s *Snapshot) FieldNames() []string {
	return s.fields
}

func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

func (s *Snapshot) Size() int {
	n := 0
	for _, rules := range s.byScope {
		n += len(rules)
	}
	return n
}

// Cache publishes rule snapshots with an atomic pointer swap so resolution
// never waits for a refresh or a version transition.
type Cache struct {
	loader  Loader
	logger  *slog.Logger
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex
	now     func() time.Time
}

func NewCache(loader Loader, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{loader: loader, logger: logger, now: time.Now}
	c.current.Store(NewSnapshot(nil, time.Time{}))
	return c
}

func (c *Cache) Snapshot() ports.RuleSnapshot {
	return c.current.Load()
}

// Size reports the number of active rules in the current snapshot.
func (c *Cache) Size() int {
	return c.current.Load().Size()
}

// Refresh reloads active rules. Refreshes are serialized so an older load can
// never replace a newer one.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rules, err := c.loader.ListActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("load active rules: %w", err)
	}
	next := NewSnapshot(rules, c.now().UTC())
	c.current.Store(next)
	c.logger.Debug("rule_cache_refreshed", "rules", next.Size())
	return nil
}
