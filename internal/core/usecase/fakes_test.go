package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type snapshotFake struct {
	rules []domain.MappingRule
}

func (s snapshotFake) Rules(tier domain.Tier, organizationID string) []domain.MappingRule {
	out := make([]domain.MappingRule, 0)
	for _, r := range s.rules {
		if r.Tier == tier && r.OrganizationID == organizationID && r.IsActive {
			out = append(out, r)
		}
	}
	return out
}

func (s snapshotFake) FieldNames() []string {
	out := make([]string, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.FieldName)
	}
	return out
}

type ruleSourceFake struct {
	mu       sync.Mutex
	snapshot snapshotFake
	refresh  int
}

func newRuleSource(rules ...domain.MappingRule) *ruleSourceFake {
	for i := range rules {
		rules[i].IsActive = true
	}
	return &ruleSourceFake{snapshot: snapshotFake{rules: rules}}
}

func (f *ruleSourceFake) Snapshot() ports.RuleSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *ruleSourceFake) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh++
	return nil
}

type classifierFake struct {
	mu    sync.Mutex
	guess domain.ClassifierGuess
	err   error
	delay time.Duration
	calls int
	seen  []string
}

func (f *classifierFake) Classify(ctx context.Context, _ string, candidates []string, _ string) (domain.ClassifierGuess, error) {
	f.mu.Lock()
	f.calls++
	f.seen = candidates
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.ClassifierGuess{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.ClassifierGuess{}, f.err
	}
	return f.guess, nil
}

type metricsSpy struct {
	mu                 sync.Mutex
	documents          map[domain.RoutingPath]int
	resolutions        map[domain.Tier]int
	invalidPatterns    int
	classifierTimeouts int
	suggestions        int
	decisions          map[domain.SuggestionStatus]int
	rollbacks          map[domain.RollbackTrigger]int
}

func newMetricsSpy() *metricsSpy {
	return &metricsSpy{
		documents:   make(map[domain.RoutingPath]int),
		resolutions: make(map[domain.Tier]int),
		decisions:   make(map[domain.SuggestionStatus]int),
		rollbacks:   make(map[domain.RollbackTrigger]int),
	}
}

func (m *metricsSpy) ObserveDocument(path domain.RoutingPath, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[path]++
}

func (m *metricsSpy) ObserveResolution(tier domain.Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions[tier]++
}

func (m *metricsSpy) IncInvalidPattern() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidPatterns++
}

func (m *metricsSpy) IncClassifierTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classifierTimeouts++
}

func (m *metricsSpy) IncSuggestionCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suggestions++
}

func (m *metricsSpy) IncSuggestionDecision(status domain.SuggestionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[status]++
}

func (m *metricsSpy) IncRollback(trigger domain.RollbackTrigger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks[trigger]++
}

type notifierFake struct {
	mu         sync.Mutex
	err        error
	recipients []string
	sent       []domain.RuleSuggestion
}

func (f *notifierFake) Notify(_ context.Context, recipients []string, suggestion domain.RuleSuggestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recipients = recipients
	f.sent = append(f.sent, suggestion)
	return f.err
}

// stepClock returns a monotonically increasing time on each call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(start time.Time) *stepClock {
	return &stepClock{now: start, step: time.Second}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func floatPtr(v float64) *float64 {
	return &v
}
