package ports

import (
	"context"
	"time"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
)

// RuleRepository reads rule lineages and their immutable versions.
type RuleRepository interface {
	ListActiveRules(ctx context.Context) ([]domain.MappingRule, error)
	ListLineages(ctx context.Context) ([]domain.RuleLineage, error)
	ListVersions(ctx context.Context, key domain.LineageKey) ([]domain.MappingRule, error)
	ListRollbackEvents(ctx context.Context, key domain.LineageKey) ([]domain.RollbackEvent, error)
}

// LineageTx is the single-writer view of one lineage inside a transaction.
// Lineage returns ErrNotFound when the lineage has never been created.
type LineageTx interface {
	Lineage(ctx context.Context) (domain.RuleLineage, error)
	Versions(ctx context.Context) ([]domain.MappingRule, error)
	// AppendVersion stores the next version and makes it the active one.
	AppendVersion(ctx context.Context, draft domain.RuleDraft) (domain.MappingRule, error)
	// Activate moves the active pointer to an existing version.
	Activate(ctx context.Context, version int) (domain.MappingRule, error)
	AppendRollbackEvent(ctx context.Context, event domain.RollbackEvent) error
}

// RuleVersionStore serializes writers per lineage. Changes made through the
// LineageTx are committed only when fn returns nil.
type RuleVersionStore interface {
	RuleRepository
	WithLineage(ctx context.Context, key domain.LineageKey, fn func(tx LineageTx) error) error
}

// CorrectionTx is the per-(organization, field) transactional view used by the
// suggestion trigger.
type CorrectionTx interface {
	InsertCorrection(ctx context.Context, c *domain.Correction) error
	CountNormal(ctx context.Context, since time.Time) (int, error)
	NormalValues(ctx context.Context, since time.Time) ([]domain.ValueFrequency, error)
	HasPendingSuggestion(ctx context.Context) (bool, error)
	LastResolvedAt(ctx context.Context) (*time.Time, error)
	InsertSuggestion(ctx context.Context, s *domain.RuleSuggestion) error
}

type CorrectionStore interface {
	WithCorrections(ctx context.Context, organizationID, fieldName string, fn func(tx CorrectionTx) error) error
	CountNormal(ctx context.Context, organizationID, fieldName string, since time.Time) (int, error)
	Stats(ctx context.Context, organizationID, fieldName string) (domain.CorrectionStats, error)
}

type SuggestionStore interface {
	Get(ctx context.Context, id string) (domain.RuleSuggestion, error)
	List(ctx context.Context, filter domain.SuggestionFilter) ([]domain.RuleSuggestion, error)
	// Transition applies the status change only when the stored status equals
	// from, and returns ErrInvalidTransition otherwise.
	Transition(ctx context.Context, id string, from, to domain.SuggestionStatus, patch domain.SuggestionPatch) (domain.RuleSuggestion, error)
}

type MappingStore interface {
	SaveDocumentMapping(ctx context.Context, mapping *domain.DocumentMapping) error
	LatestFieldResult(ctx context.Context, documentID, fieldName string) (*domain.FieldMappingResult, error)
}

// AccuracySource is the historical-accuracy collaborator.
type AccuracySource interface {
	// HistoricalAccuracy returns nil when fewer than minObservations results exist.
	HistoricalAccuracy(ctx context.Context, organizationID, fieldName string, since time.Time, minObservations int) (*float64, error)
	VersionAccuracy(ctx context.Context, ruleID string) (domain.AccuracySample, error)
}

// RuleSource provides the immutable active-rule snapshot used by resolution.
type RuleSource interface {
	Snapshot() RuleSnapshot
	Refresh(ctx context.Context) error
}

// RuleSnapshot is read concurrently and never mutated after publication.
type RuleSnapshot interface {
	Rules(tier domain.Tier, organizationID string) []domain.MappingRule
	FieldNames() []string
}

// TermClassifier is the tier-3 probabilistic fallback.
type TermClassifier interface {
	Classify(ctx context.Context, term string, candidates []string, fieldHint string) (domain.ClassifierGuess, error)
}

// ReviewerNotifier delivers pending-suggestion notices. Delivery is best effort.
type ReviewerNotifier interface {
	Notify(ctx context.Context, recipients []string, suggestion domain.RuleSuggestion) error
}

// ExtractionQueue delivers OCR extraction events to the mapping pipeline.
type ExtractionQueue interface {
	PublishExtraction(ctx context.Context, event domain.ExtractionEvent) error
	SubscribeExtractions(ctx context.Context, handler func(context.Context, domain.ExtractionEvent) error) error
}

// EngineMetrics receives engine events. Implementations must be safe for
// concurrent use.
type EngineMetrics interface {
	ObserveDocument(path domain.RoutingPath, duration time.Duration)
	ObserveResolution(tier domain.Tier)
	IncInvalidPattern()
	IncClassifierTimeout()
	IncSuggestionCreated()
	IncSuggestionDecision(status domain.SuggestionStatus)
	IncRollback(trigger domain.RollbackTrigger)
}

type NoopMetrics struct{}

func (NoopMetrics) ObserveDocument(domain.RoutingPath, time.Duration) {}
func (NoopMetrics) ObserveResolution(domain.Tier)                     {}
func (NoopMetrics) IncInvalidPattern()                                {}
func (NoopMetrics) IncClassifierTimeout()                             {}
func (NoopMetrics) IncSuggestionCreated()                             {}
func (NoopMetrics) IncSuggestionDecision(domain.SuggestionStatus)     {}
func (NoopMetrics) IncRollback(domain.RollbackTrigger)                {}
