package domain

import "time"

// FieldExtraction is one raw term produced by the OCR collaborator.
type FieldExtraction struct {
	DocumentID    string  `json:"documentId"`
	FieldName     string  `json:"fieldName"`
	RawValue      string  `json:"rawValue"`
	OCRConfidence float64 `json:"ocrConfidence"`
	FieldHint     string  `json:"fieldHint,omitempty"`
}

// TierMatch is the provenance of a successful resolution.
type TierMatch struct {
	FieldName       string       `json:"fieldName"`
	Tier            Tier         `json:"tier"`
	MatchConfidence float64      `json:"matchConfidence"`
	Rule            *MappingRule `json:"rule,omitempty"`
	LiteralLength   int          `json:"-"`
}

// ClassifierGuess is what a tier-3 provider returns.
type ClassifierGuess struct {
	FieldName  string  `json:"fieldName"`
	Confidence float64 `json:"confidence"`
}

type FieldMappingResult struct {
	DocumentID        string         `json:"documentId"`
	RawTerm           string         `json:"rawTerm"`
	FieldName         string         `json:"fieldName"`
	RawValue          string         `json:"rawValue"`
	ResolvedValue     string         `json:"resolvedValue"`
	MatchedRuleID     string         `json:"matchedRuleId,omitempty"`
	RuleVersion       int            `json:"ruleVersion,omitempty"`
	Tier              Tier           `json:"tier"`
	MatchConfidence   float64        `json:"matchConfidence"`
	OCRConfidence     float64        `json:"ocrConfidence"`
	HistoricalAcc     *float64       `json:"historicalAccuracy,omitempty"`
	BlendedConfidence float64        `json:"blendedConfidence"`
	Band              ConfidenceBand `json:"band"`
	ValidationError   string         `json:"validationError,omitempty"`
	AttemptedTiers    []Tier         `json:"attemptedTiers,omitempty"`
}

func (r FieldMappingResult) Unresolved() bool {
	return r.Tier == TierUnresolved
}

type ConfidenceBand string

const (
	BandHigh   ConfidenceBand = "HIGH"
	BandMedium ConfidenceBand = "MEDIUM"
	BandLow    ConfidenceBand = "LOW"
)

type RoutingPath string

const (
	PathAutoApprove    RoutingPath = "AUTO_APPROVE"
	PathQuickReview    RoutingPath = "QUICK_REVIEW"
	PathFullReview     RoutingPath = "FULL_REVIEW"
	PathManualRequired RoutingPath = "MANUAL_REQUIRED"
)

type RoutingDecision struct {
	DocumentID        string      `json:"documentId"`
	OverallConfidence float64     `json:"overallConfidence"`
	CriticalAverage   float64     `json:"criticalAverage"`
	OtherAverage      float64     `json:"otherAverage"`
	WeakCritical      int         `json:"weakCriticalFields"`
	Path              RoutingPath `json:"path"`
	Reason            string      `json:"reason"`
}

type MappingStatistics struct {
	TotalFields       int     `json:"totalFields"`
	MappedFields      int     `json:"mappedFields"`
	UnmappedFields    int     `json:"unmappedFields"`
	AverageConfidence float64 `json:"averageConfidence"`
	RulesApplied      int     `json:"rulesApplied"`
	ProcessingTimeMs  int64   `json:"processingTimeMs"`
}

// DocumentMapping is the outcome of one mapDocument run. Runs are append-only.
type DocumentMapping struct {
	RunID          string               `json:"runId"`
	DocumentID     string               `json:"documentId"`
	OrganizationID string               `json:"organizationId"`
	MappingResults []FieldMappingResult `json:"mappingResults"`
	Routing        RoutingDecision      `json:"routing"`
	Statistics     MappingStatistics    `json:"statistics"`
	CreatedAt      time.Time            `json:"createdAt"`
}

// ExtractionEvent is the queue payload emitted by the OCR pipeline.
type ExtractionEvent struct {
	DocumentID     string            `json:"documentId"`
	OrganizationID string            `json:"organizationId"`
	Fields         []FieldExtraction `json:"fields"`
}
