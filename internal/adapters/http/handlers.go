package httpadapter

import (
	"net/http"
	"strings"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
)

type fieldExtractionRequest struct {
	FieldName     string  `json:"fieldName" validate:"required"`
	RawValue      string  `json:"rawValue"`
	OCRConfidence float64 `json:"ocrConfidence" validate:"gte=0,lte=100"`
	FieldHint     string  `json:"fieldHint"`
}

type mapDocumentRequest struct {
	OrganizationID string                   `json:"organizationId" validate:"required"`
	Fields         []fieldExtractionRequest `json:"fields" validate:"dive"`
}

type correctionRequest struct {
	DocumentID     string `json:"documentId" validate:"required"`
	FieldName      string `json:"fieldName" validate:"required"`
	CorrectedValue string `json:"correctedValue"`
	Type           string `json:"type" validate:"required,oneof=NORMAL EXCEPTION"`
	OrganizationID string `json:"organizationId" validate:"required"`
}

type approveRequest struct {
	Reviewer string `json:"reviewer" validate:"required"`
}

type rejectRequest struct {
	Reviewer string `json:"reviewer" validate:"required"`
	Reason   string `json:"reason"`
}

type lineageRequest struct {
	Tier           string `json:"tier" validate:"required,oneof=GLOBAL ORG_SPECIFIC"`
	OrganizationID string `json:"organizationId" validate:"required_if=Tier ORG_SPECIFIC,excluded_if=Tier GLOBAL"`
	FieldName      string `json:"fieldName" validate:"required"`
}

func (l lineageRequest) key() domain.LineageKey {
	return domain.LineageKey{
		OrganizationID: strings.TrimSpace(l.OrganizationID),
		FieldName:      strings.TrimSpace(l.FieldName),
		Tier:           domain.Tier(l.Tier),
	}
}

type createVersionRequest struct {
	lineageRequest
	MatchPattern      string  `json:"matchPattern" validate:"required"`
	PatternType       string  `json:"patternType" validate:"required,oneof=EXACT REGEX KEYWORD"`
	Priority          int     `json:"priority"`
	ConfidenceBoost   float64 `json:"confidenceBoost"`
	ValidationPattern string  `json:"validationPattern"`
	Reason            string  `json:"reason"`
}

type rollbackRequest struct {
	lineageRequest
	TargetVersion int    `json:"targetVersion" validate:"required,gte=1"`
	Trigger       string `json:"trigger" validate:"required,oneof=MANUAL EMERGENCY"`
	Reason        string `json:"reason"`
}

type versionHistoryResponse struct {
	Lineage   domain.LineageKey       `json:"lineage"`
	Versions  []domain.VersionSummary `json:"versions"`
	Rollbacks []domain.RollbackEvent  `json:"rollbacks"`
}

func (rt *Router) mapDocument(w http.ResponseWriter, r *http.Request) {
	var req mapDocumentRequest
	if !rt.decodeBody(w, r, &req) {
		return
	}

	documentID := r.PathValue("documentId")
	fields := make([]domain.FieldExtraction, 0, len(req.Fields))
	for _, f := range req.Fields {
		fields = append(fields, domain.FieldExtraction{
			DocumentID:    documentID,
			FieldName:     f.FieldName,
			RawValue:      f.RawValue,
			OCRConfidence: f.OCRConfidence,
			FieldHint:     f.FieldHint,
		})
	}

	mapping, err := rt.services.Mapper.MapDocument(r.Context(), documentID, req.OrganizationID, fields)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

func (rt *Router) recordCorrection(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if !rt.decodeBody(w, r, &req) {
		return
	}

	correction, err := rt.services.Corrections.RecordCorrection(r.Context(), ports.CorrectionInput{
		DocumentID:     req.DocumentID,
		FieldName:      req.FieldName,
		CorrectedValue: req.CorrectedValue,
		Type:           domain.CorrectionType(req.Type),
		OrganizationID: req.OrganizationID,
	})
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, correction)
}

func (rt *Router) correctionStats(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	stats, err := rt.services.Corrections.StatsFor(r.Context(), query.Get("organizationId"), query.Get("fieldName"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) countNormalCorrections(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	windowDays, err := queryInt(r, "windowDays", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	count, err := rt.services.Corrections.CountNormal(r.Context(), query.Get("organizationId"), query.Get("fieldName"), windowDays)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"organizationId": query.Get("organizationId"),
		"fieldName":      query.Get("fieldName"),
		"windowDays":     windowDays,
		"count":          count,
	})
}

func (rt *Router) listPendingSuggestions(w http.ResponseWriter, r *http.Request) {
	items, err := rt.services.Suggestions.ListPendingSuggestions(r.Context(), r.URL.Query().Get("organizationId"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.RuleSuggestion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": items})
}

func (rt *Router) approveSuggestion(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !rt.decodeBody(w, r, &req) {
		return
	}

	rule, err := rt.services.Suggestions.ApproveSuggestion(r.Context(), r.PathValue("id"), req.Reviewer)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (rt *Router) rejectSuggestion(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !rt.decodeBody(w, r, &req) {
		return
	}

	suggestion, err := rt.services.Suggestions.RejectSuggestion(r.Context(), r.PathValue("id"), req.Reviewer, req.Reason)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

func (rt *Router) createRuleVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if !rt.decodeBody(w, r, &req) {
		return
	}

	rule, err := rt.services.Versions.CreateVersion(r.Context(), req.key(), domain.RuleDraft{
		MatchPattern:      req.MatchPattern,
		PatternType:       domain.PatternType(req.PatternType),
		Priority:          req.Priority,
		ConfidenceBoost:   req.ConfidenceBoost,
		ValidationPattern: req.ValidationPattern,
		Reason:            req.Reason,
	})
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (rt *Router) rollbackRule(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if !rt.decodeBody(w, r, &req) {
		return
	}

	event, err := rt.services.Versions.RollbackRule(r.Context(), req.key(), req.TargetVersion, domain.RollbackTrigger(req.Trigger), req.Reason)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (rt *Router) versionHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	tier, err := domain.ParseTier(query.Get("tier"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	key := domain.LineageKey{
		OrganizationID: strings.TrimSpace(query.Get("organizationId")),
		FieldName:      strings.TrimSpace(query.Get("fieldName")),
		Tier:           tier,
	}

	versions, err := rt.services.Versions.GetVersionHistory(r.Context(), key)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	rollbacks, err := rt.services.Versions.ListRollbackEvents(r.Context(), key)
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if rollbacks == nil {
		rollbacks = []domain.RollbackEvent{}
	}
	writeJSON(w, http.StatusOK, versionHistoryResponse{Lineage: key, Versions: versions, Rollbacks: rollbacks})
}

func (rt *Router) evaluateRules(w http.ResponseWriter, r *http.Request) {
	report, err := rt.services.Versions.EvaluateAll(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	if report == nil {
		report = []domain.LineageEvaluation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluations": report})
}
