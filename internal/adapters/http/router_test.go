package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/laitim2001/freight-mapping-engine/internal/config"
	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/observability/metrics"
)

func newTestHandler(t *testing.T, cfg config.Config, services testServices) http.Handler {
	t.Helper()
	router, err := NewRouter(cfg, services.ports(), nil, metrics.NewHTTPServerMetrics("api-test"))
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return router.Handler()
}

func doJSON(handler http.Handler, method, target string, payload any) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, target, &body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeMap(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", res.Body.String(), err)
	}
	return out
}

func TestMapDocumentPassesPathIDToEveryField(t *testing.T) {
	services := newTestServices()
	handler := newTestHandler(t, testConfig(), services)

	res := doJSON(handler, http.MethodPost, "/v1/documents/doc-7/mapping", map[string]any{
		"organizationId": "org-1",
		"fields": []map[string]any{
			{"fieldName": "Ocean Freight", "rawValue": "1,250.00", "ocrConfidence": 91},
			{"fieldName": "Invoice No", "rawValue": "INV-1", "ocrConfidence": 99, "fieldHint": "invoice_number"},
		},
	})

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if services.mapper.documentID != "doc-7" || services.mapper.organizationID != "org-1" {
		t.Fatalf("unexpected call: %+v", services.mapper)
	}
	if len(services.mapper.fields) != 2 || services.mapper.fields[1].DocumentID != "doc-7" || services.mapper.fields[1].FieldHint != "invoice_number" {
		t.Fatalf("unexpected fields: %+v", services.mapper.fields)
	}
	body := decodeMap(t, res)
	routing, _ := body["routing"].(map[string]any)
	if routing["path"] != string(domain.PathQuickReview) {
		t.Fatalf("unexpected routing: %+v", body)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestSchemaValidationRejectsOutOfRangeConfidence(t *testing.T) {
	services := newTestServices()
	handler := newTestHandler(t, testConfig(), services)

	res := doJSON(handler, http.MethodPost, "/v1/documents/doc-7/mapping", map[string]any{
		"organizationId": "org-1",
		"fields":         []map[string]any{{"fieldName": "Total", "ocrConfidence": 150}},
	})

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if services.mapper.calls != 0 {
		t.Fatalf("mapper must not be called for invalid requests")
	}
}

func TestStructValidationAppliesWithoutSchema(t *testing.T) {
	services := newTestServices()
	cfg := testConfig()
	cfg.APIValidateRequest = false
	handler := newTestHandler(t, cfg, services)

	res := doJSON(handler, http.MethodPost, "/v1/rules/versions", map[string]any{
		"tier":           "GLOBAL",
		"organizationId": "org-1",
		"fieldName":      "total_amount",
		"matchPattern":   "grand total",
		"patternType":    "EXACT",
	})

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for scoped global rule, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "OrganizationID") {
		t.Fatalf("expected field name in message, got %s", res.Body.String())
	}
}

func TestRecordCorrectionReturnsCreated(t *testing.T) {
	services := newTestServices()
	handler := newTestHandler(t, testConfig(), services)

	res := doJSON(handler, http.MethodPost, "/v1/corrections", map[string]any{
		"documentId":     "doc-1",
		"fieldName":      "sea_freight",
		"correctedValue": "Ocean Freight",
		"type":           "NORMAL",
		"organizationId": "org-1",
	})

	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if services.corrections.input.Type != domain.CorrectionNormal {
		t.Fatalf("unexpected input: %+v", services.corrections.input)
	}
}

func TestCountNormalParsesWindow(t *testing.T) {
	services := newTestServices()
	handler := newTestHandler(t, testConfig(), services)

	res := doJSON(handler, http.MethodGet, "/v1/corrections/count?organizationId=org-1&fieldName=sea_freight&windowDays=7", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if services.corrections.windowDays != 7 {
		t.Fatalf("expected window 7, got %d", services.corrections.windowDays)
	}
	if decodeMap(t, res)["count"] != float64(4) {
		t.Fatalf("unexpected body: %s", res.Body.String())
	}
}

func TestDomainErrorsMapToStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid transition", domain.WrapError(domain.ErrInvalidTransition, "approve", errors.New("status REJECTED")), http.StatusConflict},
		{"not found", domain.WrapError(domain.ErrNotFound, "get suggestion", errors.New("id=missing")), http.StatusNotFound},
		{"temporary", domain.WrapError(domain.ErrTemporary, "create version", errors.New("db down")), http.StatusServiceUnavailable},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			services := newTestServices()
			services.suggestions.err = tc.err
			handler := newTestHandler(t, testConfig(), services)

			res := doJSON(handler, http.MethodPost, "/v1/suggestions/sug-1/approve", map[string]any{"reviewer": "lead@example.com"})
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
			if tc.want == http.StatusInternalServerError && strings.Contains(res.Body.String(), "boom") {
				t.Fatalf("internal error details leaked: %s", res.Body.String())
			}
		})
	}
}

func TestRollbackRejectionMapsTo422(t *testing.T) {
	services := newTestServices()
	key := domain.LineageKey{FieldName: "total_amount", Tier: domain.TierGlobal}
	services.versions.err = &domain.RollbackError{Lineage: key, TargetVersion: 9, Reason: "version does not exist"}
	handler := newTestHandler(t, testConfig(), services)

	res := doJSON(handler, http.MethodPost, "/v1/rules/rollback", map[string]any{
		"tier":          "GLOBAL",
		"fieldName":     "total_amount",
		"targetVersion": 9,
		"trigger":       "MANUAL",
	})

	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.Code, res.Body.String())
	}
	if services.versions.key != key || services.versions.target != 9 {
		t.Fatalf("unexpected rollback call: %+v", services.versions)
	}
}

func TestRollbackRejectsAutoTrigger(t *testing.T) {
	services := newTestServices()
	handler := newTestHandler(t, testConfig(), services)

	res := doJSON(handler, http.MethodPost, "/v1/rules/rollback", map[string]any{
		"tier":          "GLOBAL",
		"fieldName":     "total_amount",
		"targetVersion": 1,
		"trigger":       "AUTO",
	})

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if services.versions.trigger != "" {
		t.Fatalf("versioner must not be called")
	}
}

func TestVersionHistoryIncludesRollbacks(t *testing.T) {
	services := newTestServices()
	handler := newTestHandler(t, testConfig(), services)

	res := doJSON(handler, http.MethodGet, "/v1/rules/history?tier=ORG_SPECIFIC&organizationId=org-1&fieldName=sea_freight", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	var body versionHistoryResponse
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Versions) != 2 || len(body.Rollbacks) != 1 {
		t.Fatalf("unexpected history: %+v", body)
	}
	if services.versions.key.OrganizationID != "org-1" || services.versions.key.Tier != domain.TierOrgSpecific {
		t.Fatalf("unexpected key: %+v", services.versions.key)
	}
}

func TestEmptyListsEncodeAsArrays(t *testing.T) {
	handler := newTestHandler(t, testConfig(), newTestServices())

	res := doJSON(handler, http.MethodGet, "/v1/suggestions", nil)
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"suggestions":[]`) {
		t.Fatalf("unexpected response %d: %s", res.Code, res.Body.String())
	}

	res = doJSON(handler, http.MethodPost, "/v1/rules/evaluate", nil)
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), `"evaluations":[]`) {
		t.Fatalf("unexpected response %d: %s", res.Code, res.Body.String())
	}
}

func TestHealthAndOpenAPIBypassAPIChain(t *testing.T) {
	handler := newTestHandler(t, testConfig(), newTestServices())

	res := doJSON(handler, http.MethodGet, "/healthz", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	res = doJSON(handler, http.MethodGet, "/openapi.yaml", nil)
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "operationId: mapDocument") {
		t.Fatalf("unexpected openapi response %d", res.Code)
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	handler := newTestHandler(t, testConfig(), newTestServices())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-123")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if got := res.Header().Get(requestIDHeader); got != "req-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}
