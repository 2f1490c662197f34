package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/laitim2001/freight-mapping-engine/internal/config"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
	"github.com/laitim2001/freight-mapping-engine/internal/observability/metrics"
)

const (
	serviceName  = "api"
	maxBodyBytes = 4 << 20
)

// Services groups the inbound ports exposed over HTTP.
type Services struct {
	Mapper      ports.DocumentMapper
	Corrections ports.CorrectionRecorder
	Suggestions ports.SuggestionReviewer
	Versions    ports.RuleVersioner
}

type Router struct {
	cfg      config.Config
	services Services
	logger   *slog.Logger
	metrics  *metrics.HTTPServerMetrics
	validate *validator.Validate
	schema   *requestValidator
}

func NewRouter(cfg config.Config, services Services, logger *slog.Logger, httpMetrics *metrics.HTTPServerMetrics) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Router{
		cfg:      cfg,
		services: services,
		logger:   logger,
		metrics:  httpMetrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	if cfg.APIValidateRequest {
		schema, err := newRequestValidator()
		if err != nil {
			return nil, err
		}
		rt.schema = schema
	}
	return rt, nil
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/documents/{documentId}/mapping", rt.mapDocument)
	api.HandleFunc("POST /v1/corrections", rt.recordCorrection)
	api.HandleFunc("GET /v1/corrections/stats", rt.correctionStats)
	api.HandleFunc("GET /v1/corrections/count", rt.countNormalCorrections)
	api.HandleFunc("GET /v1/suggestions", rt.listPendingSuggestions)
	api.HandleFunc("POST /v1/suggestions/{id}/approve", rt.approveSuggestion)
	api.HandleFunc("POST /v1/suggestions/{id}/reject", rt.rejectSuggestion)
	api.HandleFunc("POST /v1/rules/versions", rt.createRuleVersion)
	api.HandleFunc("POST /v1/rules/rollback", rt.rollbackRule)
	api.HandleFunc("GET /v1/rules/history", rt.versionHistory)
	api.HandleFunc("POST /v1/rules/evaluate", rt.evaluateRules)

	var apiHandler http.Handler = api
	if rt.schema != nil {
		apiHandler = rt.schema.middleware(apiHandler)
	}
	apiHandler = backpressureMiddleware(apiHandler, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	apiHandler = rateLimitMiddleware(apiHandler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.onRateLimited)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", rt.healthz)
	root.HandleFunc("GET /openapi.yaml", rt.openAPI)
	if rt.metrics != nil {
		root.Handle("GET /metrics", rt.metrics.Handler())
	}
	root.Handle("/v1/", apiHandler)

	var handler http.Handler = root
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = recoverMiddleware(rt.logger, handler)
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) onRateLimited() {
	if rt.metrics != nil {
		rt.metrics.RecordRateLimited(serviceName)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(OpenAPIDocument())
}

// decodeBody reads a JSON body into dst and validates its struct tags.
func (rt *Router) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := rt.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
