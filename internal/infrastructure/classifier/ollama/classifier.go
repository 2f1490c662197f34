package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/classifier"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/resilience"
)

// Classifier asks a local Ollama model to pick the canonical field.
type Classifier struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, model string, executor *resilience.Executor) *Classifier {
	return &Classifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   executor,
	}
}

func (c *Classifier) Classify(ctx context.Context, term string, candidates []string, fieldHint string) (domain.ClassifierGuess, error) {
	request := map[string]any{
		"model":  c.model,
		"prompt": classifier.BuildPrompt(term, candidates, fieldHint),
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": 0,
		},
	}

	text, err := c.generate(ctx, request)
	if err != nil {
		return domain.ClassifierGuess{}, resilience.WrapTemporary("ollama classify", err, resilience.ClassifyNetwork)
	}
	return classifier.ParseGuess(text, candidates)
}

func (c *Classifier) generate(ctx context.Context, request map[string]any) (string, error) {
	call := func(ctx context.Context) (string, error) {
		var response struct {
			Response string `json:"response"`
		}
		if err := c.postJSON(ctx, "/api/generate", request, &response, "generate"); err != nil {
			return "", err
		}
		return strings.TrimSpace(response.Response), nil
	}
	if c.executor == nil {
		return call(ctx)
	}
	return resilience.Call(ctx, c.executor, "ollama.generate", call, resilience.ClassifyNetwork)
}

func (c *Classifier) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.StatusError{
			Service:    "ollama",
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(msg),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
