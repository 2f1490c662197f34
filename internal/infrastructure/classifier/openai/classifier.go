package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/classifier"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/resilience"
)

const systemPrompt = "You are a precise freight invoice field mapper. Answer with JSON only."

// Classifier uses any OpenAI-compatible chat completion endpoint.
type Classifier struct {
	client   *goopenai.Client
	model    string
	executor *resilience.Executor
}

func New(baseURL, apiKey, model string, executor *resilience.Executor) *Classifier {
	cfg := goopenai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = goopenai.GPT4oMini
	}
	return &Classifier{client: goopenai.NewClientWithConfig(cfg), model: model, executor: executor}
}

func (c *Classifier) Classify(ctx context.Context, term string, candidates []string, fieldHint string) (domain.ClassifierGuess, error) {
	req := goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: classifier.BuildPrompt(term, candidates, fieldHint)},
		},
		Temperature:    0,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject},
	}

	call := func(ctx context.Context) (goopenai.ChatCompletionResponse, error) {
		return c.client.CreateChatCompletion(ctx, req)
	}
	var (
		resp goopenai.ChatCompletionResponse
		err  error
	)
	if c.executor == nil {
		resp, err = call(ctx)
	} else {
		resp, err = resilience.Call(ctx, c.executor, "openai.chat_completion", call, classifyOpenAIError)
	}
	if err != nil {
		return domain.ClassifierGuess{}, resilience.WrapTemporary("openai classify", err, classifyOpenAIError)
	}
	if len(resp.Choices) == 0 {
		return domain.ClassifierGuess{}, fmt.Errorf("openai classify: no choices returned")
	}
	return classifier.ParseGuess(resp.Choices[0].Message.Content, candidates)
}

func classifyOpenAIError(err error) resilience.ErrorClassification {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		retryable := resilience.RetryableStatus(apiErr.HTTPStatusCode)
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		retryable := resilience.RetryableStatus(reqErr.HTTPStatusCode)
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable}
	}
	return resilience.ClassifyNetwork(err)
}
