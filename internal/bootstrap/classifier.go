package bootstrap

import (
	"fmt"

	"github.com/laitim2001/freight-mapping-engine/internal/config"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/classifier/keyword"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/classifier/ollama"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/classifier/openai"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/resilience"
)

// newClassifier returns the tier-3 provider, or nil when tier 3 is disabled.
func newClassifier(cfg config.Config, executor *resilience.Executor) (ports.TermClassifier, error) {
	switch cfg.ClassifierProvider {
	case "none", "off", "":
		return nil, nil
	case "keyword":
		return keyword.New(keyword.NewStemmer("english"), keyword.DefaultAliases), nil
	case "ollama":
		return ollama.New(cfg.OllamaURL, cfg.OllamaModel, executor), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("openai classifier requires OPENAI_API_KEY or OPENAI_BASE_URL")
		}
		return openai.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, executor), nil
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.ClassifierProvider)
	}
}
