package llm

import (
	"fmt"

	"agentflow/pkg/config"
)

// NewClientFromConfig builds the provider client selected by cfg,
// resolving API keys through the secrets store with env fallback.
func NewClientFromConfig(cfg *config.LLM) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		key, err := config.GetSecret(config.SecretAnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		return NewClaudeClient(key, cfg.Anthropic.Model), nil

	case "openai":
		key, err := config.GetSecret(config.SecretOpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		return NewOpenAIClient(key, cfg.OpenAI.Model), nil

	case "ollama":
		return NewOllamaClient(cfg.Ollama.Host, cfg.Ollama.Model), nil

	case "gemini":
		key, err := config.GetSecret(config.SecretGeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		return NewGeminiClient(key, cfg.Gemini.Model), nil

	case "mock":
		return NewMockClient(), nil

	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
