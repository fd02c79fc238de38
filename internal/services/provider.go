package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jwebster45206/pbem-engine/internal/config"
)

var defaultModels = map[string]string{
	"anthropic": "claude-sonnet-4-5",
	"openai":    "gpt-4o-mini",
	"gemini":    "gemini-2.5-flash",
	"ollama":    "llama3.1",
	"mock":      "mock",
}

// NewFromConfig builds the configured provider wrapped in the timeout
// decorator
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (LLMService, error) {
	model := cfg.ModelName
	if model == "" {
		model = defaultModels[cfg.LLMProvider]
	}

	var llm LLMService
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		llm = NewAnthropicService(cfg.AnthropicAPIKey, model, logger)
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		llm = NewOpenAIService(cfg.OpenAIAPIKey, model, cfg.OpenAIBaseURL, logger)
	case "gemini":
		g, err := NewGeminiService(ctx, cfg.GeminiAPIKey, model, "", logger)
		if err != nil {
			return nil, err
		}
		llm = g
	case "ollama":
		o := NewOllamaService(cfg.OllamaBaseURL, model, logger)
		if err := o.EnsureModel(ctx); err != nil {
			return nil, err
		}
		llm = o
	case "mock":
		llm = NewMockLLM()
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	logger.Info("LLM provider configured", "provider", cfg.LLMProvider, "model", model, "timeout", cfg.LLMTimeout)
	return WithTimeout(llm, cfg.LLMTimeout, logger), nil
}
