package providers

import (
	"fmt"

	"github.com/ikamba/ikamba-agent/pkg/config"
)

// NewFromConfig picks the configured provider implementation.
func NewFromConfig(cfg *config.Config) (LLMProvider, error) {
	switch cfg.Agent.Provider {
	case "openai", "":
		if cfg.Providers.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider selected but no API key configured")
		}
		return NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase), nil
	case "anthropic":
		if cfg.Providers.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider selected but no API key configured")
		}
		return NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.APIBase), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Agent.Provider)
	}
}
