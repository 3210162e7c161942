package llm

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/x-cli-team/x-cli-sub003/internal/config"
)

// ProviderNames lists the providers NewProvider understands.
var ProviderNames = []string{"anthropic", "openai", "gemini"}

// NewProvider creates the configured provider wrapped with retry and
// circuit-breaker protection.
func NewProvider(cfg *config.Config, logger *slog.Logger) (Provider, error) {
	base, err := newBaseProvider(cfg)
	if err != nil {
		return nil, err
	}
	retryCfg := RetryConfig{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BaseBackoff,
		MaxBackoff:  cfg.Retry.MaxBackoff,
	}
	breakerCfg := BreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		Timeout:     cfg.Breaker.Timeout,
	}
	return WrapWithBreaker(WrapWithRetry(base, retryCfg), breakerCfg, logger), nil
}

func newBaseProvider(cfg *config.Config) (Provider, error) {
	active, err := cfg.Active()
	if err != nil {
		return nil, err
	}
	if active.APIKey == "" && active.BaseURL == "" {
		return nil, fmt.Errorf("%s: no API key configured (set api_key or %s)", cfg.Provider, apiKeyEnv(cfg.Provider))
	}
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return NewAnthropicProvider(active.APIKey, active.BaseURL, active.Model, cfg.MaxTokens), nil
	case "openai":
		return NewOpenAIProvider(active.APIKey, active.BaseURL, active.Model, cfg.MaxTokens), nil
	case "gemini":
		return NewGeminiProvider(active.APIKey, active.BaseURL, active.Model, cfg.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s (valid: %s)", cfg.Provider, strings.Join(ProviderNames, ", "))
	}
}

func apiKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}
