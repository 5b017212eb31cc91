package backend

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/leware/parley/internal/config"
)

// Base URLs for OpenAI-compatible providers.
const (
	openAIBaseURL   = "https://api.openai.com/v1"
	deepSeekBaseURL = "https://api.deepseek.com/v1"
	xaiBaseURL      = "https://api.x.ai/v1"
	ollamaBaseURL   = "http://localhost:11434/v1"
)

// newBackend creates a Backend from a provider config.
func newBackend(ctx context.Context, cfg config.ProviderConfig) (Backend, error) {
	switch strings.ToLower(cfg.Driver) {
	case "anthropic":
		return newAnthropic(cfg)
	case "gemini", "google":
		return newGemini(ctx, cfg)
	case "openai":
		return newOpenAICompatible("openai", cfg, openAIBaseURL, "OPENAI_API_KEY"), nil
	case "deepseek":
		return newOpenAICompatible("deepseek", cfg, deepSeekBaseURL, "DEEPSEEK_API_KEY"), nil
	case "xai":
		return newOpenAICompatible("xai", cfg, xaiBaseURL, "XAI_API_KEY"), nil
	case "ollama":
		return newOpenAICompatible("ollama", cfg, ollamaBaseURL, ""), nil
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}
}

// resolveAPIKey expands ${{ .Env }} templates in the configured key and falls
// back to the provider's conventional environment variable.
func resolveAPIKey(cfg config.ProviderConfig, envVar string) string {
	if key := config.ExpandEnv(cfg.APIKey); key != "" {
		return key
	}
	if envVar != "" {
		return os.Getenv(envVar)
	}
	return ""
}
