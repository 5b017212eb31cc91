package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults. A missing file yields
// the default config rather than an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{Stream: true}
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates before stripping comments,
	// since templates live inside strings.
	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("standardize config: %w", err)
	}

	// Seed defaults that a zero value cannot express: streaming is on unless
	// the file says otherwise.
	cfg := Config{Stream: true}
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// SaveDefaultModel rewrites only the default_model field of the config file,
// leaving every other field (including unexpanded ${{ .Env }} templates)
// untouched. A missing file is created with just that field.
func SaveDefaultModel(path, model string) error {
	raw := map[string]json.RawMessage{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		std, err := hujson.Standardize(data)
		if err != nil {
			return fmt.Errorf("standardize config: %w", err)
		}
		if err := json.Unmarshal(std, &raw); err != nil {
			return fmt.Errorf("unmarshal config: %w", err)
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	default:
		return fmt.Errorf("read config: %w", err)
	}

	quoted, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("marshal model name: %w", err)
	}
	raw["default_model"] = quoted

	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ExpandEnv resolves ${{ .Env.VAR }} templates in a single value. Provider
// API keys are resolved this way at backend construction time, so default
// provider entries pick up keys exported after the config was written.
func ExpandEnv(s string) string {
	return expandEnvTemplates(s)
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = defaultProviders()
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	if cfg.QuitPolicy == "" {
		cfg.QuitPolicy = QuitFinish
	}
	if cfg.RequestTimeout.Duration() == 0 {
		cfg.RequestTimeout = Duration(90 * time.Second)
	}
	if cfg.RuntimeDir == "" {
		cfg.RuntimeDir = os.TempDir()
	}
}

// defaultProviders is the out-of-the-box registry: one entry per provider
// family, keyed by model name so the registry resolves them directly.
func defaultProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"gemini-2.0-flash": {
			Driver: "gemini",
			Model:  "gemini-2.0-flash",
			APIKey: "${{ .Env.GEMINI_API_KEY }}",
		},
		"claude-sonnet-4-0": {
			Driver: "anthropic",
			Model:  "claude-sonnet-4-0",
			APIKey: "${{ .Env.ANTHROPIC_API_KEY }}",
		},
		"gpt-4o-mini": {
			Driver: "openai",
			Model:  "gpt-4o-mini",
			APIKey: "${{ .Env.OPENAI_API_KEY }}",
		},
		"deepseek-chat": {
			Driver: "deepseek",
			Model:  "deepseek-chat",
			APIKey: "${{ .Env.DEEPSEEK_API_KEY }}",
		},
		"grok-2": {
			Driver: "xai",
			Model:  "grok-2",
			APIKey: "${{ .Env.XAI_API_KEY }}",
		},
		"qwen2.5:14b": {
			Driver: "ollama",
			Model:  "qwen2.5:14b",
		},
	}
}
