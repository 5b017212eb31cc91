package config

import "time"

// Config is the root configuration for parley.
type Config struct {
	DefaultModel   string                    `json:"default_model"`
	Stream         bool                      `json:"stream"`
	SystemPrompt   string                    `json:"system_prompt,omitempty"`
	QuitPolicy     string                    `json:"quit_policy,omitempty"` // "finish" or "cancel"
	RequestTimeout Duration                  `json:"request_timeout,omitempty"`
	RuntimeDir     string                    `json:"runtime_dir,omitempty"` // busy markers + mic transcript
	MicCommand     string                    `json:"mic_command,omitempty"` // external recorder, run by /mic
	Providers      map[string]ProviderConfig `json:"providers"`
}

// Quit policies for an exchange still in flight when /quit arrives.
const (
	QuitFinish = "finish"
	QuitCancel = "cancel"
)

// ProviderConfig configures a single model entry in the registry.
type ProviderConfig struct {
	Driver        string   `json:"driver"` // "anthropic", "gemini", "openai", "deepseek", "xai", "ollama"
	Model         string   `json:"model"`
	BaseURL       string   `json:"base_url,omitempty"`
	APIKey        string   `json:"api_key,omitempty"` // direct key or ${{ .Env.VAR }} template
	MaxTokens     int      `json:"max_tokens,omitempty"`
	ContextWindow int      `json:"context_window,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	Timeout       Duration `json:"timeout,omitempty"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
