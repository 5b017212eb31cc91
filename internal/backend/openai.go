package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leware/parley/internal/config"
	"github.com/leware/parley/internal/session"
)

// openAIBackend talks to any chat-completions endpoint speaking the OpenAI
// wire format: OpenAI itself, DeepSeek, xAI, and Ollama's /v1 surface.
type openAIBackend struct {
	provider    string
	client      *http.Client
	baseURL     string
	apiKey      string
	modelName   string
	maxTokens   int
	temperature *float64
}

func newOpenAICompatible(provider string, cfg config.ProviderConfig, defaultBaseURL, envVar string) Backend {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &openAIBackend{
		provider:    provider,
		client:      &http.Client{Timeout: timeout},
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      resolveAPIKey(cfg, envVar),
		modelName:   cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage,omitempty"`
}

// streamChunkPayload models one SSE data payload from a streaming
// chat-completions endpoint.
type streamChunkPayload struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (b *openAIBackend) Name() string { return b.provider }

func (b *openAIBackend) Send(ctx context.Context, history []session.Turn, cfg PromptConfig) (*Completion, error) {
	resp, err := b.post(ctx, b.buildRequest(history, cfg, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &MalformedResponseError{Provider: b.provider, Detail: err.Error()}
	}
	if len(decoded.Choices) == 0 {
		return nil, &MalformedResponseError{Provider: b.provider, Detail: "no choices"}
	}

	out := &Completion{Content: decoded.Choices[0].Message.Content, Model: b.modelName}
	if decoded.Usage != nil {
		out.Usage = Usage{
			InputTokens:  decoded.Usage.PromptTokens,
			OutputTokens: decoded.Usage.CompletionTokens,
		}
	}
	return out, nil
}

func (b *openAIBackend) Stream(ctx context.Context, history []session.Turn, cfg PromptConfig) (<-chan StreamChunk, error) {
	resp, err := b.post(ctx, b.buildRequest(history, cfg, true))
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				out <- StreamChunk{Done: true}
				return
			}

			var payload streamChunkPayload
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				out <- StreamChunk{Err: &MalformedResponseError{Provider: b.provider, Detail: err.Error()}}
				return
			}
			if len(payload.Choices) == 0 {
				continue
			}

			choice := payload.Choices[0]
			if choice.Delta.Content != "" {
				out <- StreamChunk{Text: choice.Delta.Content}
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				out <- StreamChunk{Done: true}
				return
			}
		}

		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: Classify(b.provider, err)}
			return
		}
		out <- StreamChunk{Err: &MalformedResponseError{Provider: b.provider, Detail: "stream ended without terminator"}}
	}()

	return out, nil
}

func (b *openAIBackend) buildRequest(history []session.Turn, cfg PromptConfig, stream bool) chatRequest {
	req := chatRequest{
		Model:  b.modelName,
		Stream: stream,
	}

	if cfg.SystemPrompt != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: cfg.SystemPrompt})
	}
	for _, turn := range history {
		req.Messages = append(req.Messages, chatMessage{Role: string(turn.Role), Content: turn.Content})
	}

	req.MaxTokens = b.maxTokens
	if cfg.MaxTokens > 0 {
		req.MaxTokens = cfg.MaxTokens
	}

	req.Temperature = b.temperature
	if cfg.Temperature != nil {
		req.Temperature = cfg.Temperature
	}

	return req
}

func (b *openAIBackend) post(ctx context.Context, payload chatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", b.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", b.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, Classify(b.provider, err)
	}

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, Classify(b.provider, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	return resp, nil
}

var _ Backend = (*openAIBackend)(nil)
