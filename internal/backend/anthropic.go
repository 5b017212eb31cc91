package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/leware/parley/internal/config"
	"github.com/leware/parley/internal/session"
)

const defaultAnthropicMaxTokens = 4096

// anthropicBackend talks to the Anthropic Messages API.
type anthropicBackend struct {
	client    anthropic.Client
	modelName string
	maxTokens int
}

func newAnthropic(cfg config.ProviderConfig) (Backend, error) {
	key := resolveAPIKey(cfg, "ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("anthropic: no API key configured")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout.Duration() > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout.Duration()))
	} else {
		opts = append(opts, option.WithRequestTimeout(60*time.Second))
	}

	return &anthropicBackend{
		client:    anthropic.NewClient(opts...),
		modelName: cfg.Model,
		maxTokens: maxTokens,
	}, nil
}

func (b *anthropicBackend) Name() string { return "anthropic" }

func (b *anthropicBackend) Send(ctx context.Context, history []session.Turn, cfg PromptConfig) (*Completion, error) {
	params := b.buildParams(history, cfg)

	resp, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, Classify("anthropic", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &Completion{
		Content: content.String(),
		Model:   b.modelName,
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

func (b *anthropicBackend) Stream(ctx context.Context, history []session.Turn, cfg PromptConfig) (<-chan StreamChunk, error) {
	params := b.buildParams(history, cfg)
	stream := b.client.Messages.NewStreaming(ctx, params)

	out := make(chan StreamChunk, 16)
	go func() {
		defer close(out)

		for stream.Next() {
			select {
			case <-ctx.Done():
				out <- StreamChunk{Err: Classify("anthropic", ctx.Err())}
				return
			default:
			}

			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					out <- StreamChunk{Text: event.Delta.Text}
				}
			case "message_stop":
				out <- StreamChunk{Done: true}
				return
			}
		}

		if err := stream.Err(); err != nil {
			out <- StreamChunk{Err: Classify("anthropic", err)}
			return
		}
		out <- StreamChunk{Done: true}
	}()

	return out, nil
}

func (b *anthropicBackend) buildParams(history []session.Turn, cfg PromptConfig) anthropic.MessageNewParams {
	maxTokens := b.maxTokens
	if cfg.MaxTokens > 0 {
		maxTokens = cfg.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(b.modelName),
		MaxTokens: int64(maxTokens),
	}

	if cfg.SystemPrompt != "" {
		params.System = append(params.System, anthropic.TextBlockParam{Text: cfg.SystemPrompt})
	}

	var msgs []anthropic.MessageParam
	for _, turn := range history {
		switch turn.Role {
		case session.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: turn.Content})
		case session.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
		}
	}
	params.Messages = msgs

	return params
}

var _ Backend = (*anthropicBackend)(nil)
