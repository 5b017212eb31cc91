package backend

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/leware/parley/internal/config"
	"github.com/leware/parley/internal/session"
)

// geminiBackend talks to the Gemini API through the google genai SDK.
type geminiBackend struct {
	client      *genai.Client
	modelName   string
	maxTokens   int
	temperature *float64
}

func newGemini(ctx context.Context, cfg config.ProviderConfig) (Backend, error) {
	key := resolveAPIKey(cfg, "GEMINI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("gemini: no API key configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: key})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &geminiBackend{
		client:      client,
		modelName:   cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (b *geminiBackend) Name() string { return "gemini" }

func (b *geminiBackend) Send(ctx context.Context, history []session.Turn, cfg PromptConfig) (*Completion, error) {
	genCfg, contents := b.convert(history, cfg)

	resp, err := b.client.Models.GenerateContent(ctx, b.modelName, contents, genCfg)
	if err != nil {
		return nil, Classify("gemini", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &MalformedResponseError{Provider: "gemini", Detail: "no candidates"}
	}

	var content strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Text != "" {
			content.WriteString(p.Text)
		}
	}

	out := &Completion{Content: content.String(), Model: b.modelName}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

func (b *geminiBackend) Stream(ctx context.Context, history []session.Turn, cfg PromptConfig) (<-chan StreamChunk, error) {
	genCfg, contents := b.convert(history, cfg)

	out := make(chan StreamChunk, 16)
	go func() {
		defer close(out)

		for chunk, err := range b.client.Models.GenerateContentStream(ctx, b.modelName, contents, genCfg) {
			if err != nil {
				out <- StreamChunk{Err: Classify("gemini", err)}
				return
			}
			if len(chunk.Candidates) == 0 {
				continue
			}

			cand := chunk.Candidates[0]
			if cand.Content != nil {
				var sb strings.Builder
				for _, p := range cand.Content.Parts {
					if p.Text != "" {
						sb.WriteString(p.Text)
					}
				}
				if sb.Len() > 0 {
					out <- StreamChunk{Text: sb.String()}
				}
			}

			switch cand.FinishReason {
			case genai.FinishReasonUnspecified, "":
				// keep pulling
			case genai.FinishReasonStop:
				out <- StreamChunk{Done: true}
				return
			case genai.FinishReasonMaxTokens:
				out <- StreamChunk{Done: true}
				return
			default:
				out <- StreamChunk{Err: &MalformedResponseError{
					Provider: "gemini",
					Detail:   fmt.Sprintf("unexpected finish reason: %s", cand.FinishReason),
				}}
				return
			}
		}
		out <- StreamChunk{Done: true}
	}()

	return out, nil
}

// convert maps turns onto genai contents. System turns become the system
// instruction; user/assistant turns map to the user/model roles.
func (b *geminiBackend) convert(history []session.Turn, cfg PromptConfig) (*genai.GenerateContentConfig, []*genai.Content) {
	genCfg := &genai.GenerateContentConfig{}

	var sys []string
	if cfg.SystemPrompt != "" {
		sys = append(sys, cfg.SystemPrompt)
	}

	var contents []*genai.Content
	for _, turn := range history {
		switch turn.Role {
		case session.RoleSystem:
			sys = append(sys, turn.Content)
		case session.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{genai.NewPartFromText(turn.Content)},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{genai.NewPartFromText(turn.Content)},
			})
		}
	}

	if len(sys) > 0 {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(strings.Join(sys, "\n\n"))},
		}
	}

	maxTokens := b.maxTokens
	if cfg.MaxTokens > 0 {
		maxTokens = cfg.MaxTokens
	}
	if maxTokens > 0 {
		genCfg.MaxOutputTokens = int32(maxTokens)
	}

	temp := b.temperature
	if cfg.Temperature != nil {
		temp = cfg.Temperature
	}
	if temp != nil {
		t := float32(*temp)
		genCfg.Temperature = &t
	}

	return genCfg, contents
}

var _ Backend = (*geminiBackend)(nil)
