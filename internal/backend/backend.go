// Package backend abstracts LLM providers behind one request/response and
// streaming contract. Each provider family is one variant; the registry maps
// model names to variants.
package backend

import (
	"context"

	"github.com/leware/parley/internal/session"
)

// PromptConfig carries per-request parameters. SystemPrompt, when set, is
// used in addition to any system turn already present in the history.
type PromptConfig struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  *float64
}

// Usage reports token consumption for a completed exchange.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Completion is a full, non-streamed response.
type Completion struct {
	Content string
	Model   string
	Usage   Usage
}

// StreamChunk is one transient fragment of a streaming response. Exactly one
// terminal chunk (Done or Err set) ends every stream; the channel is closed
// after it. Chunks are never persisted: the caller buffers text and commits
// a single turn only after a clean Done.
type StreamChunk struct {
	Text string
	Done bool
	Err  error
}

// Backend is the capability one provider family exposes: a blocking send and
// a finite, non-restartable stream. Implementations must not mutate the
// history they are given.
type Backend interface {
	Name() string
	Send(ctx context.Context, history []session.Turn, cfg PromptConfig) (*Completion, error)
	Stream(ctx context.Context, history []session.Turn, cfg PromptConfig) (<-chan StreamChunk, error)
}
