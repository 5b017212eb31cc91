package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/leware/parley/internal/config"
)

// defaultContextWindows maps known model prefixes to their context window sizes.
var defaultContextWindows = map[string]int{
	"claude-opus-4":   200000,
	"claude-sonnet-4": 200000,
	"claude-haiku-3":  200000,
	"gemini-2.0":      1000000,
	"gemini-1.5":      1000000,
	"gpt-4o":          128000,
	"gpt-4":           8192,
	"o1":              200000,
	"o3":              200000,
	"deepseek":        64000,
	"grok":            131072,
}

const fallbackContextWindow = 100000

// driverPrefixes maps model-name prefixes to provider families, so models
// absent from the configured provider set still resolve to a backend.
var driverPrefixes = []struct {
	prefix string
	driver string
}{
	{"claude-", "anthropic"},
	{"gemini-", "gemini"},
	{"gpt-", "openai"},
	{"o1", "openai"},
	{"o3", "openai"},
	{"deepseek-", "deepseek"},
	{"grok-", "xai"},
}

// entry holds a lazily-initialized backend for a configured model.
type entry struct {
	cfg  config.ProviderConfig
	once sync.Once
	b    Backend
	err  error
}

// ModelInfo is one row of the registry listing.
type ModelInfo struct {
	Provider string
	Model    string
}

// Registry resolves model names to backends. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	entries     map[string]*entry
	defaultName string
}

// NewRegistry builds a registry from config. The configured default model
// must be resolvable; anything else is a startup failure.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := &Registry{
		entries:     make(map[string]*entry, len(cfg.Providers)),
		defaultName: cfg.DefaultModel,
	}
	for name, provCfg := range cfg.Providers {
		r.entries[name] = &entry{cfg: provCfg}
	}

	if !r.Resolvable(cfg.DefaultModel) {
		return nil, fmt.Errorf("default model %q: %w", cfg.DefaultModel, ErrNotFound)
	}
	return r, nil
}

// Resolvable reports whether a model name maps to a backend, without
// constructing one.
func (r *Registry) Resolvable(name string) bool {
	if _, ok := r.entries[name]; ok {
		return true
	}
	return driverForModel(name) != ""
}

// Resolve returns the backend for a model name: an exact configured entry
// (initialized lazily, once), or a backend synthesized from the model-name
// prefix. Unknown names return ErrNotFound.
func (r *Registry) Resolve(ctx context.Context, name string) (Backend, error) {
	if e, ok := r.entries[name]; ok {
		e.once.Do(func() {
			e.b, e.err = newBackend(ctx, e.cfg)
		})
		return e.b, e.err
	}

	driver := driverForModel(name)
	if driver == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return newBackend(ctx, config.ProviderConfig{Driver: driver, Model: name})
}

// DefaultName returns the configured default model name.
func (r *Registry) DefaultName() string {
	return r.defaultName
}

// List returns the configured models ordered by provider, then model name.
func (r *Registry) List() []ModelInfo {
	infos := make([]ModelInfo, 0, len(r.entries))
	for name, e := range r.entries {
		infos = append(infos, ModelInfo{Provider: strings.ToLower(e.cfg.Driver), Model: name})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Provider != infos[j].Provider {
			return infos[i].Provider < infos[j].Provider
		}
		return infos[i].Model < infos[j].Model
	})
	return infos
}

// ContextWindow returns the context window for a model: explicit config,
// then known model prefix, then a conservative fallback.
func (r *Registry) ContextWindow(name string) int {
	if e, ok := r.entries[name]; ok && e.cfg.ContextWindow > 0 {
		return e.cfg.ContextWindow
	}
	for prefix, size := range defaultContextWindows {
		if strings.HasPrefix(name, prefix) {
			return size
		}
	}
	return fallbackContextWindow
}

func driverForModel(name string) string {
	for _, p := range driverPrefixes {
		if strings.HasPrefix(name, p.prefix) {
			return p.driver
		}
	}
	return ""
}
