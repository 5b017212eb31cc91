package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/leware/parley/internal/backend"
	"github.com/leware/parley/internal/session"
)

type fakeBackend struct {
	name   string
	send   func(ctx context.Context, history []session.Turn, cfg backend.PromptConfig) (*backend.Completion, error)
	stream func(ctx context.Context, history []session.Turn, cfg backend.PromptConfig) (<-chan backend.StreamChunk, error)
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Send(ctx context.Context, history []session.Turn, cfg backend.PromptConfig) (*backend.Completion, error) {
	if f.send == nil {
		return &backend.Completion{Content: "ok"}, nil
	}
	return f.send(ctx, history, cfg)
}

func (f *fakeBackend) Stream(ctx context.Context, history []session.Turn, cfg backend.PromptConfig) (<-chan backend.StreamChunk, error) {
	if f.stream == nil {
		ch := make(chan backend.StreamChunk, 2)
		ch <- backend.StreamChunk{Text: "ok"}
		ch <- backend.StreamChunk{Done: true}
		close(ch)
		return ch, nil
	}
	return f.stream(ctx, history, cfg)
}

type fakeResolver struct {
	backends map[string]backend.Backend
	def      string
}

func (f *fakeResolver) Resolve(_ context.Context, name string) (backend.Backend, error) {
	if b, ok := f.backends[name]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, name)
}

func (f *fakeResolver) Resolvable(name string) bool {
	_, ok := f.backends[name]
	return ok
}

func (f *fakeResolver) DefaultName() string { return f.def }

func (f *fakeResolver) List() []backend.ModelInfo {
	infos := make([]backend.ModelInfo, 0, len(f.backends))
	for name := range f.backends {
		infos = append(infos, backend.ModelInfo{Provider: "fake", Model: name})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Model < infos[j].Model })
	return infos
}

func newTestDispatcher(t *testing.T, b backend.Backend) (*Dispatcher, *session.ChatSession, *bytes.Buffer, *fakeResolver) {
	t.Helper()
	sess := session.New("test-model")
	resolver := &fakeResolver{backends: map[string]backend.Backend{"test-model": b}, def: "test-model"}
	out := &bytes.Buffer{}
	opts := &Options{Stream: true}
	d := NewDispatcher(sess, resolver, t.TempDir(), "", out, opts)
	return d, sess, out, resolver
}

func TestDispatchFreeText(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, &fakeBackend{name: "fake"})

	res, err := d.Dispatch(context.Background(), "what is 2+2?")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Kind != KindQuery || res.Query != "what is 2+2?" {
		t.Errorf("result = %+v", res)
	}
}

func TestDispatchQuitAliases(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, &fakeBackend{name: "fake"})

	for _, cmd := range []string{"/quit", "/q", "/bye"} {
		res, err := d.Dispatch(context.Background(), cmd)
		if err != nil {
			t.Fatalf("Dispatch(%s): %v", cmd, err)
		}
		if res.Kind != KindQuit {
			t.Errorf("Dispatch(%s).Kind = %v", cmd, res.Kind)
		}
	}
}

func TestClearPreservesPromptAndModel(t *testing.T) {
	d, sess, _, _ := newTestDispatcher(t, &fakeBackend{name: "fake"})
	sess.SetSystemPrompt("You are terse.")
	sess.CommitExchange("2+2?", "4")

	if _, err := d.Dispatch(context.Background(), "/clear"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if sess.Len() != 0 {
		t.Errorf("history length = %d after /clear", sess.Len())
	}
	if sess.SystemPrompt() != "You are terse." {
		t.Errorf("system prompt = %q", sess.SystemPrompt())
	}
	if sess.ActiveModel() != "test-model" {
		t.Errorf("model = %q", sess.ActiveModel())
	}
}

func TestModelUnknownLeavesActiveModel(t *testing.T) {
	d, sess, _, _ := newTestDispatcher(t, &fakeBackend{name: "fake"})

	_, err := d.Dispatch(context.Background(), "/model unknown-model-xyz")
	if !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if sess.ActiveModel() != "test-model" {
		t.Errorf("model = %q, want unchanged", sess.ActiveModel())
	}
}

func TestModelSameNameIsNoOp(t *testing.T) {
	d, sess, out, _ := newTestDispatcher(t, &fakeBackend{name: "fake"})

	if _, err := d.Dispatch(context.Background(), "/model test-model"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sess.ActiveModel() != "test-model" {
		t.Errorf("model = %q", sess.ActiveModel())
	}
	if strings.Contains(out.String(), "model set") {
		t.Error("idempotent switch should not announce a change")
	}
}

func TestModelSwitch(t *testing.T) {
	d, sess, _, resolver := newTestDispatcher(t, &fakeBackend{name: "fake"})
	resolver.backends["other-model"] = &fakeBackend{name: "other"}

	if _, err := d.Dispatch(context.Background(), "/model other-model"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if sess.ActiveModel() != "other-model" {
		t.Errorf("model = %q", sess.ActiveModel())
	}
}

func TestSystemSetAndUnset(t *testing.T) {
	d, sess, _, _ := newTestDispatcher(t, &fakeBackend{name: "fake"})

	if _, err := d.Dispatch(context.Background(), "/system be brief"); err != nil {
		t.Fatal(err)
	}
	if sess.SystemPrompt() != "be brief" {
		t.Errorf("prompt = %q", sess.SystemPrompt())
	}

	if _, err := d.Dispatch(context.Background(), "/system"); err != nil {
		t.Fatal(err)
	}
	if sess.SystemPrompt() != "" {
		t.Errorf("prompt = %q after unset", sess.SystemPrompt())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	d, sess, _, _ := newTestDispatcher(t, &fakeBackend{name: "fake"})
	sess.SetSystemPrompt("You are terse.")
	sess.CommitExchange("2+2?", "4")

	if _, err := d.Dispatch(context.Background(), "/save trip"); err != nil {
		t.Fatalf("save: %v", err)
	}

	sess.Clear()
	sess.SetSystemPrompt("")

	if _, err := d.Dispatch(context.Background(), "/load trip"); err != nil {
		t.Fatalf("load: %v", err)
	}

	if sess.Len() != 3 {
		t.Errorf("history length = %d, want 3 (system + user + assistant)", sess.Len())
	}
	if sess.SystemPrompt() != "You are terse." {
		t.Errorf("system prompt = %q", sess.SystemPrompt())
	}
}

func TestLoadUnresolvableModelFallsBack(t *testing.T) {
	d, sess, out, _ := newTestDispatcher(t, &fakeBackend{name: "fake"})
	sess.SetActiveModel("retired-model")
	sess.CommitExchange("hi", "hello")

	if _, err := d.Dispatch(context.Background(), "/save old"); err != nil {
		t.Fatalf("save: %v", err)
	}

	sess.SetActiveModel("test-model")
	if _, err := d.Dispatch(context.Background(), "/load old"); err != nil {
		t.Fatalf("load: %v", err)
	}

	if sess.ActiveModel() != "test-model" {
		t.Errorf("model = %q, want fallback to default", sess.ActiveModel())
	}
	if !strings.Contains(out.String(), "no longer configured") {
		t.Error("fallback was not announced")
	}
}

func TestSaveUsesTitle(t *testing.T) {
	d, sess, out, _ := newTestDispatcher(t, &fakeBackend{name: "fake"})
	sess.SetTitle("Weather Chat")

	if _, err := d.Dispatch(context.Background(), "/save"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.Contains(out.String(), "Weather_Chat.json") {
		t.Errorf("output = %q, want title-derived file name", out.String())
	}
}

func TestStreamToggle(t *testing.T) {
	d, _, out, _ := newTestDispatcher(t, &fakeBackend{name: "fake"})

	if _, err := d.Dispatch(context.Background(), "/ss"); err != nil {
		t.Fatal(err)
	}
	if d.opts.Stream {
		t.Error("stream still on after toggle")
	}
	if !strings.Contains(out.String(), "streaming off") {
		t.Errorf("output = %q", out.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	d, sess, _, _ := newTestDispatcher(t, &fakeBackend{name: "fake"})

	_, err := d.Dispatch(context.Background(), "/frobnicate")
	var ue *UnknownCommandError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want UnknownCommandError", err)
	}
	if sess.Len() != 0 {
		t.Error("unknown command touched history")
	}
}

func TestHelpAndQuestionMark(t *testing.T) {
	d, _, out, _ := newTestDispatcher(t, &fakeBackend{name: "fake"})

	for _, line := range []string{"/help", "?"} {
		out.Reset()
		res, err := d.Dispatch(context.Background(), line)
		if err != nil || res.Kind != KindNone {
			t.Fatalf("Dispatch(%s) = %+v, %v", line, res, err)
		}
		if !strings.Contains(out.String(), "/quit") {
			t.Errorf("help output missing commands: %q", out.String())
		}
	}
}

func TestMicWithoutRecorderConfigured(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, &fakeBackend{name: "fake"})

	_, err := d.Dispatch(context.Background(), "/mic")
	var ie *InvalidArgumentError
	if !errors.As(err, &ie) {
		t.Errorf("err = %v, want InvalidArgumentError", err)
	}
}
