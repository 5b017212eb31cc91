package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leware/parley/internal/backend"
	"github.com/leware/parley/internal/input"
	"github.com/leware/parley/internal/session"
)

// scriptSource replays a fixed sequence of lines, optionally pausing between
// them, then idles until cancelled.
type scriptSource struct {
	lines []string
	delay time.Duration
}

func (s *scriptSource) Name() string { return "terminal" }

func (s *scriptSource) Run(ctx context.Context, out chan<- input.Line) error {
	for _, l := range s.lines {
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		select {
		case out <- input.Line{Text: l, Source: s.Name()}:
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

func newTestEngine(t *testing.T, b backend.Backend, opts *Options) (*Engine, *session.ChatSession, *bytes.Buffer, *BusyFlag) {
	t.Helper()
	sess := session.New("test-model")
	resolver := &fakeResolver{backends: map[string]backend.Backend{"test-model": b}, def: "test-model"}
	out := &bytes.Buffer{}
	busy := NewBusyFlag(t.TempDir())
	d := NewDispatcher(sess, resolver, t.TempDir(), "", out, opts)
	e := New(sess, resolver, d, busy, out, nil, opts)
	return e, sess, out, busy
}

func runScript(t *testing.T, e *Engine, lines ...string) {
	t.Helper()
	runScriptDelay(t, e, 0, lines...)
}

func runScriptDelay(t *testing.T, e *Engine, delay time.Duration, lines ...string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Run(ctx, &scriptSource{lines: lines, delay: delay}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func streamOf(chunks ...backend.StreamChunk) func(context.Context, []session.Turn, backend.PromptConfig) (<-chan backend.StreamChunk, error) {
	return func(context.Context, []session.Turn, backend.PromptConfig) (<-chan backend.StreamChunk, error) {
		ch := make(chan backend.StreamChunk, len(chunks))
		for _, c := range chunks {
			ch <- c
		}
		close(ch)
		return ch, nil
	}
}

func TestStreamedQueryCommitsOneExchange(t *testing.T) {
	b := &fakeBackend{name: "fake", stream: streamOf(
		backend.StreamChunk{Text: "the answer "},
		backend.StreamChunk{Text: "is 4"},
		backend.StreamChunk{Done: true},
	)}
	e, sess, out, _ := newTestEngine(t, b, &Options{Stream: true})

	runScript(t, e, "2+2?", "/quit")

	hist := sess.History()
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].Role != session.RoleUser || hist[0].Content != "2+2?" {
		t.Errorf("turn 0 = %+v", hist[0])
	}
	if hist[1].Role != session.RoleAssistant || hist[1].Content != "the answer is 4" {
		t.Errorf("turn 1 = %+v", hist[1])
	}
	if !strings.Contains(out.String(), "the answer is 4") {
		t.Errorf("output = %q", out.String())
	}
}

func TestBusyFlagDuringCall(t *testing.T) {
	var busyDuring atomic.Bool
	var busy *BusyFlag

	b := &fakeBackend{name: "fake", send: func(context.Context, []session.Turn, backend.PromptConfig) (*backend.Completion, error) {
		busyDuring.Store(busy.Active())
		return &backend.Completion{Content: "4"}, nil
	}}
	e, _, _, bf := newTestEngine(t, b, &Options{Stream: false})
	busy = bf

	runScript(t, e, "2+2?", "/quit")

	if !busyDuring.Load() {
		t.Error("busy flag was not raised during the backend call")
	}
	if busy.Active() {
		t.Error("busy flag still raised after the call")
	}
}

func TestStreamErrorLeavesHistoryUntouched(t *testing.T) {
	b := &fakeBackend{name: "fake", stream: streamOf(
		backend.StreamChunk{Text: "partial ans"},
		backend.StreamChunk{Err: errors.New("connection reset by peer")},
	)}
	e, sess, out, _ := newTestEngine(t, b, &Options{Stream: true})

	runScript(t, e, "2+2?", "/quit")

	if sess.Len() != 0 {
		t.Errorf("history length = %d, want 0 after stream error", sess.Len())
	}
	if !strings.Contains(out.String(), "error:") {
		t.Errorf("output = %q, want error report", out.String())
	}
}

func TestSendErrorLeavesHistoryUntouched(t *testing.T) {
	b := &fakeBackend{name: "fake", send: func(context.Context, []session.Turn, backend.PromptConfig) (*backend.Completion, error) {
		return nil, context.DeadlineExceeded
	}}
	e, sess, out, _ := newTestEngine(t, b, &Options{Stream: false})

	runScript(t, e, "2+2?", "/quit")

	if sess.Len() != 0 {
		t.Errorf("history length = %d, want 0", sess.Len())
	}
	if !strings.Contains(out.String(), "timed out") {
		t.Errorf("output = %q, want timeout report", out.String())
	}
}

func TestDotRepeatsLastQuery(t *testing.T) {
	var questions []string
	b := &fakeBackend{name: "fake", send: func(_ context.Context, history []session.Turn, _ backend.PromptConfig) (*backend.Completion, error) {
		questions = append(questions, history[len(history)-1].Content)
		return &backend.Completion{Content: "4"}, nil
	}}
	e, sess, _, _ := newTestEngine(t, b, &Options{Stream: false})

	runScript(t, e, "2+2?", ".", "/quit")

	if len(questions) != 2 || questions[0] != "2+2?" || questions[1] != "2+2?" {
		t.Errorf("questions = %v", questions)
	}
	if sess.Len() != 4 {
		t.Errorf("history length = %d, want 4", sess.Len())
	}
}

func TestDotWithNothingToRepeat(t *testing.T) {
	var calls atomic.Int32
	b := &fakeBackend{name: "fake", send: func(context.Context, []session.Turn, backend.PromptConfig) (*backend.Completion, error) {
		calls.Add(1)
		return &backend.Completion{Content: "x"}, nil
	}}
	e, _, out, _ := newTestEngine(t, b, &Options{Stream: false})

	runScript(t, e, ".", "/quit")

	if calls.Load() != 0 {
		t.Error("bare dot with no prior query hit the backend")
	}
	if !strings.Contains(out.String(), "nothing to repeat") {
		t.Errorf("output = %q", out.String())
	}
}

func TestTitleSetsTitleFromBackend(t *testing.T) {
	b := &fakeBackend{name: "fake", send: func(context.Context, []session.Turn, backend.PromptConfig) (*backend.Completion, error) {
		return &backend.Completion{Content: "\"Simple Arithmetic\"\n"}, nil
	}}
	e, sess, _, _ := newTestEngine(t, b, &Options{Stream: false})
	sess.CommitExchange("2+2?", "4")

	runScript(t, e, "/title", "/quit")

	if sess.Title() != "Simple Arithmetic" {
		t.Errorf("title = %q", sess.Title())
	}
}

func TestTitleFailureLeavesTitle(t *testing.T) {
	b := &fakeBackend{name: "fake", send: func(context.Context, []session.Turn, backend.PromptConfig) (*backend.Completion, error) {
		return nil, errors.New("boom")
	}}
	e, sess, _, _ := newTestEngine(t, b, &Options{Stream: false})
	sess.SetTitle("Old Title")
	sess.CommitExchange("2+2?", "4")

	runScript(t, e, "/title", "/quit")

	if sess.Title() != "Old Title" {
		t.Errorf("title = %q, want unchanged", sess.Title())
	}
}

func TestTitleOnEmptyHistorySkipsBackend(t *testing.T) {
	var calls atomic.Int32
	b := &fakeBackend{name: "fake", send: func(context.Context, []session.Turn, backend.PromptConfig) (*backend.Completion, error) {
		calls.Add(1)
		return &backend.Completion{Content: "x"}, nil
	}}
	e, _, _, _ := newTestEngine(t, b, &Options{Stream: false})

	runScript(t, e, "/title", "/quit")

	if calls.Load() != 0 {
		t.Error("/title on empty history hit the backend")
	}
}

func TestQuitCancelPolicyDiscardsPartialStream(t *testing.T) {
	b := &fakeBackend{name: "fake", stream: func(ctx context.Context, _ []session.Turn, _ backend.PromptConfig) (<-chan backend.StreamChunk, error) {
		ch := make(chan backend.StreamChunk)
		go func() {
			defer close(ch)
			ch <- backend.StreamChunk{Text: "partial "}
			<-ctx.Done()
			ch <- backend.StreamChunk{Err: ctx.Err()}
		}()
		return ch, nil
	}}
	e, sess, _, _ := newTestEngine(t, b, &Options{Stream: true, QuitPolicy: "cancel"})

	runScriptDelay(t, e, 50*time.Millisecond, "2+2?", "/quit")

	if sess.Len() != 0 {
		t.Errorf("history length = %d, want 0 after cancelled stream", sess.Len())
	}
}

func TestQuitFinishPolicyCommitsInFlightExchange(t *testing.T) {
	b := &fakeBackend{name: "fake", stream: func(ctx context.Context, _ []session.Turn, _ backend.PromptConfig) (<-chan backend.StreamChunk, error) {
		ch := make(chan backend.StreamChunk, 3)
		go func() {
			defer close(ch)
			time.Sleep(150 * time.Millisecond)
			ch <- backend.StreamChunk{Text: "4"}
			ch <- backend.StreamChunk{Done: true}
		}()
		return ch, nil
	}}
	e, sess, _, _ := newTestEngine(t, b, &Options{Stream: true})

	runScriptDelay(t, e, 20*time.Millisecond, "2+2?", "/quit")

	if sess.Len() != 2 {
		t.Errorf("history length = %d, want the in-flight exchange committed", sess.Len())
	}
}

func TestOrderingAcrossSources(t *testing.T) {
	var questions []string
	b := &fakeBackend{name: "fake", send: func(_ context.Context, history []session.Turn, _ backend.PromptConfig) (*backend.Completion, error) {
		questions = append(questions, history[len(history)-1].Content)
		return &backend.Completion{Content: "ok"}, nil
	}}
	e, _, _, _ := newTestEngine(t, b, &Options{Stream: false})

	runScript(t, e, "first", "second", "third", "/quit")

	want := []string{"first", "second", "third"}
	for i, q := range want {
		if i >= len(questions) || questions[i] != q {
			t.Fatalf("questions = %v, want %v", questions, want)
		}
	}
}
