package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leware/parley/internal/backend"
	"github.com/leware/parley/internal/config"
	"github.com/leware/parley/internal/input"
	"github.com/leware/parley/internal/session"
)

const titlePrompt = "Summarize this conversation in at most six words. Reply with the title only, no quotes."

// Options are the engine's mutable runtime knobs. The dispatcher shares the
// same instance so /ss toggles take effect immediately.
type Options struct {
	Stream         bool
	RequestTimeout time.Duration
	QuitPolicy     string
}

// Engine is the single writer over the session. All input sources feed one
// ordered channel; the engine alone consumes it and mutates session state.
type Engine struct {
	sess       *session.ChatSession
	registry   Resolver
	dispatcher *Dispatcher
	busy       *BusyFlag
	out        io.Writer
	render     func(string) string
	opts       *Options

	lines     chan input.Line
	pending   []input.Line
	lastQuery string
}

// New wires an engine. render may be nil, in which case responses are
// printed verbatim.
func New(sess *session.ChatSession, registry Resolver, dispatcher *Dispatcher, busy *BusyFlag, out io.Writer, render func(string) string, opts *Options) *Engine {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 90 * time.Second
	}
	if opts.QuitPolicy == "" {
		opts.QuitPolicy = config.QuitFinish
	}
	return &Engine{
		sess:       sess,
		registry:   registry,
		dispatcher: dispatcher,
		busy:       busy,
		out:        out,
		render:     render,
		opts:       opts,
		lines:      make(chan input.Line, 16),
	}
}

// Run starts every source on the shared channel and consumes lines in
// arrival order until /quit or context cancellation. Sources are stopped
// before Run returns.
func (e *Engine) Run(ctx context.Context, sources ...input.Source) error {
	srcCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src input.Source) {
			defer wg.Done()
			if err := src.Run(srcCtx, e.lines); err != nil {
				slog.Warn("input source stopped", "source", src.Name(), "error", err)
			}
		}(src)
	}
	// Cancel before waiting: a source blocked on a send must observe the
	// cancellation to exit.
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		line, ok := e.nextLine(ctx)
		if !ok {
			return ctx.Err()
		}
		if e.handle(ctx, line) {
			return nil
		}
	}
}

// nextLine pops a stashed line first, then blocks on the channel.
func (e *Engine) nextLine(ctx context.Context) (input.Line, bool) {
	if len(e.pending) > 0 {
		line := e.pending[0]
		e.pending = e.pending[1:]
		return line, true
	}
	select {
	case line := <-e.lines:
		return line, true
	case <-ctx.Done():
		return input.Line{}, false
	}
}

// handle dispatches one line and reports whether the engine should quit.
func (e *Engine) handle(ctx context.Context, line input.Line) bool {
	text := strings.TrimSpace(line.Text)
	if text == "." {
		if e.lastQuery == "" {
			fmt.Fprintln(e.out, "nothing to repeat")
			return false
		}
		text = e.lastQuery
	}

	if line.Source != "terminal" && text != "" {
		fmt.Fprintf(e.out, "[%s] %s\n", line.Source, text)
	}

	res, err := e.dispatcher.Dispatch(ctx, text)
	if err != nil {
		fmt.Fprintf(e.out, "error: %v\n", err)
		return false
	}

	switch res.Kind {
	case KindQuery:
		e.lastQuery = res.Query
		return e.runQuery(ctx, res.Query)
	case KindTitle:
		e.runTitle(ctx)
		return false
	case KindQuit:
		return true
	default:
		return false
	}
}

// runQuery performs one exchange. History is committed only after the full
// answer arrives; errors and cancellations leave it untouched. The returned
// bool is true when a /quit arrived mid-stream under the cancel policy.
func (e *Engine) runQuery(ctx context.Context, query string) (quit bool) {
	b, err := e.registry.Resolve(ctx, e.sess.ActiveModel())
	if err != nil {
		fmt.Fprintf(e.out, "error: %v\n", err)
		return false
	}

	release, err := e.busy.Acquire()
	if err != nil {
		slog.Warn("busy marker unavailable", "error", err)
		release = func() {}
	}
	defer release()

	qctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	turns := e.sess.QueryTurns(query)
	promptCfg := backend.PromptConfig{}

	if !e.opts.Stream {
		resp, err := b.Send(qctx, turns, promptCfg)
		if err != nil {
			fmt.Fprintf(e.out, "error: %v\n", backend.Classify(b.Name(), err))
			return false
		}
		fmt.Fprintln(e.out, e.renderText(resp.Content))
		e.sess.CommitExchange(query, resp.Content)
		return false
	}

	ch, err := b.Stream(qctx, turns, promptCfg)
	if err != nil {
		fmt.Fprintf(e.out, "error: %v\n", backend.Classify(b.Name(), err))
		return false
	}

	answer, quit, err := e.consumeStream(qctx, cancel, ch)
	if err != nil {
		// A cancellation the user asked for is not an error worth reporting.
		if !(quit && errors.Is(err, context.Canceled)) {
			fmt.Fprintf(e.out, "\nerror: %v\n", backend.Classify(b.Name(), err))
		}
		return quit
	}
	fmt.Fprintln(e.out)
	e.sess.CommitExchange(query, answer)
	return quit
}

// consumeStream buffers chunks into one answer. Under the cancel quit
// policy it also watches the input channel: a /quit cancels the request and
// discards the partial answer; other lines are stashed for later.
func (e *Engine) consumeStream(qctx context.Context, cancel context.CancelFunc, ch <-chan backend.StreamChunk) (answer string, quit bool, err error) {
	var buf strings.Builder
	watchInput := e.opts.QuitPolicy == config.QuitCancel

	for {
		if watchInput && !quit {
			select {
			case chunk, ok := <-ch:
				if done, cerr := e.applyChunk(&buf, chunk, ok); done || cerr != nil {
					return buf.String(), quit, cerr
				}
				continue
			case line := <-e.lines:
				if isQuitLine(line.Text) {
					quit = true
					cancel()
					fmt.Fprintln(e.out, "\ncancelled")
					continue
				}
				e.pending = append(e.pending, line)
				continue
			}
		}

		chunk, ok := <-ch
		if quit {
			// Drain until the backend notices the cancellation.
			if !ok {
				return "", true, context.Canceled
			}
			continue
		}
		if done, cerr := e.applyChunk(&buf, chunk, ok); done || cerr != nil {
			return buf.String(), quit, cerr
		}
	}
}

// applyChunk folds one chunk into the buffer and echoes it. done is true on
// the terminal chunk; a closed channel without one is a truncated stream.
func (e *Engine) applyChunk(buf *strings.Builder, chunk backend.StreamChunk, ok bool) (done bool, err error) {
	if !ok {
		return false, &backend.MalformedResponseError{Provider: "stream", Detail: "stream closed without terminator"}
	}
	if chunk.Err != nil {
		return false, chunk.Err
	}
	if chunk.Done {
		return true, nil
	}
	buf.WriteString(chunk.Text)
	fmt.Fprint(e.out, chunk.Text)
	return false, nil
}

// runTitle asks the active backend to title the conversation. Failure
// leaves the current title alone.
func (e *Engine) runTitle(ctx context.Context) {
	if e.sess.Len() == 0 {
		fmt.Fprintln(e.out, "nothing to title yet")
		return
	}

	b, err := e.registry.Resolve(ctx, e.sess.ActiveModel())
	if err != nil {
		fmt.Fprintf(e.out, "error: %v\n", err)
		return
	}

	release, err := e.busy.Acquire()
	if err != nil {
		release = func() {}
	}
	defer release()

	qctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	resp, err := b.Send(qctx, e.sess.QueryTurns(titlePrompt), backend.PromptConfig{MaxTokens: 64})
	if err != nil {
		fmt.Fprintf(e.out, "error: %v\n", backend.Classify(b.Name(), err))
		return
	}

	title := strings.Trim(strings.TrimSpace(resp.Content), `"'`)
	if title == "" {
		fmt.Fprintln(e.out, "error: backend returned an empty title")
		return
	}
	e.sess.SetTitle(title)
	fmt.Fprintf(e.out, "title: %s\n", title)
}

func (e *Engine) renderText(s string) string {
	if e.render == nil {
		return s
	}
	return e.render(s)
}

func isQuitLine(text string) bool {
	switch strings.TrimSpace(text) {
	case "/quit", "/q", "/bye":
		return true
	}
	return false
}
