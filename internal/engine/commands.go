package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/leware/parley/internal/backend"
	"github.com/leware/parley/internal/session"
)

// Kind tells the engine what to do after a dispatched line.
type Kind int

const (
	// KindNone: the command completed synchronously, nothing more to do.
	KindNone Kind = iota
	// KindQuery: the line is free text, run it against the active backend.
	KindQuery
	// KindTitle: run the title summarization query.
	KindTitle
	// KindQuit: wind down the input loop.
	KindQuit
)

// Result of dispatching one input line.
type Result struct {
	Kind  Kind
	Query string
}

// UnknownCommandError reports a slash-command with no handler.
type UnknownCommandError struct {
	Command string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q, try /help", e.Command)
}

// InvalidArgumentError reports a recognized command with a bad argument.
type InvalidArgumentError struct {
	Command string
	Reason  string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Reason)
}

// Resolver is the slice of the backend registry the engine needs. Satisfied
// by *backend.Registry.
type Resolver interface {
	Resolve(ctx context.Context, name string) (backend.Backend, error)
	Resolvable(name string) bool
	DefaultName() string
	List() []backend.ModelInfo
}

// Dispatcher classifies input lines as slash-commands or free-form queries
// and applies command effects to the session. It never talks to the network
// itself; query-shaped work is returned to the engine as a Result.
type Dispatcher struct {
	sess        *session.ChatSession
	registry    Resolver
	sessionsDir string
	micCommand  string
	out         io.Writer
	opts        *Options
}

func NewDispatcher(sess *session.ChatSession, registry Resolver, sessionsDir, micCommand string, out io.Writer, opts *Options) *Dispatcher {
	return &Dispatcher{
		sess:        sess,
		registry:    registry,
		sessionsDir: sessionsDir,
		micCommand:  micCommand,
		out:         out,
		opts:        opts,
	}
}

// Dispatch routes one line. Free text and `?` aside, a line is a command iff
// it starts with `/`. Errors leave the session untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) (Result, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Result{}, nil
	}
	if line == "?" {
		d.printHelp()
		return Result{}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return Result{Kind: KindQuery, Query: line}, nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/help":
		d.printHelp()
		return Result{}, nil

	case "/quit", "/q", "/bye":
		return Result{Kind: KindQuit}, nil

	case "/cls":
		fmt.Fprint(d.out, "\033[2J\033[H")
		return Result{}, nil

	case "/clear":
		d.sess.Clear()
		fmt.Fprintln(d.out, "history cleared")
		return Result{}, nil

	case "/system":
		d.sess.SetSystemPrompt(arg)
		if arg == "" {
			fmt.Fprintln(d.out, "system prompt unset")
		} else {
			fmt.Fprintln(d.out, "system prompt set")
		}
		return Result{}, nil

	case "/model":
		return Result{}, d.switchModel(ctx, arg)

	case "/save":
		return Result{}, d.save(arg)

	case "/load":
		return Result{}, d.load(arg)

	case "/sessions":
		return Result{}, d.listSessions()

	case "/title":
		return Result{Kind: KindTitle}, nil

	case "/status":
		d.printStatus()
		return Result{}, nil

	case "/ls":
		d.listModels()
		return Result{}, nil

	case "/ss":
		d.opts.Stream = !d.opts.Stream
		fmt.Fprintf(d.out, "streaming %s\n", onOff(d.opts.Stream))
		return Result{}, nil

	case "/mic":
		return Result{}, d.startRecorder()

	default:
		return Result{}, &UnknownCommandError{Command: cmd}
	}
}

func (d *Dispatcher) switchModel(ctx context.Context, name string) error {
	if name == "" {
		return &InvalidArgumentError{Command: "/model", Reason: "model name required"}
	}
	if name == d.sess.ActiveModel() {
		return nil
	}
	if _, err := d.registry.Resolve(ctx, name); err != nil {
		return fmt.Errorf("switch model: %w", err)
	}
	d.sess.SetActiveModel(name)
	fmt.Fprintf(d.out, "model set to %s\n", name)
	return nil
}

func (d *Dispatcher) save(name string) error {
	if name == "" {
		if t := d.sess.Title(); t != "" {
			name = session.CleanName(t)
		} else {
			name = session.DefaultName()
		}
	} else {
		name = session.CleanName(name)
	}

	path := filepath.Join(d.sessionsDir, name+".json")
	if err := session.Save(path, d.sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	fmt.Fprintf(d.out, "session saved to %s\n", path)
	return nil
}

func (d *Dispatcher) load(name string) error {
	if name == "" {
		// Bare /load shows what there is to load.
		return d.listSessions()
	}
	path := filepath.Join(d.sessionsDir, session.CleanName(name)+".json")
	loaded, err := session.Load(path)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	// The stored model may no longer exist in the config; fall back to the
	// registry default rather than carrying an unresolvable model.
	if !d.registry.Resolvable(loaded.ActiveModel()) {
		fallback := d.registry.DefaultName()
		fmt.Fprintf(d.out, "model %q no longer configured, using %s\n", loaded.ActiveModel(), fallback)
		loaded.SetActiveModel(fallback)
	}

	d.sess.Restore(loaded.Snapshot())
	fmt.Fprintf(d.out, "session loaded (%d turns, model %s)\n", d.sess.Len(), d.sess.ActiveModel())
	return nil
}

func (d *Dispatcher) listSessions() error {
	infos, err := session.ListSaved(d.sessionsDir)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(infos) == 0 {
		fmt.Fprintln(d.out, "no saved sessions")
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(d.out, "  %-30s %s  %s\n", info.Name, info.Modified.Format("2006-01-02 15:04"), info.Model)
	}
	return nil
}

func (d *Dispatcher) printStatus() {
	fmt.Fprintf(d.out, "model:   %s\n", d.sess.ActiveModel())
	if p := d.sess.SystemPrompt(); p != "" {
		fmt.Fprintf(d.out, "system:  %s\n", p)
	} else {
		fmt.Fprintln(d.out, "system:  (none)")
	}
	if t := d.sess.Title(); t != "" {
		fmt.Fprintf(d.out, "title:   %s\n", t)
	} else {
		fmt.Fprintln(d.out, "title:   (none)")
	}
	fmt.Fprintf(d.out, "history: %d turns\n", d.sess.Len())
	fmt.Fprintf(d.out, "stream:  %s\n", onOff(d.opts.Stream))
}

func (d *Dispatcher) listModels() {
	for _, m := range d.registry.List() {
		marker := " "
		if m.Model == d.sess.ActiveModel() {
			marker = "*"
		}
		fmt.Fprintf(d.out, " %s %-28s %s\n", marker, m.Model, m.Provider)
	}
}

// startRecorder launches the configured external recorder and returns
// immediately; the recorder's transcript arrives later through the watched
// file, not through this command.
func (d *Dispatcher) startRecorder() error {
	if d.micCommand == "" {
		return &InvalidArgumentError{Command: "/mic", Reason: "no recorder command configured (set mic_command)"}
	}
	cmd := exec.Command("sh", "-c", d.micCommand)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}
	go cmd.Wait()
	fmt.Fprintln(d.out, "recorder started")
	return nil
}

func (d *Dispatcher) printHelp() {
	fmt.Fprint(d.out, `commands:
  /help, ?          show this help
  /quit, /q, /bye   exit
  /cls              clear the screen
  /clear            clear conversation history
  /system [text]    set or unset the system prompt
  /model <name>     switch the active model
  /ls               list configured models
  /save [name]      save the session (default: title or generated name)
  /load <name>      load a saved session
  /sessions         list saved sessions
  /title            ask the model to title this conversation
  /status           show session state
  /ss               toggle streaming
  /mic              start the external recorder
  .                 repeat the last query
`)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// IsCommandError reports whether err is a dispatcher-level error rather than
// a backend or storage failure.
func IsCommandError(err error) bool {
	var ue *UnknownCommandError
	var ie *InvalidArgumentError
	return errors.As(err, &ue) || errors.As(err, &ie)
}
