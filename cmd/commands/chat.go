package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/leware/parley/internal/backend"
	"github.com/leware/parley/internal/config"
	"github.com/leware/parley/internal/engine"
	"github.com/leware/parley/internal/input"
	"github.com/leware/parley/internal/render"
	"github.com/leware/parley/internal/session"
)

const version = "0.4.0"

// NewChatCommand returns the interactive chat subcommand. It is also the
// default action of the root command.
func NewChatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Start an interactive chat session",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "stream",
				Usage: "Stream responses token by token",
				Value: true,
			},
			&cli.StringFlag{
				Name:  "load",
				Usage: "Saved session to resume",
			},
		},
		Action: runChat,
	}
}

func runChat(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	registry, err := backend.NewRegistry(cfg)
	if err != nil {
		return fmt.Errorf("initialize backends: %w", err)
	}

	sess, err := openSession(cmd, cfg, registry)
	if err != nil {
		return err
	}

	opts := &engine.Options{
		Stream:         cfg.Stream,
		RequestTimeout: cfg.RequestTimeout.Duration(),
		QuitPolicy:     cfg.QuitPolicy,
	}
	if cmd.IsSet("stream") {
		opts.Stream = cmd.Bool("stream")
	}

	out := os.Stdout
	width := 100
	if w, _, err := term.GetSize(int(out.Fd())); err == nil && w > 0 {
		width = w
	}
	md := render.NewMarkdown(width)

	dispatcher := engine.NewDispatcher(sess, registry, config.SessionsDir(), cfg.MicCommand, out, opts)
	busy := engine.NewBusyFlag(cfg.RuntimeDir)
	eng := engine.New(sess, registry, dispatcher, busy, out, md.Render, opts)

	fmt.Fprintln(out, render.Banner(version, sess.ActiveModel()))

	model := sess.ActiveModel()
	terminal := input.NewTerminal(os.Stdin, out, func() string { return render.Prompt(model) })
	watcher := input.NewWatcher(config.TranscriptPath(cfg.RuntimeDir))

	return eng.Run(ctx, terminal, watcher)
}

// openSession creates a fresh session, or resumes a saved one when --load is
// given. A resumed session with a no-longer-configured model falls back to
// the default.
func openSession(cmd *cli.Command, cfg *config.Config, registry *backend.Registry) (*session.ChatSession, error) {
	name := cmd.String("load")
	if name == "" {
		sess := session.New(cfg.DefaultModel)
		sess.SetSystemPrompt(cfg.SystemPrompt)
		return sess, nil
	}

	path := filepath.Join(config.SessionsDir(), session.CleanName(name)+".json")
	sess, err := session.Load(path)
	if err != nil {
		return nil, fmt.Errorf("resume session: %w", err)
	}
	if !registry.Resolvable(sess.ActiveModel()) {
		fmt.Fprintf(os.Stderr, "model %q no longer configured, using %s\n", sess.ActiveModel(), registry.DefaultName())
		sess.SetActiveModel(registry.DefaultName())
	}
	return sess, nil
}
