package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/leware/parley/internal/backend"
	"github.com/leware/parley/internal/render"
	"github.com/leware/parley/internal/session"
)

// NewQueryCommand returns the one-shot query subcommand: ask a single
// question, print the answer, exit.
func NewQueryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Aliases:   []string{"q"},
		Usage:     "Send one question and print the answer",
		ArgsUsage: "<question>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "question",
				Aliases: []string{"q"},
				Usage:   "Question to ask (alternative to positional args)",
			},
			&cli.StringFlag{
				Name:  "system",
				Usage: "System prompt for this query",
			},
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Print the answer without markdown rendering",
			},
		},
		Action: runQuery,
	}
}

func runQuery(ctx context.Context, cmd *cli.Command) error {
	question := strings.TrimSpace(cmd.String("question"))
	if question == "" {
		question = strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	}
	if question == "" {
		return fmt.Errorf("usage: parley query <question>")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	registry, err := backend.NewRegistry(cfg)
	if err != nil {
		return fmt.Errorf("initialize backends: %w", err)
	}

	b, err := registry.Resolve(ctx, cfg.DefaultModel)
	if err != nil {
		return err
	}

	qctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout.Duration())
	defer cancel()

	sess := session.New(cfg.DefaultModel)
	sess.SetSystemPrompt(cmd.String("system"))

	resp, err := b.Send(qctx, sess.QueryTurns(question), backend.PromptConfig{})
	if err != nil {
		return backend.Classify(b.Name(), err)
	}

	if cmd.Bool("raw") || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(resp.Content)
		return nil
	}

	width := 100
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}
	fmt.Println(render.NewMarkdown(width).Render(resp.Content))
	return nil
}
