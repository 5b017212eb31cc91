package commands

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/leware/parley/internal/config"
)

// NewRootCommand returns the top-level CLI command. Running parley with no
// subcommand enters interactive chat.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "parley",
		Usage: "Chat with LLMs from your terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Model to use (overrides the configured default)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level := slog.LevelWarn
			if cmd.Bool("debug") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return ctx, nil
		},
		Commands: []*cli.Command{
			NewChatCommand(),
			NewQueryCommand(),
			NewModelsCommand(),
			NewSetDefaultCommand(),
		},
		Action: runChat,
	}
}

// loadConfig reads the config named by the --config flag and applies the
// --model override.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if m := cmd.String("model"); m != "" {
		cfg.DefaultModel = m
	}
	return cfg, nil
}
