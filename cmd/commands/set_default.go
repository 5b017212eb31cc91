package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/leware/parley/internal/backend"
	"github.com/leware/parley/internal/config"
)

// NewSetDefaultCommand returns the subcommand that persists a new default
// model into the config file.
func NewSetDefaultCommand() *cli.Command {
	return &cli.Command{
		Name:      "set-default",
		Usage:     "Persist the default model in the config file",
		ArgsUsage: "<model>",
		Action:    runSetDefault,
	}
}

func runSetDefault(_ context.Context, cmd *cli.Command) error {
	model := cmd.Args().First()
	if model == "" {
		return fmt.Errorf("usage: parley set-default <model>")
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	cfg.DefaultModel = model

	// Reject names nothing can serve before writing them to disk.
	if _, err := backend.NewRegistry(cfg); err != nil {
		return err
	}

	if err := config.SaveDefaultModel(cmd.String("config"), model); err != nil {
		return err
	}
	fmt.Printf("default model set to %s\n", model)
	return nil
}
