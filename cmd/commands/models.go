package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/leware/parley/internal/backend"
)

// NewModelsCommand returns the model-listing subcommand.
func NewModelsCommand() *cli.Command {
	return &cli.Command{
		Name:    "models",
		Aliases: []string{"ls"},
		Usage:   "List configured models",
		Action:  runModels,
	}
}

func runModels(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	registry, err := backend.NewRegistry(cfg)
	if err != nil {
		return fmt.Errorf("initialize backends: %w", err)
	}

	for _, m := range registry.List() {
		marker := " "
		if m.Model == cfg.DefaultModel {
			marker = "*"
		}
		fmt.Printf(" %s %-28s %-10s ctx %d\n", marker, m.Model, m.Provider, registry.ContextWindow(m.Model))
	}
	return nil
}
