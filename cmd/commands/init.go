package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/robdel12/orbitdock/internal/config"
)

// NewInitCommand returns the init subcommand.
func NewInitCommand() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Create the data directory and a starter config",
		Action: runInit,
	}
}

func runInit(_ context.Context, cmd *cli.Command) error {
	dataDir := config.DataDir(cmd.String("data-dir"))
	if err := os.MkdirAll(config.LogsDir(dataDir), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	cfgPath := config.ConfigPath(dataDir)
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("config already exists: %s\n", cfgPath)
		return nil
	}
	if err := os.WriteFile(cfgPath, []byte(config.DefaultFileContent), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("initialized %s\n", dataDir)
	return nil
}
