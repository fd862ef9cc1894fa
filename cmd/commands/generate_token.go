package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/robdel12/orbitdock/internal/auth"
	"github.com/robdel12/orbitdock/internal/config"
)

// NewGenerateTokenCommand returns the generate-token subcommand.
func NewGenerateTokenCommand() *cli.Command {
	return &cli.Command{
		Name:   "generate-token",
		Usage:  "Generate an auth token and store it in the data directory",
		Action: runGenerateToken,
	}
}

func runGenerateToken(_ context.Context, cmd *cli.Command) error {
	dataDir := config.DataDir(cmd.String("data-dir"))
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	token, err := auth.Generate()
	if err != nil {
		return err
	}
	path := config.TokenPath(dataDir)
	if err := auth.Save(path, token); err != nil {
		return err
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("auth token written to %s\n\n  %s\n\nclients must send it as ?token= or a bearer header\n", path, token)
	} else {
		// Piped: emit the bare token for scripts.
		fmt.Println(token)
	}
	return nil
}
