// Package commands holds the CLI surface.
package commands

import (
	"github.com/urfave/cli/v3"
)

// NewRootCommand returns the top-level CLI command. `start` runs when no
// subcommand is given.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:           "orbitdock",
		Usage:          "Control plane for long-running AI coding agent sessions",
		DefaultCommand: "start",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Data directory (default ~/.orbitdock)",
				Sources: cli.EnvVars("ORBITDOCK_DATA_DIR"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewStartCommand(),
			NewInitCommand(),
			NewInstallHooksCommand(),
			NewInstallServiceCommand(),
			NewStatusCommand(),
			NewGenerateTokenCommand(),
		},
	}
}
