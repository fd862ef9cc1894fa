package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	ps "github.com/mitchellh/go-ps"
	"github.com/urfave/cli/v3"

	"github.com/robdel12/orbitdock/internal/config"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Report whether the server is running",
		Action: runStatus,
	}
}

func runStatus(_ context.Context, cmd *cli.Command) error {
	dataDir := config.DataDir(cmd.String("data-dir"))
	pidPath := config.PidPath(dataDir)

	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("orbitdock: not running (no pid file)")
			return nil
		}
		return fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse pid file %s: %w", pidPath, err)
	}

	proc, err := ps.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("look up pid %d: %w", pid, err)
	}
	if proc == nil {
		fmt.Printf("orbitdock: not running (stale pid file, pid %d)\n", pid)
		return nil
	}

	fmt.Printf("orbitdock: running (pid %d, %s)\n", pid, proc.Executable())
	return nil
}
