package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"
	"mvdan.cc/sh/v3/syntax"

	"github.com/robdel12/orbitdock/internal/config"
)

// Claude CLI hook events the bridge forwards to the server.
var hookEvents = []string{
	"SessionStart",
	"SessionEnd",
	"PreToolUse",
	"PostToolUse",
	"Stop",
	"SubagentStop",
}

// NewInstallHooksCommand returns the install-hooks subcommand.
func NewInstallHooksCommand() *cli.Command {
	return &cli.Command{
		Name:  "install-hooks",
		Usage: "Install OrbitDock hook entries into Claude CLI settings",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "bridge",
				Usage: "Hook bridge executable",
				Value: "orbitdock-hook",
			},
			&cli.StringFlag{
				Name:  "server",
				Usage: "Server WebSocket URL the bridge connects to",
				Value: "ws://127.0.0.1:4000/ws",
			},
			&cli.StringFlag{
				Name:  "settings",
				Usage: "Claude settings file (default ~/.claude/settings.json)",
			},
		},
		Action: runInstallHooks,
	}
}

func runInstallHooks(_ context.Context, cmd *cli.Command) error {
	settingsPath := cmd.String("settings")
	if settingsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		settingsPath = filepath.Join(home, ".claude", "settings.json")
	}

	settings := map[string]any{}
	if data, err := os.ReadFile(settingsPath); err == nil {
		if err := json.Unmarshal(data, &settings); err != nil {
			return fmt.Errorf("parse %s: %w", settingsPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", settingsPath, err)
	}

	dataDir := config.DataDir(cmd.String("data-dir"))
	command, err := hookCommand(cmd.String("bridge"), cmd.String("server"), dataDir)
	if err != nil {
		return err
	}

	hooks, _ := settings["hooks"].(map[string]any)
	if hooks == nil {
		hooks = map[string]any{}
	}
	installed := 0
	for _, event := range hookEvents {
		if hasHookCommand(hooks, event, command) {
			continue
		}
		entries, _ := hooks[event].([]any)
		entries = append(entries, map[string]any{
			"hooks": []any{
				map[string]any{"type": "command", "command": command + " --event " + event},
			},
		})
		hooks[event] = entries
		installed++
	}
	settings["hooks"] = hooks

	if err := os.MkdirAll(filepath.Dir(settingsPath), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(settingsPath, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", settingsPath, err)
	}

	fmt.Printf("installed %d hook entries in %s\n", installed, settingsPath)
	return nil
}

// hookCommand builds the shell command line the Claude CLI runs for each
// hook, with every operand quoted for the shell.
func hookCommand(bridge, server, dataDir string) (string, error) {
	parts := []string{bridge, "--server", server, "--data-dir", dataDir}
	quoted := make([]string, len(parts))
	for i, p := range parts {
		q, err := syntax.Quote(p, syntax.LangBash)
		if err != nil {
			return "", fmt.Errorf("quote %q: %w", p, err)
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " "), nil
}

// hasHookCommand reports whether event already carries an entry with the
// same command prefix.
func hasHookCommand(hooks map[string]any, event, command string) bool {
	entries, _ := hooks[event].([]any)
	for _, e := range entries {
		entry, _ := e.(map[string]any)
		inner, _ := entry["hooks"].([]any)
		for _, h := range inner {
			hook, _ := h.(map[string]any)
			if cmd, _ := hook["command"].(string); strings.HasPrefix(cmd, command) {
				return true
			}
		}
	}
	return false
}
