package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/urfave/cli/v3"

	"github.com/robdel12/orbitdock/internal/config"
)

// NewInstallServiceCommand returns the install-service subcommand.
func NewInstallServiceCommand() *cli.Command {
	return &cli.Command{
		Name:   "install-service",
		Usage:  "Install a user service that starts the server at login",
		Action: runInstallService,
	}
}

func runInstallService(_ context.Context, cmd *cli.Command) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	dataDir := config.DataDir(cmd.String("data-dir"))

	switch runtime.GOOS {
	case "linux":
		return installSystemd(exe, dataDir)
	case "darwin":
		return installLaunchd(exe, dataDir)
	default:
		return fmt.Errorf("install-service is not supported on %s", runtime.GOOS)
	}
}

func installSystemd(exe, dataDir string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home dir: %w", err)
	}
	unitDir := filepath.Join(home, ".config", "systemd", "user")
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}

	unit := fmt.Sprintf(`[Unit]
Description=OrbitDock server
After=network.target

[Service]
ExecStart=%s start
Environment=ORBITDOCK_DATA_DIR=%s
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`, exe, dataDir)

	path := filepath.Join(unitDir, "orbitdock.service")
	if err := os.WriteFile(path, []byte(unit), 0o644); err != nil {
		return fmt.Errorf("write unit: %w", err)
	}

	fmt.Printf("wrote %s\nenable with:\n\n  systemctl --user enable --now orbitdock\n", path)
	return nil
}

func installLaunchd(exe, dataDir string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home dir: %w", err)
	}
	agentsDir := filepath.Join(home, "Library", "LaunchAgents")
	if err := os.MkdirAll(agentsDir, 0o755); err != nil {
		return fmt.Errorf("create agents dir: %w", err)
	}

	plist := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>io.orbitdock.server</string>
	<key>ProgramArguments</key>
	<array>
		<string>%s</string>
		<string>start</string>
	</array>
	<key>EnvironmentVariables</key>
	<dict>
		<key>ORBITDOCK_DATA_DIR</key>
		<string>%s</string>
	</dict>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
</dict>
</plist>
`, exe, dataDir)

	path := filepath.Join(agentsDir, "io.orbitdock.server.plist")
	if err := os.WriteFile(path, []byte(plist), 0o644); err != nil {
		return fmt.Errorf("write plist: %w", err)
	}

	fmt.Printf("wrote %s\nload with:\n\n  launchctl load %s\n", path, path)
	return nil
}
