package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/robdel12/orbitdock/internal/auth"
	"github.com/robdel12/orbitdock/internal/config"
	"github.com/robdel12/orbitdock/internal/connector"
	"github.com/robdel12/orbitdock/internal/gateway"
	"github.com/robdel12/orbitdock/internal/registry"
	"github.com/robdel12/orbitdock/internal/store"
)

// NewStartCommand returns the start subcommand (also the default).
func NewStartCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start the OrbitDock server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "bind",
				Usage: "Address to listen on",
			},
			&cli.StringFlag{
				Name:  "auth-token",
				Usage: "Require this token on every connection",
			},
		},
		Action: runStart,
	}
}

func runStart(ctx context.Context, cmd *cli.Command) error {
	dataDir := config.DataDir(cmd.String("data-dir"))
	if err := os.MkdirAll(config.LogsDir(dataDir), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	cfg, err := config.Load(config.ConfigPath(dataDir))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.IsSet("bind") {
		cfg.Bind = cmd.String("bind")
	}

	logFile, err := setupLogging(dataDir, cfg.LogLevel, cmd.Bool("debug"))
	if err != nil {
		return err
	}
	defer logFile.Close()

	token, err := resolveToken(cmd, cfg, dataDir)
	if err != nil {
		return err
	}

	// Storage first: the writer must be draining before any actor exists.
	db, err := store.Open(config.DBPath(dataDir))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	writer := store.NewWriter(db, store.QueueCapacity)
	writer.Start()

	reg := registry.New(ctx, db, writer, connector.DetachedFactory())

	restored, err := reg.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	if restored > 0 {
		slog.Info("restored sessions", "count", restored)
	}

	sweeper, err := registry.NewSweeper(reg, cfg.GracePeriod.Duration(), cfg.SweepSchedule)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Only now does the gateway accept connections.
	server := gateway.NewServer(reg, writer, gateway.Config{
		Bind:            cfg.Bind,
		AuthToken:       token,
		ReadIdleTimeout: cfg.ReadIdleTimeout.Duration(),
		OnBound: func(addr net.Addr) {
			writePidFile(dataDir)
		},
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("gateway shutdown", "error", err)
		}
		reg.Shutdown(shutdownCtx)
		writer.Close()
		removePidFile(dataDir)
		return nil
	case err := <-errCh:
		removePidFile(dataDir)
		return err
	}
}

// setupLogging installs a JSON handler writing to logs/server.log and
// mirroring to stderr.
func setupLogging(dataDir, level string, debug bool) (io.Closer, error) {
	f, err := os.OpenFile(config.LogPath(dataDir), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logLevel := resolveLogLevel(level)
	if debug {
		logLevel = slog.LevelDebug
	}
	out := io.MultiWriter(os.Stderr, f)
	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: logLevel})))
	return f, nil
}

func resolveLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveToken precedence: --auth-token flag, config file, auth-token
// file. Empty disables auth.
func resolveToken(cmd *cli.Command, cfg *config.Config, dataDir string) (string, error) {
	if cmd.IsSet("auth-token") {
		return cmd.String("auth-token"), nil
	}
	if cfg.AuthToken != "" {
		return cfg.AuthToken, nil
	}
	token, err := auth.Load(config.TokenPath(dataDir))
	if err != nil {
		return "", err
	}
	return token, nil
}

func writePidFile(dataDir string) {
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(config.PidPath(dataDir), []byte(pid+"\n"), 0o644); err != nil {
		slog.Warn("write pid file", "error", err)
	}
}

func removePidFile(dataDir string) {
	if err := os.Remove(config.PidPath(dataDir)); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove pid file", "error", err)
	}
}
