// Package config resolves the data directory and loads the optional
// server configuration file.
package config

import (
	"os"
	"path/filepath"
)

// DataDir resolves the data directory: explicit flag value, then
// $ORBITDOCK_DATA_DIR, then ~/.orbitdock.
func DataDir(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("ORBITDOCK_DATA_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".orbitdock")
	}
	return filepath.Join(home, ".orbitdock")
}

// DBPath is the SQLite database file.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "orbitdock.db")
}

// PidPath is written after a successful bind and removed on shutdown.
func PidPath(dataDir string) string {
	return filepath.Join(dataDir, "orbitdock.pid")
}

// TokenPath holds the optional auth token, owner-only.
func TokenPath(dataDir string) string {
	return filepath.Join(dataDir, "auth-token")
}

// LogsDir holds structured server logs.
func LogsDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// LogPath is the JSON-lines server log.
func LogPath(dataDir string) string {
	return filepath.Join(LogsDir(dataDir), "server.log")
}

// ConfigPath is the optional JSONC configuration file.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.jsonc")
}
