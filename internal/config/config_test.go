package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.jsonc"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bind != "127.0.0.1:4000" {
		t.Errorf("bind: %q", cfg.Bind)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level: %q", cfg.LogLevel)
	}
	if cfg.GracePeriod.Duration() != 30*time.Minute {
		t.Errorf("grace period: %s", cfg.GracePeriod.Duration())
	}
	if cfg.SweepSchedule != "*/5 * * * *" {
		t.Errorf("sweep schedule: %q", cfg.SweepSchedule)
	}
}

func TestLoadStripsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	content := `{
		// the bind address
		"bind": "0.0.0.0:9000",
		"grace_period": "10m", // keep short
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bind != "0.0.0.0:9000" {
		t.Errorf("bind: %q", cfg.Bind)
	}
	if cfg.GracePeriod.Duration() != 10*time.Minute {
		t.Errorf("grace period: %s", cfg.GracePeriod.Duration())
	}
}

func TestLoadExpandsEnvTemplates(t *testing.T) {
	t.Setenv("ORBITDOCK_TEST_TOKEN", "tok-123")
	path := filepath.Join(t.TempDir(), "config.jsonc")
	content := `{
		"auth_token": "${{ .Env.ORBITDOCK_TEST_TOKEN }}",
		"bind": "${{ .Env.ORBITDOCK_TEST_UNSET }}"
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AuthToken != "tok-123" {
		t.Errorf("auth token: %q", cfg.AuthToken)
	}
	// Unset vars expand to empty, so the default applies.
	if cfg.Bind != "127.0.0.1:4000" {
		t.Errorf("bind: %q", cfg.Bind)
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	if err := os.WriteFile(path, []byte(`{"bind": `), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDefaultFileContentParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	if err := os.WriteFile(path, []byte(DefaultFileContent), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("init template must parse: %v", err)
	}
	if cfg.ReadIdleTimeout.Duration() != 5*time.Minute {
		t.Errorf("read idle timeout: %s", cfg.ReadIdleTimeout.Duration())
	}
}

func TestDataDirPrecedence(t *testing.T) {
	t.Setenv("ORBITDOCK_DATA_DIR", "/env/dir")
	if got := DataDir("/flag/dir"); got != "/flag/dir" {
		t.Errorf("flag should win: %q", got)
	}
	if got := DataDir(""); got != "/env/dir" {
		t.Errorf("env should win over home: %q", got)
	}
}
