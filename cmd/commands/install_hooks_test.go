package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runHooksInstall(t *testing.T, settingsPath, dataDir string) {
	t.Helper()
	cmd := NewRootCommand()
	args := []string{"orbitdock", "--data-dir", dataDir, "install-hooks", "--settings", settingsPath}
	if err := cmd.Run(t.Context(), args); err != nil {
		t.Fatal(err)
	}
}

func TestInstallHooksCreatesSettings(t *testing.T) {
	dir := t.TempDir()
	settingsPath := filepath.Join(dir, "settings.json")

	runHooksInstall(t, settingsPath, dir)

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		t.Fatal(err)
	}
	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatal(err)
	}
	hooks, _ := settings["hooks"].(map[string]any)
	for _, event := range hookEvents {
		if _, ok := hooks[event]; !ok {
			t.Errorf("missing hook event %s", event)
		}
	}
}

func TestInstallHooksIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	settingsPath := filepath.Join(dir, "settings.json")

	runHooksInstall(t, settingsPath, dir)
	first, err := os.ReadFile(settingsPath)
	if err != nil {
		t.Fatal(err)
	}
	runHooksInstall(t, settingsPath, dir)
	second, err := os.ReadFile(settingsPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatal("second install changed settings")
	}
}

func TestInstallHooksPreservesExistingEntries(t *testing.T) {
	dir := t.TempDir()
	settingsPath := filepath.Join(dir, "settings.json")
	existing := `{"hooks":{"SessionStart":[{"hooks":[{"type":"command","command":"echo hi"}]}]},"model":"opus"}`
	if err := os.WriteFile(settingsPath, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	runHooksInstall(t, settingsPath, dir)

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "echo hi") {
		t.Fatal("existing hook entry lost")
	}
	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatal(err)
	}
	if settings["model"] != "opus" {
		t.Fatal("unrelated setting lost")
	}
}

func TestHookCommandQuotesOperands(t *testing.T) {
	cmd, err := hookCommand("orbitdock-hook", "ws://127.0.0.1:4000/ws", "/data dir/with spaces")
	if err != nil {
		t.Fatal(err)
	}
	// The operand with spaces must not appear bare after --data-dir.
	if strings.Contains(cmd, "--data-dir /data dir/with spaces") {
		t.Fatalf("data dir not quoted: %s", cmd)
	}
	if !strings.Contains(cmd, "with spaces") {
		t.Fatalf("data dir lost: %s", cmd)
	}
}
