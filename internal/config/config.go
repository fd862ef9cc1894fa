package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Config is the server configuration. Every field has a default; the
// file is optional and CLI flags override it.
type Config struct {
	Bind            string   `json:"bind"`
	AuthToken       string   `json:"auth_token,omitempty"`
	LogLevel        string   `json:"log_level"`
	GracePeriod     Duration `json:"grace_period"`
	SweepSchedule   string   `json:"sweep_schedule"`
	ReadIdleTimeout Duration `json:"read_idle_timeout"`
}

// Load reads the JSONC config at path, expands ${{ .Env.VAR }} templates,
// and applies defaults. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand env templates before stripping comments; templates live
	// inside strings.
	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("standardize config: %w", err)
	}
	if err := json.Unmarshal(std, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Bind == "" {
		cfg.Bind = "127.0.0.1:4000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = Duration(30 * time.Minute)
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "*/5 * * * *"
	}
	if cfg.ReadIdleTimeout == 0 {
		cfg.ReadIdleTimeout = Duration(5 * time.Minute)
	}
}

// DefaultFileContent is written by `orbitdock init` as a commented
// starting point.
const DefaultFileContent = `{
  // Address the gateway listens on.
  "bind": "127.0.0.1:4000",

  // Log level: "debug" | "info" | "warn" | "error".
  "log_level": "info",

  // How long ended sessions stay resident before eviction.
  "grace_period": "30m",

  // Cron schedule of the eviction sweep.
  "sweep_schedule": "*/5 * * * *",

  // Idle WebSocket connections are dropped after this long.
  "read_idle_timeout": "5m"
}
`

// Duration wraps time.Duration for JSON unmarshaling of "30m"-style
// strings.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
