package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danieljhkim/conserve/internal/logging"
)

// Settings are the project-level defaults.
type Settings struct {
	// AutoAccept commits without asking for confirmation
	AutoAccept bool

	// Tasks is the default selection when no filter is given
	Tasks []string

	// LogLevel is a zerolog level name
	LogLevel string

	// LogFormat is "console" or "json"
	LogFormat string
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		LogLevel:  "warn",
		LogFormat: "console",
	}
}

// config.toml key mapping to Settings.
type fileSettings struct {
	Run struct {
		AutoAccept bool     `toml:"auto_accept"`
		Tasks      []string `toml:"tasks"`
	} `toml:"run"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

// Load reads the settings of root. A missing settings file is not an error.
// Environment overrides are applied on top.
func Load(root string) (Settings, error) {
	cfg := DefaultSettings()
	path := SettingsPath(root)

	var raw fileSettings
	meta, err := toml.DecodeFile(path, &raw)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Settings{}, fmt.Errorf("load settings %s: %w", path, err)
	default:
		if meta.IsDefined("run", "auto_accept") {
			cfg.AutoAccept = raw.Run.AutoAccept
		}
		if meta.IsDefined("run", "tasks") {
			cfg.Tasks = raw.Run.Tasks
		}
		if meta.IsDefined("log", "level") {
			cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
		}
		if meta.IsDefined("log", "format") {
			cfg.LogFormat = strings.TrimSpace(raw.Log.Format)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Settings{}, fmt.Errorf("load settings %s: unknown key %s", path, undecoded[0])
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Settings{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, fmt.Errorf("load settings %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Settings) error {
	if raw := strings.TrimSpace(os.Getenv(EnvAutoAccept)); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAutoAccept, err)
		}
		cfg.AutoAccept = v
	}
	if raw := strings.TrimSpace(os.Getenv(EnvLogLevel)); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := strings.TrimSpace(os.Getenv(EnvLogFormat)); raw != "" {
		cfg.LogFormat = raw
	}
	return nil
}

// Validate checks the enumerated fields.
func (s Settings) Validate() error {
	switch strings.ToLower(s.LogFormat) {
	case "", "console", "json":
	default:
		return fmt.Errorf("unsupported log format %q (expected console or json)", s.LogFormat)
	}
	if s.LogLevel != "" {
		if _, ok := logging.ParseLevel(s.LogLevel); !ok {
			return fmt.Errorf("unsupported log level %q (expected trace, debug, info, warn, error or disabled)", s.LogLevel)
		}
	}
	return nil
}
