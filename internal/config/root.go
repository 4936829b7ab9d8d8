// Package config locates the conserve project root and loads its settings.
//
// The root is where task files live and where relative task paths resolve.
// Settings come from <root>/.conserve/config.toml, then from CONSERVE_*
// environment variables; command-line flags are applied by the caller last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables read by conserve.
const (
	EnvRoot       = "CONSERVE_ROOT"
	EnvAutoAccept = "CONSERVE_AUTO_ACCEPT"
	EnvLogLevel   = "CONSERVE_LOG_LEVEL"
	EnvLogFormat  = "CONSERVE_LOG_FORMAT"
)

// Project markers.
const (
	TaskDir        = ".conserve"
	SingleTaskFile = ".conserve.hcl"
	SettingsFile   = "config.toml"
)

// FindRoot resolves the project root. An explicit flag value wins, then
// CONSERVE_ROOT, then the nearest ancestor of cwd holding a .conserve
// directory or a .conserve.hcl file. Without any marker cwd itself is used.
func FindRoot(flag, cwd string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvRoot); env != "" {
		return filepath.Abs(env)
	}

	start, err := filepath.Abs(cwd)
	if err != nil {
		return "", fmt.Errorf("failed to resolve working directory: %w", err)
	}
	for dir := start; ; {
		if isProjectRoot(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start, nil
		}
		dir = parent
	}
}

func isProjectRoot(dir string) bool {
	if info, err := os.Stat(filepath.Join(dir, TaskDir)); err == nil && info.IsDir() {
		return true
	}
	if info, err := os.Stat(filepath.Join(dir, SingleTaskFile)); err == nil && !info.IsDir() {
		return true
	}
	return false
}

// SettingsPath returns the settings file location for root.
func SettingsPath(root string) string {
	return filepath.Join(root, TaskDir, SettingsFile)
}
