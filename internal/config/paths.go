package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// UserConfigDir returns ~/.claudeman, creating it if absent. Grounded on
// the teacher's internal/config/paths.go GetUserConfigDir/EnsureConfigDirs.
func UserConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".claudeman")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("config: create %s: %w", dir, err)
	}
	return dir, nil
}

// ProjectDir walks up from start looking for a .git or .claudeman marker,
// returning start unchanged if none is found.
func ProjectDir(start string) string {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		if _, err := os.Stat(filepath.Join(dir, ".claudeman")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}
