// Package platform provides OS-aware helpers for data paths.
// Code that needs to behave differently per OS belongs here.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
)

// IsWindows returns true when running on Windows.
func IsWindows() bool { return runtime.GOOS == "windows" }

// DefaultWorkDir returns the OS-appropriate data directory for shoptrans.
//
//	Linux:   ~/.local/share/shoptrans
//	macOS:   ~/Library/Application Support/Shoptrans
//	Windows: %APPDATA%\Shoptrans
//
// WORK_DIR takes priority when set (used in containers).
func DefaultWorkDir() string {
	if env := os.Getenv("WORK_DIR"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Shoptrans")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Shoptrans")
	default:
		return filepath.Join(home, ".local", "share", "shoptrans")
	}
}

// DataPath returns a path inside the work directory.
func DataPath(parts ...string) string {
	return filepath.Join(append([]string{DefaultWorkDir()}, parts...)...)
}

// EnsureDir creates a directory and all parents if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
