package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformDataDir returns where the workspace lives by default:
// ~/Library/Application Support/modelvault on macOS, XDG data dir on
// Linux, %APPDATA%\modelvault on Windows, ~/.modelvault anywhere else.
// The MODELVAULT_DATA_DIR override is applied by DataDir, not here.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "modelvault")
	case "linux":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "modelvault")
		}
		return filepath.Join(homeDir(), ".local", "share", "modelvault")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "modelvault")
		}
		return filepath.Join(homeDir(), "AppData", "Roaming", "modelvault")
	default:
		return filepath.Join(homeDir(), ".modelvault")
	}
}

// homeDir resolves the user's home, falling back to the current directory
// so a missing HOME still yields a usable relative workspace.
func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
