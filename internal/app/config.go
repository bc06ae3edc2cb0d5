package app

import (
	"os"
	"path/filepath"
	"runtime"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr        string
	DBPath      string
	UploadDir   string
	MaxFileSize int64
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL    string
	Username     string
	DisplayName  string
	ChatID       string
	Demo         bool
	SettingsPath string
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("PARLEY_DB_PATH"); env != "" {
		return env
	}
	return filepath.Join(dataDir(), "parley.db")
}

// DefaultUploadDir returns the directory uploaded media is stored in.
func DefaultUploadDir() string {
	if env := os.Getenv("PARLEY_UPLOAD_DIR"); env != "" {
		return env
	}
	return filepath.Join(dataDir(), "uploads")
}

// DefaultSettingsPath returns where the client keeps its settings file.
func DefaultSettingsPath() string {
	if env := os.Getenv("PARLEY_SETTINGS_PATH"); env != "" {
		return env
	}
	return filepath.Join(dataDir(), "settings.json")
}

func dataDir() string {
	if env := os.Getenv("PARLEY_DATA_DIR"); env != "" {
		return env
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "parley")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Parley")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Parley")
		}
		return filepath.Join(home, ".local", "share", "parley")
	}
	return filepath.Join(".", ".parley")
}
