package app

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Settings is the persisted client configuration. A change to the file while
// the client runs is picked up live and may replace the event channel.
type Settings struct {
	ServerURL   string `json:"serverUrl"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	ChatID      string `json:"chatId,omitempty"`
	Demo        bool   `json:"demo,omitempty"`
}

// LoadSettings reads the settings file. A missing file returns zero settings
// and no error so first runs work without any setup.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, nil
		}
		return Settings{}, err
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// SaveSettings writes the settings atomically via a temp file rename.
func SaveSettings(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// WatchSettings watches the settings file and invokes onChange with the
// reloaded settings on every rewrite. The watch is on the directory because
// editors and SaveSettings replace the file by rename. The returned func stops
// the watcher.
func WatchSettings(path string, onChange func(Settings)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	target := filepath.Clean(path)

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				s, err := LoadSettings(path)
				if err != nil {
					log.Printf("CONF: reload failed: %v", err)
					continue
				}
				onChange(s)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("CONF: watch error: %v", err)
			}
		}
	}()
	return func() { _ = watcher.Close() }, nil
}
