package app

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	// missing file is not an error
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings on missing file: %v", err)
	}
	if s != (Settings{}) {
		t.Fatalf("expected zero settings, got %+v", s)
	}

	want := Settings{ServerURL: "ws://localhost:8080/ws", Username: "alice", Demo: true}
	if err := SaveSettings(path, want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestWatchSettingsFiresOnRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := SaveSettings(path, Settings{Username: "alice"}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	changed := make(chan Settings, 4)
	stop, err := WatchSettings(path, func(s Settings) {
		changed <- s
	})
	if err != nil {
		t.Fatalf("WatchSettings: %v", err)
	}
	defer stop()

	if err := SaveSettings(path, Settings{Username: "bob"}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-changed:
			if s.Username == "bob" {
				return
			}
		case <-deadline:
			t.Fatalf("watcher never delivered the rewrite")
		}
	}
}
