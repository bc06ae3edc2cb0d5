package tui

import (
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestBrowseDirectoryListsDirsFirst(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"b.txt", "a.txt", ".hidden"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	items, err := browseDirectory(dir)
	if err != nil {
		t.Fatalf("browseDirectory: %v", err)
	}

	var names []string
	for _, item := range items {
		names = append(names, item.Name)
	}
	want := []string{"..", "sub", "a.txt", "b.txt"}
	if len(names) != len(want) {
		t.Fatalf("got %v want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v want %v", names, want)
		}
	}
}

func TestBrowserSelectDescendsAndPicks(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	file := filepath.Join(sub, "note.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	b := &fileBrowser{}
	b.load(dir)

	// cursor starts on "..", move to "sub" and enter it
	b.moveDown()
	if _, ok := b.selectCurrent(); ok {
		t.Fatalf("entering a directory must not pick a file")
	}
	if b.path != sub {
		t.Fatalf("expected to descend into %s, got %s", sub, b.path)
	}

	b.moveDown()
	picked, ok := b.selectCurrent()
	if !ok || picked != file {
		t.Fatalf("expected %s, got %q ok=%v", file, picked, ok)
	}
}

func TestUploadCommandOpensBrowser(t *testing.T) {
	m := newTestModel(t)
	m.input.SetValue("/upload")
	m.submitInput()
	if m.browser == nil {
		t.Fatalf("expected the picker to open")
	}

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if m.browser != nil {
		t.Fatalf("esc must close the picker")
	}
}

func TestFormatFileSize(t *testing.T) {
	cases := map[int64]string{
		512:     "512 B",
		2048:    "2.0 KB",
		3 << 20: "3.0 MB",
	}
	for in, want := range cases {
		if got := formatFileSize(in); got != want {
			t.Fatalf("formatFileSize(%d) = %q, want %q", in, got, want)
		}
	}
}
