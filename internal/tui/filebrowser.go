package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// fileItem is one row in the upload picker.
type fileItem struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64
}

// fileBrowser is the state of the /upload picker overlay.
type fileBrowser struct {
	path   string
	items  []fileItem
	cursor int
	err    string
}

func newFileBrowser() *fileBrowser {
	b := &fileBrowser{path: defaultBrowsePath()}
	b.load(b.path)
	return b
}

func (b *fileBrowser) load(path string) {
	items, err := browseDirectory(path)
	if err != nil {
		b.err = err.Error()
		return
	}
	b.path = path
	b.items = items
	b.cursor = 0
	b.err = ""
}

func (b *fileBrowser) moveUp() {
	if b.cursor > 0 {
		b.cursor--
	}
}

func (b *fileBrowser) moveDown() {
	if b.cursor < len(b.items)-1 {
		b.cursor++
	}
}

// selectCurrent descends into a directory or returns the chosen file path.
func (b *fileBrowser) selectCurrent() (string, bool) {
	if len(b.items) == 0 {
		return "", false
	}
	item := b.items[b.cursor]
	if item.IsDir {
		b.load(item.Path)
		return "", false
	}
	return item.Path, true
}

// browseDirectory lists path with a ".." entry first and directories sorted
// ahead of files. Hidden entries are skipped.
func browseDirectory(path string) ([]fileItem, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	items := make([]fileItem, 0, len(entries)+1)
	if path != "/" && path != "." {
		items = append(items, fileItem{
			Name:  "..",
			Path:  filepath.Dir(path),
			IsDir: true,
		})
	}

	for _, entry := range entries {
		if len(entry.Name()) > 0 && entry.Name()[0] == '.' {
			continue
		}
		item := fileItem{
			Name:  entry.Name(),
			Path:  filepath.Join(path, entry.Name()),
			IsDir: entry.IsDir(),
		}
		if !entry.IsDir() {
			if info, err := entry.Info(); err == nil {
				item.Size = info.Size()
			}
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Name == ".." {
			return true
		}
		if items[j].Name == ".." {
			return false
		}
		if items[i].IsDir != items[j].IsDir {
			return items[i].IsDir
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

// defaultBrowsePath picks a sensible starting directory.
func defaultBrowsePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		for _, sub := range []string{"Documents", "Downloads"} {
			candidate := filepath.Join(home, sub)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
		return home
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

func formatFileSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
