package version

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const downloadTimeout = 2 * time.Minute

// CheckForUpdate reports whether a newer release exists and its version.
func CheckForUpdate(ctx context.Context) (bool, string, error) {
	latest, err := Latest(ctx)
	if err != nil {
		return false, "", err
	}
	return Compare(latest, Version) > 0, latest, nil
}

// UpdateToLatest downloads the newest release binary, verifies its published
// SHA-256 digest, and replaces the running executable in place.
func UpdateToLatest(ctx context.Context) error {
	fmt.Println("Checking for updates...")

	latest, err := Latest(ctx)
	if err != nil {
		return fmt.Errorf("failed to check for updates: %w", err)
	}
	if Compare(latest, Version) <= 0 {
		fmt.Printf("You're already on the latest version (v%s)\n", Version)
		return nil
	}

	fmt.Printf("Updating from v%s to v%s...\n", Version, latest)
	fmt.Println("Downloading...")
	tmpFile, sum, err := downloadBinary(ctx, DownloadURL(latest))
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer os.Remove(tmpFile)

	want, err := fetchChecksum(ctx, ChecksumURL(latest))
	if err != nil {
		return fmt.Errorf("fetch checksum: %w", err)
	}
	if !strings.EqualFold(sum, want) {
		return fmt.Errorf("checksum mismatch: got %s, published %s", sum, want)
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("failed to resolve symlinks: %w", err)
	}

	if err := os.Chmod(tmpFile, 0755); err != nil {
		return fmt.Errorf("failed to make binary executable: %w", err)
	}

	fmt.Println("Installing...")
	if err := replaceBinary(tmpFile, execPath); err != nil {
		return fmt.Errorf("failed to replace binary: %w", err)
	}

	fmt.Printf("✓ Successfully updated to v%s!\n", latest)
	fmt.Println("Restart parley to use the new version.")
	return nil
}

// downloadBinary streams the asset to a temp file, hashing it on the way
// through, and returns the file path and hex digest.
func downloadBinary(ctx context.Context, url string) (string, string, error) {
	body, err := fetch(ctx, url, downloadTimeout)
	if err != nil {
		return "", "", err
	}
	defer body.Close()

	tmpFile, err := os.CreateTemp("", "parley-update-*")
	if err != nil {
		return "", "", err
	}
	defer tmpFile.Close()

	hash := sha256.New()
	if _, err := io.Copy(tmpFile, io.TeeReader(body, hash)); err != nil {
		os.Remove(tmpFile.Name())
		return "", "", err
	}
	return tmpFile.Name(), hex.EncodeToString(hash.Sum(nil)), nil
}

// fetchChecksum reads the published digest file. The file holds the hex
// digest, optionally followed by the asset name.
func fetchChecksum(ctx context.Context, url string) (string, error) {
	body, err := fetch(ctx, url, releaseAPITimeout)
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, 1024))
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty checksum file")
	}
	return fields[0], nil
}

func fetch(ctx context.Context, url string, timeout time.Duration) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelReadCloser ties the request context's lifetime to the body.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func replaceBinary(newPath, oldPath string) error {
	// Windows cannot overwrite a running executable, so swap through a
	// backup. Unix replaces in place.
	if runtime.GOOS == "windows" {
		oldBackup := oldPath + ".old"
		if err := os.Rename(oldPath, oldBackup); err != nil {
			return fmt.Errorf("failed to backup old binary: %w", err)
		}
		if err := copyFile(newPath, oldPath); err != nil {
			os.Rename(oldBackup, oldPath)
			return err
		}
		os.Remove(oldBackup)
		return nil
	}
	if err := os.Rename(newPath, oldPath); err != nil {
		// Cross-device rename fails, fall back to a copy.
		return copyFile(newPath, oldPath)
	}
	return nil
}

func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destination.Close()

	if _, err := io.Copy(destination, source); err != nil {
		return err
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, srcInfo.Mode())
}
