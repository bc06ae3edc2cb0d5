package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Version is the current release of parley.
const Version = "0.3.0"

const (
	githubOwner = "parley-chat"
	githubRepo  = "parley"

	releaseAPITimeout = 5 * time.Second
)

type githubRelease struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
}

// Latest fetches the most recent release tag from GitHub, without the
// leading "v".
func Latest(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, releaseAPITimeout)
	defer cancel()

	url := fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", githubOwner, githubRepo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", err
	}
	return strings.TrimPrefix(release.TagName, "v"), nil
}

// Compare orders two dotted version strings numerically per segment.
// Returns 1 if v1 > v2, -1 if v1 < v2, 0 if equal.
func Compare(v1, v2 string) int {
	a := segments(v1)
	b := segments(v2)
	for i := 0; i < len(a) || i < len(b); i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x != y {
			if x > y {
				return 1
			}
			return -1
		}
	}
	return 0
}

func segments(v string) []int {
	v = strings.TrimPrefix(v, "v")
	// a pre-release suffix like "-rc1" orders by its numeric prefix only
	if i := strings.IndexByte(v, '-'); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			n = 0
		}
		out[i] = n
	}
	return out
}

// DownloadURL returns the release asset URL for the current platform.
func DownloadURL(version string) string {
	base := fmt.Sprintf("https://github.com/%s/%s/releases/download/v%s", githubOwner, githubRepo, version)
	return fmt.Sprintf("%s/%s", base, platformAsset())
}

// ChecksumURL returns the URL of the asset's SHA-256 digest file.
func ChecksumURL(version string) string {
	return DownloadURL(version) + ".sha256"
}

func platformAsset() string {
	switch runtime.GOOS {
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "parley-macos-arm64"
		}
		return "parley-macos-amd64"
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "parley-linux-arm64"
		}
		return "parley-linux-amd64"
	case "windows":
		return "parley-windows-amd64.exe"
	default:
		return "parley-unknown"
	}
}
