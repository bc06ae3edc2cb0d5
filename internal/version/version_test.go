package version

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestCompareOrdersNumerically(t *testing.T) {
	cases := []struct {
		v1, v2 string
		want   int
	}{
		{"1.2.0", "1.2.0", 0},
		{"v1.2.0", "1.2.0", 0},
		{"1.10.0", "1.9.9", 1},
		{"0.3.0", "0.3.1", -1},
		{"1.2", "1.2.0", 0},
		{"2.0.0-rc1", "2.0.0", 0},
		{"1.2.3", "1.2", 1},
	}
	for _, c := range cases {
		if got := Compare(c.v1, c.v2); got != c.want {
			t.Fatalf("Compare(%q, %q) = %d, want %d", c.v1, c.v2, got, c.want)
		}
	}
}

func TestFetchChecksumParsesDigestLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("deadbeef  parley-linux-amd64\n"))
	}))
	defer srv.Close()

	got, err := fetchChecksum(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetchChecksum: %v", err)
	}
	if got != "deadbeef" {
		t.Fatalf("got %q", got)
	}
}

func TestDownloadBinaryHashesPayload(t *testing.T) {
	payload := []byte("binary bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	path, sum, err := downloadBinary(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("downloadBinary: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(path) })

	want := sha256.Sum256(payload)
	if sum != hex.EncodeToString(want[:]) {
		t.Fatalf("digest mismatch: got %s", sum)
	}
}
