package httpcache

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestHealsMissingLocalFileOnServer304(t *testing.T) {
	dir := t.TempDir()
	etag := `"etag-1"`
	served := "DATA1"
	hits := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
		fmt.Fprint(w, served)
	}))
	defer server.Close()

	dst := filepath.Join(dir, "file.bin")
	res, err := UpdateFileCached(server.Client(), server.URL, dst, dir, nil)
	if err != nil {
		t.Fatalf("first download failed: %v", err)
	}
	if res.NotModified {
		t.Fatalf("expected a fresh download on first call")
	}
	assertFileContent(t, dst, served)

	os.Remove(dst)

	res, err = UpdateFileCached(server.Client(), server.URL, dst, dir, nil)
	if err != nil {
		t.Fatalf("healing download failed: %v", err)
	}
	if res.NotModified {
		t.Fatalf("expected healing to re-download despite matching validators")
	}
	assertFileContent(t, dst, served)
}

func TestUsesCachedWhenNotModifiedAndLocalConsistent(t *testing.T) {
	dir := t.TempDir()
	etag := `"etag-3"`
	body := "CACHE"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	dst := filepath.Join(dir, "cached.bin")
	if _, err := UpdateFileCached(server.Client(), server.URL, dst, dir, nil); err != nil {
		t.Fatalf("first download failed: %v", err)
	}

	res, err := UpdateFileCached(server.Client(), server.URL, dst, dir, nil)
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if !res.NotModified {
		t.Fatalf("expected NotModified when validators match and local file is consistent")
	}
	assertFileContent(t, dst, body)
}

func TestHealsChangedLocalFileSameSize(t *testing.T) {
	dir := t.TempDir()
	etag := `"etag-2"`
	body := "ABCD"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	dst := filepath.Join(dir, "file2.bin")
	if _, err := UpdateFileCached(server.Client(), server.URL, dst, dir, nil); err != nil {
		t.Fatalf("first download failed: %v", err)
	}

	os.WriteFile(dst, []byte("WXYZ"), 0o644)

	res, err := UpdateFileCached(server.Client(), server.URL, dst, dir, nil)
	if err != nil {
		t.Fatalf("heal download failed: %v", err)
	}
	if res.NotModified {
		t.Fatalf("expected a re-download when local content diverged despite matching size")
	}
	assertFileContent(t, dst, body)
}

func TestProgressCallbackInvokedAtLeastOnce(t *testing.T) {
	dir := t.TempDir()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "1234567890")
	}))
	defer server.Close()

	dst := filepath.Join(dir, "progress.bin")
	var calls int
	_, err := UpdateFileCached(server.Client(), server.URL, dst, dir, func(downloaded, total int64) {
		calls++
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls < 1 {
		t.Fatalf("expected at least one progress callback invocation")
	}
}

func TestComputeMD5KnownVector(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "vec.txt")
	os.WriteFile(p, []byte("abc"), 0o644)
	h, err := ComputeMD5File(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h != "900150983cd24fb0d6963f7d28e17f72" {
		t.Fatalf("unexpected md5: %s", h)
	}
}

func assertFileContent(t *testing.T, path, want string) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if string(got) != want {
		t.Fatalf("content mismatch: got %q want %q", got, want)
	}
}
