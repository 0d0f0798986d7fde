package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validDownloaderConfigJSON(id, rclonePath string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"layout": "ffa",
		"rclone_path": %q,
		"rclone_config_path": "/tmp/rclone.conf",
		"root_dir": "Quest Games",
		"list_path": "FFA.txt"
	}`, id, rclonePath)
}

func TestManagerStartEmitsNeedsSetupWithoutConfig(t *testing.T) {
	m := NewManager(t.TempDir(), "", nil, nil)
	var got Availability
	var calls int
	m.OnAvailabilityChanged = func(a Availability) { got = a; calls++ }

	m.Start(context.Background())

	if calls != 1 || !got.NeedsSetup {
		t.Fatalf("expected a single NeedsSetup event, got %d calls: %+v", calls, got)
	}
	if m.Current() != nil {
		t.Fatalf("expected no downloader without a config")
	}
}

func TestManagerInstallConfigFromFileInitializes(t *testing.T) {
	script := fakeDownloaderRclone(t)
	withEmptyPopularityEndpoint(t)

	m := NewManager(t.TempDir(), "", nil, nil)
	var events []Availability
	m.OnAvailabilityChanged = func(a Availability) { events = append(events, a) }

	src := filepath.Join(t.TempDir(), "incoming.json")
	if err := os.WriteFile(src, []byte(validDownloaderConfigJSON("test-repo", script)), 0o644); err != nil {
		t.Fatalf("write source config: %v", err)
	}

	if err := m.InstallConfigFromFile(context.Background(), src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.Current() == nil {
		t.Fatalf("expected a downloader to be initialized")
	}
	if len(events) != 2 || !events[0].Initializing || !events[1].Available {
		t.Fatalf("expected Initializing then Available events, got %+v", events)
	}
	if events[1].ConfigID != "test-repo" {
		t.Fatalf("unexpected config id: %q", events[1].ConfigID)
	}

	if _, err := os.Stat(filepath.Join(m.AppDir, "downloader.json")); err != nil {
		t.Fatalf("expected downloader.json to be installed: %v", err)
	}
}

func TestManagerInstallConfigFromFileRejectsMissingSource(t *testing.T) {
	m := NewManager(t.TempDir(), "", nil, nil)
	err := m.InstallConfigFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatalf("expected an error for a missing source file")
	}
	if m.Current() != nil {
		t.Fatalf("expected no downloader after a failed install")
	}
}

func TestManagerInstallConfigFromFileRejectsInvalidJSON(t *testing.T) {
	m := NewManager(t.TempDir(), "", nil, nil)
	src := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(src, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	if err := m.InstallConfigFromFile(context.Background(), src); err == nil {
		t.Fatalf("expected an error for invalid config json")
	}
	if _, err := os.Stat(filepath.Join(m.AppDir, "downloader.json")); !os.IsNotExist(err) {
		t.Fatalf("expected downloader.json to remain absent after a failed validation")
	}
}

func TestManagerInitFromDiskRefreshesFromUpdateURL(t *testing.T) {
	script := fakeDownloaderRclone(t)
	withEmptyPopularityEndpoint(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(validDownloaderConfigJSON("updated-repo", script)))
	}))
	defer srv.Close()

	appDir := t.TempDir()
	initial := fmt.Sprintf(`{
		"id": "orig-repo",
		"layout": "ffa",
		"rclone_path": %q,
		"config_update_url": %q,
		"root_dir": "Quest Games",
		"list_path": "FFA.txt"
	}`, script, srv.URL)
	if err := os.WriteFile(filepath.Join(appDir, "downloader.json"), []byte(initial), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	m := NewManager(appDir, "", nil, nil)
	var last Availability
	m.OnAvailabilityChanged = func(a Availability) { last = a }

	if err := m.InitFromDisk(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !last.Available || last.ConfigID != "updated-repo" {
		t.Fatalf("expected the refreshed config to take effect, got %+v", last)
	}

	onDisk, err := os.ReadFile(filepath.Join(appDir, "downloader.json"))
	if err != nil {
		t.Fatalf("read downloader.json: %v", err)
	}
	if !strings.Contains(string(onDisk), "updated-repo") {
		t.Fatalf("expected downloader.json to be overwritten with the fetched config, got %s", onDisk)
	}
}

func TestManagerUpdateBandwidthLimitNoopWithoutDownloader(t *testing.T) {
	m := NewManager(t.TempDir(), "", nil, nil)
	if err := m.UpdateBandwidthLimit(context.Background(), "1M"); err != nil {
		t.Fatalf("expected no error when no downloader is initialized, got %v", err)
	}
}
