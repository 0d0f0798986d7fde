package downloader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"sidedock/internal/downloader/rclone"
	"sidedock/internal/downloader/repo"
	"sidedock/internal/settings"
)

// withEmptyPopularityEndpoint redirects the popularity endpoint to a local
// server returning an empty list, so RefreshCatalog/DownloadApp tests never
// depend on (or block on) real network access.
func withEmptyPopularityEndpoint(t *testing.T) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	}))
	t.Cleanup(srv.Close)
	withFakeCloudEndpoints(t, srv)
}

// fakeDownloaderRclone answers listremotes/size/copy the way the downloader
// core's rclone calls need, and records which operation ran (in call order)
// into the RCLONE_CALL_LOG file so tests can assert on call counts without
// depending on real network or binaries.
func fakeDownloaderRclone(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake rclone script is POSIX-shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "rclone.sh")
	body := `#!/bin/sh
log="$RCLONE_CALL_LOG"
op=""
prev2=""
prev1=""
for a in "$@"; do
  case "$a" in
    listremotes) op=listremotes ;;
    size) op=size ;;
    copy) op=copy ;;
    sync) op=sync ;;
  esac
  prev2="$prev1"
  prev1="$a"
done
if [ -n "$log" ]; then echo "$op" >> "$log"; fi

case "$op" in
  listremotes)
    echo "FFA-90:"
    echo "FFA-91:"
    echo "vrp-mirror:"
    ;;
  size)
    echo '{"bytes": 42}'
    ;;
  copy)
    dest="$prev1"
    src="$prev2"
    name=$(basename "$src")
    mkdir -p "$dest"
    printf 'Game Name;Release Name;Package Name;Version Code;Last Updated;Size (MB)\nBeat Saber;Beat Saber v1.0;com.beat.saber;10;01-01-2024;10\n' > "$dest/$name"
    ;;
  sync) ;;
esac
exit 0
`
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write fake rclone: %v", err)
	}
	return path
}

func newTestDownloader(t *testing.T, script string) *Downloader {
	t.Helper()
	cfg := &settings.DownloaderConfig{Layout: settings.LayoutFFA, RootDir: "Quest Games", ListPath: "FFA.txt"}
	return &Downloader{
		Config:     cfg,
		CacheDir:   t.TempDir(),
		RclonePath: script,
		HTTPClient: nil,
		CloudAPI:   &CloudAPIClient{},
		repo:       repo.MakeRepoFromConfig(cfg),
	}
}

func TestSelectRemoteNameDeterministicWhenRandomizeDisabled(t *testing.T) {
	script := fakeDownloaderRclone(t)
	d := newTestDownloader(t, script)
	d.Config.RemoteNameFilterRegex = "^FFA-"
	d.Config.DisableRandomizeRemote = true

	got, err := d.selectRemoteName(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "FFA-90" {
		t.Fatalf("expected the sorted-first match FFA-90, got %q", got)
	}
}

func TestSelectRemoteNameRandomizesAmongMatches(t *testing.T) {
	script := fakeDownloaderRclone(t)
	d := newTestDownloader(t, script)
	d.Config.RemoteNameFilterRegex = "^FFA-"

	got, err := d.selectRemoteName(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "FFA-90" && got != "FFA-91" {
		t.Fatalf("expected one of the filtered candidates, got %q", got)
	}
}

func TestSelectRemoteNameErrorsWhenNoneMatch(t *testing.T) {
	script := fakeDownloaderRclone(t)
	d := newTestDownloader(t, script)
	d.Config.RemoteNameFilterRegex = "^nothing-matches-this-"

	if _, err := d.selectRemoteName(context.Background()); err == nil {
		t.Fatalf("expected an error when no remote matches the filter")
	}
}

func TestRefreshCatalogCachesUnlessForced(t *testing.T) {
	withEmptyPopularityEndpoint(t)
	script := fakeDownloaderRclone(t)
	logPath := filepath.Join(t.TempDir(), "calls.log")
	t.Setenv("RCLONE_CALL_LOG", logPath)

	d := newTestDownloader(t, script)
	d.storage = &rclone.Storage{
		Client:  &rclone.Client{RclonePath: script},
		Remote:  "FFA-90",
		RootDir: "Quest Games",
	}

	apps, err := d.RefreshCatalog(context.Background(), false)
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if len(apps) != 1 || apps[0].FullName != "Beat Saber v1.0" {
		t.Fatalf("unexpected apps: %+v", apps)
	}

	apps2, err := d.RefreshCatalog(context.Background(), false)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if len(apps2) != 1 {
		t.Fatalf("expected cached result, got %+v", apps2)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read call log: %v", err)
	}
	calls := countNonEmptyLines(string(data))
	if calls != 2 {
		t.Fatalf("expected exactly 2 rclone invocations (size+copy) from a single fetch, got %d: %s", calls, data)
	}
}

func TestRefreshCatalogForceRefetches(t *testing.T) {
	withEmptyPopularityEndpoint(t)
	script := fakeDownloaderRclone(t)
	logPath := filepath.Join(t.TempDir(), "calls.log")
	t.Setenv("RCLONE_CALL_LOG", logPath)

	d := newTestDownloader(t, script)
	d.storage = &rclone.Storage{Client: &rclone.Client{RclonePath: script}, Remote: "FFA-90", RootDir: "Quest Games"}

	if _, err := d.RefreshCatalog(context.Background(), false); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if _, err := d.RefreshCatalog(context.Background(), true); err != nil {
		t.Fatalf("forced refresh: %v", err)
	}

	data, _ := os.ReadFile(logPath)
	if calls := countNonEmptyLines(string(data)); calls != 4 {
		t.Fatalf("expected 4 rclone invocations across two fetches, got %d: %s", calls, data)
	}
}

func countNonEmptyLines(s string) int {
	n := 0
	for _, line := range splitLines(s) {
		if line != "" {
			n++
		}
	}
	return n
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func TestDownloadAppWritesMetadataAndLegacyRelease(t *testing.T) {
	script := fakeDownloaderRclone(t)
	d := newTestDownloader(t, script)
	d.storage = &rclone.Storage{Client: &rclone.Client{RclonePath: script}, Remote: "FFA-90", RootDir: "Quest Games"}
	d.apps = []CloudApp{{
		AppName: "Beat Saber", FullName: "Beat Saber v1.0", PackageName: "com.beat.saber",
		VersionCode: 10, LastUpdated: "01-01-2024", SizeBytes: 2_500_000,
	}}
	d.loaded = true

	downloadsRoot := t.TempDir()
	var stages []string
	dest, err := d.DownloadApp(context.Background(), downloadsRoot, "Beat Saber v1.0", "com.beat.saber", true, nil, func(s string) {
		stages = append(stages, s)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dest != filepath.Join(downloadsRoot, "Beat Saber v1.0") {
		t.Fatalf("unexpected destination: %q", dest)
	}

	metaData, err := os.ReadFile(filepath.Join(dest, "metadata.json"))
	if err != nil {
		t.Fatalf("read metadata.json: %v", err)
	}
	var meta DownloadMetadata
	if err := json.Unmarshal(metaData, &meta); err != nil {
		t.Fatalf("parse metadata.json: %v", err)
	}
	if meta.PackageName != "com.beat.saber" || meta.VersionCode == nil || *meta.VersionCode != 10 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	legacyData, err := os.ReadFile(filepath.Join(dest, "release.json"))
	if err != nil {
		t.Fatalf("read release.json: %v", err)
	}
	var legacy LegacyReleaseJSON
	if err := json.Unmarshal(legacyData, &legacy); err != nil {
		t.Fatalf("parse release.json: %v", err)
	}
	if legacy.GameSize != 2 {
		t.Fatalf("expected GameSize truncated to 2 MB, got %d", legacy.GameSize)
	}
}

func TestDownloadAppSkipsLegacyReleaseWhenAppNotCached(t *testing.T) {
	script := fakeDownloaderRclone(t)
	d := newTestDownloader(t, script)
	d.storage = &rclone.Storage{Client: &rclone.Client{RclonePath: script}, Remote: "FFA-90", RootDir: "Quest Games"}

	downloadsRoot := t.TempDir()
	dest, err := d.DownloadApp(context.Background(), downloadsRoot, "Unknown Release", "com.unknown", true, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "metadata.json")); err != nil {
		t.Fatalf("expected metadata.json to still be written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "release.json")); !os.IsNotExist(err) {
		t.Fatalf("expected release.json to be skipped without a cached catalog entry")
	}
}

func TestUploadDonationArchiveRequiresShareConfig(t *testing.T) {
	script := fakeDownloaderRclone(t)
	d := newTestDownloader(t, script)

	archive := filepath.Join(t.TempDir(), "donation.7z")
	if err := os.WriteFile(archive, []byte("data"), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	if err := d.UploadDonationArchive(context.Background(), archive, nil); err == nil {
		t.Fatalf("expected an error without share_remote_name/share_remote_path configured")
	}
}

func TestUploadDonationArchiveCopiesToShareRemote(t *testing.T) {
	script := fakeDownloaderRclone(t)
	logPath := filepath.Join(t.TempDir(), "calls.log")
	t.Setenv("RCLONE_CALL_LOG", logPath)

	d := newTestDownloader(t, script)
	d.Config.ShareRemoteName = "donate-remote"
	d.Config.ShareRemotePath = "/incoming"

	archive := filepath.Join(t.TempDir(), "donation.7z")
	if err := os.WriteFile(archive, []byte("donation payload"), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	if err := d.UploadDonationArchive(context.Background(), archive, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, _ := os.ReadFile(logPath)
	if calls := countNonEmptyLines(string(data)); calls != 1 {
		t.Fatalf("expected exactly one rclone copy invocation, got %d: %s", calls, data)
	}
}
