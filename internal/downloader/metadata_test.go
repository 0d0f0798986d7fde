package downloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteDownloadMetadataWithCachedApp(t *testing.T) {
	dir := t.TempDir()
	app := &CloudApp{
		AppName: "Beat Saber", FullName: "Beat Saber v1.0", PackageName: "com.beat.saber",
		VersionCode: 10, LastUpdated: "01-01-2024", SizeBytes: 2_500_000,
	}

	if err := writeDownloadMetadata(app, "Beat Saber v1.0", dir, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "metadata.json")); err != nil {
		t.Fatalf("expected metadata.json: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "release.json")); err != nil {
		t.Fatalf("expected release.json when writeLegacy is set: %v", err)
	}

	downloadedAt, packageName, versionCode, hasVersionCode := ReadDownloadMetadata(dir)
	if packageName != "com.beat.saber" || !hasVersionCode || versionCode != 10 {
		t.Fatalf("unexpected metadata: pkg=%q ver=%d hasVer=%v", packageName, versionCode, hasVersionCode)
	}
	if time.Since(downloadedAt) > time.Minute {
		t.Fatalf("unexpected downloadedAt: %v", downloadedAt)
	}
}

func TestWriteDownloadMetadataSkipsLegacyWithoutCachedApp(t *testing.T) {
	dir := t.TempDir()
	if err := writeDownloadMetadata(nil, "Unknown Release", dir, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "release.json")); !os.IsNotExist(err) {
		t.Fatalf("expected release.json to be skipped without a cached catalog entry")
	}
}

func TestReadDownloadMetadataFallsBackToLegacyAndRenames(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"downloadedAt":"2024-01-02T03:04:05Z","packageName":"com.legacy.app","versionCode":7}`
	if err := os.WriteFile(filepath.Join(dir, "release.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	downloadedAt, packageName, versionCode, hasVersionCode := ReadDownloadMetadata(dir)
	if packageName != "com.legacy.app" || !hasVersionCode || versionCode != 7 {
		t.Fatalf("unexpected metadata: pkg=%q ver=%d hasVer=%v", packageName, versionCode, hasVersionCode)
	}
	if downloadedAt.IsZero() {
		t.Fatalf("expected a non-zero downloadedAt")
	}

	if _, err := os.Stat(filepath.Join(dir, "metadata.json")); err != nil {
		t.Fatalf("expected the legacy file, carrying downloadedAt, to be renamed to metadata.json: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "release.json")); !os.IsNotExist(err) {
		t.Fatalf("expected release.json to no longer exist after rename")
	}
}

func TestReadDownloadMetadataKeepsThirdPartyReleaseJSONWithoutDownloadedAt(t *testing.T) {
	dir := t.TempDir()
	thirdParty := `{"GameName":"Some Game","ReleaseName":"Some Game v1.0","PackageName":"com.third.party","VersionCode":5}`
	if err := os.WriteFile(filepath.Join(dir, "release.json"), []byte(thirdParty), 0o644); err != nil {
		t.Fatalf("write third-party file: %v", err)
	}

	_, packageName, versionCode, hasVersionCode := ReadDownloadMetadata(dir)
	if packageName != "com.third.party" || !hasVersionCode || versionCode != 5 {
		t.Fatalf("expected identity fields read from the third-party release.json (encoding/json matches keys case-insensitively), got pkg=%q ver=%d hasVer=%v", packageName, versionCode, hasVersionCode)
	}
	if _, err := os.Stat(filepath.Join(dir, "release.json")); err != nil {
		t.Fatalf("expected release.json to remain in place when it lacks downloadedAt: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "metadata.json")); !os.IsNotExist(err) {
		t.Fatalf("expected no metadata.json to be created from a third-party file")
	}
}
