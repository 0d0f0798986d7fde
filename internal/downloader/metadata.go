package downloader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"sidedock/internal/core"
)

// writeDownloadMetadata writes metadata.json for a freshly downloaded
// release, and, if writeLegacy is set, the historical release.json shape
// some older tools still read. cached is the catalog entry for fullName, if
// one was found when the download started.
func writeDownloadMetadata(cached *CloudApp, fullName, destDir string, writeLegacy bool) error {
	meta := DownloadMetadata{
		FormatVersion: 1,
		FullName:      fullName,
		DownloadedAt:  time.Now().UTC(),
	}
	if cached != nil {
		meta.AppName = cached.AppName
		meta.PackageName = cached.PackageName
		versionCode := cached.VersionCode
		meta.VersionCode = &versionCode
		meta.LastUpdated = cached.LastUpdated
		size := cached.SizeBytes
		meta.SizeBytes = &size
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return core.Wrap(core.KindProtocol, "marshal download metadata", err)
	}
	if err := os.WriteFile(filepath.Join(destDir, "metadata.json"), data, 0o644); err != nil {
		return core.Wrap(core.KindEnvironment, "write metadata.json", err)
	}

	if !writeLegacy {
		return nil
	}
	if cached == nil {
		// No catalog entry to populate the legacy fields from; skip silently
		// rather than failing the whole download over an optional file.
		return nil
	}

	legacy := LegacyReleaseJSON{
		GameName:    cached.AppName,
		ReleaseName: fullName,
		PackageName: cached.PackageName,
		VersionCode: &cached.VersionCode,
		LastUpdated: cached.LastUpdated,
		GameSize:    cached.SizeBytes / 1_000_000,
	}
	legacyData, err := json.MarshalIndent(legacy, "", "  ")
	if err != nil {
		return core.Wrap(core.KindProtocol, "marshal legacy release metadata", err)
	}
	if err := os.WriteFile(filepath.Join(destDir, "release.json"), legacyData, 0o644); err != nil {
		return core.Wrap(core.KindEnvironment, "write release.json", err)
	}
	return nil
}

// ReadDownloadMetadata recovers the download timestamp and identity fields
// a catalog listing needs from whichever metadata file a download directory
// carries, renaming a legacy release.json that turns out to be ours (it
// carries a downloadedAt field QL's release.json never does) to
// metadata.json to avoid clashing with it on a future read.
func ReadDownloadMetadata(dir string) (downloadedAt time.Time, packageName string, versionCode int64, hasVersionCode bool) {
	type partial struct {
		DownloadedAt string `json:"downloadedAt"`
		PackageName  string `json:"packageName"`
		VersionCode  *int64 `json:"versionCode"`
	}

	tryParse := func(path string) (partial, bool) {
		data, err := os.ReadFile(path)
		if err != nil {
			return partial{}, false
		}
		var p partial
		if err := json.Unmarshal(data, &p); err != nil {
			return partial{}, false
		}
		return p, true
	}

	metaPath := filepath.Join(dir, "metadata.json")
	if p, ok := tryParse(metaPath); ok {
		packageName = p.PackageName
		if p.VersionCode != nil {
			versionCode, hasVersionCode = *p.VersionCode, true
		}
		if p.DownloadedAt != "" {
			if t, err := time.Parse(time.RFC3339, p.DownloadedAt); err == nil {
				downloadedAt = t
			}
		}
		return
	}

	altPath := filepath.Join(dir, "release.json")
	if p, ok := tryParse(altPath); ok {
		packageName = p.PackageName
		if p.VersionCode != nil {
			versionCode, hasVersionCode = *p.VersionCode, true
		}
		if p.DownloadedAt != "" {
			if t, err := time.Parse(time.RFC3339, p.DownloadedAt); err == nil {
				downloadedAt = t
				_ = os.Rename(altPath, metaPath)
			}
		}
	}
	return
}
