package downloader

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"sidedock/internal/core"
	"sidedock/internal/downloader/archive"
	"sidedock/internal/downloader/httpcache"
	"sidedock/internal/downloader/repo"
	"sidedock/internal/settings"
)

func isHTTPURL(value string) bool {
	v := strings.ToLower(value)
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}

func isZipURL(value string) bool {
	lower := strings.ToLower(value)
	if i := strings.IndexByte(lower, '?'); i >= 0 {
		lower = lower[:i]
	}
	return strings.HasSuffix(lower, ".zip")
}

// newArchiveClient is a seam tests override to point at a fake 7z binary
// instead of resolving one from PATH.
var newArchiveClient = func() *archive.Client { return &archive.Client{} }

func rcloneBinaryName() string {
	if runtime.GOOS == "windows" {
		return "rclone.exe"
	}
	return "rclone"
}

func buildArtifactHTTPClient() *http.Client {
	return &http.Client{Timeout: 300 * time.Second}
}

// PrepareArtifacts resolves the rclone binary and config this downloader
// config needs, downloading and caching them under cacheDir when the config
// names URLs rather than local paths. onProgress, if non-nil, is forwarded
// every download's raw byte progress.
func PrepareArtifacts(cacheDir string, cfg *settings.DownloaderConfig, onProgress httpcache.ProgressFunc) (rclonePath, rcloneConfigPath string, err error) {
	binSource, err := cfg.ResolveRclonePath()
	if err != nil {
		return "", "", core.Wrap(core.KindConfiguration, "resolve rclone_path", err)
	}
	configSource := cfg.RcloneConfigPath

	binIsURL := isHTTPURL(binSource)
	configIsURL := configSource != "" && isHTTPURL(configSource)

	if configSource == "" {
		r := repo.MakeRepoFromConfig(cfg)
		if confName, ok := r.GeneratedConfigFilename(); ok {
			confDst := filepath.Join(cacheDir, confName)
			if !binIsURL {
				return binSource, confDst, nil
			}
			binDst := filepath.Join(cacheDir, rcloneBinaryName())
			client := buildArtifactHTTPClient()
			if isZipURL(binSource) {
				if err := ensureRemoteRcloneFromZip(client, binSource, cacheDir, binDst, onProgress); err != nil {
					return "", "", err
				}
			} else {
				if err := ensureRemoteFile(client, binSource, binDst, cacheDir, true, "rclone binary", onProgress); err != nil {
					return "", "", err
				}
			}
			return binDst, confDst, nil
		}
		return "", "", core.Wrap(core.KindConfiguration, "prepare artifacts",
			errConfigRequired{})
	}

	if binIsURL != configIsURL {
		return "", "", core.Wrap(core.KindConfiguration, "prepare artifacts",
			errMixedLocalAndURL{})
	}

	if !binIsURL {
		return binSource, configSource, nil
	}

	binDst := filepath.Join(cacheDir, rcloneBinaryName())
	confDst := filepath.Join(cacheDir, "rclone.conf")
	client := buildArtifactHTTPClient()

	if err := ensureRemoteFile(client, configSource, confDst, cacheDir, false, "rclone config", onProgress); err != nil {
		return "", "", err
	}
	if isZipURL(binSource) {
		if err := ensureRemoteRcloneFromZip(client, binSource, cacheDir, binDst, onProgress); err != nil {
			return "", "", err
		}
	} else {
		if err := ensureRemoteFile(client, binSource, binDst, cacheDir, true, "rclone binary", onProgress); err != nil {
			return "", "", err
		}
	}
	return binDst, confDst, nil
}

type errConfigRequired struct{}

func (errConfigRequired) Error() string {
	return "rclone_config_path is required for this repository layout"
}

type errMixedLocalAndURL struct{}

func (errMixedLocalAndURL) Error() string {
	return "rclone_path and rclone_config_path must both be local or both be URLs"
}

// ensureRemoteFile downloads src into dst through the HTTP cache, tolerating
// a failed refresh when a previously cached copy already exists.
func ensureRemoteFile(client *http.Client, src, dst, cacheDir string, setExecutable bool, label string, onProgress httpcache.ProgressFunc) error {
	_, err := httpcache.UpdateFileCached(client, src, dst, cacheDir, onProgress)
	if err != nil {
		if _, statErr := os.Stat(dst); statErr == nil {
			return nil
		}
		return core.Wrap(core.KindNetwork, "update "+label, err)
	}
	if setExecutable {
		_ = os.Chmod(dst, 0o755)
	}
	return nil
}

// ensureRemoteRcloneFromZip downloads the zip at url, then extracts the
// platform's rclone binary from it into binDst, re-extracting only when the
// zip itself changed or the existing binary's MD5 stamp no longer matches.
func ensureRemoteRcloneFromZip(client *http.Client, url, cacheDir, binDst string, onProgress httpcache.ProgressFunc) error {
	zipPath := filepath.Join(cacheDir, "rclone.zip")
	md5Path := filepath.Join(cacheDir, "rclone.bin.md5")

	result, err := httpcache.UpdateFileCached(client, url, zipPath, cacheDir, onProgress)
	if err != nil {
		if _, statErr := os.Stat(zipPath); statErr != nil {
			return core.Wrap(core.KindNetwork, "download rclone zip", err)
		}
		if _, statErr := os.Stat(binDst); statErr != nil {
			if err := extractRcloneFromZip(zipPath, cacheDir, binDst); err != nil {
				return err
			}
			_ = writeMD5File(binDst, md5Path)
		}
		_ = os.Chmod(binDst, 0o755)
		return nil
	}

	if result.NotModified {
		if binExists, md5Exists := fileExists(binDst), fileExists(md5Path); binExists && md5Exists {
			current, errCur := httpcache.ComputeMD5File(binDst)
			expected, errExp := os.ReadFile(md5Path)
			if errCur == nil && errExp == nil && current == strings.TrimSpace(string(expected)) {
				_ = os.Chmod(binDst, 0o755)
				return nil
			}
		}
		if err := extractRcloneFromZip(zipPath, cacheDir, binDst); err != nil {
			return err
		}
		_ = writeMD5File(binDst, md5Path)
		_ = os.Chmod(binDst, 0o755)
		return nil
	}

	if err := extractRcloneFromZip(zipPath, cacheDir, binDst); err != nil {
		return err
	}
	_ = writeMD5File(binDst, md5Path)
	_ = os.Chmod(binDst, 0o755)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// extractRcloneFromZip pulls the platform rclone binary out of zipPath,
// preferring the shortest matching path (a root-level entry over a
// nested one from an unpacked release directory).
func extractRcloneFromZip(zipPath, cacheDir, binDst string) error {
	client := newArchiveClient()
	entries, err := client.List(context.Background(), zipPath)
	if err != nil {
		return core.Wrap(core.KindEnvironment, "list rclone zip contents", err)
	}

	targetName := rcloneBinaryName()
	var candidates []string
	for _, p := range entries {
		segs := strings.Split(p, "/")
		if segs[len(segs)-1] == targetName {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return core.Wrap(core.KindEnvironment, "extract rclone binary",
			errNoZipEntry{name: targetName, archive: zipPath})
	}
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i]) < len(candidates[j]) })
	chosen := candidates[0]

	if err := client.ExtractSingle(context.Background(), zipPath, cacheDir, chosen); err != nil {
		return core.Wrap(core.KindEnvironment, "extract "+chosen, err)
	}

	extractedPath := filepath.Join(cacheDir, targetName)
	if extractedPath != binDst {
		_ = os.Remove(binDst)
		if err := os.Rename(extractedPath, binDst); err != nil {
			return core.Wrap(core.KindEnvironment, "place rclone binary", err)
		}
	}
	return nil
}

type errNoZipEntry struct {
	name    string
	archive string
}

func (e errNoZipEntry) Error() string {
	return "no '" + e.name + "' entry found in " + e.archive
}

func writeMD5File(binDst, md5Path string) error {
	sum, err := httpcache.ComputeMD5File(binDst)
	if err != nil {
		return core.Wrap(core.KindEnvironment, "compute rclone binary md5", err)
	}
	return os.WriteFile(md5Path, []byte(sum), 0o644)
}
