package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
)

// RepoLayoutKind selects which Repo variant the downloader manager builds.
type RepoLayoutKind string

const (
	LayoutFFA        RepoLayoutKind = "ffa"
	LayoutVRPPublic  RepoLayoutKind = "vrp-public"
)

// DownloaderConfig is the downloader.json schema: a stable id, the repo
// layout to use, and the rclone artifact locations (either a bare path or a
// per-platform map).
type DownloaderConfig struct {
	ID                     string          `json:"id"`
	Layout                 RepoLayoutKind  `json:"layout"`
	RclonePath             json.RawMessage `json:"rclone_path"`
	RcloneConfigPath       string          `json:"rclone_config_path,omitempty"`
	ConfigUpdateURL        string          `json:"config_update_url,omitempty"`
	RemoteNameFilterRegex  string          `json:"remote_name_filter_regex,omitempty"`
	DisableRandomizeRemote bool            `json:"disable_randomize_remote,omitempty"`
	ShareRemoteName        string          `json:"share_remote_name,omitempty"`
	ShareRemotePath        string          `json:"share_remote_path,omitempty"`
	RootDir                string          `json:"root_dir,omitempty"`
	ListPath               string          `json:"list_path,omitempty"`
	VRPPublicURL           string          `json:"vrp_public_url,omitempty"`
}

// LoadDownloaderConfig reads and validates a downloader.json document.
func LoadDownloaderConfig(path string) (*DownloaderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read downloader config: %w", err)
	}
	var cfg DownloaderConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse downloader config: %w", err)
	}
	if cfg.RootDir == "" {
		cfg.RootDir = "Quest Games"
	}
	if cfg.ListPath == "" {
		cfg.ListPath = "FFA.txt"
	}
	return &cfg, nil
}

// ResolveRclonePath resolves the rclone_path field, which is either a bare
// string or a map from "<os>-<arch>"/"<os>" to a path. Resolution tries the
// most specific key first.
func (c *DownloaderConfig) ResolveRclonePath() (string, error) {
	var asString string
	if err := json.Unmarshal(c.RclonePath, &asString); err == nil {
		return asString, nil
	}

	var asMap map[string]string
	if err := json.Unmarshal(c.RclonePath, &asMap); err != nil {
		return "", fmt.Errorf("rclone_path is neither a string nor a platform map: %w", err)
	}

	specific := fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
	if p, ok := asMap[specific]; ok {
		return p, nil
	}
	if p, ok := asMap[runtime.GOOS]; ok {
		return p, nil
	}

	keys := make([]string, 0, len(asMap))
	for k := range asMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "", fmt.Errorf("no rclone_path entry for %q or %q; available: %v", specific, runtime.GOOS, keys)
}
