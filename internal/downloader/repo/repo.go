// Package repo implements the cloud catalog "layout" abstraction: how a
// configured source exposes its app list, where a given release's files
// live under the remote root, and what (if anything) must happen to a
// release's files once they've landed on disk.
package repo

import (
	"context"
	"net/http"

	"sidedock/internal/downloader"
	"sidedock/internal/downloader/rclone"
	"sidedock/internal/settings"
)

// BuildStorageArgs are the inputs a Repo needs to construct its Storage
// handle; fields mirror the settings a Downloader Manager has already
// resolved (rclone binary/config locations, bandwidth limit, remote filter).
type BuildStorageArgs struct {
	RclonePath            string
	RcloneConfigPath      string
	RootDir               string
	RemoteName            string
	BandwidthLimit        string
	RemoteNameFilterRegex string
	HTTPClient            *http.Client
	CacheDir              string
}

// BuildStorageResult is what BuildStorage hands back: the ready-to-use
// Storage plus, if the repo generated its own remote, the name the caller
// should persist into settings for reuse on the next run.
type BuildStorageResult struct {
	Storage       *rclone.Storage
	PersistRemote string // empty means "nothing to persist"
}

// Repo is one cloud catalog layout: how its list is fetched and parsed, how
// a release maps to a remote path, and any post-download processing that
// layout requires.
type Repo interface {
	ID() string

	BuildStorage(ctx context.Context, args BuildStorageArgs) (BuildStorageResult, error)

	LoadAppList(ctx context.Context, storage *rclone.Storage, listPath, cacheDir string, httpClient *http.Client) ([]downloader.CloudApp, error)

	// SourceForDownload returns the path, relative to the storage root,
	// that holds fullName's release files.
	SourceForDownload(fullName string) string

	// PostDownload runs after a release's files have synced into dstDir.
	// onStatus, if non-nil, receives short human-readable progress lines.
	PostDownload(ctx context.Context, fullName, dstDir, cacheDir string, httpClient *http.Client, onStatus func(string)) error

	// GeneratedConfigFilename names the rclone config file this repo
	// writes at runtime, if it generates one.
	GeneratedConfigFilename() (string, bool)
}

// MakeRepoFromConfig selects a Repo implementation from a downloader
// configuration's layout field.
func MakeRepoFromConfig(cfg *settings.DownloaderConfig) Repo {
	switch cfg.Layout {
	case settings.LayoutVRPPublic:
		return NewVRPPublicRepo(cfg.VRPPublicURL)
	default:
		return &FFARepo{}
	}
}
