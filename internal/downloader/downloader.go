package downloader

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"sidedock/internal/core"
	"sidedock/internal/downloader/rclone"
	"sidedock/internal/downloader/repo"
	"sidedock/internal/settings"
)

// Downloader drives one configured cloud catalog: loading and caching its
// app list, syncing releases down through rclone, and reporting enrichment
// and telemetry through the cloud API. One Downloader is built per
// successful Manager initialization and torn down on reconfiguration.
type Downloader struct {
	Config           *settings.DownloaderConfig
	CacheDir         string
	RclonePath       string
	RcloneConfigPath string
	InstallationID   string
	HTTPClient       *http.Client
	CloudAPI         *CloudAPIClient
	Logger           *log.Logger

	repo repo.Repo

	mu                sync.Mutex
	storage           *rclone.Storage
	currentRemoteName string
	bandwidthLimit    string
	apps              []CloudApp
	loaded            bool
}

// NewDownloader builds a Downloader bound to cfg, selecting and building the
// initial storage backend. rclonePath/rcloneConfigPath are the artifacts
// PrepareArtifacts already resolved.
func NewDownloader(ctx context.Context, cfg *settings.DownloaderConfig, cacheDir, rclonePath, rcloneConfigPath, installationID, bandwidthLimit string, httpClient *http.Client, logger *log.Logger) (*Downloader, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	d := &Downloader{
		Config:           cfg,
		CacheDir:         cacheDir,
		RclonePath:       rclonePath,
		RcloneConfigPath: rcloneConfigPath,
		InstallationID:   installationID,
		HTTPClient:       httpClient,
		CloudAPI:         &CloudAPIClient{HTTPClient: httpClient},
		Logger:           logger,
		repo:             repo.MakeRepoFromConfig(cfg),
		bandwidthLimit:   bandwidthLimit,
	}
	if err := d.rebuildStorage(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Downloader) logf(format string, args ...interface{}) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}

// selectRemoteName picks the rclone remote this downloader will read/write
// through: remotes already present in rclone.conf, optionally filtered by
// Config.RemoteNameFilterRegex, picked pseudo-randomly to spread load across
// mirrors unless Config.DisableRandomizeRemote asks for the first (sorted)
// match deterministically instead. Repo variants that generate their own
// config (VRP-public) pick their own fixed remote name and never reach here.
func (d *Downloader) selectRemoteName(ctx context.Context) (string, error) {
	client := &rclone.Client{RclonePath: d.RclonePath, ConfigPath: d.RcloneConfigPath}
	remotes, err := client.ListRemotes(ctx)
	if err != nil {
		return "", core.Wrap(core.KindEnvironment, "list rclone remotes", err)
	}

	var filter *regexp.Regexp
	if d.Config.RemoteNameFilterRegex != "" {
		filter, err = regexp.Compile(d.Config.RemoteNameFilterRegex)
		if err != nil {
			return "", core.Wrap(core.KindConfiguration, "compile remote_name_filter_regex", err)
		}
	}

	var candidates []string
	for _, r := range remotes {
		name := strings.TrimSuffix(r, ":")
		if filter != nil && !filter.MatchString(name) {
			continue
		}
		candidates = append(candidates, name)
	}
	if len(candidates) == 0 {
		return "", core.Wrap(core.KindConfiguration, "select rclone remote",
			fmt.Errorf("no configured remote matched remote_name_filter_regex %q", d.Config.RemoteNameFilterRegex))
	}
	sort.Strings(candidates)
	if d.Config.DisableRandomizeRemote {
		return candidates[0], nil
	}
	return candidates[rand.Intn(len(candidates))], nil
}

func (d *Downloader) rebuildStorage(ctx context.Context) error {
	remoteName := ""
	if _, generatesOwnConfig := d.repo.GeneratedConfigFilename(); !generatesOwnConfig {
		var err error
		remoteName, err = d.selectRemoteName(ctx)
		if err != nil {
			return err
		}
	}

	res, err := d.repo.BuildStorage(ctx, repo.BuildStorageArgs{
		RclonePath:            d.RclonePath,
		RcloneConfigPath:      d.RcloneConfigPath,
		RootDir:               d.Config.RootDir,
		RemoteName:            remoteName,
		BandwidthLimit:        d.bandwidthLimit,
		RemoteNameFilterRegex: d.Config.RemoteNameFilterRegex,
		HTTPClient:            d.HTTPClient,
		CacheDir:              d.CacheDir,
	})
	if err != nil {
		return core.Wrap(core.KindEnvironment, "build storage", err)
	}

	d.mu.Lock()
	d.storage = res.Storage
	if res.PersistRemote != "" {
		d.currentRemoteName = res.PersistRemote
	} else {
		d.currentRemoteName = remoteName
	}
	d.mu.Unlock()
	return nil
}

// UpdateBandwidthLimit applies a changed bandwidth_limit setting by
// rebuilding storage against the same remote/root with the new limit baked
// into the rclone client it carries.
func (d *Downloader) UpdateBandwidthLimit(ctx context.Context, bandwidthLimit string) error {
	d.mu.Lock()
	d.bandwidthLimit = bandwidthLimit
	d.mu.Unlock()
	return d.rebuildStorage(ctx)
}

func (d *Downloader) CurrentRemoteName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentRemoteName
}

// RefreshCatalog loads the app list through the configured Repo and
// enriches it with popularity, unless a cached list already exists and
// force is false. The whole operation runs under a single lock, so
// concurrent callers naturally serialize onto one in-flight fetch rather
// than racing the network and the in-memory cache independently.
func (d *Downloader) RefreshCatalog(ctx context.Context, force bool) ([]CloudApp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loaded && !force {
		return d.apps, nil
	}

	storage := d.storage
	if storage == nil {
		return nil, core.Wrap(core.KindConfiguration, "refresh catalog", fmt.Errorf("downloader storage not initialized"))
	}

	apps, err := d.repo.LoadAppList(ctx, storage, d.Config.ListPath, d.CacheDir, d.HTTPClient)
	if err != nil {
		return nil, core.Wrap(core.KindNetwork, "load app list", err)
	}

	if err := d.CloudAPI.ApplyPopularity(ctx, apps); err != nil {
		d.logf("popularity enrichment failed, continuing without it: %v", err)
	}

	d.apps = apps
	d.loaded = true
	return apps, nil
}

func (d *Downloader) cachedApp(fullName string) *CloudApp {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.apps {
		if d.apps[i].FullName == fullName {
			app := d.apps[i]
			return &app
		}
	}
	return nil
}

// DownloadApp runs the full download pipeline for one release: sync it down
// through rclone, let the Repo post-process it (extraction, flattening),
// write its metadata file(s), and fire a best-effort download-tracking
// event. onStats/onStage may be nil. Returns the local destination
// directory on success.
func (d *Downloader) DownloadApp(ctx context.Context, downloadsRoot, fullName, truePackageName string, writeLegacyRelease bool, onStats func(rclone.TransferStats), onStage func(string)) (string, error) {
	destDir := filepath.Join(downloadsRoot, fullName)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", core.Wrap(core.KindEnvironment, "create download destination", err)
	}

	d.mu.Lock()
	storage := d.storage
	d.mu.Unlock()
	if storage == nil {
		return "", core.Wrap(core.KindConfiguration, "download app", fmt.Errorf("downloader storage not initialized"))
	}

	source := d.repo.SourceForDownload(fullName)
	if err := storage.DownloadDirWithStats(ctx, source, destDir, onStats); err != nil {
		return "", core.Wrap(core.KindNetwork, "download release", err)
	}

	if err := d.repo.PostDownload(ctx, fullName, destDir, d.CacheDir, d.HTTPClient, onStage); err != nil {
		return "", core.Wrap(core.KindEnvironment, "post-process release", err)
	}

	if err := writeDownloadMetadata(d.cachedApp(fullName), fullName, destDir, writeLegacyRelease); err != nil {
		return "", err
	}

	if d.InstallationID != "" {
		if err := d.CloudAPI.TrackDownload(ctx, d.InstallationID, truePackageName); err != nil {
			d.logf("track download for %s failed: %v", truePackageName, err)
		}
	}

	return destDir, nil
}

// UploadDonationArchive copies a locally-built donation archive up to the
// configured share remote/path. Requires ShareRemoteName/ShareRemotePath in
// the downloader config.
func (d *Downloader) UploadDonationArchive(ctx context.Context, archivePath string, onStats func(rclone.TransferStats)) error {
	if d.Config.ShareRemoteName == "" || d.Config.ShareRemotePath == "" {
		return core.Wrap(core.KindConfiguration, "upload donation archive",
			fmt.Errorf("share_remote_name and share_remote_path are required to donate"))
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return core.Wrap(core.KindEnvironment, "stat donation archive", err)
	}

	d.mu.Lock()
	bandwidthLimit := d.bandwidthLimit
	d.mu.Unlock()

	client := &rclone.Client{RclonePath: d.RclonePath, ConfigPath: d.RcloneConfigPath, BandwidthLimit: bandwidthLimit}
	dest := fmt.Sprintf("%s:%s", d.Config.ShareRemoteName, strings.TrimLeft(d.Config.ShareRemotePath, "/"))
	if err := client.TransferWithStats(ctx, archivePath, dest, rclone.OpCopy, info.Size(), onStats); err != nil {
		return core.Wrap(core.KindNetwork, "upload donation archive", err)
	}
	return nil
}

// FetchAppDetails delegates to CloudAPI for enrichment details on one package.
func (d *Downloader) FetchAppDetails(ctx context.Context, packageName string) (*AppDetails, error) {
	return d.CloudAPI.FetchAppDetails(ctx, packageName)
}

// FetchAppReviews delegates to CloudAPI for a page of reviews.
func (d *Downloader) FetchAppReviews(ctx context.Context, appID string, limit, offset int, sortBy ReviewSort) ([]AppReview, int, error) {
	return d.CloudAPI.FetchAppReviews(ctx, appID, limit, offset, sortBy)
}
