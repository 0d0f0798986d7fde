package repo

import (
	"context"
	"net/http"
	"os"

	"sidedock/internal/core"
	"sidedock/internal/downloader"
	"sidedock/internal/downloader/rclone"
)

// FFARepo is the plain layout: the configured remote/root directly holds
// release directories and a flat CSV list file, no per-release renaming or
// encryption.
type FFARepo struct{}

func (r *FFARepo) ID() string { return "ffa" }

func (r *FFARepo) BuildStorage(ctx context.Context, args BuildStorageArgs) (BuildStorageResult, error) {
	storage := &rclone.Storage{
		Client: &rclone.Client{
			RclonePath:     args.RclonePath,
			ConfigPath:     args.RcloneConfigPath,
			BandwidthLimit: args.BandwidthLimit,
		},
		Remote:  args.RemoteName,
		RootDir: args.RootDir,
	}
	return BuildStorageResult{Storage: storage}, nil
}

func (r *FFARepo) LoadAppList(ctx context.Context, storage *rclone.Storage, listPath, cacheDir string, httpClient *http.Client) ([]downloader.CloudApp, error) {
	localPath, err := storage.DownloadFile(ctx, listPath, cacheDir)
	if err != nil {
		return nil, core.Wrap(core.KindNetwork, "download game list file", err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, core.Wrap(core.KindEnvironment, "open game list file", err)
	}
	defer f.Close()

	return parseCatalogCSV(f)
}

func (r *FFARepo) SourceForDownload(fullName string) string { return fullName }

func (r *FFARepo) PostDownload(ctx context.Context, fullName, dstDir, cacheDir string, httpClient *http.Client, onStatus func(string)) error {
	return nil
}

func (r *FFARepo) GeneratedConfigFilename() (string, bool) { return "", false }
