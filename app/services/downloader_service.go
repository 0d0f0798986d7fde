package services

import (
	"context"
	"fmt"
	"log"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"sidedock/internal/downloader"
)

var errDownloaderNotConfigured = fmt.Errorf("downloader not configured")

// DownloaderService is the Wails-bound wrapper around the cloud-catalog
// downloader manager: it forwards availability transitions to the frontend
// and exposes catalog/config operations the UI drives directly.
type DownloaderService struct {
	ctx    context.Context
	logger *log.Logger
	mgr    *downloader.Manager
}

func NewDownloaderService(ctx context.Context, logger *log.Logger, mgr *downloader.Manager) *DownloaderService {
	s := &DownloaderService{ctx: ctx, logger: logger, mgr: mgr}
	mgr.OnAvailabilityChanged = s.onAvailabilityChanged
	return s
}

// SetContext updates the context used to emit Wails events.
func (s *DownloaderService) SetContext(ctx context.Context) {
	s.ctx = ctx
}

func (s *DownloaderService) onAvailabilityChanged(a downloader.Availability) {
	if s.ctx == nil {
		return
	}
	runtime.EventsEmit(s.ctx, "downloader:availability", a)
}

// InstallConfigFromFile installs a downloader.json-style catalog config from
// a local file path.
func (s *DownloaderService) InstallConfigFromFile(path string) error {
	return s.mgr.InstallConfigFromFile(s.ctx, path)
}

// InstallConfigFromURL fetches and installs a catalog config from a URL.
func (s *DownloaderService) InstallConfigFromURL(url string) error {
	return s.mgr.InstallConfigFromURL(s.ctx, url)
}

// UpdateBandwidthLimit changes the rclone --bwlimit value used for future
// transfers.
func (s *DownloaderService) UpdateBandwidthLimit(limit string) error {
	return s.mgr.UpdateBandwidthLimit(s.ctx, limit)
}

// RefreshCatalog re-lists the remote catalog, optionally forcing past any
// cached result.
func (s *DownloaderService) RefreshCatalog(force bool) ([]downloader.CloudApp, error) {
	dl := s.mgr.Current()
	if dl == nil {
		return nil, errDownloaderNotConfigured
	}
	return dl.RefreshCatalog(s.ctx, force)
}

// FetchAppDetails fetches enrichment details for one package.
func (s *DownloaderService) FetchAppDetails(packageName string) (*downloader.AppDetails, error) {
	dl := s.mgr.Current()
	if dl == nil {
		return nil, errDownloaderNotConfigured
	}
	return dl.FetchAppDetails(s.ctx, packageName)
}

// FetchAppReviews fetches a page of reviews for one catalog entry.
func (s *DownloaderService) FetchAppReviews(appID string, limit, offset int, sortBy downloader.ReviewSort) ([]downloader.AppReview, int, error) {
	dl := s.mgr.Current()
	if dl == nil {
		return nil, 0, errDownloaderNotConfigured
	}
	return dl.FetchAppReviews(s.ctx, appID, limit, offset, sortBy)
}

// CurrentRemoteName reports the rclone remote currently selected for
// catalog transfers, or "" if none is configured yet.
func (s *DownloaderService) CurrentRemoteName() string {
	dl := s.mgr.Current()
	if dl == nil {
		return ""
	}
	return dl.CurrentRemoteName()
}
