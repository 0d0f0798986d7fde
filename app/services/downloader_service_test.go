package services

import (
	"context"
	"log"
	"net/http"
	"os"
	"testing"

	"sidedock/internal/downloader"
)

func newTestDownloaderService(t *testing.T) *DownloaderService {
	t.Helper()
	logger := log.New(os.Stderr, "test ", 0)
	mgr := downloader.NewManager(t.TempDir(), "test-install-id", &http.Client{}, logger)
	return NewDownloaderService(context.Background(), logger, mgr)
}

func TestDownloaderServiceRefreshCatalogRequiresConfig(t *testing.T) {
	s := newTestDownloaderService(t)
	if _, err := s.RefreshCatalog(false); err != errDownloaderNotConfigured {
		t.Fatalf("RefreshCatalog() = %v, want errDownloaderNotConfigured", err)
	}
}

func TestDownloaderServiceFetchAppDetailsRequiresConfig(t *testing.T) {
	s := newTestDownloaderService(t)
	if _, err := s.FetchAppDetails("com.example.app"); err != errDownloaderNotConfigured {
		t.Fatalf("FetchAppDetails() = %v, want errDownloaderNotConfigured", err)
	}
}

func TestDownloaderServiceFetchAppReviewsRequiresConfig(t *testing.T) {
	s := newTestDownloaderService(t)
	if _, _, err := s.FetchAppReviews("123", 10, 0, downloader.ReviewSort("")); err != errDownloaderNotConfigured {
		t.Fatalf("FetchAppReviews() = %v, want errDownloaderNotConfigured", err)
	}
}

func TestDownloaderServiceCurrentRemoteNameEmptyWithoutConfig(t *testing.T) {
	s := newTestDownloaderService(t)
	if name := s.CurrentRemoteName(); name != "" {
		t.Fatalf("CurrentRemoteName() = %q, want empty", name)
	}
}
