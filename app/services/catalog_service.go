package services

import (
	"log"

	"sidedock/internal/catalog"
)

// CatalogService is the Wails-bound wrapper around the local
// downloads/backups directory catalogs.
type CatalogService struct {
	logger    *log.Logger
	downloads *catalog.DownloadsCatalog
	backups   *catalog.BackupsCatalog
}

func NewCatalogService(logger *log.Logger, downloads *catalog.DownloadsCatalog, backups *catalog.BackupsCatalog) *CatalogService {
	return &CatalogService{logger: logger, downloads: downloads, backups: backups}
}

// SetDownloadsRoot repoints the downloads catalog at a new location.
func (s *CatalogService) SetDownloadsRoot(root string) {
	s.downloads.SetRoot(root)
}

// SetBackupsRoot repoints the backups catalog at a new location.
func (s *CatalogService) SetBackupsRoot(root string) {
	s.backups.SetRoot(root)
}

// ListDownloads lists every release currently on disk.
func (s *CatalogService) ListDownloads() ([]catalog.DownloadEntry, error) {
	return s.downloads.ListDownloads()
}

// DeleteDownload removes one release directory.
func (s *CatalogService) DeleteDownload(path string) error {
	return s.downloads.DeleteDownload(path)
}

// DeleteAllDownloads clears every recognized release directory, reporting
// how many were removed vs. skipped as unrecognized.
func (s *CatalogService) DeleteAllDownloads() (removed, skipped int, err error) {
	return s.downloads.DeleteAllDownloads()
}

// ListBackups lists every backup directory currently on disk.
func (s *CatalogService) ListBackups() ([]catalog.BackupEntry, error) {
	return s.backups.ListBackups()
}

// DeleteBackup removes one backup directory.
func (s *CatalogService) DeleteBackup(path string) error {
	return s.backups.DeleteBackup(path)
}
