package services

import (
	"context"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"sidedock/internal/adb"
	"sidedock/internal/downloader"
)

func newTestPrereqService(t *testing.T) *PrereqService {
	t.Helper()
	logger := log.New(os.Stderr, "test ", 0)
	adbHandler := adb.NewHandler("adb", nil, nil)
	dlMgr := downloader.NewManager(t.TempDir(), "test-install-id", &http.Client{}, logger)
	settingsSvc := newTestSettingsService(t)
	return NewPrereqService(context.Background(), logger, adbHandler, dlMgr, settingsSvc)
}

func TestCheckDeviceConnectionFailsWithoutDevice(t *testing.T) {
	s := newTestPrereqService(t)
	check := s.checkDeviceConnection()
	if check.Status != "fail" {
		t.Fatalf("checkDeviceConnection().Status = %q, want fail", check.Status)
	}
}

func TestCheckCatalogConfigWarnsWithoutConfig(t *testing.T) {
	s := newTestPrereqService(t)
	check := s.checkCatalogConfig()
	if check.Status != "warn" {
		t.Fatalf("checkCatalogConfig().Status = %q, want warn", check.Status)
	}
}

func TestCheckWritableLocationCreatesMissingDirectory(t *testing.T) {
	s := newTestPrereqService(t)
	target := filepath.Join(t.TempDir(), "nested", "downloads")

	check := s.checkWritableLocation("downloads_location", "Downloads Location", target)
	if check.Status != "ok" {
		t.Fatalf("checkWritableLocation().Status = %q, want ok (details: %s)", check.Status, check.Details)
	}
	if info, err := os.Stat(target); err != nil || !info.IsDir() {
		t.Fatalf("expected %s to exist as a directory", target)
	}
}

func TestCheckWritableLocationWarnsOnUnwritablePath(t *testing.T) {
	s := newTestPrereqService(t)
	// A path nested under a regular file can never be created as a directory.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	check := s.checkWritableLocation("downloads_location", "Downloads Location", filepath.Join(blocker, "downloads"))
	if check.Status != "warn" {
		t.Fatalf("checkWritableLocation().Status = %q, want warn", check.Status)
	}
}
