package services

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sidedock/internal/adb"
	"sidedock/internal/catalog"
	"sidedock/internal/core"
	"sidedock/internal/downloader"
	"sidedock/internal/settings"
)

func newTestTaskService(t *testing.T) *TaskService {
	t.Helper()
	logger := log.New(os.Stderr, "test ", 0)

	tm := core.NewTaskManager(nil)
	adbHandler := adb.NewHandler("adb", nil, nil)
	dlMgr := downloader.NewManager(t.TempDir(), "test-install-id", &http.Client{}, logger)

	store, err := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("new settings store: %v", err)
	}

	downloads := catalog.NewDownloadsCatalog(t.TempDir())
	backups := catalog.NewBackupsCatalog(t.TempDir())

	return NewTaskService(tm, adbHandler, dlMgr, store, downloads, backups, logger)
}

func waitForTerminalStatus(t *testing.T, s *TaskService, id uint64) *core.TaskProgress {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p, err := s.GetTask(id)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if p.Status == core.TaskCompleted || p.Status == core.TaskFailed || p.Status == core.TaskCancelled {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %d never reached a terminal status", id)
	return nil
}

func TestStartInstallApkFailsWithoutDevice(t *testing.T) {
	s := newTestTaskService(t)

	id, err := s.StartInstallApk(filepath.Join(t.TempDir(), "app.apk"), true)
	if err != nil {
		t.Fatalf("StartInstallApk: %v", err)
	}

	p := waitForTerminalStatus(t, s, id)
	if p.Status != core.TaskFailed {
		t.Fatalf("status = %v, want Failed", p.Status)
	}
	if p.Error == nil {
		t.Fatalf("expected an error to be recorded")
	}
}

func TestStartUninstallFailsWithoutDevice(t *testing.T) {
	s := newTestTaskService(t)

	id, err := s.StartUninstall("com.example.app")
	if err != nil {
		t.Fatalf("StartUninstall: %v", err)
	}

	p := waitForTerminalStatus(t, s, id)
	if p.Status != core.TaskFailed {
		t.Fatalf("status = %v, want Failed", p.Status)
	}
}

func TestStartDownloadFailsWithoutDownloaderConfigured(t *testing.T) {
	s := newTestTaskService(t)

	id, err := s.StartDownload("Beat Saber v1.0", "com.beatgames.beatsaber")
	if err != nil {
		t.Fatalf("StartDownload: %v", err)
	}

	p := waitForTerminalStatus(t, s, id)
	if p.Status != core.TaskFailed {
		t.Fatalf("status = %v, want Failed", p.Status)
	}
}

func TestInstallLocalAppRequiresAnAPK(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("no apk here"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	err := installLocalApp(nil, nil, nil, dir, "", nil)
	if err == nil {
		t.Fatalf("expected an error when the directory has no apk")
	}
}

func TestListTasksReflectsStartedTasks(t *testing.T) {
	s := newTestTaskService(t)

	id, err := s.StartUninstall("com.example.app")
	if err != nil {
		t.Fatalf("StartUninstall: %v", err)
	}
	waitForTerminalStatus(t, s, id)

	tasks := s.ListTasks()
	found := false
	for _, task := range tasks {
		if task.ID == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected task %d to be present in ListTasks()", id)
	}
}
