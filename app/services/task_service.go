package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"sidedock/internal/adb"
	"sidedock/internal/catalog"
	"sidedock/internal/core"
	"sidedock/internal/downloader"
	"sidedock/internal/downloader/archive"
	"sidedock/internal/downloader/rclone"
	"sidedock/internal/settings"
)

// TaskService is the Wails-bound wrapper around core.TaskManager: it owns
// the task bodies (the actual ADB/download/archive work) and reports
// progress back through the manager's step API, keeping task scheduling
// and task execution in separate layers.
type TaskService struct {
	tm          *core.TaskManager
	adb         *adb.Handler
	downloader  *downloader.Manager
	settings    *settings.Store
	downloads   *catalog.DownloadsCatalog
	backups     *catalog.BackupsCatalog
	archive     *archive.Client
	logger      *log.Logger
}

func NewTaskService(tm *core.TaskManager, adbHandler *adb.Handler, dlMgr *downloader.Manager, store *settings.Store, downloads *catalog.DownloadsCatalog, backups *catalog.BackupsCatalog, logger *log.Logger) *TaskService {
	return &TaskService{
		tm:         tm,
		adb:        adbHandler,
		downloader: dlMgr,
		settings:   store,
		downloads:  downloads,
		backups:    backups,
		archive:    &archive.Client{},
		logger:     logger,
	}
}

func (s *TaskService) currentDevice() (*adb.Device, error) {
	dev := s.adb.CurrentDevice()
	if dev == nil {
		return nil, errNoDevice
	}
	return dev, nil
}

// ListTasks returns every known task, newest first.
func (s *TaskService) ListTasks() []*core.TaskProgress {
	return s.tm.ListTasks()
}

// GetTask returns one task's current progress.
func (s *TaskService) GetTask(id uint64) (*core.TaskProgress, error) {
	return s.tm.GetTask(id)
}

// CancelTask requests cancellation of a running task.
func (s *TaskService) CancelTask(id uint64) error {
	return s.tm.CancelTask(id)
}

// StartDownload downloads fullName into the configured downloads location
// without installing it.
func (s *TaskService) StartDownload(fullName, packageName string) (uint64, error) {
	params := map[string]string{"fullName": fullName, "packageName": packageName}
	id, taskCtx, err := s.tm.StartTask(context.Background(), core.TaskDownload, fullName, params)
	if err != nil {
		return 0, err
	}

	go func() {
		if err := s.tm.AcquireDownload(taskCtx); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		defer s.tm.ReleaseDownload()

		dl := s.downloader.Current()
		if dl == nil {
			s.tm.FailTask(id, core.Wrap(core.KindConfiguration, "download", fmt.Errorf("downloader not configured")), "")
			return
		}

		cfg := s.settings.Get()
		_, err := dl.DownloadApp(taskCtx, cfg.DownloadsLocation, fullName, packageName, cfg.WriteLegacyReleaseJSON,
			s.onTransferStats(id, 1), s.onStage(id, 1))
		if err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		s.tm.CompleteStep(id, 1, "downloaded")
		s.tm.CompleteTask(id, "download complete")
	}()

	return id, nil
}

// StartDownloadInstall downloads fullName then installs the resulting APK
// (and pushes any OBB tree it carries) onto the current device.
func (s *TaskService) StartDownloadInstall(fullName, packageName string) (uint64, error) {
	params := map[string]string{"fullName": fullName, "packageName": packageName}
	id, taskCtx, err := s.tm.StartTask(context.Background(), core.TaskDownloadInstall, fullName, params)
	if err != nil {
		return 0, err
	}

	go func() {
		dl := s.downloader.Current()
		if dl == nil {
			s.tm.FailTask(id, core.Wrap(core.KindConfiguration, "download install", fmt.Errorf("downloader not configured")), "")
			return
		}

		if err := s.tm.AcquireDownload(taskCtx); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		cfg := s.settings.Get()
		destDir, err := dl.DownloadApp(taskCtx, cfg.DownloadsLocation, fullName, packageName, cfg.WriteLegacyReleaseJSON,
			s.onTransferStats(id, 1), s.onStage(id, 1))
		s.tm.ReleaseDownload()
		if err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		s.tm.CompleteStep(id, 1, "downloaded")

		if err := s.tm.AcquireADB(taskCtx); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		defer s.tm.ReleaseADB()

		dev, err := s.currentDevice()
		if err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		if err := installLocalApp(taskCtx, dev, s.adb.Runner, destDir, packageName, func(p float64) {
			s.tm.UpdateStep(id, 2, p, "installing")
		}); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}

		_ = s.downloads.ApplyCleanupPolicy(cfg.CleanupPolicy, fullName, destDir)

		s.tm.CompleteStep(id, 2, "installed")
		s.tm.CompleteTask(id, "download and install complete")
	}()

	return id, nil
}

// StartInstallApk pushes and installs a local APK file.
func (s *TaskService) StartInstallApk(apkPath string, autoReinstall bool) (uint64, error) {
	params := map[string]string{"apkPath": apkPath}
	id, taskCtx, err := s.tm.StartTask(context.Background(), core.TaskInstallApk, filepath.Base(apkPath), params)
	if err != nil {
		return 0, err
	}

	go func() {
		if err := s.tm.AcquireADB(taskCtx); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		defer s.tm.ReleaseADB()

		dev, err := s.currentDevice()
		if err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		if err := dev.Install(taskCtx, s.adb.Runner, apkPath, "", autoReinstall, false, func(p float64) {
			s.tm.UpdateStep(id, 1, p, "installing")
		}); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		s.tm.CompleteStep(id, 1, "installed")
		s.tm.CompleteTask(id, "install complete")
	}()

	return id, nil
}

// StartInstallLocalApp installs an already-downloaded release directory
// (an APK plus an optional obb/ tree) onto the current device.
func (s *TaskService) StartInstallLocalApp(dirPath string) (uint64, error) {
	params := map[string]string{"dirPath": dirPath}
	id, taskCtx, err := s.tm.StartTask(context.Background(), core.TaskInstallLocalApp, filepath.Base(dirPath), params)
	if err != nil {
		return 0, err
	}

	go func() {
		if err := s.tm.AcquireADB(taskCtx); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		defer s.tm.ReleaseADB()

		dev, err := s.currentDevice()
		if err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		if err := installLocalApp(taskCtx, dev, s.adb.Runner, dirPath, "", func(p float64) {
			s.tm.UpdateStep(id, 1, p, "installing")
		}); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		s.tm.CompleteStep(id, 1, "installed")
		s.tm.CompleteTask(id, "install complete")
	}()

	return id, nil
}

// StartUninstall removes pkg from the current device.
func (s *TaskService) StartUninstall(pkg string) (uint64, error) {
	params := map[string]string{"package": pkg}
	id, taskCtx, err := s.tm.StartTask(context.Background(), core.TaskUninstall, pkg, params)
	if err != nil {
		return 0, err
	}

	go func() {
		if err := s.tm.AcquireADB(taskCtx); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		defer s.tm.ReleaseADB()

		dev, err := s.currentDevice()
		if err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		if err := dev.Uninstall(taskCtx, s.adb.Runner, pkg); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		s.tm.CompleteStep(id, 1, "uninstalled")
		s.tm.CompleteTask(id, "uninstall complete")
	}()

	return id, nil
}

// StartBackupApp pulls pkg's requested subtrees into the configured backups
// location.
func (s *TaskService) StartBackupApp(pkg string, parts adb.BackupParts) (uint64, error) {
	params := map[string]string{"package": pkg}
	id, taskCtx, err := s.tm.StartTask(context.Background(), core.TaskBackupApp, pkg, params)
	if err != nil {
		return 0, err
	}

	go func() {
		if err := s.tm.AcquireADB(taskCtx); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		defer s.tm.ReleaseADB()

		dev, err := s.currentDevice()
		if err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		cfg := s.settings.Get()
		backupDir, err := dev.Backup(taskCtx, s.adb.Runner, cfg.BackupsLocation, pkg, parts)
		if err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		s.tm.CompleteStep(id, 1, "backup complete: "+backupDir)
		s.tm.CompleteTask(id, "backup complete")
	}()

	return id, nil
}

// StartRestoreBackup restores a backup directory onto the current device.
func (s *TaskService) StartRestoreBackup(backupDir string) (uint64, error) {
	params := map[string]string{"backupDir": backupDir}
	id, taskCtx, err := s.tm.StartTask(context.Background(), core.TaskRestoreBackup, filepath.Base(backupDir), params)
	if err != nil {
		return 0, err
	}

	go func() {
		if err := s.tm.AcquireADB(taskCtx); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		defer s.tm.ReleaseADB()

		dev, err := s.currentDevice()
		if err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		if err := dev.Restore(taskCtx, s.adb.Runner, backupDir); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		s.tm.CompleteStep(id, 1, "restored")
		s.tm.CompleteTask(id, "restore complete")
	}()

	return id, nil
}

// StartDonateApp pulls an installed app's APK/OBB tree, archives it, and
// uploads the archive to the configured donation share: three sequential
// steps sharing the ADB then download semaphores in turn.
func (s *TaskService) StartDonateApp(pkg string) (uint64, error) {
	params := map[string]string{"package": pkg}
	id, taskCtx, err := s.tm.StartTask(context.Background(), core.TaskDonateApp, pkg, params)
	if err != nil {
		return 0, err
	}

	go func() {
		dl := s.downloader.Current()
		if dl == nil {
			s.tm.FailTask(id, core.Wrap(core.KindConfiguration, "donate", fmt.Errorf("downloader not configured")), "")
			return
		}

		stagingRoot := filepath.Join(os.TempDir(), "sidedock-donate")
		if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
			s.tm.FailTask(id, core.Wrap(core.KindEnvironment, "donate", err), "")
			return
		}
		defer os.RemoveAll(stagingRoot)

		if err := s.tm.AcquireADB(taskCtx); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		dev, err := s.currentDevice()
		if err != nil {
			s.tm.ReleaseADB()
			s.tm.FailTask(id, err, "")
			return
		}
		pulledDir, err := dev.DonatePull(taskCtx, s.adb.Runner, pkg, stagingRoot)
		s.tm.ReleaseADB()
		if err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		s.tm.CompleteStep(id, 1, "pulled from device")

		archivePath, err := s.archive.CreateZipFromDir(taskCtx, pulledDir, stagingRoot, pkg)
		if err != nil {
			s.tm.FailTask(id, core.Wrap(core.KindSubprocess, "archive donation", err), "")
			return
		}
		s.tm.CompleteStep(id, 2, "archived")

		if err := s.tm.AcquireDownload(taskCtx); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		defer s.tm.ReleaseDownload()

		if err := dl.UploadDonationArchive(taskCtx, archivePath, s.onTransferStats(id, 3)); err != nil {
			s.tm.FailTask(id, err, "")
			return
		}
		s.tm.CompleteStep(id, 3, "uploaded")
		s.tm.CompleteTask(id, "donation complete")
	}()

	return id, nil
}

// installLocalApp installs the single APK found directly under dir and, if
// dir carries an obb/ subdirectory, pushes it onto the device. Mirrors the
// apk-then-obb pattern adb.Device.Restore uses for backup directories.
// packageName, when already known (e.g. from a catalog download), is passed
// straight through to avoid re-deriving it from the APK.
func installLocalApp(ctx context.Context, dev *adb.Device, r *adb.Runner, dir, packageName string, progress func(float64)) error {
	apks, err := filepath.Glob(filepath.Join(dir, "*.apk"))
	if err != nil || len(apks) == 0 {
		return core.Wrap(core.KindConfiguration, "install local app", fmt.Errorf("no apk found in %q", dir))
	}

	if err := dev.Install(ctx, r, apks[0], packageName, true, false, progress); err != nil {
		return err
	}

	obbDir := filepath.Join(dir, "obb")
	if info, err := os.Stat(obbDir); err == nil && info.IsDir() {
		if err := dev.Push(ctx, r, obbDir, "/sdcard/Android/obb/"); err != nil {
			return core.Wrap(core.KindSubprocess, "push obb", err)
		}
	}
	return nil
}

// onTransferStats adapts an rclone progress callback into the task
// manager's step-progress reporting.
func (s *TaskService) onTransferStats(id uint64, step int) func(rclone.TransferStats) {
	return func(stats rclone.TransferStats) {
		var pct float64
		if stats.TotalBytes > 0 {
			pct = float64(stats.Bytes) / float64(stats.TotalBytes)
		}
		s.tm.UpdateStep(id, step, pct, fmt.Sprintf("%d/%d bytes", stats.Bytes, stats.TotalBytes))
	}
}

// onStage adapts a repo post-download stage label into a step message.
func (s *TaskService) onStage(id uint64, step int) func(string) {
	return func(stage string) {
		s.tm.UpdateStep(id, step, 0, stage)
	}
}
