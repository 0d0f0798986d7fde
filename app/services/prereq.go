package services

import (
	"context"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"sidedock/internal/adb"
	"sidedock/internal/downloader"
)

// PrereqService handles prerequisite checks for the application
type PrereqService struct {
	ctx        context.Context
	logger     *log.Logger
	adb        *adb.Handler
	downloader *downloader.Manager
	settings   *SettingsService
	lastReport *PrereqReport
}

// NewPrereqService creates a new PrereqService
func NewPrereqService(ctx context.Context, logger *log.Logger, adbHandler *adb.Handler, dlMgr *downloader.Manager, settingsSvc *SettingsService) *PrereqService {
	return &PrereqService{
		ctx:        ctx,
		logger:     logger,
		adb:        adbHandler,
		downloader: dlMgr,
		settings:   settingsSvc,
	}
}

// SetContext updates the context used to emit Wails events.
func (s *PrereqService) SetContext(ctx context.Context) {
	s.ctx = ctx
}

// PrereqCheck represents a single prerequisite check
type PrereqCheck struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Status           string   `json:"status"` // "ok", "warn", "fail"
	Details          string   `json:"details"`
	RemediationSteps []string `json:"remediationSteps"`
	Links            []string `json:"links,omitempty"`
}

// PrereqReport contains all prerequisite checks
type PrereqReport struct {
	OverallStatus string        `json:"overallStatus"` // "ok", "warn", "fail"
	OS            string        `json:"os"`             // "linux", "windows", "darwin"
	Checks        []PrereqCheck `json:"checks"`
	Timestamp     time.Time     `json:"timestamp"`
}

// RefreshNow forces an immediate prerequisite check and returns the report
func (s *PrereqService) RefreshNow() (PrereqReport, error) {
	s.logger.Printf("[PrereqService] RefreshNow: Forcing immediate prerequisite check")
	return s.GetPrereqReport(), nil
}

// GetPrereqReport returns the current prerequisite status report
func (s *PrereqService) GetPrereqReport() PrereqReport {
	s.logger.Printf("[PrereqService] GetPrereqReport: Generating prerequisite report...")

	report := PrereqReport{
		OS:        goruntime.GOOS,
		Checks:    []PrereqCheck{},
		Timestamp: time.Now(),
	}

	checkConfigs := []struct {
		id   string
		name string
		fn   func() PrereqCheck
	}{
		{"adb", "Android Debug Bridge (ADB)", s.checkADB},
		{"device_connection", "Device Connection", s.checkDeviceConnection},
		{"rclone", "rclone Binary", s.checkRclone},
		{"sevenzip", "7-Zip Binary", s.checkSevenZip},
		{"catalog_config", "Cloud Catalog Configuration", s.checkCatalogConfig},
		{"downloads_location", "Downloads Location", s.checkDownloadsLocation},
		{"backups_location", "Backups Location", s.checkBackupsLocation},
	}

	checks := make([]PrereqCheck, 0, len(checkConfigs))
	for i, config := range checkConfigs {
		runtime.EventsEmit(s.ctx, "PrereqCheckProgress", map[string]interface{}{
			"checkID":   config.id,
			"checkName": config.name,
			"status":    "starting",
		})
		time.Sleep(50 * time.Millisecond)

		check := config.fn()

		runtime.EventsEmit(s.ctx, "PrereqCheckProgress", map[string]interface{}{
			"checkID":   config.id,
			"checkName": config.name,
			"status":    "completed",
			"result":    check,
		})

		checks = append(checks, check)
		if i < len(checkConfigs)-1 {
			time.Sleep(50 * time.Millisecond)
		}
	}

	report.Checks = checks

	hasFail, hasWarn := false, false
	for _, check := range checks {
		switch check.Status {
		case "fail":
			hasFail = true
		case "warn":
			hasWarn = true
		}
	}
	switch {
	case hasFail:
		report.OverallStatus = "fail"
	case hasWarn:
		report.OverallStatus = "warn"
	default:
		report.OverallStatus = "ok"
	}

	s.lastReport = &report
	s.logger.Printf("[PrereqService] Report generated: overallStatus=%s, checks=%d", report.OverallStatus, len(report.Checks))
	runtime.EventsEmit(s.ctx, "PrereqReport", report)
	return report
}

// checkADB verifies that ADB is installed and accessible, honoring an
// explicit path override from settings.
func (s *PrereqService) checkADB() PrereqCheck {
	check := PrereqCheck{
		ID:      "adb",
		Name:    "Android Debug Bridge (ADB)",
		Status:  "fail",
		Details: "ADB is required to manage headsets.",
	}

	adbPath := s.settings.GetSettings().AdbPath
	if adbPath == "" {
		var err error
		adbPath, err = exec.LookPath("adb")
		if err != nil {
			check.Details = "ADB not found in PATH."
			switch goruntime.GOOS {
			case "linux":
				check.RemediationSteps = []string{
					"Install ADB using your package manager:",
					"  Ubuntu/Debian: sudo apt install adb",
					"  Fedora: sudo dnf install android-tools",
					"  Arch: sudo pacman -S android-tools",
				}
			case "windows":
				check.RemediationSteps = []string{
					"Download Platform Tools: https://developer.android.com/tools/releases/platform-tools",
					"Extract and add the folder to PATH.",
				}
			case "darwin":
				check.RemediationSteps = []string{
					"Install via Homebrew: brew install --cask android-platform-tools",
				}
			}
			check.Links = []string{"https://developer.android.com/tools/releases/platform-tools"}
			return check
		}
	}

	cmd := exec.CommandContext(s.ctx, adbPath, "version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		check.Status = "warn"
		check.Details = "ADB found but failed to execute: " + err.Error()
		check.RemediationSteps = []string{"Reinstall ADB or check installation."}
		return check
	}

	check.Status = "ok"
	check.Details = "ADB found at: " + adbPath + "\nVersion: " + strings.TrimSpace(string(output))
	return check
}

// checkDeviceConnection reports the current ADB handler's connected device,
// if any.
func (s *PrereqService) checkDeviceConnection() PrereqCheck {
	check := PrereqCheck{
		ID:      "device_connection",
		Name:    "Device Connection",
		Status:  "fail",
		Details: "No headset detected. Connect via USB or enable wireless ADB.",
		RemediationSteps: []string{
			"Enable USB debugging on the headset.",
			"Connect via USB and accept the authorization prompt.",
			"Or pair over wireless ADB from the Devices panel.",
		},
	}

	if dev := s.adb.CurrentDevice(); dev != nil {
		check.Status = "ok"
		check.Details = "Connected: " + dev.Serial
		check.RemediationSteps = nil
	}
	return check
}

// checkRclone verifies the rclone binary resolves from PATH.
func (s *PrereqService) checkRclone() PrereqCheck {
	check := PrereqCheck{
		ID:      "rclone",
		Name:    "rclone Binary",
		Status:  "fail",
		Details: "rclone drives all cloud catalog downloads and uploads.",
	}
	if path, err := exec.LookPath("rclone"); err == nil {
		check.Status = "ok"
		check.Details = "rclone found at: " + path
	} else {
		check.RemediationSteps = []string{
			"Install rclone: https://rclone.org/downloads/",
			"Ensure the rclone binary is on PATH.",
		}
		check.Links = []string{"https://rclone.org/downloads/"}
	}
	return check
}

// checkSevenZip verifies a 7-Zip binary resolves from PATH, trying the same
// per-platform candidate names the donation archiver does.
func (s *PrereqService) checkSevenZip() PrereqCheck {
	check := PrereqCheck{
		ID:      "sevenzip",
		Name:    "7-Zip Binary",
		Status:  "fail",
		Details: "7-Zip is required to archive apps before donation uploads.",
	}

	candidates := map[string][]string{
		"windows": {"7za", "7z", "7zz"},
		"linux":   {"7zzs", "7zz", "7za", "7z"},
		"darwin":  {"7zz", "7za", "7z"},
	}
	names := candidates[goruntime.GOOS]
	if names == nil {
		names = candidates["linux"]
	}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			check.Status = "ok"
			check.Details = "7-Zip found at: " + path
			return check
		}
	}
	check.RemediationSteps = []string{
		"Install a 7-Zip variant (7zz/7za/7z) and ensure it's on PATH.",
	}
	return check
}

// checkCatalogConfig reports whether a cloud catalog configuration has been
// installed and successfully initialized.
func (s *PrereqService) checkCatalogConfig() PrereqCheck {
	check := PrereqCheck{
		ID:      "catalog_config",
		Name:    "Cloud Catalog Configuration",
		Status:  "warn",
		Details: "No cloud catalog configuration installed yet.",
		RemediationSteps: []string{
			"Install a catalog configuration file or URL from Settings.",
		},
	}
	if s.downloader.Current() != nil {
		check.Status = "ok"
		check.Details = "Cloud catalog configuration is loaded and active."
	}
	return check
}

// checkDownloadsLocation verifies the configured downloads directory is
// writable, creating it if missing.
func (s *PrereqService) checkDownloadsLocation() PrereqCheck {
	return s.checkWritableLocation("downloads_location", "Downloads Location", s.settings.GetSettings().DownloadsLocation)
}

// checkBackupsLocation verifies the configured backups directory is
// writable, creating it if missing.
func (s *PrereqService) checkBackupsLocation() PrereqCheck {
	return s.checkWritableLocation("backups_location", "Backups Location", s.settings.GetSettings().BackupsLocation)
}

func (s *PrereqService) checkWritableLocation(id, name, path string) PrereqCheck {
	check := PrereqCheck{ID: id, Name: name, Status: "ok", Details: "Write access verified for: " + path}

	if err := os.MkdirAll(path, 0o755); err != nil {
		check.Status = "warn"
		check.Details = "Cannot create directory: " + err.Error()
		check.RemediationSteps = []string{"Choose a different location in Settings."}
		return check
	}

	probe := filepath.Join(path, ".sidedock_write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		check.Status = "warn"
		check.Details = "Cannot write to " + path + ": " + err.Error()
		check.RemediationSteps = []string{"Choose a location with write access."}
		return check
	}
	os.Remove(probe)
	return check
}
