package downloader

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"sidedock/internal/core"
	"sidedock/internal/downloader/httpcache"
	"sidedock/internal/settings"
)

// Availability reports the Manager's current state to the adapter layer, one
// event per transition: Unavailable (no config installed yet, or the last
// init failed) -> Initializing -> Available, or back to Unavailable with an
// Error set.
type Availability struct {
	Available          bool
	Initializing       bool
	Error              string
	ConfigID           string
	DonationConfigured bool
	NeedsSetup         bool
}

// Manager owns the lifecycle of the single active Downloader: loading
// downloader.json from AppDir, optionally refreshing it from a configured
// update URL, preparing its rclone artifacts, and swapping in a freshly
// built Downloader. Only one init runs at a time; a reconfiguration drops
// the previous Downloader before building its replacement.
type Manager struct {
	AppDir                string
	InstallationID        string
	HTTPClient            *http.Client
	Logger                *log.Logger
	BandwidthLimit        func() string // nil disables --bwlimit
	OnAvailabilityChanged func(Availability)

	initMu sync.Mutex

	mu         sync.Mutex
	downloader *Downloader
}

func NewManager(appDir, installationID string, httpClient *http.Client, logger *log.Logger) *Manager {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Manager{
		AppDir:         appDir,
		InstallationID: installationID,
		HTTPClient:     httpClient,
		Logger:         logger,
	}
}

func (m *Manager) logf(format string, args ...interface{}) {
	if m.Logger != nil {
		m.Logger.Printf(format, args...)
	}
}

func (m *Manager) emit(a Availability) {
	if m.OnAvailabilityChanged != nil {
		m.OnAvailabilityChanged(a)
	}
}

func (m *Manager) configPath() string {
	return filepath.Join(m.AppDir, "downloader.json")
}

func (m *Manager) bandwidthLimit() string {
	if m.BandwidthLimit != nil {
		return m.BandwidthLimit()
	}
	return ""
}

// Current returns the active Downloader, or nil if none is initialized.
func (m *Manager) Current() *Downloader {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloader
}

func (m *Manager) setDownloader(d *Downloader) {
	m.mu.Lock()
	m.downloader = d
	m.mu.Unlock()
}

// Start kicks off the initial load in the background: if downloader.json is
// present it's parsed and initialized; otherwise cloud features stay
// disabled and callers are told setup is needed.
func (m *Manager) Start(ctx context.Context) {
	if _, err := os.Stat(m.configPath()); err != nil {
		m.emit(Availability{NeedsSetup: true})
		return
	}
	go func() {
		if err := m.InitFromDisk(ctx); err != nil {
			m.logf("downloader init failed: %v", err)
		}
	}()
}

// InitFromDisk (re)loads downloader.json, refreshing it from
// config_update_url first when one is configured, then builds and swaps in
// a new Downloader. Only one init runs at a time.
func (m *Manager) InitFromDisk(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	cfgPath := m.configPath()
	cfg, err := settings.LoadDownloaderConfig(cfgPath)
	if err != nil {
		return core.Wrap(core.KindConfiguration, "load downloader config", err)
	}

	if cfg.ConfigUpdateURL != "" {
		if err := m.updateConfigFromURL(cfg.ID, cfg.ConfigUpdateURL); err != nil {
			m.logf("update downloader config from %s failed, using local copy: %v", cfg.ConfigUpdateURL, err)
		} else if cfg, err = settings.LoadDownloaderConfig(cfgPath); err != nil {
			return core.Wrap(core.KindConfiguration, "reload updated downloader config", err)
		}
	}

	return m.initWithConfig(ctx, cfg)
}

func (m *Manager) initWithConfig(ctx context.Context, cfg *settings.DownloaderConfig) error {
	donationConfigured := cfg.ShareRemoteName != "" && cfg.ShareRemotePath != ""
	m.emit(Availability{Initializing: true, ConfigID: cfg.ID, DonationConfigured: donationConfigured})

	// Drop the previous instance before building its replacement, so a
	// reconfiguration never leaves two Downloaders pointed at the same
	// cache directory at once.
	m.setDownloader(nil)

	cacheDir := filepath.Join(m.AppDir, "downloader_cache", cfg.ID)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		wrapped := core.Wrap(core.KindEnvironment, "create downloader cache dir", err)
		m.emit(Availability{ConfigID: cfg.ID, Error: wrapped.Error()})
		return wrapped
	}

	rclonePath, rcloneConfigPath, err := PrepareArtifacts(cacheDir, cfg, nil)
	if err != nil {
		wrapped := core.Wrap(core.KindEnvironment, "prepare downloader artifacts", err)
		m.emit(Availability{ConfigID: cfg.ID, Error: wrapped.Error()})
		return wrapped
	}

	d, err := NewDownloader(ctx, cfg, cacheDir, rclonePath, rcloneConfigPath, m.InstallationID, m.bandwidthLimit(), m.HTTPClient, m.Logger)
	if err != nil {
		wrapped := core.Wrap(core.KindEnvironment, "initialize downloader", err)
		m.emit(Availability{ConfigID: cfg.ID, Error: wrapped.Error()})
		return wrapped
	}

	m.setDownloader(d)
	m.emit(Availability{Available: true, ConfigID: cfg.ID, DonationConfigured: donationConfigured})
	return nil
}

// UpdateBandwidthLimit forwards a changed bandwidth_limit setting to the
// active Downloader, if any is currently initialized.
func (m *Manager) UpdateBandwidthLimit(ctx context.Context, bandwidthLimit string) error {
	d := m.Current()
	if d == nil {
		return nil
	}
	return d.UpdateBandwidthLimit(ctx, bandwidthLimit)
}

func (m *Manager) cacheConfigFromURL(cacheKey, url string) (string, error) {
	if !isHTTPURL(url) {
		return "", core.Wrap(core.KindConfiguration, "cache downloader config",
			fmt.Errorf("config_update_url must start with http:// or https://"))
	}
	cacheDir := filepath.Join(m.AppDir, "downloader_cache", cacheKey)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", core.Wrap(core.KindEnvironment, "create config cache dir", err)
	}
	dst := filepath.Join(cacheDir, "downloader_config.json")
	if _, err := httpcache.UpdateFileCached(m.HTTPClient, url, dst, cacheDir, nil); err != nil {
		return "", core.Wrap(core.KindNetwork, "download updated config", err)
	}
	return dst, nil
}

func (m *Manager) updateConfigFromURL(configID, updateURL string) error {
	cached, err := m.cacheConfigFromURL(configID, updateURL)
	if err != nil {
		return err
	}
	return installConfigFile(m.configPath(), cached)
}

func validateConfigFile(path string) (*settings.DownloaderConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, core.Wrap(core.KindEnvironment, "stat downloader config source", err)
	}
	if info.IsDir() {
		return nil, core.Wrap(core.KindConfiguration, "validate downloader config",
			fmt.Errorf("source path is a directory"))
	}
	cfg, err := settings.LoadDownloaderConfig(path)
	if err != nil {
		return nil, core.Wrap(core.KindConfiguration, "validate downloader config", err)
	}
	return cfg, nil
}

// installConfigFile validates src as a downloader config and atomically
// replaces dst with its content via a same-directory temp file plus rename,
// so a reader never observes a partially-written downloader.json.
func installConfigFile(dst, src string) error {
	if _, err := validateConfigFile(src); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return core.Wrap(core.KindEnvironment, "read downloader config source", err)
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return core.Wrap(core.KindEnvironment, "write downloader config", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return core.Wrap(core.KindEnvironment, "replace downloader config", err)
	}
	return nil
}

// InstallConfigFromFile validates srcPath as a downloader.json and, on
// success, installs it and reinitializes the Downloader from it. This is
// the drag&drop config-install path.
func (m *Manager) InstallConfigFromFile(ctx context.Context, srcPath string) error {
	if err := installConfigFile(m.configPath(), srcPath); err != nil {
		return err
	}
	return m.InitFromDisk(ctx)
}

// InstallConfigFromURL downloads a downloader.json from url, validates it,
// installs it, and reinitializes the Downloader from it.
func (m *Manager) InstallConfigFromURL(ctx context.Context, url string) error {
	cached, err := m.cacheConfigFromURL("_bootstrap", url)
	if err != nil {
		return err
	}
	return m.InstallConfigFromFile(ctx, cached)
}
