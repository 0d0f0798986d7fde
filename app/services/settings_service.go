package services

import (
	"log"

	"sidedock/internal/settings"
)

// SettingsService is the Wails-bound wrapper around the domain settings
// store (ADB path, downloads/backups locations, cleanup policy, ...).
type SettingsService struct {
	logger *log.Logger
	store  *settings.Store
}

func NewSettingsService(logger *log.Logger, store *settings.Store) *SettingsService {
	return &SettingsService{logger: logger, store: store}
}

// GetSettings returns a copy of the current settings document.
func (s *SettingsService) GetSettings() settings.Settings {
	return s.store.Get()
}

// UpdateSettings applies a partial update to the settings document and
// persists the result.
func (s *SettingsService) UpdateSettings(fn func(*settings.Settings)) (settings.Settings, error) {
	if err := s.store.Update(fn); err != nil {
		return settings.Settings{}, err
	}
	return s.store.Get(), nil
}

// SetDownloadsLocation updates where downloaded releases are stored.
func (s *SettingsService) SetDownloadsLocation(path string) (settings.Settings, error) {
	return s.UpdateSettings(func(st *settings.Settings) { st.DownloadsLocation = path })
}

// SetBackupsLocation updates where app backups are stored.
func (s *SettingsService) SetBackupsLocation(path string) (settings.Settings, error) {
	return s.UpdateSettings(func(st *settings.Settings) { st.BackupsLocation = path })
}

// SetCleanupPolicy updates the post-install download cleanup policy.
func (s *SettingsService) SetCleanupPolicy(policy settings.CleanupPolicy) (settings.Settings, error) {
	return s.UpdateSettings(func(st *settings.Settings) { st.CleanupPolicy = policy })
}

// SetPreferredConnectionType updates the preferred ADB transport.
func (s *SettingsService) SetPreferredConnectionType(kind settings.ConnectionKind) (settings.Settings, error) {
	return s.UpdateSettings(func(st *settings.Settings) { st.PreferredConnectionType = kind })
}

// SetAdbPath overrides the ADB binary path ("" resolves from PATH).
func (s *SettingsService) SetAdbPath(path string) (settings.Settings, error) {
	return s.UpdateSettings(func(st *settings.Settings) { st.AdbPath = path })
}

// SetMdnsAutoConnect toggles automatic mDNS-discovered wireless connect.
func (s *SettingsService) SetMdnsAutoConnect(enabled bool) (settings.Settings, error) {
	return s.UpdateSettings(func(st *settings.Settings) { st.MdnsAutoConnect = enabled })
}

// SetAutoReinstallOnConflict toggles auto-reinstall-on-version-conflict
// behavior during APK installs.
func (s *SettingsService) SetAutoReinstallOnConflict(enabled bool) (settings.Settings, error) {
	return s.UpdateSettings(func(st *settings.Settings) { st.AutoReinstallOnConflict = enabled })
}

// SetPopularityRange updates which popularity window the catalog UI
// surfaces.
func (s *SettingsService) SetPopularityRange(r settings.PopularityRange) (settings.Settings, error) {
	return s.UpdateSettings(func(st *settings.Settings) { st.PopularityRange = r })
}
