// Package settings loads and persists the user-facing configuration files
// recognized by the core: the general Settings document and the downloader
// configuration. Both are plain JSON, loaded/saved with json.MarshalIndent
// the same way app/services/config.go persists its (much smaller) Config.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ConnectionKind is the preferred ADB transport.
type ConnectionKind string

const (
	ConnectionUSB      ConnectionKind = "Usb"
	ConnectionWireless ConnectionKind = "Wireless"
)

// CleanupPolicy controls what happens to a download directory after a
// successful install.
type CleanupPolicy string

const (
	CleanupDeleteAfterInstall CleanupPolicy = "DeleteAfterInstall"
	CleanupKeepOneVersion     CleanupPolicy = "KeepOneVersion"
	CleanupKeepTwoVersions    CleanupPolicy = "KeepTwoVersions"
	CleanupKeepAllVersions    CleanupPolicy = "KeepAllVersions"
)

// PopularityRange selects which popularity window is surfaced to the UI.
type PopularityRange string

const (
	PopularityDay1  PopularityRange = "Day1"
	PopularityDay7  PopularityRange = "Day7"
	PopularityDay30 PopularityRange = "Day30"
)

// Settings is the recognized-fields document described by the settings
// schema. All fields are optional on disk; Load fills in defaults.
type Settings struct {
	InstallationID          string          `json:"installation_id"`
	PreferredConnectionType ConnectionKind  `json:"preferred_connection_type"`
	DownloadsLocation       string          `json:"downloads_location"`
	BackupsLocation         string          `json:"backups_location"`
	AdbPath                 string          `json:"adb_path"`
	BandwidthLimit          string          `json:"bandwidth_limit"`
	CleanupPolicy           CleanupPolicy   `json:"cleanup_policy"`
	WriteLegacyReleaseJSON  bool            `json:"write_legacy_release_json"`
	MdnsAutoConnect         bool            `json:"mdns_auto_connect"`
	AutoReinstallOnConflict bool            `json:"auto_reinstall_on_conflict"`
	PopularityRange         PopularityRange `json:"popularity_range"`
}

// DefaultSettings returns the schema's documented defaults. The downloads
// and backups location defaults are folders under the user's home directory.
func DefaultSettings() Settings {
	home, _ := os.UserHomeDir()
	downloads := filepath.Join(home, "Downloads", "sidedock")
	backups := filepath.Join(home, "Documents", "sidedock_backups")

	return Settings{
		InstallationID:          uuid.NewString(),
		PreferredConnectionType: ConnectionUSB,
		DownloadsLocation:       downloads,
		BackupsLocation:         backups,
		AdbPath:                 "",
		BandwidthLimit:          "",
		CleanupPolicy:           CleanupDeleteAfterInstall,
		WriteLegacyReleaseJSON:  false,
		MdnsAutoConnect:         true,
		AutoReinstallOnConflict: true,
		PopularityRange:         PopularityDay7,
	}
}

// Store persists Settings to a JSON file, serializing reads/writes the same
// way app/services/config.go guards its single Config value.
type Store struct {
	mu   sync.Mutex
	path string
	cur  Settings
}

// NewStore loads settings from path, creating the file with defaults if it
// doesn't exist yet.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		s.cur = DefaultSettings()
		if err := s.Save(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	merged := DefaultSettings()
	if err := json.Unmarshal(data, &merged); err != nil {
		return fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	if merged.InstallationID == "" {
		merged.InstallationID = uuid.NewString()
	}
	s.cur = merged
	return nil
}

func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(s.cur, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Update applies fn to the current settings and persists the result.
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	fn(&s.cur)
	cur := s.cur
	err := s.saveLocked()
	s.mu.Unlock()
	_ = cur
	return err
}
