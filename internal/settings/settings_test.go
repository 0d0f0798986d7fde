package settings

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestNewStoreCreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	got := s.Get()
	if got.InstallationID == "" {
		t.Fatal("expected a generated installation id")
	}
	if got.CleanupPolicy != CleanupDeleteAfterInstall {
		t.Fatalf("CleanupPolicy = %v, want DeleteAfterInstall", got.CleanupPolicy)
	}
	if got.PreferredConnectionType != ConnectionUSB {
		t.Fatalf("PreferredConnectionType = %v, want Usb", got.PreferredConnectionType)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Update(func(st *Settings) { st.BandwidthLimit = "5M" }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	s2, err := NewStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if s2.Get().BandwidthLimit != "5M" {
		t.Fatalf("BandwidthLimit = %q, want 5M", s2.Get().BandwidthLimit)
	}
}

func TestResolveRclonePathString(t *testing.T) {
	cfg := DownloaderConfig{RclonePath: json.RawMessage(`"/usr/bin/rclone"`)}
	got, err := cfg.ResolveRclonePath()
	if err != nil {
		t.Fatalf("ResolveRclonePath: %v", err)
	}
	if got != "/usr/bin/rclone" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveRclonePathMap(t *testing.T) {
	cfg := DownloaderConfig{RclonePath: json.RawMessage(`{"linux": "/opt/rclone", "windows-amd64": "C:\\rclone.exe"}`)}
	got, err := cfg.ResolveRclonePath()
	if err != nil {
		t.Fatalf("ResolveRclonePath: %v", err)
	}
	if got == "" {
		t.Fatal("expected a resolved path")
	}
}

func TestResolveRclonePathMissingKeyErrors(t *testing.T) {
	cfg := DownloaderConfig{RclonePath: json.RawMessage(`{"plan9": "/bin/rclone"}`)}
	if _, err := cfg.ResolveRclonePath(); err == nil {
		t.Fatal("expected an error for an unresolvable platform map")
	}
}
