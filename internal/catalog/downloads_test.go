package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sidedock/internal/settings"
)

func writeMetadata(t *testing.T, dir, fullName string, downloadedAt time.Time) {
	t.Helper()
	data := `{"formatVersion":1,"fullName":"` + fullName + `","downloadedAt":"` + downloadedAt.Format(time.RFC3339) + `"}`
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(data), 0o644); err != nil {
		t.Fatalf("write metadata.json: %v", err)
	}
}

func mkDownload(t *testing.T, root, name string, downloadedAt time.Time) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeMetadata(t, dir, name, downloadedAt)
	if err := os.WriteFile(filepath.Join(dir, "payload.bin"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	return dir
}

func TestListDownloadsSkipsDonateTmpDir(t *testing.T) {
	root := t.TempDir()
	mkDownload(t, root, "Beat Saber v1.0", time.Now())
	if err := os.MkdirAll(filepath.Join(root, donateTmpDirName), 0o755); err != nil {
		t.Fatalf("mkdir donate tmp: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, strings.ToUpper(donateTmpDirName)), 0o755); err != nil {
		t.Fatalf("mkdir donate tmp upper: %v", err)
	}

	c := NewDownloadsCatalog(root)
	entries, err := c.ListDownloads()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "Beat Saber v1.0" {
		t.Fatalf("expected only the real download, got %+v", entries)
	}
}

func TestDeleteDownloadRejectsPathOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	dir := mkDownload(t, outside, "Other App v1.0", time.Now())

	c := NewDownloadsCatalog(root)
	if err := c.DeleteDownload(dir); err == nil {
		t.Fatalf("expected an error deleting a path outside the downloads root")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected the outside directory to remain: %v", err)
	}
}

func TestDeleteDownloadRemovesDirectoryInsideRoot(t *testing.T) {
	root := t.TempDir()
	dir := mkDownload(t, root, "Beat Saber v1.0", time.Now())

	c := NewDownloadsCatalog(root)
	if err := c.DeleteDownload(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected directory to be removed")
	}
}

func TestDeleteAllDownloadsOnlyRemovesDirsWithMetadata(t *testing.T) {
	root := t.TempDir()
	mkDownload(t, root, "Beat Saber v1.0", time.Now())
	mkDownload(t, root, "Pistol Whip v2.0", time.Now())

	bare := filepath.Join(root, "not_a_release")
	if err := os.MkdirAll(bare, 0o755); err != nil {
		t.Fatalf("mkdir bare: %v", err)
	}

	c := NewDownloadsCatalog(root)
	removed, skipped, err := c.DeleteAllDownloads()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 2 || skipped != 1 {
		t.Fatalf("expected 2 removed, 1 skipped, got removed=%d skipped=%d", removed, skipped)
	}
	if _, err := os.Stat(bare); err != nil {
		t.Fatalf("expected bare directory without metadata to survive: %v", err)
	}
}

func TestApplyCleanupPolicyKeepAllVersionsIsNoop(t *testing.T) {
	root := t.TempDir()
	dir := mkDownload(t, root, "Beat Saber v1.0", time.Now())

	c := NewDownloadsCatalog(root)
	if err := c.ApplyCleanupPolicy(settings.CleanupKeepAllVersions, "Beat Saber v1.0", dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected directory to survive under KeepAllVersions: %v", err)
	}
}

func TestApplyCleanupPolicyDeleteAfterInstallRemovesInstalled(t *testing.T) {
	root := t.TempDir()
	dir := mkDownload(t, root, "Beat Saber v1.0", time.Now())

	c := NewDownloadsCatalog(root)
	if err := c.ApplyCleanupPolicy(settings.CleanupDeleteAfterInstall, "Beat Saber v1.0", dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected the just-installed directory to be removed")
	}
}

func TestApplyCleanupPolicyKeepOneVersionPrunesOlderSiblings(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	oldDir := mkDownload(t, root, "Beat Saber v1.0+abc", now.Add(-time.Hour))
	newDir := mkDownload(t, root, "Beat Saber v2.0+def", now)

	c := NewDownloadsCatalog(root)
	if err := c.ApplyCleanupPolicy(settings.CleanupKeepOneVersion, "Beat Saber v2.0+def", newDir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Fatalf("expected the older sibling release to be pruned")
	}
	if _, err := os.Stat(newDir); err != nil {
		t.Fatalf("expected the just-installed release to survive: %v", err)
	}
}

func TestApplyCleanupPolicyKeepTwoVersionsKeepsNewestPair(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	oldest := mkDownload(t, root, "Beat Saber v1.0+aaa", now.Add(-2*time.Hour))
	middle := mkDownload(t, root, "Beat Saber v2.0+bbb", now.Add(-time.Hour))
	newest := mkDownload(t, root, "Beat Saber v3.0+ccc", now)

	c := NewDownloadsCatalog(root)
	if err := c.ApplyCleanupPolicy(settings.CleanupKeepTwoVersions, "Beat Saber v3.0+ccc", newest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Fatalf("expected the oldest sibling to be pruned")
	}
	if _, err := os.Stat(middle); err != nil {
		t.Fatalf("expected the second-newest sibling to survive: %v", err)
	}
	if _, err := os.Stat(newest); err != nil {
		t.Fatalf("expected the just-installed release to survive: %v", err)
	}
}

func TestApplyCleanupPolicySkipsNonVersionedNames(t *testing.T) {
	root := t.TempDir()
	dir := mkDownload(t, root, "Standalone Tool", time.Now())

	c := NewDownloadsCatalog(root)
	if err := c.ApplyCleanupPolicy(settings.CleanupKeepOneVersion, "Standalone Tool", dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected a non-versioned name to be left alone: %v", err)
	}
}
