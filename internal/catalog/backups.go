package catalog

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"sidedock/internal/core"
)

// BackupEntry is one backup directory: a ".backup" marker file identifies
// it, and its directory name is optionally prefixed with a
// "YYYY-MM-DD_HH-MM-SS_" timestamp that's parsed into TimestampMillis, the
// rest of the name becoming Name.
type BackupEntry struct {
	Path            string
	Name            string
	TimestampMillis int64
	TotalSizeBytes  int64
	HasAPK          bool
	HasPrivateData  bool
	HasSharedData   bool
	HasOBB          bool
}

// BackupsCatalog lists and deletes directories under one backups root, each
// identified by a ".backup" marker file.
type BackupsCatalog struct {
	mu   sync.RWMutex
	root string
}

func NewBackupsCatalog(root string) *BackupsCatalog {
	return &BackupsCatalog{root: root}
}

func (c *BackupsCatalog) SetRoot(root string) {
	c.mu.Lock()
	c.root = root
	c.mu.Unlock()
}

func (c *BackupsCatalog) Root() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.root
}

// ListBackups scans the root for subdirectories carrying a ".backup"
// marker file.
func (c *BackupsCatalog) ListBackups() ([]BackupEntry, error) {
	root := c.Root()
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, core.Wrap(core.KindEnvironment, "list backups",
			os.ErrNotExist)
	}

	markers, err := filepath.Glob(filepath.Join(root, "*", ".backup"))
	if err != nil {
		return nil, core.Wrap(core.KindEnvironment, "glob backups directory", err)
	}

	var entries []BackupEntry
	for _, marker := range markers {
		dir := filepath.Dir(marker)
		entry, err := buildBackupEntry(dir)
		if err != nil {
			continue
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

var backupNamePrefix = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})_(\d{2})-(\d{2})-(\d{2})_(.*)$`)

func buildBackupEntry(dir string) (*BackupEntry, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, err
	}
	name := filepath.Base(dir)

	displayName := name
	var tsMillis int64
	if m := backupNamePrefix.FindStringSubmatch(name); m != nil {
		displayName = m[7]
		if t, ok := parseBackupTimestamp(m); ok {
			tsMillis = t.UnixMilli()
		}
	}
	if tsMillis == 0 {
		tsMillis = info.ModTime().UnixMilli()
	}

	return &BackupEntry{
		Path:            dir,
		Name:            displayName,
		TimestampMillis: tsMillis,
		TotalSizeBytes:  dirSize(dir),
		HasAPK:          hasAnyAPK(dir),
		HasPrivateData:  fileExists(filepath.Join(dir, "data_private")),
		HasSharedData:   fileExists(filepath.Join(dir, "data")),
		HasOBB:          fileExists(filepath.Join(dir, "obb")),
	}, nil
}

func parseBackupTimestamp(m []string) (time.Time, bool) {
	y, err1 := strconv.Atoi(m[1])
	mo, err2 := strconv.Atoi(m[2])
	d, err3 := strconv.Atoi(m[3])
	h, err4 := strconv.Atoi(m[4])
	mi, err5 := strconv.Atoi(m[5])
	s, err6 := strconv.Atoi(m[6])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil {
		return time.Time{}, false
	}
	return time.Date(y, time.Month(mo), d, h, mi, s, 0, time.UTC), true
}

func hasAnyAPK(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".apk") {
			return true
		}
	}
	return false
}

// DeleteBackup removes a backup directory, refusing anything outside the
// configured root or missing the ".backup" marker.
func (c *BackupsCatalog) DeleteBackup(path string) error {
	root := c.Root()
	canonRoot, err := filepath.Abs(root)
	if err != nil {
		return core.Wrap(core.KindEnvironment, "resolve backups root", err)
	}
	canonReq, err := filepath.Abs(path)
	if err != nil {
		return core.Wrap(core.KindEnvironment, "resolve backup path", err)
	}
	rel, err := filepath.Rel(canonRoot, canonReq)
	if err != nil || strings.HasPrefix(rel, "..") {
		return core.Wrap(core.KindConfiguration, "delete backup",
			os.ErrInvalid)
	}

	info, err := os.Stat(canonReq)
	if err != nil || !info.IsDir() {
		return core.Wrap(core.KindConfiguration, "delete backup", os.ErrInvalid)
	}
	if !fileExists(filepath.Join(canonReq, ".backup")) {
		return core.Wrap(core.KindConfiguration, "delete backup", os.ErrInvalid)
	}
	if err := os.RemoveAll(canonReq); err != nil {
		return core.Wrap(core.KindEnvironment, "delete backup directory", err)
	}
	return nil
}
