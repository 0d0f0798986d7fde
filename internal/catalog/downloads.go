// Package catalog scans the on-disk downloads and backups directories the
// same way internal/downloader tracks its remote one: directory listings
// enriched with each entry's own metadata file, plus the cleanup sweep that
// runs after a successful install.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"sidedock/internal/core"
	"sidedock/internal/downloader"
	"sidedock/internal/settings"
)

// donateTmpDirName is the staging directory the donation flow creates
// alongside real downloads; it's skipped during listing and cleanup since
// it never carries a metadata file of its own.
const donateTmpDirName = ".donate_tmp"

// DownloadEntry is one directory under the downloads root.
type DownloadEntry struct {
	Path            string
	Name            string
	TimestampMillis int64
	TotalSizeBytes  int64
	PackageName     string
	VersionCode     *int64
}

// DownloadsCatalog lists, deletes, and applies the post-install cleanup
// policy to the directories under one downloads root. The root is mutable
// at runtime, following the same settings-subscription pattern the
// downloader's bandwidth limit uses.
type DownloadsCatalog struct {
	mu   sync.RWMutex
	root string
}

func NewDownloadsCatalog(root string) *DownloadsCatalog {
	return &DownloadsCatalog{root: root}
}

func (c *DownloadsCatalog) SetRoot(root string) {
	c.mu.Lock()
	c.root = root
	c.mu.Unlock()
}

func (c *DownloadsCatalog) Root() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.root
}

// ListDownloads scans the root directory, skipping the donation staging
// directory, and builds one DownloadEntry per subdirectory.
func (c *DownloadsCatalog) ListDownloads() ([]DownloadEntry, error) {
	root := c.Root()
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, core.Wrap(core.KindEnvironment, "read downloads directory", err)
	}

	var entries []DownloadEntry
	for _, de := range dirEntries {
		if strings.EqualFold(de.Name(), donateTmpDirName) {
			continue
		}
		if !de.IsDir() {
			continue
		}
		entry, err := buildDownloadEntry(filepath.Join(root, de.Name()))
		if err != nil {
			continue
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

func buildDownloadEntry(dir string) (*DownloadEntry, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, err
	}
	name := filepath.Base(dir)
	if name == "" {
		return nil, nil
	}

	downloadedAt, packageName, versionCode, hasVersionCode := downloader.ReadDownloadMetadata(dir)
	tsMillis := int64(0)
	if !downloadedAt.IsZero() {
		tsMillis = downloadedAt.UnixMilli()
	} else {
		tsMillis = info.ModTime().UnixMilli()
	}

	var versionCodePtr *int64
	if hasVersionCode {
		versionCodePtr = &versionCode
	}

	return &DownloadEntry{
		Path:            dir,
		Name:            name,
		TimestampMillis: tsMillis,
		TotalSizeBytes:  dirSize(dir),
		PackageName:     packageName,
		VersionCode:     versionCodePtr,
	}, nil
}

// dirSize recursively sums file sizes under dir, skipping entries it fails
// to stat rather than failing the whole walk.
func dirSize(dir string) int64 {
	var total int64
	stack := []string{dir}
	for len(stack) > 0 {
		path := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(path)
		if err != nil {
			continue
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				continue
			}
			if info.IsDir() {
				stack = append(stack, filepath.Join(path, e.Name()))
			} else {
				total += info.Size()
			}
		}
	}
	return total
}

// DeleteDownload removes one download directory, refusing to delete
// anything outside the configured root.
func (c *DownloadsCatalog) DeleteDownload(path string) error {
	root := c.Root()
	canonRoot, err := filepath.Abs(root)
	if err != nil {
		return core.Wrap(core.KindEnvironment, "resolve downloads root", err)
	}
	canonReq, err := filepath.Abs(path)
	if err != nil {
		return core.Wrap(core.KindEnvironment, "resolve download path", err)
	}
	rel, err := filepath.Rel(canonRoot, canonReq)
	if err != nil || strings.HasPrefix(rel, "..") {
		return core.Wrap(core.KindConfiguration, "delete download",
			fmt.Errorf("requested path is outside the downloads directory"))
	}

	info, err := os.Stat(canonReq)
	if err != nil {
		return core.Wrap(core.KindEnvironment, "stat download path", err)
	}
	if !info.IsDir() {
		return core.Wrap(core.KindConfiguration, "delete download",
			fmt.Errorf("download path is not a directory"))
	}
	if err := os.RemoveAll(canonReq); err != nil {
		return core.Wrap(core.KindEnvironment, "delete download directory", err)
	}
	return nil
}

// DeleteAllDownloads removes every directory under the root that carries a
// metadata.json or release.json, leaving anything else (including the
// donation staging directory) untouched. Returns counts of removed and
// skipped directories.
func (c *DownloadsCatalog) DeleteAllDownloads() (removed, skipped int, err error) {
	root := c.Root()
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return 0, 0, core.Wrap(core.KindEnvironment, "read downloads directory", err)
	}

	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		dir := filepath.Join(root, de.Name())
		hasMeta := fileExists(filepath.Join(dir, "metadata.json")) || fileExists(filepath.Join(dir, "release.json"))
		if !hasMeta {
			skipped++
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			skipped++
			continue
		}
		removed++
	}
	return removed, skipped, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var versionedNamePattern = regexp.MustCompile(`^(.+) v\d+\+.+$`)

// ApplyCleanupPolicy runs the configured post-install cleanup against the
// just-installed release: KeepAllVersions is a no-op, DeleteAfterInstall
// removes the freshly downloaded directory, and KeepOneVersion/
// KeepTwoVersions group sibling releases by their base name (the
// "{name} vX+Y" naming convention) and keep only the newest N-1 alongside
// the one just installed. Releases whose name doesn't follow that
// convention are left alone.
func (c *DownloadsCatalog) ApplyCleanupPolicy(policy settings.CleanupPolicy, installedFullName, installedPath string) error {
	switch policy {
	case settings.CleanupKeepAllVersions:
		return nil

	case settings.CleanupDeleteAfterInstall:
		if !fileExists(installedPath) {
			return nil
		}
		return c.DeleteDownload(installedPath)

	case settings.CleanupKeepOneVersion, settings.CleanupKeepTwoVersions:
		keepTotal := 1
		if policy == settings.CleanupKeepTwoVersions {
			keepTotal = 2
		}
		return c.applyVersionedCleanup(installedFullName, keepTotal)

	default:
		return nil
	}
}

func (c *DownloadsCatalog) applyVersionedCleanup(installedFullName string, keepTotal int) error {
	captures := versionedNamePattern.FindStringSubmatch(installedFullName)
	if captures == nil {
		return nil
	}
	baseName := strings.TrimSpace(captures[1])
	if baseName == "" {
		return nil
	}

	entries, err := c.ListDownloads()
	if err != nil {
		return err
	}

	var matching []DownloadEntry
	for _, e := range entries {
		caps := versionedNamePattern.FindStringSubmatch(e.Name)
		if caps == nil {
			continue
		}
		if strings.TrimSpace(caps[1]) == baseName {
			matching = append(matching, e)
		}
	}
	if len(matching) == 0 {
		return nil
	}

	sort.Slice(matching, func(i, j int) bool { return matching[i].TimestampMillis > matching[j].TimestampMillis })

	keep := map[string]bool{installedFullName: true}
	for _, e := range matching {
		if len(keep) >= keepTotal {
			break
		}
		keep[e.Name] = true
	}

	for _, e := range matching {
		if keep[e.Name] {
			continue
		}
		if !fileExists(e.Path) {
			continue
		}
		_ = c.DeleteDownload(e.Path)
	}
	return nil
}
