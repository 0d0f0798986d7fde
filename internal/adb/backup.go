package adb

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"sidedock/internal/core"
)

// BackupParts selects which subtrees a backup operation pulls.
type BackupParts struct {
	APK     bool
	Data    bool
	OBB     bool
	Suffix  string
	// RequirePrivateData makes a `run-as` rejection during the private-data
	// pull a hard failure instead of a silently skipped subtree.
	RequirePrivateData bool
}

// Install pushes and installs an APK, auto-reinstalling on a version
// conflict when autoReinstall is enabled and this call has not already
// performed a reinstall (did_reinstall guards against infinite recursion).
// knownPackage, when non-empty, is used as the APK's package name instead
// of resolving it from the file; pass "" when the caller doesn't already
// know it (e.g. installing an arbitrary local APK picked by the user).
func (d *Device) Install(ctx context.Context, r *Runner, apkPath, knownPackage string, autoReinstall, didReinstall bool, progress func(float64)) error {
	out, stderr, err := r.runBuffered(ctx, d.Serial, "install", "-r", apkPath)
	if err == nil {
		if progress != nil {
			progress(1.0)
		}
		return nil
	}

	combined := out + "\n" + stderr
	conflict := strings.Contains(combined, "INSTALL_FAILED_VERSION_DOWNGRADE") ||
		strings.Contains(combined, "INSTALL_FAILED_UPDATE_INCOMPATIBLE")

	if !conflict || !autoReinstall || didReinstall {
		return core.Wrap(core.KindProtocol, "install", fmt.Errorf("adb install failed: %s", strings.TrimSpace(combined)))
	}

	pkg, perr := resolvePackageName(ctx, apkPath, knownPackage)
	if perr != nil {
		return core.Wrap(core.KindProtocol, "install", perr)
	}

	backupDir, berr := d.Backup(ctx, r, "/tmp", pkg, BackupParts{
		Data:               true,
		RequirePrivateData: true,
		Suffix:             "reinstall",
	})
	if berr != nil {
		return core.Wrap(core.KindProtocol, "auto-reinstall backup", berr)
	}

	if uerr := d.Uninstall(ctx, r, pkg); uerr != nil {
		return core.Wrap(core.KindProtocol, "auto-reinstall uninstall", uerr)
	}

	if ierr := d.Install(ctx, r, apkPath, pkg, autoReinstall, true, progress); ierr != nil {
		return ierr
	}

	return d.Restore(ctx, r, backupDir)
}

// Uninstall removes pkg, handling the two documented special-case exit
// reasons.
func (d *Device) Uninstall(ctx context.Context, r *Runner, pkg string) error {
	_, stderr, err := r.runBuffered(ctx, d.Serial, "uninstall", pkg)
	if err == nil {
		return nil
	}

	if strings.Contains(stderr, "DELETE_FAILED_INTERNAL_ERROR") {
		listOut, _ := r.Shell(ctx, d.Serial, fmt.Sprintf("pm list packages | grep -w ^package:%s$", regexp.QuoteMeta(pkg)))
		if strings.TrimSpace(listOut) == "" {
			return core.Wrap(core.KindSemantic, "uninstall", fmt.Errorf("package %s is not installed", pkg))
		}
	}

	if strings.Contains(stderr, "DELETE_FAILED_DEVICE_POLICY_MANAGER") {
		if _, derr := r.ShellChecked(ctx, d.Serial, "pm disable-user "+pkg); derr == nil {
			_, _, retryErr := r.runBuffered(ctx, d.Serial, "uninstall", pkg)
			if retryErr == nil {
				return nil
			}
		}
	}

	return core.Wrap(core.KindProtocol, "uninstall", fmt.Errorf("adb uninstall failed: %s", stderr))
}

var aaptPackageLineRe = regexp.MustCompile(`package:\s*name='([^']+)'`)

// resolvePackageName returns an APK's package name. When known is non-empty
// it's trusted and returned as-is (the common case: callers driving a
// catalog download or an already-cataloged install already have the true
// package name). Otherwise it's read out of the APK's own manifest via
// `aapt dump badging`, the same tool real device-management tooling uses
// to inspect an APK without installing it first.
func resolvePackageName(ctx context.Context, apkPath, known string) (string, error) {
	if known != "" {
		return known, nil
	}

	aaptPath, err := exec.LookPath("aapt")
	if err != nil {
		aaptPath, err = exec.LookPath("aapt2")
	}
	if err != nil {
		return "", fmt.Errorf("could not determine package name for %q: aapt/aapt2 not found on PATH", apkPath)
	}

	out, err := exec.CommandContext(ctx, aaptPath, "dump", "badging", apkPath).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("aapt dump badging %q: %w (output: %s)", apkPath, err, strings.TrimSpace(string(out)))
	}

	m := aaptPackageLineRe.FindSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("could not find a package name in aapt output for %q", apkPath)
	}
	pkg := string(m[1])
	if !ValidPackageName(pkg) {
		return "", fmt.Errorf("aapt reported an invalid package name %q for %q", pkg, apkPath)
	}
	return pkg, nil
}

const backupTmpRemote = "/sdcard/backup_tmp"

// Backup pulls the requested subtrees of pkg into a freshly created backup
// directory under root, finalizing with a `.backup` marker. Returns
// "nothing" sentinel removal semantics: if nothing was backed up, the
// directory is removed and an empty path with no error is returned.
func (d *Device) Backup(ctx context.Context, r *Runner, root, pkg string, parts BackupParts) (string, error) {
	display := pkg
	dirName := fmt.Sprintf("%s_%s", time.Now().Format("2006-01-02_15-04-05"), sanitizeName(display))
	if parts.Suffix != "" {
		dirName += "_" + sanitizeName(parts.Suffix)
	}
	backupDir := filepath.Join(root, dirName)

	cleanup := func() {
		r.Shell(ctx, d.Serial, "rm -rf "+backupTmpRemote)
		os.RemoveAll(backupDir)
	}

	select {
	case <-ctx.Done():
		return "", core.Wrap(core.KindCancellation, "backup", ctx.Err())
	default:
	}

	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	wroteSomething := false

	if parts.Data {
		ok, err := d.backupData(ctx, r, pkg, backupDir, parts.RequirePrivateData)
		if err != nil {
			cleanup()
			return "", err
		}
		wroteSomething = wroteSomething || ok
	}

	if parts.APK {
		ok, err := d.backupAPK(ctx, r, pkg, backupDir)
		if err != nil {
			cleanup()
			return "", err
		}
		wroteSomething = wroteSomething || ok
	}

	if parts.OBB {
		ok, err := d.backupOBB(ctx, r, pkg, backupDir)
		if err != nil {
			cleanup()
			return "", err
		}
		wroteSomething = wroteSomething || ok
	}

	select {
	case <-ctx.Done():
		cleanup()
		return "", core.Wrap(core.KindCancellation, "backup", ctx.Err())
	default:
	}

	if !wroteSomething {
		os.RemoveAll(backupDir)
		return "", nil
	}

	marker := filepath.Join(backupDir, ".backup")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return "", fmt.Errorf("write backup marker: %w", err)
	}
	return backupDir, nil
}

func (d *Device) backupData(ctx context.Context, r *Runner, pkg, backupDir string, requirePrivate bool) (bool, error) {
	defer r.Shell(ctx, d.Serial, "rm -rf "+backupTmpRemote)

	remoteTmp := fmt.Sprintf("%s/%s", backupTmpRemote, pkg)
	if _, err := r.ShellChecked(ctx, d.Serial, "mkdir -p "+remoteTmp); err != nil {
		return false, err
	}

	pipeCmd := fmt.Sprintf("run-as %s tar -cf - -C /data/data/%s . | tar -xvf - -C %s/", pkg, pkg, remoteTmp)
	out, err := r.Shell(ctx, d.Serial, pipeCmd)
	if requirePrivate && strings.Contains(out, "run-as:") {
		return false, core.Wrap(core.KindSemantic, "backup private data",
			fmt.Errorf("run-as rejected package %s (not debuggable)", pkg))
	}
	if err != nil && requirePrivate {
		return false, core.Wrap(core.KindProtocol, "backup private data", err)
	}

	privateDst := filepath.Join(backupDir, "data_private")
	if _, err := d.Pull(ctx, r, remoteTmp, privateDst, true); err == nil {
		os.RemoveAll(filepath.Join(privateDst, pkg, "cache"))
		os.RemoveAll(filepath.Join(privateDst, pkg, "code_cache"))
		removeIfEmpty(privateDst)
	}

	sharedRemote := fmt.Sprintf("/sdcard/Android/data/%s/", pkg)
	sharedDst := filepath.Join(backupDir, "data")
	wrote := false
	if _, err := d.Pull(ctx, r, sharedRemote, sharedDst, true); err == nil {
		os.RemoveAll(filepath.Join(sharedDst, pkg, "cache"))
		if !removeIfEmpty(sharedDst) {
			wrote = true
		}
	}
	if !removeIfEmpty(privateDst) {
		wrote = true
	}
	return wrote, nil
}

func (d *Device) backupAPK(ctx context.Context, r *Runner, pkg, backupDir string) (bool, error) {
	out, err := r.Shell(ctx, d.Serial, "pm path "+pkg)
	if err != nil {
		return false, nil
	}
	remotePath := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "package:"))
	if remotePath == "" {
		return false, nil
	}
	dst := filepath.Join(backupDir, pkg+".apk")
	if _, err := r.Run(ctx, d.Serial, "pull", remotePath, dst); err != nil {
		return false, core.Wrap(core.KindSubprocess, "pull apk", err)
	}
	return true, nil
}

func (d *Device) backupOBB(ctx context.Context, r *Runner, pkg, backupDir string) (bool, error) {
	remote := fmt.Sprintf("/sdcard/Android/obb/%s/", pkg)
	dst := filepath.Join(backupDir, "obb")
	if _, err := d.Pull(ctx, r, remote, dst, true); err != nil {
		return false, nil // absent OBB tree is not an error
	}
	return !removeIfEmpty(dst), nil
}

// removeIfEmpty removes dir if it contains no regular files anywhere in its
// subtree, returning whether it was removed.
func removeIfEmpty(dir string) bool {
	empty := true
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil {
			return nil
		}
		if !info.IsDir() {
			empty = false
		}
		return nil
	})
	if empty {
		os.RemoveAll(dir)
	}
	return empty
}

// Restore installs/restores a backup directory back onto the device.
func (d *Device) Restore(ctx context.Context, r *Runner, backupDir string) error {
	if info, err := os.Stat(backupDir); err != nil || !info.IsDir() {
		return core.Wrap(core.KindSemantic, "restore", fmt.Errorf("%q is not a directory", backupDir))
	}
	if _, err := os.Stat(filepath.Join(backupDir, ".backup")); err != nil {
		return core.Wrap(core.KindSemantic, "restore", fmt.Errorf("%q is missing its .backup marker", backupDir))
	}

	apks, _ := filepath.Glob(filepath.Join(backupDir, "*.apk"))
	var pkg string
	if len(apks) == 1 {
		if _, _, err := r.runBuffered(ctx, d.Serial, "install", "-r", "-g", apks[0]); err != nil {
			return core.Wrap(core.KindProtocol, "restore install", err)
		}
		// backupAPK always names the file <package>.apk, so the base name
		// is trustworthy here without needing to invoke aapt.
		base := strings.TrimSuffix(filepath.Base(apks[0]), filepath.Ext(apks[0]))
		var perr error
		pkg, perr = resolvePackageName(ctx, apks[0], base)
		if perr != nil {
			return core.Wrap(core.KindProtocol, "restore", perr)
		}
	} else {
		var err error
		pkg, err = inferPackageFromSubdir(backupDir)
		if err != nil {
			return err
		}
		if out, _ := r.Shell(ctx, d.Serial, "pm path "+pkg); strings.TrimSpace(out) == "" {
			return core.Wrap(core.KindSemantic, "restore", fmt.Errorf("package %s is not installed and no apk is present to install", pkg))
		}
	}

	if sub := singleSubdir(filepath.Join(backupDir, "obb")); sub != "" {
		if err := d.Push(ctx, r, sub, "/sdcard/Android/obb/"); err != nil {
			return core.Wrap(core.KindSubprocess, "restore obb", err)
		}
	}

	if sub := singleSubdir(filepath.Join(backupDir, "data")); sub != "" {
		if err := d.Push(ctx, r, sub, "/sdcard/Android/data/"); err != nil {
			return core.Wrap(core.KindSubprocess, "restore shared data", err)
		}
	}

	if sub := singleSubdir(filepath.Join(backupDir, "data_private")); sub != "" {
		if err := d.restorePrivateData(ctx, r, pkg, sub); err != nil {
			return err
		}
	}

	return nil
}

func (d *Device) restorePrivateData(ctx context.Context, r *Runner, pkg, localDir string) error {
	remoteTmp := fmt.Sprintf("/sdcard/restore_tmp/%s", pkg)
	defer r.Shell(ctx, d.Serial, "rm -rf /sdcard/restore_tmp")

	if err := d.Push(ctx, r, localDir, remoteTmp); err != nil {
		return core.Wrap(core.KindSubprocess, "restore private data push", err)
	}
	cmd := fmt.Sprintf("tar -cf - -C %s/ . | run-as %s tar -xvf - -C /data/data/%s/", remoteTmp, pkg, pkg)
	if _, err := r.Shell(ctx, d.Serial, cmd); err != nil {
		return core.Wrap(core.KindProtocol, "restore private data", err)
	}
	return nil
}

func inferPackageFromSubdir(backupDir string) (string, error) {
	for _, sub := range []string{"data_private", "data", "obb"} {
		if name := singleSubdirName(filepath.Join(backupDir, sub)); name != "" {
			if ValidPackageName(name) {
				return name, nil
			}
		}
	}
	return "", core.Wrap(core.KindSemantic, "infer package", fmt.Errorf("could not infer a package name from %q", backupDir))
}

func singleSubdirName(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 1 {
		return dirs[0]
	}
	return ""
}

func singleSubdir(dir string) string {
	name := singleSubdirName(dir)
	if name == "" {
		return ""
	}
	return filepath.Join(dir, name)
}

// DonatePull assembles a donation-ready pull of an installed app's APK and
// OBB tree into destRoot/<pkg>/.
func (d *Device) DonatePull(ctx context.Context, r *Runner, pkg, destRoot string) (string, error) {
	destDir := filepath.Join(destRoot, pkg)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}

	out, err := r.Shell(ctx, d.Serial, "pm path "+pkg)
	if err != nil {
		return "", core.Wrap(core.KindSemantic, "donate pull", fmt.Errorf("package %s not found: %w", pkg, err))
	}
	remoteAPK := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "package:"))
	localAPK := filepath.Join(destDir, pkg+".apk")
	if _, err := r.Run(ctx, d.Serial, "pull", remoteAPK, localAPK); err != nil {
		return "", core.Wrap(core.KindSubprocess, "donate pull apk", err)
	}

	obbRemote := fmt.Sprintf("/sdcard/Android/obb/%s/", pkg)
	d.Pull(ctx, r, obbRemote, filepath.Join(destDir, "obb"), true)

	return destDir, nil
}

var sanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitizeName(name string) string {
	return sanitizeRe.ReplaceAllString(strings.TrimSpace(name), "_")
}
