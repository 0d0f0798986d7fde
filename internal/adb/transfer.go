package adb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sidedock/internal/core"
)

// ResolveDestination (local side, used by Pull) and resolveRemoteDestination
// (device side, used by Push) implement the destination-resolution contract
// that mirrors adb push/pull semantics:
//
//	destExists+isDir   -> dest/<name>
//	destExists+isFile  -> overwrite dest (error if source is a dir)
//	!destExists, parent exists -> dest as-is
//	!destExists, parent missing -> error
//
// statLocal stats a local filesystem path (the pull-side destination).
func statLocal(path string) (exists, isDir bool) {
	info, err := os.Stat(path)
	if err != nil {
		return false, false
	}
	return true, info.IsDir()
}

// ResolveDestination computes the effective local destination path for a
// pull of `source` (named `sourceName`, a file or directory) into `dest`.
func ResolveDestination(sourceName string, sourceIsDir bool, dest string) (string, error) {
	exists, isDir := statLocal(dest)
	switch {
	case exists && isDir:
		return filepath.Join(dest, sourceName), nil
	case exists && !isDir:
		if sourceIsDir {
			return "", core.Wrap(core.KindSemantic, "resolve destination",
				fmt.Errorf("cannot pull directory %q onto existing file %q", sourceName, dest))
		}
		return dest, nil
	default:
		parent := filepath.Dir(dest)
		if pExists, _ := statLocal(parent); !pExists {
			return "", core.Wrap(core.KindSemantic, "resolve destination",
				fmt.Errorf("parent directory of %q does not exist", dest))
		}
		return dest, nil
	}
}

// Pull copies a file or directory from the device to a local destination,
// resolving dest per ResolveDestination. Directory pulls create the
// destination first (mkdir -p equivalent) before delegating to `adb pull`.
func (d *Device) Pull(ctx context.Context, r *Runner, remotePath, dest string, isDir bool) (string, error) {
	name := filepath.Base(remotePath)
	resolved, err := ResolveDestination(name, isDir, dest)
	if err != nil {
		return "", err
	}
	if isDir {
		if err := os.MkdirAll(resolved, 0o755); err != nil {
			return "", fmt.Errorf("create pull destination: %w", err)
		}
	} else if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create pull destination parent: %w", err)
	}

	if _, err := r.Run(ctx, d.Serial, "pull", remotePath, resolved); err != nil {
		return "", core.Wrap(core.KindSubprocess, "adb pull", err)
	}
	return resolved, nil
}

// Push copies a local file or directory onto the device, resolving the
// remote destination with the same table (evaluated against the device's
// filesystem instead of the local one, via `[ -e ]`/`[ -d ]` shell probes).
func (d *Device) Push(ctx context.Context, r *Runner, localPath, remoteDest string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat local source: %w", err)
	}

	resolved, err := d.resolveRemoteDestination(ctx, r, filepath.Base(localPath), info.IsDir(), remoteDest)
	if err != nil {
		return err
	}
	if _, err := r.Run(ctx, d.Serial, "push", localPath, resolved); err != nil {
		return core.Wrap(core.KindSubprocess, "adb push", err)
	}
	return nil
}

func (d *Device) resolveRemoteDestination(ctx context.Context, r *Runner, name string, sourceIsDir bool, dest string) (string, error) {
	existsOut, _ := r.Shell(ctx, d.Serial, fmt.Sprintf("[ -e %q ] && echo e || echo n", dest))
	isDirOut, _ := r.Shell(ctx, d.Serial, fmt.Sprintf("[ -d %q ] && echo d || echo f", dest))

	exists := strings.TrimSpace(existsOut) == "e"
	isDir := strings.TrimSpace(isDirOut) == "d"

	switch {
	case exists && isDir:
		return dest + "/" + name, nil
	case exists:
		if sourceIsDir {
			return "", core.Wrap(core.KindSemantic, "resolve remote destination",
				fmt.Errorf("cannot push directory %q onto existing file %q", name, dest))
		}
		return dest, nil
	default:
		parent := filepath.Dir(dest)
		parentExistsOut, _ := r.Shell(ctx, d.Serial, fmt.Sprintf("[ -d %q ] && echo e || echo n", parent))
		if strings.TrimSpace(parentExistsOut) != "e" {
			return "", core.Wrap(core.KindSemantic, "resolve remote destination",
				fmt.Errorf("parent of remote path %q does not exist", dest))
		}
		return dest, nil
	}
}
