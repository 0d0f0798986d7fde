// Package archive wraps a 7-Zip binary (7zz/7za/7z) as a subprocess, the
// same exec.CommandContext shell-out idiom internal/adb uses for every ADB
// invocation.
package archive

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"sidedock/internal/core"
)

// candidateNames lists 7-Zip binary names to probe, in preference order,
// per platform.
var candidateNames = map[string][]string{
	"windows": {"7za", "7z", "7zz"},
	"linux":   {"7zzs", "7zz", "7za", "7z"},
	"darwin":  {"7zz", "7za", "7z"},
}

// Client drives one resolved 7-Zip binary.
type Client struct {
	BinaryPath string // explicit override; empty resolves from PATH
}

func (c *Client) resolve() (string, error) {
	if c.BinaryPath != "" {
		return c.BinaryPath, nil
	}
	names := candidateNames[runtime.GOOS]
	if names == nil {
		names = candidateNames["linux"]
	}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", core.Wrap(core.KindEnvironment, "resolve 7-zip binary",
		&binaryNotFoundError{tried: names})
}

type binaryNotFoundError struct{ tried []string }

func (e *binaryNotFoundError) Error() string {
	return "7-Zip binary not found (tried " + strings.Join(e.tried, ", ") + ")"
}

func (c *Client) run(ctx context.Context, args ...string) error {
	bin, err := c.resolve()
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = nil
	if err := cmd.Run(); err != nil {
		return core.Wrap(core.KindSubprocess, "7z "+strings.Join(args, " "), err)
	}
	return nil
}

func (c *Client) runCapture(ctx context.Context, args ...string) (string, error) {
	bin, err := c.resolve()
	if err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = nil
	out, err := cmd.Output()
	if err != nil {
		return "", core.Wrap(core.KindSubprocess, "7z "+strings.Join(args, " "), err)
	}
	return string(out), nil
}

// Decompress extracts archive into destDir. password, if non-empty, is
// passed as -p<password>. wanted, if non-empty, restricts extraction to the
// listed entries. archive may be a plain file or the first segment of a
// multi-volume archive (7-Zip auto-detects the remaining parts).
func (c *Client) Decompress(ctx context.Context, archivePath, destDir, password string, wanted []string) error {
	args := []string{"x", "-y"}
	if password != "" {
		args = append(args, "-p"+password)
	}
	args = append(args, "-o"+destDir, archivePath)
	args = append(args, wanted...)
	return c.run(ctx, args...)
}

// DecompressAllIn extracts every *.7z file found directly under dir into
// dir itself.
func (c *Client) DecompressAllIn(ctx context.Context, dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.7z"))
	if err != nil {
		return core.Wrap(core.KindEnvironment, "glob archives", err)
	}
	for _, m := range matches {
		select {
		case <-ctx.Done():
			return core.Wrap(core.KindCancellation, "decompress all", ctx.Err())
		default:
		}
		if err := c.Decompress(ctx, m, dir, "", nil); err != nil {
			return err
		}
	}
	return nil
}

// ExtractSingle extracts one named entry from archive into destDir,
// flattening its path (7-Zip's `e` mode, as opposed to `x`).
func (c *Client) ExtractSingle(ctx context.Context, archivePath, destDir, entry string) error {
	return c.run(ctx, "e", "-y", "-o"+destDir, archivePath, entry)
}

// CreateZipFromDir zips the contents of srcDir into outDir/name, used by
// donation-archive assembly.
func (c *Client) CreateZipFromDir(ctx context.Context, srcDir, outDir, name string) (string, error) {
	outPath := filepath.Join(outDir, name)
	if err := c.run(ctx, "a", "-tzip", "-y", outPath, filepath.Join(srcDir, "*")); err != nil {
		return "", err
	}
	return outPath, nil
}

// List returns the file (non-directory) entries contained in archive.
func (c *Client) List(ctx context.Context, archivePath string) ([]string, error) {
	out, err := c.runCapture(ctx, "l", "-slt", archivePath)
	if err != nil {
		return nil, err
	}
	return parseSltListing(out), nil
}

// parseSltListing parses `7z l -slt` output into a flat list of file paths,
// filtering out directory ("Folder = +") entries.
func parseSltListing(out string) []string {
	var result []string
	var curPath string
	var haveFolder bool
	var isFolder bool

	flush := func() {
		if curPath != "" && haveFolder && !isFolder {
			result = append(result, curPath)
		}
	}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if p, ok := strings.CutPrefix(line, "Path = "); ok {
			flush()
			curPath = strings.TrimSpace(p)
			haveFolder = false
			continue
		}
		if f, ok := strings.CutPrefix(line, "Folder = "); ok {
			v := strings.TrimSpace(f)
			switch {
			case v == "+":
				isFolder = true
			case v == "-":
				isFolder = false
			case strings.EqualFold(v, "yes") || strings.EqualFold(v, "true"):
				isFolder = true
			default:
				isFolder = false
			}
			haveFolder = true
			continue
		}
	}
	flush()
	return result
}
