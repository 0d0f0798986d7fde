// Package rclone wraps the rclone binary as a subprocess, the same
// exec.CommandContext idiom used throughout internal/adb, adapted for a
// long-running transfer whose stderr is a stream of JSON stat lines rather
// than one-shot output.
package rclone

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"sidedock/internal/core"
)

const (
	connectionTimeout = "5s"
	ioIdleTimeout     = "30s"
	statsInterval     = "0.5s"
)

// SizeOutput is the result of `rclone size --json`.
type SizeOutput struct {
	Bytes int64 `json:"bytes"`
}

// TransferStats is one `--use-json-log` stats line's payload.
type TransferStats struct {
	Bytes      int64   `json:"bytes"`
	TotalBytes int64   `json:"totalBytes"`
	ETA        int64   `json:"eta"`
	SpeedRaw   float64 `json:"speed"`
}

// Speed returns the transfer speed truncated to whole bytes/sec, matching the
// float-to-u64 truncation the JSON payload requires.
func (s TransferStats) Speed() int64 { return int64(s.SpeedRaw) }

type statLine struct {
	Stats *TransferStats `json:"stats"`
}

// TransferOperation selects between a one-shot copy and a mirroring sync.
type TransferOperation string

const (
	OpCopy TransferOperation = "copy"
	OpSync TransferOperation = "sync"
)

// Client drives one rclone binary against one optional config file.
type Client struct {
	RclonePath     string
	ConfigPath     string // empty uses rclone's default config resolution
	SysProxy       string // empty disables proxy env injection
	BandwidthLimit string // empty disables --bwlimit
}

func (c *Client) command(ctx context.Context, args ...string) *exec.Cmd {
	full := []string{}
	if c.ConfigPath != "" {
		full = append(full, "--config", c.ConfigPath)
	}
	if c.BandwidthLimit != "" {
		full = append(full, "--bwlimit", c.BandwidthLimit)
	}
	full = append(full, "--use-json-log")
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, c.binary(), full...)
	if c.SysProxy != "" {
		cmd.Env = append(cmd.Env, "http_proxy="+c.SysProxy, "https_proxy="+c.SysProxy)
	}
	return cmd
}

func (c *Client) binary() string {
	if c.RclonePath != "" {
		return c.RclonePath
	}
	return "rclone"
}

func (c *Client) runToString(ctx context.Context, args ...string) (string, error) {
	cmd := c.command(ctx, args...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", core.Wrap(core.KindSubprocess, "rclone "+strings.Join(args, " "),
				errors.Errorf("exit %d: %s", ee.ExitCode(), string(ee.Stderr)))
		}
		return "", core.Wrap(core.KindSubprocess, "rclone "+strings.Join(args, " "), err)
	}
	return string(out), nil
}

// ListRemotes runs `rclone listremotes`.
func (c *Client) ListRemotes(ctx context.Context) ([]string, error) {
	out, err := c.runToString(ctx, "listremotes")
	if err != nil {
		return nil, errors.Wrap(err, "list remotes")
	}
	var remotes []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			remotes = append(remotes, line)
		}
	}
	return remotes, nil
}

// Size runs `rclone size --fast-list --json <path>`.
func (c *Client) Size(ctx context.Context, path string) (SizeOutput, error) {
	out, err := c.runToString(ctx, "size", "--fast-list", "--json", path)
	if err != nil {
		return SizeOutput{}, errors.Wrap(err, "rclone size")
	}
	var size SizeOutput
	if err := json.Unmarshal([]byte(out), &size); err != nil {
		return SizeOutput{}, core.Wrap(core.KindProtocol, "parse rclone size output", err)
	}
	return size, nil
}

// Transfer runs a copy/sync to completion, discarding stats.
func (c *Client) Transfer(ctx context.Context, source, dest string, op TransferOperation, totalBytes int64) error {
	return c.TransferWithStats(ctx, source, dest, op, totalBytes, nil)
}

// TransferWithStats runs a copy/sync, forwarding a TransferStats on every
// parsed stderr stats line to onStats (may be nil). totalBytes overrides the
// JSON payload's own totalBytes field, since rclone reports it unreliably
// for `sync`.
func (c *Client) TransferWithStats(ctx context.Context, source, dest string, op TransferOperation, totalBytes int64, onStats func(TransferStats)) error {
	args := []string{
		string(op),
		"--stats", statsInterval,
		"--stats-log-level", "NOTICE",
		"--fast-list",
		"--contimeout", connectionTimeout,
		"--timeout", ioIdleTimeout,
		"--retries", "3",
		"--transfers", "8",
		source, dest,
	}
	cmd := c.command(ctx, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "attach rclone stderr")
	}
	if err := cmd.Start(); err != nil {
		return core.Wrap(core.KindSubprocess, "start rclone", err)
	}

	var tailLines []string
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tailLines = appendTail(tailLines, line, 50)

		var sl statLine
		if err := json.Unmarshal([]byte(line), &sl); err != nil || sl.Stats == nil {
			continue
		}
		stats := *sl.Stats
		stats.TotalBytes = totalBytes
		if onStats != nil {
			onStats(stats)
		}
	}

	err = cmd.Wait()
	if err != nil {
		return core.Wrap(core.KindSubprocess, "rclone transfer",
			fmt.Errorf("%w: %s", err, strings.Join(tailLines, "\n")))
	}
	return nil
}

func appendTail(lines []string, line string, max int) []string {
	lines = append(lines, line)
	if len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	return lines
}

// Storage formats remote-relative paths against one configured remote/root
// and drives Client transfers against them, layering repo-specific path
// handling on top of a shared shell-out client.
type Storage struct {
	Client  *Client
	Remote  string
	RootDir string
}

func (s *Storage) formatRemotePath(path string) string {
	root := strings.TrimRight(s.RootDir, "/")
	if path == "" {
		return fmt.Sprintf("%s:%s", s.Remote, root)
	}
	return fmt.Sprintf("%s:%s/%s", s.Remote, root, strings.TrimLeft(path, "/"))
}

// DownloadDirWithStats syncs a remote directory into dest, streaming stats.
func (s *Storage) DownloadDirWithStats(ctx context.Context, sourceRel, dest string, onStats func(TransferStats)) error {
	source := s.formatRemotePath(sourceRel)
	size, err := s.Client.Size(ctx, source)
	if err != nil {
		return errors.Wrap(err, "stat remote dir")
	}
	return s.Client.TransferWithStats(ctx, source, dest, OpSync, size.Bytes, onStats)
}

// DownloadFile copies a single remote file into the dest directory,
// returning the resulting local path.
func (s *Storage) DownloadFile(ctx context.Context, sourceRel, destDir string) (string, error) {
	source := s.formatRemotePath(sourceRel)
	size, err := s.Client.Size(ctx, source)
	if err != nil {
		return "", errors.Wrap(err, "stat remote file")
	}
	if err := s.Client.Transfer(ctx, source, destDir, OpCopy, size.Bytes); err != nil {
		return "", err
	}
	parts := strings.Split(source, "/")
	name := parts[len(parts)-1]
	return destDir + "/" + name, nil
}

// PollInterval is exposed for tests that need to simulate a stats cadence
// without spawning a real rclone process.
var PollInterval = 500 * time.Millisecond
