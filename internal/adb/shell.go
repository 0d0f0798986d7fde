package adb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"sidedock/internal/core"
)

// Runner resolves the adb binary and shells out to it via
// exec.CommandContext for every ADB invocation.
type Runner struct {
	AdbPath string // empty resolves "adb" from PATH
}

func (r *Runner) bin() string {
	if r.AdbPath != "" {
		return r.AdbPath
	}
	return "adb"
}

// Command builds an adb subprocess, optionally scoped to one serial with
// `-s`.
func (r *Runner) Command(ctx context.Context, serial string, args ...string) *exec.Cmd {
	full := args
	if serial != "" {
		full = append([]string{"-s", serial}, args...)
	}
	return exec.CommandContext(ctx, r.bin(), full...)
}

// Run executes an adb subcommand and returns combined stdout.
func (r *Runner) Run(ctx context.Context, serial string, args ...string) (string, error) {
	cmd := r.Command(ctx, serial, args...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", core.Wrap(core.KindSubprocess, "adb "+strings.Join(args, " "),
				fmt.Errorf("exit %d: %s", ee.ExitCode(), string(ee.Stderr)))
		}
		return "", core.Wrap(core.KindSubprocess, "adb "+strings.Join(args, " "), err)
	}
	return string(out), nil
}

// Shell runs `adb shell <cmd>` and returns its raw output.
func (r *Runner) Shell(ctx context.Context, serial, cmd string) (string, error) {
	return r.Run(ctx, serial, "shell", cmd)
}

// ShellChecked implements the `"{cmd} ; printf '\n%s' $?"` exit-code
// contract: the command's real exit status is appended as the final line of
// output and split off here so a non-zero status surfaces as an error with
// the captured output attached.
func (r *Runner) ShellChecked(ctx context.Context, serial, cmd string) (string, error) {
	wrapped := fmt.Sprintf("%s ; printf '\\n%%s' $?", cmd)
	out, err := r.Run(ctx, serial, "shell", wrapped)
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimRight(out, "\n")
	idx := strings.LastIndexByte(trimmed, '\n')
	var body, codeStr string
	if idx == -1 {
		body, codeStr = "", trimmed
	} else {
		body, codeStr = trimmed[:idx], trimmed[idx+1:]
	}

	code, convErr := strconv.Atoi(strings.TrimSpace(codeStr))
	if convErr != nil {
		// Output didn't end in a parseable exit code; treat the whole thing
		// as a protocol failure rather than silently swallowing it.
		return "", core.Wrap(core.KindProtocol, "shell_checked",
			fmt.Errorf("could not parse exit code from output: %q", out))
	}
	if code != 0 {
		return "", core.Wrap(core.KindProtocol, "shell_checked",
			fmt.Errorf("command %q exited %d: %s", cmd, code, body))
	}
	return body, nil
}

// runBuffered captures stdout/stderr separately, used where stderr content
// matters for classification (e.g. run-as rejection detection).
func (r *Runner) runBuffered(ctx context.Context, serial string, args ...string) (stdout, stderr string, err error) {
	cmd := r.Command(ctx, serial, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	runErr := cmd.Run()
	return outBuf.String(), errBuf.String(), runErr
}
