package adb

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// fakeAdb builds a tiny POSIX-shell script standing in for the real adb
// binary, mirroring the way the rclone client's tests fake out their own
// external binary. body supplies the case arms for each adb subcommand
// (install, uninstall, shell, pull, push); -s <serial> is stripped before
// dispatch so arms don't need to know about it.
func fakeAdb(t *testing.T, body string) *Runner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake adb script is POSIX-shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "adb.sh")
	script := "#!/bin/sh\n" +
		`if [ "$1" = "-s" ]; then shift 2; fi` + "\n" +
		`cmd="$1"; shift` + "\n" +
		"case \"$cmd\" in\n" + body + "\nesac\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake adb: %v", err)
	}
	return &Runner{AdbPath: path}
}

// shellDispatchBody answers the `adb shell <cmd>` probes that Backup/Restore/
// Push issue along their happy path: tmpdir setup/teardown, the run-as data
// pipe, `pm path`, and the remote existence/isDir probes Push uses to resolve
// its destination. Tests that need a pull/push/install/uninstall arm append
// their own and splice this in verbatim.
const shellDispatchBody = `shell)
  sub="$1"
  case "$sub" in
    "mkdir -p "*)
      printf '\n0'
      exit 0
      ;;
    "rm -rf "*)
      exit 0
      ;;
    run-as*)
      exit 0
      ;;
    "pm path "*)
      echo "package:/data/app/~~pkg.apk"
      exit 0
      ;;
    "[ -e "*)
      echo n
      exit 0
      ;;
    "[ -d "*)
      echo e
      exit 0
      ;;
    tar*)
      exit 0
      ;;
    *)
      exit 0
      ;;
  esac
  ;;
`
