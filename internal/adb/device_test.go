package adb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// TestResolveDestinationTable exercises the push/pull destination-resolution
// contract documented on ResolveDestination: existing-dir nests, existing-file
// overwrites (but rejects a directory source), and a missing destination is
// used as-is as long as its parent exists.
func TestResolveDestinationTable(t *testing.T) {
	dir := t.TempDir()

	existingDir := filepath.Join(dir, "existing_dir")
	if err := os.Mkdir(existingDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	existingFile := filepath.Join(dir, "existing_file")
	if err := os.WriteFile(existingFile, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	newInExistingParent := filepath.Join(dir, "new_dest")
	missingParent := filepath.Join(dir, "nope", "dest")

	tests := []struct {
		name        string
		sourceName  string
		sourceIsDir bool
		dest        string
		want        string
		wantErr     bool
	}{
		{"existing dir nests source under it", "payload", false, existingDir, filepath.Join(existingDir, "payload"), false},
		{"existing file is overwritten by a file source", "payload", false, existingFile, existingFile, false},
		{"existing file rejects a directory source", "payload", true, existingFile, "", true},
		{"missing dest with existing parent is used as-is", "payload", false, newInExistingParent, newInExistingParent, false},
		{"missing dest with missing parent errors", "payload", false, missingParent, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveDestination(tt.sourceName, tt.sourceIsDir, tt.dest)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got result %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q want %q", got, tt.want)
			}
		})
	}
}

// TestInstallAutoReinstallRecoversFromVersionDowngrade exercises the S2
// scenario end to end: a version-downgrade conflict on the first install
// triggers a data backup, an uninstall, a retried install, and a restore of
// the backed-up data - and the package name passed in by the caller (as
// StartDownloadInstall already knows it) is trusted instead of re-derived.
func TestInstallAutoReinstallRecoversFromVersionDowngrade(t *testing.T) {
	state := t.TempDir()
	attempts := filepath.Join(state, "attempts")

	body := fmt.Sprintf(`install)
  n=0
  if [ -f %q ]; then n=$(cat %q); fi
  n=$((n + 1))
  echo "$n" > %q
  if [ "$n" -eq 1 ]; then
    echo "Failure [INSTALL_FAILED_VERSION_DOWNGRADE]" 1>&2
    exit 1
  fi
  echo "Success"
  exit 0
  ;;
uninstall)
  echo "Success"
  exit 0
  ;;
`+shellDispatchBody+`pull)
  remote="$1"
  dest="$2"
  case "$remote" in
    */backup_tmp/*)
      base=$(basename "$remote")
      mkdir -p "$dest/$base"
      touch "$dest/$base/state.bin"
      ;;
  esac
  exit 0
  ;;
push)
  exit 0
  ;;
`, attempts, attempts, attempts)

	r := fakeAdb(t, body)
	d := &Device{DeviceIdentity: DeviceIdentity{Serial: "ABC123"}}

	apkPath := filepath.Join(t.TempDir(), "app.apk")
	if err := os.WriteFile(apkPath, []byte("fake apk bytes"), 0o644); err != nil {
		t.Fatalf("write fake apk: %v", err)
	}

	// Install's auto-reinstall path stages its backup under the fixed root
	// "/tmp"; sweep up whatever it leaves behind there once the test ends.
	t.Cleanup(func() {
		matches, _ := filepath.Glob("/tmp/*_com.example.app_reinstall")
		for _, m := range matches {
			os.RemoveAll(m)
		}
	})

	var progressCalls []float64
	err := d.Install(context.Background(), r, apkPath, "com.example.app", true, false, func(p float64) {
		progressCalls = append(progressCalls, p)
	})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(progressCalls) == 0 || progressCalls[len(progressCalls)-1] != 1.0 {
		t.Fatalf("expected a final 100%% progress callback, got %v", progressCalls)
	}

	if got, err := os.ReadFile(attempts); err != nil || string(got) != "2\n" {
		t.Fatalf("expected exactly 2 install attempts, got %q (err=%v)", got, err)
	}
}

// TestInstallDoesNotRetryWhenAlreadyReinstalling confirms the
// didReinstall guard: a second conflicting install attempt after a reinstall
// already happened is reported as a failure instead of recursing forever.
func TestInstallDoesNotRetryWhenAlreadyReinstalling(t *testing.T) {
	body := `install)
  echo "Failure [INSTALL_FAILED_VERSION_DOWNGRADE]" 1>&2
  exit 1
  ;;
`
	r := fakeAdb(t, body)
	d := &Device{DeviceIdentity: DeviceIdentity{Serial: "ABC123"}}

	apkPath := filepath.Join(t.TempDir(), "app.apk")
	if err := os.WriteFile(apkPath, []byte("fake apk bytes"), 0o644); err != nil {
		t.Fatalf("write fake apk: %v", err)
	}

	err := d.Install(context.Background(), r, apkPath, "com.example.app", true, true, nil)
	if err == nil {
		t.Fatalf("expected an error when a reinstall attempt itself conflicts")
	}
}
