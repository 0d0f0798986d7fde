package adb

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sidedock/internal/core"
)

// packageNameRe validates an Android package name: dotted identifiers, each
// segment starting with a letter, no leading digit, at least one dot.
var packageNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)+$`)

// ValidPackageName reports whether name is a syntactically valid Android
// package name (rejects "com.1bad", "123.abc", "com.", "").
func ValidPackageName(name string) bool {
	return packageNameRe.MatchString(name)
}

// listAppsHelper is the bundled helper executable pushed to the device and
// invoked via app_process to enumerate installed packages in one shot. Its
// expected on-device digest is pinned so a stale copy is detected and
// re-pushed rather than trusted blindly.
//
//go:embed assets/list_apps.dex
var listAppsHelper []byte

const listAppsRemotePath = "/data/local/tmp/list_apps.dex"

func listAppsHelperSHA256() string {
	sum := sha256.Sum256(listAppsHelper)
	return hex.EncodeToString(sum[:])
}

// NewDevice constructs a Device by probing identity over the given
// transport/serial. Each property read races an 800ms timeout, matching the
// identity-acquisition timing exactly.
func NewDevice(ctx context.Context, r *Runner, serial string) (*Device, error) {
	d := &Device{adbPath: r.AdbPath}
	d.Serial = serial
	d.Wireless = strings.Contains(serial, ":")

	manufacturer := probeProp(ctx, r, serial, "ro.product.manufacturer")
	model := probeProp(ctx, r, serial, "ro.product.model")
	d.HardwareSerial = probeProp(ctx, r, serial, "ro.serialno")
	d.ProductCode = probeProp(ctx, r, serial, "ro.product.device")

	if manufacturer != "" || model != "" {
		d.ManufacturerModel = strings.TrimSpace(manufacturer + " " + model)
	}
	d.TransportID = serial
	return d, nil
}

func probeProp(parent context.Context, r *Runner, serial, prop string) string {
	ctx, cancel := context.WithTimeout(parent, identityProbeTimeout)
	defer cancel()
	out, err := r.Shell(ctx, serial, "getprop "+prop)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// RefreshAll re-reads every live-state field. Per-subsystem failures are
// tolerated: the corresponding field is cleared rather than failing the
// whole refresh, matching the handler's periodic-refresh tolerance.
func (d *Device) RefreshAll(ctx context.Context, r *Runner) {
	if err := d.refreshBattery(ctx, r); err != nil {
		d.BatteryPercent = 0
	}
	if err := d.refreshControllers(ctx, r); err != nil {
		d.LeftController, d.RightController = nil, nil
	}
	if err := d.refreshSpace(ctx, r); err != nil {
		d.TotalSpaceBytes, d.FreeSpaceBytes = 0, 0
	}
	if err := d.RefreshPackages(ctx, r); err != nil {
		// leave whatever package list we had
		_ = err
	}
}

func (d *Device) refreshBattery(ctx context.Context, r *Runner) error {
	out, err := r.Shell(ctx, d.Serial, "dumpsys battery")
	if err != nil {
		return err
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "level:") {
			val := strings.TrimSpace(strings.TrimPrefix(line, "level:"))
			if n, err := strconv.Atoi(val); err == nil {
				d.BatteryPercent = n
				return nil
			}
		}
	}
	return fmt.Errorf("battery level not found in dumpsys output")
}

var dumpsysControllerRe = regexp.MustCompile(`Type:\s*(Left|Right).+Battery:\s*(-?\d+)%.+Status:\s*(\w+)`)

type rstestController struct {
	Type          string `json:"type"`
	BatteryLevel  int    `json:"batteryLevel"`
	Status        string `json:"status"`
}

func (d *Device) refreshControllers(ctx context.Context, r *Runner) error {
	if out, err := r.Shell(ctx, d.Serial, "rstest info --json"); err == nil {
		var list []rstestController
		if json.Unmarshal([]byte(out), &list) == nil && len(list) > 0 {
			for _, c := range list {
				info := &ControllerInfo{Battery: c.BatteryLevel, Status: mapRstestStatus(c.Status)}
				switch strings.ToLower(c.Type) {
				case "left":
					d.LeftController = info
				case "right":
					d.RightController = info
				}
			}
			return nil
		}
	}

	out, err := r.Shell(ctx, d.Serial, "dumpsys OVRRemoteService")
	if err != nil {
		return err
	}
	for _, m := range dumpsysControllerRe.FindAllStringSubmatch(out, -1) {
		battery, _ := strconv.Atoi(m[2])
		info := &ControllerInfo{Battery: battery, Status: ControllerStatus(m[3]), Raw: m[0]}
		switch strings.ToLower(m[1]) {
		case "left":
			d.LeftController = info
		case "right":
			d.RightController = info
		}
	}
	if d.LeftController == nil && d.RightController == nil {
		return fmt.Errorf("no controller data found")
	}
	return nil
}

func mapRstestStatus(raw string) ControllerStatus {
	switch raw {
	case "CONNECTED_ACTIVE":
		return ControllerActive
	case "DISABLED":
		return ControllerDisabled
	case "SEARCHING":
		return ControllerSearching
	case "CONNECTED_INACTIVE":
		return ControllerInactive
	default:
		return ControllerStatus(raw)
	}
}

func (d *Device) refreshSpace(ctx context.Context, r *Runner) error {
	out, err := r.Shell(ctx, d.Serial, "stat -fc %S:%b:%a /data")
	if err != nil {
		return err
	}
	parts := strings.Split(strings.TrimSpace(out), ":")
	if len(parts) != 3 {
		return fmt.Errorf("unexpected stat output: %q", out)
	}
	blockSize, err1 := strconv.ParseInt(parts[0], 10, 64)
	totalBlocks, err2 := strconv.ParseInt(parts[1], 10, 64)
	freeBlocks, err3 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return fmt.Errorf("could not parse stat output: %q", out)
	}
	d.TotalSpaceBytes = blockSize * totalBlocks
	d.FreeSpaceBytes = blockSize * freeBlocks
	return nil
}

type listAppsEntry struct {
	UID         int    `json:"uid"`
	System      bool   `json:"system"`
	PackageName string `json:"package_name"`
	VersionCode int64  `json:"version_code"`
	VersionName string `json:"version_name"`
	Label       string `json:"label"`
	Launchable  bool   `json:"launchable"`
	VR          bool   `json:"vr"`
}

// RefreshPackages enumerates installed packages via the pushed helper and
// enriches the result with per-app size data from dumpsys diskstats.
func (d *Device) RefreshPackages(ctx context.Context, r *Runner) error {
	if err := d.ensureHelperPushed(ctx, r); err != nil {
		return core.Wrap(core.KindEnvironment, "push list_apps helper", err)
	}

	out, err := r.Shell(ctx, d.Serial, fmt.Sprintf("CLASSPATH=%s app_process / Main", listAppsRemotePath))
	if err != nil {
		return core.Wrap(core.KindProtocol, "list apps", err)
	}

	var entries []listAppsEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		return core.Wrap(core.KindProtocol, "parse list apps output", err)
	}

	packages := make([]InstalledPackage, 0, len(entries))
	for _, e := range entries {
		packages = append(packages, InstalledPackage{
			UID:         e.UID,
			PackageName: e.PackageName,
			VersionCode: e.VersionCode,
			VersionName: e.VersionName,
			Label:       e.Label,
			Launchable:  e.Launchable,
			VR:          e.VR,
			System:      e.System,
		})
	}

	sizes, err := d.diskStatsSizes(ctx, r)
	if err == nil {
		for i := range packages {
			if s, ok := sizes[packages[i].PackageName]; ok {
				packages[i].AppBytes = s.app
				packages[i].DataBytes = s.data
				packages[i].CacheBytes = s.cache
			}
		}
	}

	d.Packages = packages
	return nil
}

func (d *Device) ensureHelperPushed(ctx context.Context, r *Runner) error {
	out, err := r.Shell(ctx, d.Serial, "sha256sum "+listAppsRemotePath)
	onDevice := ""
	if err == nil {
		fields := strings.Fields(out)
		if len(fields) > 0 {
			onDevice = fields[0]
		}
	}
	if onDevice == listAppsHelperSHA256() {
		return nil
	}

	cmd := r.Command(ctx, d.Serial, "push", "/dev/stdin", listAppsRemotePath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	if _, err := stdin.Write(listAppsHelper); err != nil {
		return err
	}
	stdin.Close()
	return cmd.Wait()
}

type appSizes struct{ app, data, cache int64 }

func (d *Device) diskStatsSizes(ctx context.Context, r *Runner) (map[string]appSizes, error) {
	out, err := r.Shell(ctx, d.Serial, "dumpsys diskstats")
	if err != nil {
		return nil, err
	}

	names := extractParallelArray(out, "Package Names")
	appSizesArr := extractParallelArray(out, "App Sizes")
	dataSizesArr := extractParallelArray(out, "App Data Sizes")
	cacheSizesArr := extractParallelArray(out, "Cache Sizes")

	result := make(map[string]appSizes, len(names))
	for i, name := range names {
		var s appSizes
		if i < len(appSizesArr) {
			s.app, _ = strconv.ParseInt(appSizesArr[i], 10, 64)
		}
		if i < len(dataSizesArr) {
			s.data, _ = strconv.ParseInt(dataSizesArr[i], 10, 64)
		}
		if i < len(cacheSizesArr) {
			s.cache, _ = strconv.ParseInt(cacheSizesArr[i], 10, 64)
		}
		result[name] = s
	}
	return result, nil
}

var arrayLineRe = regexp.MustCompile(`^\s*([^:]+):\s*\[(.*)\]\s*$`)

func extractParallelArray(dumpsysOutput, label string) []string {
	for _, line := range strings.Split(dumpsysOutput, "\n") {
		if !strings.Contains(line, label) {
			continue
		}
		m := arrayLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		raw := strings.Split(m[2], ",")
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			out = append(out, strings.TrimSpace(strings.Trim(v, `"`)))
		}
		return out
	}
	return nil
}

// Launch starts pkg in VR mode, falling back to a plain monkey launch if the
// VR-category intent is rejected.
func (d *Device) Launch(ctx context.Context, r *Runner, pkg string) error {
	out, err := r.Shell(ctx, d.Serial, fmt.Sprintf("monkey -p %s -c com.oculus.intent.category.VR 1", pkg))
	if err == nil && !strings.Contains(out, "monkey aborted") {
		return nil
	}
	out, err = r.Shell(ctx, d.Serial, fmt.Sprintf("monkey -p %s 1", pkg))
	if err != nil {
		return core.Wrap(core.KindProtocol, "launch", err)
	}
	if strings.Contains(out, "monkey aborted") {
		return core.Wrap(core.KindProtocol, "launch", fmt.Errorf("monkey aborted launching %s", pkg))
	}
	return nil
}

// ForceStop stops pkg.
func (d *Device) ForceStop(ctx context.Context, r *Runner, pkg string) error {
	_, err := r.ShellChecked(ctx, d.Serial, "am force-stop "+pkg)
	return err
}

// Reboot maps mode to the corresponding adb reboot invocation.
func (d *Device) Reboot(ctx context.Context, r *Runner, mode RebootMode) error {
	args, ok := rebootArgs[mode]
	if !ok {
		return fmt.Errorf("unknown reboot mode %q", mode)
	}
	_, err := r.Run(ctx, d.Serial, args...)
	return err
}

// SetProximitySensor toggles the proximity sensor via broadcast intent.
func (d *Device) SetProximitySensor(ctx context.Context, r *Runner, enabled bool, duration *time.Duration) error {
	action := "com.oculus.vrpowermanager.automation_disable"
	if !enabled {
		action = "com.oculus.vrpowermanager.prox_close"
	}
	cmd := fmt.Sprintf("am broadcast -a %s", action)
	if duration != nil {
		cmd += fmt.Sprintf(" --ei duration %d", duration.Milliseconds())
	}
	_, err := r.ShellChecked(ctx, d.Serial, cmd)
	return err
}

// SetGuardianPaused sets the guardian-pause debug property.
func (d *Device) SetGuardianPaused(ctx context.Context, r *Runner, paused bool) error {
	val := "0"
	if paused {
		val = "1"
	}
	_, err := r.ShellChecked(ctx, d.Serial, "setprop debug.oculus.guardian_pause "+val)
	return err
}

var proximityStateRe = regexp.MustCompile(`Virtual proximity state:\s*(\w+)`)

// RefreshProximityAndGuardian reads back the current proximity/guardian
// state. Either field is left Unknown if its probe fails.
func (d *Device) RefreshProximityAndGuardian(ctx context.Context, r *Runner) {
	if out, err := r.Shell(ctx, d.Serial, "dumpsys oculus.internal.power.IVrPowerManager/default"); err == nil {
		if m := proximityStateRe.FindStringSubmatch(out); m != nil {
			switch m[1] {
			case "CLOSE":
				d.ProximityDisabled = GuardianNo
			case "DISABLED":
				d.ProximityDisabled = GuardianYes
			default:
				d.ProximityDisabled = GuardianUnknown
			}
		}
	}
	if out, err := r.Shell(ctx, d.Serial, "getprop debug.oculus.guardian_pause"); err == nil {
		switch strings.TrimSpace(out) {
		case "1":
			d.GuardianPaused = GuardianYes
		case "0":
			d.GuardianPaused = GuardianNo
		default:
			d.GuardianPaused = GuardianUnknown
		}
	}
}

// EnableWirelessADB brings up the Wi-Fi interface if needed, waits for an
// IP, and switches the device to tcpip mode, returning its wireless
// "ip:5555" address.
func (d *Device) EnableWirelessADB(ctx context.Context, r *Runner) (string, error) {
	ip, err := d.wlanIP(ctx, r)
	if err != nil || ip == "" {
		if _, serr := r.ShellChecked(ctx, d.Serial, "svc wifi enable"); serr != nil {
			return "", core.Wrap(core.KindEnvironment, "enable wifi", serr)
		}
		deadline := time.Now().Add(wirelessIPPollTotal)
		for time.Now().Before(deadline) {
			ip, _ = d.wlanIP(ctx, r)
			if ip != "" {
				break
			}
			time.Sleep(wirelessIPPollStep)
		}
		if ip == "" {
			return "", core.Wrap(core.KindEnvironment, "enable wifi", fmt.Errorf("no wlan0 IP after %s", wirelessIPPollTotal))
		}
	}

	if _, err := r.Run(ctx, d.Serial, "tcpip", "5555"); err != nil {
		return "", core.Wrap(core.KindProtocol, "tcpip", err)
	}
	return ip + ":5555", nil
}

var wlanIPRe = regexp.MustCompile(`src\s+(\d+\.\d+\.\d+\.\d+)`)

func (d *Device) wlanIP(ctx context.Context, r *Runner) (string, error) {
	out, err := r.Shell(ctx, d.Serial, "ip route")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "wlan0") {
			continue
		}
		if m := wlanIPRe.FindStringSubmatch(line); m != nil {
			return m[1], nil
		}
	}
	return "", nil
}
