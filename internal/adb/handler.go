package adb

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"sidedock/internal/core"
)

// DeviceChangeListener is notified whenever the handler's connected device
// changes; app/services and internal/adapters/api both implement this to
// translate into Wails/SSE events.
type DeviceChangeListener interface {
	OnDeviceChanged(d *Device)
	OnStateChanged(s AdbState)
}

// Handler is the top-level ADB singleton: server lifecycle, the device
// tracker loop, connect/disconnect serialization, and mDNS auto-connect.
type Handler struct {
	Runner *Runner

	mu            sync.Mutex
	state         AdbState
	current       *Device
	deviceOpMutex sync.Mutex
	listeners     []DeviceChangeListener
	preferred     ConnectionKindResolver

	identityCache   map[string]cachedIdentity // transport id -> name/serial, UI-only annotation
	identityCacheMu sync.Mutex

	log *Log
}

// ConnectionKindResolver reports the user's preferred connection type so
// Connect can sort candidate devices accordingly without importing the
// settings package (avoids a dependency cycle).
type ConnectionKindResolver func() (preferWireless bool)

type cachedIdentity struct {
	name       string
	trueSerial string
}

// Log is the minimal logging surface the handler needs; app wiring supplies
// a *log.Logger-backed implementation.
type Log interface {
	Printf(format string, args ...interface{})
}

// NewHandler constructs a Handler bound to the given adb binary path (empty
// resolves "adb" from PATH).
func NewHandler(adbPath string, preferred ConnectionKindResolver, logger Log) *Handler {
	return &Handler{
		Runner:        &Runner{AdbPath: adbPath},
		state:         StateServerNotRunning,
		preferred:     preferred,
		identityCache: make(map[string]cachedIdentity),
		log:           logger,
	}
}

func (h *Handler) AddListener(l DeviceChangeListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
}

func (h *Handler) setState(s AdbState) {
	h.mu.Lock()
	h.state = s
	listeners := append([]DeviceChangeListener(nil), h.listeners...)
	h.mu.Unlock()
	for _, l := range listeners {
		l.OnStateChanged(s)
	}
}

func (h *Handler) State() AdbState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handler) CurrentDevice() *Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// EnsureServerRunning checks daemon responsiveness within 1s; if the daemon
// is not responding, it acquires a lock, resolves the binary, and spawns
// `adb start-server` with a 10s timeout.
func (h *Handler) EnsureServerRunning(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, serverHealthTimeout)
	defer cancel()
	if _, err := h.Runner.Run(healthCtx, "", "devices"); err == nil {
		return nil
	}

	h.setState(StateServerStarting)
	h.deviceOpMutex.Lock()
	defer h.deviceOpMutex.Unlock()

	startCtx, startCancel := context.WithTimeout(ctx, serverStartTimeout)
	defer startCancel()
	cmd := exec.CommandContext(startCtx, h.Runner.bin(), "start-server")
	if err := cmd.Run(); err != nil {
		h.setState(StateServerStartFailed)
		return core.Wrap(core.KindEnvironment, "start adb server", err)
	}

	h.refreshStateFromDeviceList(ctx)
	return nil
}

func (h *Handler) refreshStateFromDeviceList(ctx context.Context) {
	devices, err := h.listDevices(ctx)
	if err != nil {
		return
	}
	switch {
	case len(devices) == 0:
		h.setState(StateNoDevices)
	case anyUnauthorized(devices):
		h.setState(StateDeviceUnauthorized)
	case h.CurrentDevice() != nil:
		h.setState(StateDeviceConnected)
	default:
		h.setState(StateDevicesAvailable)
	}
}

func anyUnauthorized(devices []TrackedDevice) bool {
	for _, d := range devices {
		if d.State == "unauthorized" {
			return true
		}
	}
	return false
}

func (h *Handler) listDevices(ctx context.Context) ([]TrackedDevice, error) {
	out, err := h.Runner.Run(ctx, "", "devices")
	if err != nil {
		return nil, err
	}
	var devices []TrackedDevice
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devices = append(devices, TrackedDevice{Serial: fields[0], State: fields[1]})
	}
	return devices, nil
}

// RunTrackerLoop runs until ctx is cancelled, restarting the
// `adb track-devices` stream on transient failures after a 1s backoff and
// driving connect/disconnect decisions from each update.
func (h *Handler) RunTrackerLoop(ctx context.Context) {
	succeededOnce := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := h.EnsureServerRunning(ctx); err != nil {
			if !succeededOnce {
				return
			}
			time.Sleep(trackerRetryBackoff)
			continue
		}

		err := h.trackOnce(ctx, &succeededOnce)
		if err == nil {
			return // ctx was cancelled cleanly
		}
		if !succeededOnce {
			return
		}
		time.Sleep(trackerRetryBackoff)
	}
}

func (h *Handler) trackOnce(ctx context.Context, succeeded *bool) error {
	cmd := exec.CommandContext(ctx, h.Runner.bin(), "track-devices")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	defer cmd.Wait()

	reader := bufio.NewReader(stdout)
	for {
		select {
		case <-ctx.Done():
			cmd.Process.Kill()
			return nil
		default:
		}

		devices, err := readTrackerFrame(reader)
		if err != nil {
			return err
		}
		*succeeded = true
		h.onTrackerUpdate(ctx, devices)
	}
}

// readTrackerFrame parses one `adb track-devices` frame: a 4-hex-digit
// length prefix followed by that many bytes of newline-separated
// "<serial>\t<state>" rows.
func readTrackerFrame(r *bufio.Reader) ([]TrackedDevice, error) {
	lenBuf := make([]byte, 4)
	if _, err := readFull(r, lenBuf); err != nil {
		return nil, err
	}
	n, err := strconv.ParseInt(string(lenBuf), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("bad track-devices length prefix %q: %w", lenBuf, err)
	}
	body := make([]byte, n)
	if _, err := readFull(r, body); err != nil {
		return nil, err
	}

	var devices []TrackedDevice
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devices = append(devices, TrackedDevice{Serial: fields[0], State: fields[1]})
	}
	return devices, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (h *Handler) onTrackerUpdate(ctx context.Context, devices []TrackedDevice) {
	current := h.CurrentDevice()

	if current != nil {
		stillPresent := false
		for _, d := range devices {
			if d.Serial == current.Serial && d.State == "device" {
				stillPresent = true
				break
			}
		}
		if !stillPresent {
			h.Disconnect()
			return
		}
	}

	if current == nil {
		for _, d := range devices {
			if d.State == "device" {
				h.Connect(ctx, "")
				return
			}
		}
	}
}

// Connect serializes against deviceOpMutex: lists devices, picks one (by
// serial if given, otherwise USB-first/wireless-first by preference),
// builds the Device object, atomically swaps the current device, and clears
// any stray *.apk left in /data/local/tmp.
func (h *Handler) Connect(ctx context.Context, serial string) error {
	h.deviceOpMutex.Lock()
	defer h.deviceOpMutex.Unlock()

	devices, err := h.listDevices(ctx)
	if err != nil {
		return core.Wrap(core.KindEnvironment, "connect", err)
	}

	var candidates []TrackedDevice
	for _, d := range devices {
		if d.State == "device" {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return core.Wrap(core.KindSemantic, "connect", fmt.Errorf("no device in the Device state"))
	}

	var chosen *TrackedDevice
	if serial != "" {
		for i := range candidates {
			if candidates[i].Serial == serial {
				chosen = &candidates[i]
				break
			}
		}
		if chosen == nil {
			return core.Wrap(core.KindSemantic, "connect", fmt.Errorf("serial %q not found", serial))
		}
	} else {
		preferWireless := h.preferred != nil && h.preferred()
		sort.SliceStable(candidates, func(i, j int) bool {
			iWireless := strings.Contains(candidates[i].Serial, ":")
			jWireless := strings.Contains(candidates[j].Serial, ":")
			if iWireless == jWireless {
				return false
			}
			if preferWireless {
				return iWireless
			}
			return !iWireless
		})
		chosen = &candidates[0]
	}

	dev, err := NewDevice(ctx, h.Runner, chosen.Serial)
	if err != nil {
		return err
	}
	dev.RefreshAll(ctx, h.Runner)
	dev.RefreshProximityAndGuardian(ctx, h.Runner)

	h.identityCacheMu.Lock()
	h.identityCache[dev.TransportID] = cachedIdentity{name: dev.ManufacturerModel, trueSerial: dev.HardwareSerial}
	h.identityCacheMu.Unlock()

	h.mu.Lock()
	h.current = dev
	h.mu.Unlock()

	h.Runner.Shell(ctx, dev.Serial, "rm -f /data/local/tmp/*.apk")

	h.notifyDeviceChanged(dev)
	h.setState(StateDeviceConnected)
	return nil
}

// Disconnect clears the current device under the same serialization.
func (h *Handler) Disconnect() {
	h.deviceOpMutex.Lock()
	h.mu.Lock()
	h.current = nil
	h.mu.Unlock()
	h.deviceOpMutex.Unlock()

	h.notifyDeviceChanged(nil)
	h.refreshStateFromDeviceList(context.Background())
}

func (h *Handler) notifyDeviceChanged(d *Device) {
	h.mu.Lock()
	listeners := append([]DeviceChangeListener(nil), h.listeners...)
	h.mu.Unlock()
	for _, l := range listeners {
		l.OnDeviceChanged(d)
	}
}

// RunPeriodicRefresh re-runs the current device's full refresh every 60s
// until ctx is cancelled.
func (h *Handler) RunPeriodicRefresh(ctx context.Context) {
	ticker := time.NewTicker(periodicRefreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dev := h.CurrentDevice()
			if dev == nil {
				continue
			}
			dev.RefreshAll(ctx, h.Runner)
			dev.RefreshProximityAndGuardian(ctx, h.Runner)
			h.notifyDeviceChanged(dev)
		}
	}
}

// mdnsServices are the two service types ADB advertises for wireless pairing.
var mdnsServices = []string{"_adb-tls-connect._tcp", "_adb_secure_connect._tcp"}

// RunMdnsAutoConnect browses both ADB mDNS service types and attempts
// `adb connect <addr>` against resolved entries, bounded by the documented
// timeouts, skipping entries that are already connected.
func (h *Handler) RunMdnsAutoConnect(ctx context.Context) {
	if h.CurrentDevice() != nil {
		return
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		if h.log != nil {
			h.log.Printf("[ADB] mdns resolver init failed: %v", err)
		}
		return
	}

	entries := make(chan *zeroconf.ServiceEntry, 8)
	browseCtx, cancel := context.WithTimeout(ctx, mdnsTotalTimeout)
	defer cancel()

	go func() {
		for _, svc := range mdnsServices {
			_ = resolver.Browse(browseCtx, svc, "local.", entries)
		}
	}()

	deadline := time.Now().Add(mdnsTotalTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-browseCtx.Done():
			return
		case entry := <-entries:
			if entry == nil || len(entry.AddrIPv4) == 0 {
				continue
			}
			addr := fmt.Sprintf("%s:%d", entry.AddrIPv4[0].String(), entry.Port)
			h.tryMdnsConnect(ctx, addr)
		case <-time.After(mdnsBackoff):
		}
	}
}

func (h *Handler) tryMdnsConnect(parent context.Context, addr string) {
	if h.CurrentDevice() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, mdnsAttemptTimeout)
	defer cancel()
	if _, err := h.Runner.Run(ctx, "", "connect", addr); err != nil {
		if h.log != nil {
			h.log.Printf("[ADB] mdns connect %s failed: %v", addr, err)
		}
		return
	}
	h.Connect(parent, addr)
}
