package services

import (
	"context"
	"fmt"
	"log"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"sidedock/internal/adb"
)

var errNoDevice = fmt.Errorf("no device connected")

// DeviceService is the Wails-bound wrapper around the core ADB handler: it
// forwards device/state change notifications to the frontend as events and
// exposes the device operations the UI drives directly.
type DeviceService struct {
	ctx     context.Context
	logger  *log.Logger
	handler *adb.Handler
}

// NewDeviceService creates a new DeviceService around an already-constructed
// handler so background loops (tracker, periodic refresh, mDNS) can be
// started against the same instance before Wails finishes binding.
func NewDeviceService(ctx context.Context, logger *log.Logger, handler *adb.Handler) *DeviceService {
	s := &DeviceService{ctx: ctx, logger: logger, handler: handler}
	handler.AddListener(s)
	return s
}

// SetContext updates the context used to emit Wails events.
func (s *DeviceService) SetContext(ctx context.Context) {
	s.ctx = ctx
}

// OnDeviceChanged implements adb.DeviceChangeListener.
func (s *DeviceService) OnDeviceChanged(d *adb.Device) {
	if s.ctx == nil {
		return
	}
	runtime.EventsEmit(s.ctx, "device:changed", d)
}

// OnStateChanged implements adb.DeviceChangeListener.
func (s *DeviceService) OnStateChanged(st adb.AdbState) {
	if s.ctx == nil {
		return
	}
	runtime.EventsEmit(s.ctx, "device:state", string(st))
}

// CurrentDevice returns the currently connected device, or nil.
func (s *DeviceService) CurrentDevice() *adb.Device {
	return s.handler.CurrentDevice()
}

// State returns the handler's current lifecycle state.
func (s *DeviceService) State() string {
	return string(s.handler.State())
}

// Connect connects to a specific device by serial, or auto-selects one
// (honoring the configured connection preference) when serial is empty.
func (s *DeviceService) Connect(serial string) error {
	s.logger.Printf("[DeviceService] Connect: serial=%q", serial)
	return s.handler.Connect(s.ctx, serial)
}

// Disconnect clears the current device.
func (s *DeviceService) Disconnect() {
	s.logger.Printf("[DeviceService] Disconnect")
	s.handler.Disconnect()
}

// RefreshPackages re-reads the installed package list for the current
// device.
func (s *DeviceService) RefreshPackages() error {
	dev := s.handler.CurrentDevice()
	if dev == nil {
		return nil
	}
	if err := dev.RefreshPackages(s.ctx, s.handler.Runner); err != nil {
		return err
	}
	s.OnDeviceChanged(dev)
	return nil
}

// Launch starts pkg's main VR activity on the current device.
func (s *DeviceService) Launch(pkg string) error {
	dev := s.handler.CurrentDevice()
	if dev == nil {
		return errNoDevice
	}
	return dev.Launch(s.ctx, s.handler.Runner, pkg)
}

// ForceStop stops pkg on the current device.
func (s *DeviceService) ForceStop(pkg string) error {
	dev := s.handler.CurrentDevice()
	if dev == nil {
		return errNoDevice
	}
	return dev.ForceStop(s.ctx, s.handler.Runner, pkg)
}

// Reboot reboots the current device into the requested mode.
func (s *DeviceService) Reboot(mode string) error {
	dev := s.handler.CurrentDevice()
	if dev == nil {
		return errNoDevice
	}
	return dev.Reboot(s.ctx, s.handler.Runner, adb.RebootMode(mode))
}

// SetProximitySensor toggles the current device's proximity sensor.
func (s *DeviceService) SetProximitySensor(enabled bool) error {
	dev := s.handler.CurrentDevice()
	if dev == nil {
		return errNoDevice
	}
	return dev.SetProximitySensor(s.ctx, s.handler.Runner, enabled, nil)
}

// SetGuardianPaused pauses or resumes the guardian boundary.
func (s *DeviceService) SetGuardianPaused(paused bool) error {
	dev := s.handler.CurrentDevice()
	if dev == nil {
		return errNoDevice
	}
	return dev.SetGuardianPaused(s.ctx, s.handler.Runner, paused)
}

// EnableWirelessADB switches the current device to TCP/IP mode and returns
// the address to connect to.
func (s *DeviceService) EnableWirelessADB() (string, error) {
	dev := s.handler.CurrentDevice()
	if dev == nil {
		return "", errNoDevice
	}
	return dev.EnableWirelessADB(s.ctx, s.handler.Runner)
}
