package services

import (
	"context"
	"log"
	"os"
	"testing"

	"sidedock/internal/adb"
)

func newTestDeviceService(t *testing.T) *DeviceService {
	t.Helper()
	logger := log.New(os.Stderr, "test ", 0)
	handler := adb.NewHandler("adb", nil, nil)
	return NewDeviceService(context.Background(), logger, handler)
}

func TestDeviceServiceCurrentDeviceNilWhenDisconnected(t *testing.T) {
	s := newTestDeviceService(t)
	if dev := s.CurrentDevice(); dev != nil {
		t.Fatalf("CurrentDevice() = %+v, want nil", dev)
	}
}

func TestDeviceServiceOperationsRequireADevice(t *testing.T) {
	s := newTestDeviceService(t)

	if err := s.Launch("com.example.app"); err != errNoDevice {
		t.Fatalf("Launch() = %v, want errNoDevice", err)
	}
	if err := s.ForceStop("com.example.app"); err != errNoDevice {
		t.Fatalf("ForceStop() = %v, want errNoDevice", err)
	}
	if err := s.Reboot("normal"); err != errNoDevice {
		t.Fatalf("Reboot() = %v, want errNoDevice", err)
	}
	if err := s.SetProximitySensor(true); err != errNoDevice {
		t.Fatalf("SetProximitySensor() = %v, want errNoDevice", err)
	}
	if err := s.SetGuardianPaused(true); err != errNoDevice {
		t.Fatalf("SetGuardianPaused() = %v, want errNoDevice", err)
	}
	if _, err := s.EnableWirelessADB(); err != errNoDevice {
		t.Fatalf("EnableWirelessADB() = %v, want errNoDevice", err)
	}
}

func TestDeviceServiceRefreshPackagesNoopWithoutDevice(t *testing.T) {
	s := newTestDeviceService(t)
	if err := s.RefreshPackages(); err != nil {
		t.Fatalf("RefreshPackages() with no device = %v, want nil", err)
	}
}

func TestDeviceServiceOnDeviceChangedIgnoresNilContext(t *testing.T) {
	logger := log.New(os.Stderr, "test ", 0)
	handler := adb.NewHandler("adb", nil, nil)
	s := NewDeviceService(nil, logger, handler)

	// Must not panic even though no Wails context has been set yet.
	s.OnDeviceChanged(nil)
	s.OnStateChanged(adb.AdbState(""))
}
