// Package simulator manages iOS simulator lifecycle through `xcrun simctl`:
// create, boot, shutdown, delete, state tracking via device.plist, and the
// device-type/runtime catalogs.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"

	"github.com/mobileci/xtr/internal/xcode"
)

// Known CoreSimulator failure signatures surfaced by simctl.
const (
	coreSimInterruptedError = "CoreSimulatorService connection interrupted"
	coreSimChangeError      = "CoreSimulator detected Xcode.app relocation or " +
		"CoreSimulatorService version change."
)

const simctlMaxAttempts = 2

// Error reports a simulator-layer failure. The simulator_test retry loop
// keys off this type.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "simulator: " + e.Msg }

func errorf(format string, args ...interface{}) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// Manager runs simctl commands and hands out Device handles. The directory
// roots are overridable so tests can point them at a scratch dir.
type Manager struct {
	// DevicesRoot is where CoreSimulator keeps device.plist files,
	// normally ~/Library/Developer/CoreSimulator/Devices.
	DevicesRoot string
	// LogsRoot is the simulator log root, normally ~/Library/Logs/CoreSimulator.
	LogsRoot string
	// ProfilesDir overrides the device type profiles directory resolved from
	// the Xcode installation.
	ProfilesDir string
	// BootTimeout, ShutdownTimeout and CreateTimeout override the default
	// state-wait bounds when non-zero.
	BootTimeout     time.Duration
	ShutdownTimeout time.Duration
	CreateTimeout   time.Duration

	clk   clock.Clock
	xcode *xcode.Info
}

// NewManager returns a Manager rooted at the current user's CoreSimulator
// directories.
func NewManager() *Manager {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return &Manager{
		DevicesRoot: filepath.Join(home, "Library/Developer/CoreSimulator/Devices"),
		LogsRoot:    filepath.Join(home, "Library/Logs/CoreSimulator"),
		clk:         clock.New(),
		xcode:       xcode.NewInfo(),
	}
}

// WithClock replaces the clock used for state polling. Tests use a short
// real clock or a mock.
func (m *Manager) WithClock(clk clock.Clock) *Manager {
	m.clk = clk
	return m
}

// RunSimctl executes `xcrun simctl <args...>` and returns its trimmed output.
// A CoreSimulatorService interruption is retried once; the version-change
// notice on stderr is dropped from the reported output.
func (m *Manager) RunSimctl(ctx context.Context, args ...string) (string, error) {
	for attempt := 0; ; attempt++ {
		cmd := exec.CommandContext(ctx, "xcrun", append([]string{"simctl"}, args...)...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()

		var output string
		if strings.Contains(stderr.String(), coreSimChangeError) {
			output = strings.TrimSpace(stdout.String())
		} else {
			output = strings.TrimSpace(stdout.String() + "\n" + stderr.String())
		}
		if err == nil {
			return output, nil
		}
		if attempt < simctlMaxAttempts-1 && strings.Contains(output, coreSimInterruptedError) {
			continue
		}
		return "", errorf("simctl %s: %s", strings.Join(args, " "), output)
	}
}

// DeviceTypeInfo is one entry of `simctl list devicetypes -j`.
type DeviceTypeInfo struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier"`
}

// RuntimeInfo is one entry of `simctl list runtimes -j`.
type RuntimeInfo struct {
	Name         string `json:"name"`
	Identifier   string `json:"identifier"`
	Version      string `json:"version"`
	BundlePath   string `json:"bundlePath"`
	IsAvailable  bool   `json:"isAvailable"`
	Availability string `json:"availability"`
}

// DeviceInfo is one entry of `simctl list devices -j`.
type DeviceInfo struct {
	UDID                 string `json:"udid"`
	Name                 string `json:"name"`
	State                string `json:"state"`
	IsAvailable          bool   `json:"isAvailable"`
	DeviceTypeIdentifier string `json:"deviceTypeIdentifier"`
	Runtime              string `json:"-"`
}

// ListDeviceTypes returns the device type names known to simctl, optionally
// filtered to an OS family.
func (m *Manager) ListDeviceTypes(ctx context.Context, osType OS) ([]string, error) {
	out, err := m.RunSimctl(ctx, "list", "devicetypes", "-j")
	if err != nil {
		return nil, err
	}
	var payload struct {
		DeviceTypes []DeviceTypeInfo `json:"devicetypes"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		return nil, errorf("decode devicetypes list: %v", err)
	}
	names := lo.Map(payload.DeviceTypes, func(dt DeviceTypeInfo, _ int) string { return dt.Name })
	if osType == "" {
		return names, nil
	}
	return lo.Filter(names, func(name string, _ int) bool {
		return deviceTypeMatchesOS(name, osType)
	}), nil
}

// ListRuntimes returns every runtime entry known to simctl.
func (m *Manager) ListRuntimes(ctx context.Context) ([]RuntimeInfo, error) {
	out, err := m.RunSimctl(ctx, "list", "runtimes", "-j")
	if err != nil {
		return nil, err
	}
	var payload struct {
		Runtimes []RuntimeInfo `json:"runtimes"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		return nil, errorf("decode runtimes list: %v", err)
	}
	return payload.Runtimes, nil
}

// ListDevices returns every simulator device record, with each entry's
// Runtime field set to its runtime identifier.
func (m *Manager) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	out, err := m.RunSimctl(ctx, "list", "devices", "-j")
	if err != nil {
		return nil, err
	}
	var payload struct {
		Devices map[string][]DeviceInfo `json:"devices"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		return nil, errorf("decode devices list: %v", err)
	}
	var devices []DeviceInfo
	for runtime, list := range payload.Devices {
		for _, d := range list {
			d.Runtime = runtime
			devices = append(devices, d)
		}
	}
	return devices, nil
}

// HasDevice reports whether the given id belongs to a known simulator.
func (m *Manager) HasDevice(ctx context.Context, udid string) (bool, error) {
	devices, err := m.ListDevices(ctx)
	if err != nil {
		return false, err
	}
	return lo.SomeBy(devices, func(d DeviceInfo) bool { return d.UDID == udid }), nil
}

func deviceTypeMatchesOS(name string, osType OS) bool {
	switch osType {
	case OSiOS:
		return strings.HasPrefix(name, "i")
	case OSTvOS:
		return strings.Contains(name, "TV")
	case OSWatchOS:
		return strings.Contains(name, "Watch")
	}
	return false
}
