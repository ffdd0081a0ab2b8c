package simulator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mobileci/xtr/internal/plist"
)

// OS is a simulator OS family as spelled in runtime names.
type OS string

const (
	OSiOS     OS = "iOS"
	OSTvOS    OS = "tvOS"
	OSWatchOS OS = "watchOS"
)

// State is a simulator device state.
type State string

const (
	StateCreating State = "Creating"
	StateShutdown State = "Shutdown"
	StateBooted   State = "Booted"
	StateUnknown  State = "Unknown"
)

// device.plist encodes the state as an integer.
var stateCodes = map[uint64]State{
	0: StateCreating,
	1: StateShutdown,
	3: StateBooted,
}

const (
	stateCheckInterval = 500 * time.Millisecond

	// DefaultBootTimeout bounds the wait for a device to reach Booted.
	DefaultBootTimeout = 10 * time.Second
	// DefaultShutdownTimeout bounds the wait for a device to reach Shutdown.
	DefaultShutdownTimeout = 30 * time.Second
	// DefaultCreateTimeout bounds the Creating -> Shutdown transition after
	// `simctl create`.
	DefaultCreateTimeout = 10 * time.Second
)

// Device is a handle on one simulator identified by UDID.
type Device struct {
	UDID string

	mgr *Manager
}

// Device returns a handle for the simulator with the given UDID.
func (m *Manager) Device(udid string) *Device {
	return &Device{UDID: udid, mgr: m}
}

// RootDir returns the device's CoreSimulator data directory.
func (d *Device) RootDir() string {
	return filepath.Join(d.mgr.DevicesRoot, d.UDID)
}

// LogRootDir returns the device's log directory.
func (d *Device) LogRootDir() string {
	return filepath.Join(d.mgr.LogsRoot, d.UDID)
}

// SystemLogPath returns the device's system.log path. The executor tails it
// to sniff launch crashes.
func (d *Device) SystemLogPath() string {
	return filepath.Join(d.LogRootDir(), "system.log")
}

// State reads the device's current state from its device.plist. A missing
// plist means the device is still being created.
func (d *Device) State() State {
	devicePlist := filepath.Join(d.RootDir(), "device.plist")
	if _, err := os.Stat(devicePlist); err != nil {
		return StateCreating
	}
	v, err := plist.NewFile(devicePlist).GetField("state")
	if err != nil {
		return StateUnknown
	}
	var code uint64
	switch n := v.(type) {
	case uint64:
		code = n
	case int64:
		code = uint64(n)
	default:
		return StateUnknown
	}
	state, ok := stateCodes[code]
	if !ok {
		return StateUnknown
	}
	return state
}

// WaitUntilState polls until the device reaches the wanted state or the
// timeout elapses.
func (d *Device) WaitUntilState(ctx context.Context, want State, timeout time.Duration) error {
	clk := d.mgr.clk
	deadline := clk.Now().Add(timeout)
	ticker := clk.Ticker(stateCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if d.State() == want {
				return nil
			}
			if clk.Now().After(deadline) {
				return errorf("timed out after %s waiting for simulator %s to become %s",
					timeout, d.UDID, want)
			}
		}
	}
}

// Boot boots the device and waits for it to reach Booted.
func (d *Device) Boot(ctx context.Context) error {
	if _, err := d.mgr.RunSimctl(ctx, "boot", d.UDID); err != nil {
		return err
	}
	return d.WaitUntilState(ctx, StateBooted, orDefault(d.mgr.BootTimeout, DefaultBootTimeout))
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// Shutdown shuts the device down and waits for it to reach Shutdown.
// A device that is already shut down is not an error; one that is still
// being created is.
func (d *Device) Shutdown(ctx context.Context) error {
	switch d.State() {
	case StateShutdown:
		return nil
	case StateCreating:
		return errorf("cannot shut down simulator %s in state Creating", d.UDID)
	}
	if _, err := d.mgr.RunSimctl(ctx, "shutdown", d.UDID); err != nil {
		if strings.Contains(err.Error(), "Unable to shutdown device in current state: Shutdown") {
			return nil
		}
		return fmt.Errorf("shutdown simulator %s: %w", d.UDID, err)
	}
	return d.WaitUntilState(ctx, StateShutdown, orDefault(d.mgr.ShutdownTimeout, DefaultShutdownTimeout))
}

// Delete removes the device. With async true the simctl call is left running
// detached and its outcome is not checked. Either way the device's leftover
// log directory is removed; `simctl delete` does not clean it.
func (d *Device) Delete(ctx context.Context, async bool) error {
	if async {
		cmd := exec.Command("xcrun", "simctl", "delete", d.UDID)
		if err := cmd.Start(); err != nil {
			return errorf("start async delete of %s: %v", d.UDID, err)
		}
		go func() { _ = cmd.Wait() }()
	} else {
		if _, err := d.mgr.RunSimctl(ctx, "delete", d.UDID); err != nil {
			return fmt.Errorf("delete simulator %s: %w", d.UDID, err)
		}
	}
	_ = os.RemoveAll(d.LogRootDir())
	return nil
}

// IsAppInstalled reports whether the app is installed on the device.
// simctl get_app_container fails for unknown bundle ids.
func (d *Device) IsAppInstalled(ctx context.Context, bundleID string) bool {
	_, err := d.mgr.RunSimctl(ctx, "get_app_container", d.UDID, bundleID)
	return err == nil
}

// FetchLog writes the device's unified log (log show --style syslog) into
// the given file.
func (d *Device) FetchLog(ctx context.Context, outputPath string, start, end time.Time) error {
	args := []string{"spawn", d.UDID, "log", "show", "--style", "syslog"}
	if !start.IsZero() {
		args = append(args, "--start", start.Format("2006-01-02 15:04:05"))
	}
	if !end.IsZero() {
		args = append(args, "--end", end.Format("2006-01-02 15:04:05"))
	}
	out, err := d.mgr.RunSimctl(ctx, args...)
	if err != nil {
		return fmt.Errorf("fetch log of simulator %s: %w", d.UDID, err)
	}
	return os.WriteFile(outputPath, []byte(out), 0o644)
}
