package cli

import (
	"context"
	"path/filepath"
	"time"

	"github.com/mobileci/xtr/internal/runner"
	"github.com/mobileci/xtr/internal/simulator"
	"github.com/mobileci/xtr/internal/xcode"
)

// maxSimulatorTestAttempts bounds the recreate/reboot retry loop.
const maxSimulatorTestAttempts = 3

// SimulatorTestCmd creates a fresh simulator, runs the tests on it and
// always tears it down.
type SimulatorTestCmd struct {
	DeviceType string `help:"Simulator device type, e.g. 'iPhone 15' (latest iPhone when empty)" default:"${config_device_type}"`
	OSVersion  string `help:"Simulator OS version, e.g. '17.2' (newest supported when empty)" default:"${config_os_version}"`
	NamePrefix string `help:"Name prefix for the throwaway simulator" default:"${config_name_prefix}"`

	testFlags
}

// Run executes the simulator-test command
func (c *SimulatorTestCmd) Run(globals *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	started := time.Now()
	mgr := simulator.NewManager()
	created, err := mgr.CreateNew(ctx, simulator.CreateOptions{
		DeviceType: c.DeviceType,
		OSVersion:  c.OSVersion,
		NamePrefix: c.NamePrefix,
	})
	if err != nil {
		return commandError(globals, err)
	}
	globals.Debug("Created simulator %s (%s, iOS %s)",
		created.Device.UDID, created.DeviceType, created.OSVersion)
	defer func() {
		if created != nil {
			created.Device.Delete(context.Background(), true)
		}
	}()

	var (
		code     runner.ExitCode
		testType runner.TestType
		outDir   string
	)
	for attempt := 1; attempt <= maxSimulatorTestAttempts; attempt++ {
		sess, err := c.buildSession(globals, xcode.SDKIphoneSimulator, created.Device.UDID, mgr)
		if err != nil {
			return commandError(globals, err)
		}
		code, err = runSession(ctx, sess)
		testType = sess.EffectiveTestType()
		outDir = sess.ResolvedOutputDir()
		if err != nil {
			return commandError(globals, err)
		}
		if attempt == maxSimulatorTestAttempts {
			break
		}
		switch code {
		case runner.CodeNeedRecreateSim:
			globals.Debug("Attempt %d needs a new simulator, recreating", attempt)
			created.Device.Delete(ctx, false)
			created, err = mgr.CreateNew(ctx, simulator.CreateOptions{
				DeviceType: c.DeviceType,
				OSVersion:  c.OSVersion,
				NamePrefix: c.NamePrefix,
			})
			if err != nil {
				return commandError(globals, err)
			}
		case runner.CodeNeedRebootDevice:
			globals.Debug("Attempt %d needs a simulator reboot, shutting down for reuse", attempt)
			if err := created.Device.Shutdown(ctx); err != nil {
				return commandError(globals, err)
			}
		default:
			return c.finish(ctx, globals, created, code, testType, outDir, started)
		}
	}
	return c.finish(ctx, globals, created, code, testType, outDir, started)
}

// finish saves the simulator's system log next to the results when the run
// did not pass, then emits the result record.
func (c *SimulatorTestCmd) finish(ctx context.Context, globals *Globals, created *simulator.CreatedDevice,
	code runner.ExitCode, testType runner.TestType, outDir string, started time.Time) error {
	if code != runner.CodeSucceeded && outDir != "" {
		logPath := filepath.Join(outDir, "simulator_system.log")
		if err := created.Device.FetchLog(ctx, logPath, started, time.Now()); err != nil {
			globals.Debug("Could not fetch the simulator log: %v", err)
		} else {
			globals.Debug("Saved the simulator log to %s", logPath)
		}
	}
	return emitResult(globals, code, created.Device.UDID, testType, outDir)
}
