package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mobileci/xtr/internal/runner"
	"github.com/mobileci/xtr/internal/simulator"
	"github.com/mobileci/xtr/internal/xcode"
)

// testFlags are the run options shared by the test and simulator-test
// commands.
type testFlags struct {
	AppUnderTest   string `help:"App under test, an .app bundle or .ipa archive" type:"path"`
	TestBundle     string `help:"Test bundle, an .xctest bundle or .ipa/.zip archive" type:"path"`
	Xctestrun      string `help:"Run an existing xctestrun file instead of generating one" type:"path"`
	TestType       string `help:"Test type: xctest, xcuitest or logic-test (autodetected when empty)" default:"${config_test_type}"`
	LaunchOptions  string `help:"Launch options as inline JSON or @file"`
	SigningOptions string `help:"Signing options as inline JSON or @file"`
	WorkDir        string `help:"Scratch directory, kept after the run (temp dir when empty)" default:"${config_work_dir}"`
	OutputDir      string `help:"Result directory for derived data (temp dir when empty)" default:"${config_output_dir}"`

	StartupTimeout     int `help:"Seconds to wait for the first test suite to start" default:"${config_startup_timeout}"`
	DestinationTimeout int `help:"Seconds xcodebuild waits for the destination" default:"${config_destination_timeout}"`
}

// buildSession translates the shared flags into a runner session for the
// given destination.
func (f *testFlags) buildSession(globals *Globals, sdk, deviceID string, sim *simulator.Manager) (*runner.Session, error) {
	launchOpts, err := runner.ParseLaunchOptions(f.LaunchOptions)
	if err != nil {
		return nil, err
	}
	if launchOpts.StartupTimeoutSec == 0 {
		launchOpts.StartupTimeoutSec = f.StartupTimeout
	}
	if launchOpts.DestinationTimeoutSec == 0 {
		launchOpts.DestinationTimeoutSec = f.DestinationTimeout
	}
	signingOpts, err := runner.ParseSigningOptions(f.SigningOptions)
	if err != nil {
		return nil, err
	}
	var testType runner.TestType
	if f.TestType != "" {
		testType, err = runner.ParseTestType(f.TestType)
		if err != nil {
			return nil, err
		}
	}
	return &runner.Session{
		Xcode:          xcode.NewInfo(),
		Sim:            sim,
		SDK:            sdk,
		DeviceID:       deviceID,
		AppPath:        f.AppUnderTest,
		TestBundlePath: f.TestBundle,
		XctestrunPath:  f.Xctestrun,
		TestType:       testType,
		LaunchOptions:  launchOpts,
		SigningOptions: signingOpts,
		WorkDir:        f.WorkDir,
		OutputDir:      f.OutputDir,
		Stdout:         globals.Stdout,
		Logger:         globals.SugaredLogger(),
	}, nil
}

// runSession prepares, runs and closes one session.
func runSession(ctx context.Context, s *runner.Session) (runner.ExitCode, error) {
	if err := s.Prepare(ctx); err != nil {
		return runner.CodeError, err
	}
	defer s.Close()
	code, _, err := s.RunTest(ctx)
	return code, err
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

// TestCmd runs tests against a device or simulator that already exists.
type TestCmd struct {
	DeviceID string `required:"" help:"UDID of the target device or simulator"`
	SDK      string `enum:"iphoneos,iphonesimulator" default:"iphonesimulator" help:"Target platform of the device"`

	testFlags
}

// Run executes the test command
func (c *TestCmd) Run(globals *Globals) error {
	ctx, cancel := signalContext()
	defer cancel()

	var sim *simulator.Manager
	if c.SDK == xcode.SDKIphoneSimulator {
		sim = simulator.NewManager()
	}
	globals.Debug("Preparing test session for device %s (%s)", c.DeviceID, c.SDK)
	sess, err := c.buildSession(globals, c.SDK, c.DeviceID, sim)
	if err != nil {
		return commandError(globals, err)
	}
	code, err := runSession(ctx, sess)
	if err != nil {
		return commandError(globals, err)
	}
	return emitResult(globals, code, c.DeviceID, sess.EffectiveTestType(), sess.ResolvedOutputDir())
}
