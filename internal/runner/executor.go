package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/mobileci/xtr/internal/simulator"
	"github.com/mobileci/xtr/internal/xcode"
)

const (
	// TestStartedSignal appears in xcodebuild output once the test bundle
	// has begun executing.
	TestStartedSignal = "Test Suite"

	// xcuitestRunningSignal appears when an XCUITest session is up on a
	// simulator; the runner may print it well before the first test suite.
	xcuitestRunningSignal = "Running tests..."

	succeededSignal = "** TEST EXECUTE SUCCEEDED **"
	failedSignal    = "** TEST EXECUTE FAILED **"

	DefaultStartupTimeout = 150 * time.Second

	simulatorMaxAttempts = 3
	deviceMaxAttempts    = 2
	deviceRetryDelay     = 5 * time.Second

	syslogTailLines = 200
)

var (
	deviceTypeNullPattern    = regexp.MustCompile(`DTDeviceKit: deviceType from .* was NULL`)
	frontboardUnknownPattern = regexp.MustCompile(`Application "[^"]*" is unknown to FrontBoard`)
)

var deviceRetrySignals = []string{
	"Lost connection to testmanagerd",
	"Lost connection to DTServiceHub",
}

// Executor runs a single xcodebuild test invocation and classifies the
// outcome, retrying the transient launch failures xcodebuild is known for.
type Executor struct {
	// Command is the full xcodebuild argv.
	Command []string
	// SDK is the target platform, xcode.SDKIphoneOS or SDKIphoneSimulator.
	SDK      string
	TestType TestType
	// DeviceID is the destination device or simulator UDID.
	DeviceID string
	// AppBundleID is the app under test, used to check whether the app is
	// still installed after a simulator launch failure. May be empty.
	AppBundleID string
	// StartupTimeout bounds the wait for the first test suite to start.
	StartupTimeout time.Duration
	// Stdout receives the live xcodebuild output.
	Stdout io.Writer
	Logger *zap.SugaredLogger

	// Sim is consulted for crash logs and installed-app checks on
	// simulator runs. Nil for device runs.
	Sim   *simulator.Manager
	Xcode *xcode.Info

	clk     clock.Clock
	backoff func() time.Duration
}

// WithClock substitutes the wall clock, for tests.
func (e *Executor) WithClock(clk clock.Clock) *Executor {
	e.clk = clk
	return e
}

func (e *Executor) clock() clock.Clock {
	if e.clk == nil {
		e.clk = clock.New()
	}
	return e.clk
}

func (e *Executor) logger() *zap.SugaredLogger {
	if e.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return e.Logger
}

func (e *Executor) startupTimeout() time.Duration {
	if e.StartupTimeout > 0 {
		return e.StartupTimeout
	}
	return DefaultStartupTimeout
}

func (e *Executor) randomBackoff() time.Duration {
	if e.backoff != nil {
		return e.backoff()
	}
	return time.Duration(rand.Int63n(int64(2 * time.Second)))
}

// Execute runs the command until it produces a classifiable result or the
// retry budget is exhausted. The returned output is the combined
// stdout+stderr of the final attempt.
func (e *Executor) Execute(ctx context.Context) (ExitCode, string, error) {
	maxAttempts := simulatorMaxAttempts
	if e.SDK == xcode.SDKIphoneOS {
		maxAttempts = deviceMaxAttempts
	}
	var (
		code   ExitCode
		output string
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := e.runOnce(ctx)
		if err != nil {
			return CodeError, res.output, err
		}
		output = res.output
		if e.SDK == xcode.SDKIphoneOS {
			e.cleanupEmbeddedAppDeltas(output)
		}

		var retry bool
		code, retry = e.classify(ctx, res, attempt, maxAttempts)
		if !retry {
			return code, output, nil
		}
		e.logger().Debugw("retrying test launch",
			"attempt", attempt, "maxAttempts", maxAttempts, "deviceID", e.DeviceID)
	}
	return code, output, nil
}

type runResult struct {
	output   string
	started  bool
	timedOut bool
}

func (e *Executor) runOnce(ctx context.Context) (runResult, error) {
	if len(e.Command) == 0 {
		return runResult{}, fmt.Errorf("executor: empty command")
	}
	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Env = append(os.Environ(), "NSUnbufferedIO=YES")

	signals := []string{TestStartedSignal}
	if e.TestType == TestTypeXCUITest && e.SDK == xcode.SDKIphoneSimulator {
		signals = append(signals, xcuitestRunningSignal)
	}
	sink := e.Stdout
	if sink == nil {
		sink = io.Discard
	}
	w := newSignalWriter(sink, signals)
	cmd.Stdout = w
	cmd.Stderr = w

	e.logger().Debugw("running xcodebuild", "command", strings.Join(e.Command, " "))
	if err := cmd.Start(); err != nil {
		return runResult{}, fmt.Errorf("start %s: %w", e.Command[0], err)
	}

	done := make(chan struct{})
	timedOut := make(chan struct{})
	go e.watchStartup(cmd, w, done, timedOut)

	err := cmd.Wait()
	close(done)
	res := runResult{output: w.String(), started: strings.Contains(w.String(), TestStartedSignal)}
	select {
	case <-timedOut:
		res.timedOut = true
	default:
	}
	if err != nil && ctx.Err() != nil {
		return res, ctx.Err()
	}
	// Non-zero exit is expected on test failure and launch failure; the
	// output decides what happened.
	return res, nil
}

// watchStartup kills xcodebuild if no test suite starts within the startup
// timeout. The process regularly hangs on a wedged simulator.
func (e *Executor) watchStartup(cmd *exec.Cmd, w *signalWriter, done <-chan struct{}, timedOut chan<- struct{}) {
	timer := e.clock().Timer(e.startupTimeout())
	defer timer.Stop()
	select {
	case <-timer.C:
		e.logger().Debugw("no test suite started before timeout, killing xcodebuild",
			"timeout", e.startupTimeout())
		close(timedOut)
		_ = cmd.Process.Kill()
	case <-w.signalled:
	case <-done:
	}
}

// classify maps one attempt's output to an exit code and a retry decision.
func (e *Executor) classify(ctx context.Context, res runResult, attempt, maxAttempts int) (ExitCode, bool) {
	if res.started {
		switch {
		case strings.Contains(res.output, succeededSignal):
			return CodeSucceeded, false
		case strings.Contains(res.output, failedSignal):
			return CodeFailed, false
		default:
			return CodeError, false
		}
	}
	if res.timedOut {
		if e.SDK == xcode.SDKIphoneOS {
			return CodeNeedRebootDevice, false
		}
		return CodeTestNotStart, false
	}
	if e.SDK == xcode.SDKIphoneOS {
		return e.classifyDeviceNotStarted(res.output, attempt, maxAttempts)
	}
	return e.classifySimulatorNotStarted(ctx, res.output, attempt, maxAttempts)
}

func (e *Executor) classifyDeviceNotStarted(output string, attempt, maxAttempts int) (ExitCode, bool) {
	if strings.Contains(output, "Too many instances of this service are already running") {
		return CodeNeedRebootDevice, false
	}
	retriable := deviceTypeNullPattern.MatchString(output)
	for _, sig := range deviceRetrySignals {
		retriable = retriable || strings.Contains(output, sig)
	}
	if retriable && attempt < maxAttempts {
		e.clock().Sleep(deviceRetryDelay)
		return CodeTestNotStart, true
	}
	return CodeTestNotStart, false
}

func (e *Executor) classifySimulatorNotStarted(ctx context.Context, output string, attempt, maxAttempts int) (ExitCode, bool) {
	if e.TestType == TestTypeXCUITest && strings.Contains(output, "Failed to background test runner") {
		return CodeNeedRebootDevice, false
	}
	if frontboardUnknownPattern.MatchString(output) ||
		strings.Contains(output, "The request was denied by service delegate (SBMainWorkspace) for reason") ||
		strings.Contains(output, "Failed to initiate service connection to simulator") {
		return CodeNeedRecreateSim, false
	}
	if attempt >= maxAttempts {
		return CodeTestNotStart, false
	}
	if strings.Contains(output, "The process did launch, but has since exited or crashed.") {
		return CodeTestNotStart, true
	}
	if strings.Contains(output, "CoreSimulatorService connection interrupted") {
		e.clock().Sleep(e.randomBackoff())
		return CodeTestNotStart, true
	}
	if e.simulatorCrashed(ctx) {
		return CodeTestNotStart, true
	}
	if e.appGone(ctx) {
		return CodeTestNotStart, true
	}
	return CodeTestNotStart, false
}

// simulatorCrashed inspects the tail of the simulator's system.log for
// launch-failure signatures.
func (e *Executor) simulatorCrashed(_ context.Context) bool {
	if e.Sim == nil {
		return false
	}
	dev := e.Sim.Device(e.DeviceID)
	tail, err := simulator.TailFile(dev.SystemLogPath(), syslogTailLines)
	if err != nil {
		return false
	}
	if e.TestType == TestTypeXCUITest && simulator.IsXctestFailedToLaunch(tail) {
		return true
	}
	return simulator.IsAppFailedToLaunch(tail, e.AppBundleID) ||
		simulator.IsCoreSimulatorCrash(tail)
}

// appGone reports whether the app under test vanished from the simulator,
// which happens when CoreSimulator wipes a wedged device's data partition.
func (e *Executor) appGone(ctx context.Context) bool {
	if e.Sim == nil || e.AppBundleID == "" {
		return false
	}
	return !e.Sim.Device(e.DeviceID).IsAppInstalled(ctx, e.AppBundleID)
}

// cleanupEmbeddedAppDeltas removes this run's incremental-install caches
// under Xcode's EmbeddedAppDeltas dir; stale deltas break subsequent
// installs. At most one cache dir per installed bundle: the app under test,
// plus the runner app for XCUITest.
func (e *Executor) cleanupEmbeddedAppDeltas(output string) {
	if e.Xcode == nil {
		return
	}
	deltasDir, err := e.Xcode.EmbeddedAppDeltasDir()
	if err != nil {
		return
	}
	maxDirs := 1
	if e.TestType == TestTypeXCUITest {
		maxDirs = 2
	}
	pattern := regexp.MustCompile("(" + regexp.QuoteMeta(deltasDir) + "/[a-z0-9]+)/")
	seen := map[string]bool{}
	for _, m := range pattern.FindAllStringSubmatch(output, -1) {
		dir := m[1]
		if seen[dir] {
			continue
		}
		seen[dir] = true
		e.logger().Debugw("removing EmbeddedAppDeltas cache", "path", dir)
		_ = os.RemoveAll(dir)
		if len(seen) == maxDirs {
			return
		}
	}
}

// signalWriter captures command output while watching for the first
// occurrence of any startup signal.
type signalWriter struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	sink      io.Writer
	signals   []string
	signalled chan struct{}
	seen      bool
}

func newSignalWriter(sink io.Writer, signals []string) *signalWriter {
	return &signalWriter{sink: sink, signals: signals, signalled: make(chan struct{})}
}

func (w *signalWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	if !w.seen {
		s := w.buf.String()
		for _, sig := range w.signals {
			if strings.Contains(s, sig) {
				w.seen = true
				close(w.signalled)
				break
			}
		}
	}
	return w.sink.Write(p)
}

func (w *signalWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
