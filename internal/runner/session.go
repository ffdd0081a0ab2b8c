package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mobileci/xtr/internal/bundle"
	"github.com/mobileci/xtr/internal/simulator"
	"github.com/mobileci/xtr/internal/xcode"
)

// Session prepares the bundles for one test run, executes it and cleans up.
// The zero value is not usable, fill the exported fields and call Prepare.
type Session struct {
	Xcode *xcode.Info
	// Sim is required for simulator destinations.
	Sim *simulator.Manager
	// SDK is xcode.SDKIphoneOS or SDKIphoneSimulator.
	SDK      string
	DeviceID string

	// AppPath is the app under test as supplied by the caller, an .app
	// directory or an .ipa archive. Optional for logic tests.
	AppPath string
	// TestBundlePath is the test bundle as supplied, .xctest, .ipa or
	// .zip. Required unless XctestrunPath is set.
	TestBundlePath string
	// XctestrunPath runs a caller-provided xctestrun file instead of
	// generating one.
	XctestrunPath string
	// TestType is autodetected from the test bundle when empty.
	TestType TestType

	LaunchOptions  *LaunchOptions
	SigningOptions *SigningOptions

	// WorkDir and OutputDir are created if missing and kept after the
	// run. When empty, temp dirs are used and removed on Close.
	WorkDir   string
	OutputDir string

	Stdout io.Writer
	Logger *zap.SugaredLogger

	workDir    string
	outputDir  string
	tempWork   bool
	tempOutput bool

	appDir        string
	testBundleDir string
	appBundleID   string
	testType      TestType
	prepared      bool
}

// Prepare resolves directories, unpacks bundles and decides the test type.
func (s *Session) Prepare(ctx context.Context) error {
	if s.TestBundlePath == "" && s.XctestrunPath == "" {
		return argumentErrorf("either a test bundle or an xctestrun file is required")
	}
	if err := s.resolveDirs(); err != nil {
		return err
	}
	if s.XctestrunPath != "" {
		s.testType = s.TestType
		if s.testType == "" {
			s.testType = TestTypeXCTest
		}
		s.prepared = true
		return nil
	}
	if err := s.prepareBundles(ctx); err != nil {
		return err
	}
	if err := s.decideTestType(); err != nil {
		return err
	}
	s.prepared = true
	s.logger().Debugw("session prepared",
		"testType", s.testType, "workDir", s.workDir, "outputDir", s.outputDir,
		"app", s.appDir, "testBundle", s.testBundleDir)
	return nil
}

// RunTest executes the prepared session and returns the classified result
// plus the combined tool output.
func (s *Session) RunTest(ctx context.Context) (ExitCode, string, error) {
	if !s.prepared {
		return CodeError, "", fmt.Errorf("session: RunTest before Prepare")
	}
	if s.testType == TestTypeLogicTest {
		lt := &LogicTest{
			Xcode:          s.Xcode,
			DeviceID:       s.DeviceID,
			TestBundlePath: s.testBundleDir,
			WorkDir:        s.workDir,
			Stdout:         s.Stdout,
			Logger:         s.Logger,
		}
		return lt.Run(ctx, s.LaunchOptions)
	}
	run, err := s.xctestRun()
	if err != nil {
		return CodeError, "", err
	}
	if err := run.ApplyLaunchOptions(s.LaunchOptions); err != nil {
		return CodeError, "", err
	}
	opts := s.launchOptions()
	exe := &Executor{
		Command:        run.RunCommand(s.DeviceID, s.outputDir, opts.DestinationTimeoutSec),
		SDK:            s.SDK,
		TestType:       s.testType,
		DeviceID:       s.DeviceID,
		AppBundleID:    s.appBundleID,
		StartupTimeout: time.Duration(opts.StartupTimeoutSec) * time.Second,
		Stdout:         s.Stdout,
		Logger:         s.Logger,
		Sim:            s.Sim,
		Xcode:          s.Xcode,
	}
	code, output, err := exe.Execute(ctx)
	if err != nil {
		return code, output, err
	}
	s.exposeResults(ctx, code)
	return code, output, nil
}

// exposeResults post-processes the derived data dir after an xcodebuild run:
// TestSummaries attachments are pruned down to crash reports and failure
// screenshots, and on Xcode 11+ the .xcresult bundle's diagnostics and
// failure attachments are exported next to them. Failures here never fail
// the run.
func (s *Session) exposeResults(ctx context.Context, code ExitCode) {
	keepScreenshots := s.launchOptions().UITestAutoScreenshots && code != CodeSucceeded
	attachmentsDir := filepath.Join(s.outputDir, "Logs", "Test", "Attachments")
	summaries, _ := filepath.Glob(filepath.Join(s.outputDir, "Logs", "Test", "*_TestSummaries.plist"))
	for _, path := range summaries {
		if err := pruneTestSummaries(path, attachmentsDir, keepScreenshots); err != nil {
			s.logger().Warnw("failed to prune test summaries", "path", path, "error", err)
		}
	}
	if s.Xcode == nil {
		return
	}
	if v, err := s.Xcode.VersionNumber(); err != nil || v < 1100 {
		return
	}
	results, _ := filepath.Glob(filepath.Join(s.outputDir, "Logs", "Test", "*.xcresult"))
	for _, path := range results {
		exposer := &XcresultExposer{Xcode: s.Xcode, Logger: s.Logger}
		if err := exposer.Expose(ctx, path, s.outputDir); err != nil {
			s.logger().Warnw("failed to expose xcresult", "path", path, "error", err)
		}
	}
}

// EffectiveTestType returns the test type decided during Prepare.
func (s *Session) EffectiveTestType() TestType { return s.testType }

// ResolvedOutputDir returns the directory holding derived data and result
// bundles after Prepare.
func (s *Session) ResolvedOutputDir() string { return s.outputDir }

// Close removes any temp directories the session created.
func (s *Session) Close() error {
	var firstErr error
	if s.tempWork && s.workDir != "" {
		if err := os.RemoveAll(s.workDir); err != nil && firstErr == nil {
			firstErr = err
		}
		s.workDir = ""
	}
	if s.tempOutput && s.outputDir != "" {
		if err := os.RemoveAll(s.outputDir); err != nil && firstErr == nil {
			firstErr = err
		}
		s.outputDir = ""
	}
	return firstErr
}

func (s *Session) xctestRun() (*XctestRun, error) {
	if s.XctestrunPath != "" {
		return OpenXctestRun(s.XctestrunPath, s.testType)
	}
	gen := &Generator{
		Xcode:           s.Xcode,
		SDK:             s.SDK,
		TestType:        s.testType,
		WorkDir:         s.workDir,
		AppPath:         s.appDir,
		TestBundlePath:  s.testBundleDir,
		Signing:         s.SigningOptions,
		AutoScreenshots: s.launchOptions().UITestAutoScreenshots,
		Logger:          s.Logger,
	}
	return gen.Generate()
}

func (s *Session) launchOptions() *LaunchOptions {
	if s.LaunchOptions == nil {
		return &LaunchOptions{}
	}
	return s.LaunchOptions
}

func (s *Session) resolveDirs() error {
	var err error
	s.workDir, s.tempWork, err = resolveDir(s.WorkDir, "xtr-work-*")
	if err != nil {
		return err
	}
	s.outputDir, s.tempOutput, err = resolveDir(s.OutputDir, "xtr-output-*")
	return err
}

func resolveDir(dir, tempPattern string) (string, bool, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", false, fmt.Errorf("create dir %s: %w", dir, err)
		}
		return dir, false, nil
	}
	tmp, err := os.MkdirTemp("", tempPattern)
	if err != nil {
		return "", false, fmt.Errorf("create temp dir: %w", err)
	}
	return tmp, true, nil
}

func (s *Session) prepareBundles(_ context.Context) error {
	if s.AppPath != "" {
		appDir, err := s.prepareBundle(s.AppPath, ".app", bundle.ExtractApp)
		if err != nil {
			return err
		}
		s.appDir = appDir
		id, err := bundle.ID(appDir)
		if err != nil {
			return err
		}
		s.appBundleID = id
	}
	testDir, err := s.prepareBundle(s.TestBundlePath, ".xctest", bundle.ExtractTestBundle)
	if err != nil {
		return err
	}
	s.testBundleDir = testDir
	return nil
}

// prepareBundle materializes one bundle inside the work dir: archives are
// extracted, plain bundles are copied unless they already live under the
// work dir.
func (s *Session) prepareBundle(path, ext string, extract func(string, string) (string, error)) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ext:
		if inDir(path, s.workDir) {
			return path, nil
		}
		dst := filepath.Join(s.workDir, filepath.Base(path))
		if err := bundle.CopyDir(path, dst); err != nil {
			return "", err
		}
		return dst, nil
	case ".ipa", ".zip":
		return extract(path, s.workDir)
	}
	return "", argumentErrorf("unsupported bundle extension %q, want %s, .ipa or .zip",
		filepath.Ext(path), ext)
}

func inDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// decideTestType applies the detection and fallback rules: a unit test
// bundle with no host app runs as a logic test on the simulator and is an
// error on a device.
func (s *Session) decideTestType() error {
	tt := s.TestType
	if tt == "" {
		detected, err := DetectTestType(s.testBundleDir)
		if err != nil {
			return err
		}
		tt = detected
	}
	switch tt {
	case TestTypeXCUITest:
		if s.appDir == "" {
			return argumentErrorf("xcuitest requires an app under test")
		}
	case TestTypeXCTest:
		if s.appDir == "" {
			if s.SDK != xcode.SDKIphoneSimulator {
				return argumentErrorf("xctest without an app under test only runs on simulators")
			}
			tt = TestTypeLogicTest
		}
	case TestTypeLogicTest:
		if s.appDir != "" {
			tt = TestTypeXCTest
		} else if s.SDK != xcode.SDKIphoneSimulator {
			return argumentErrorf("logic tests only run on simulators")
		}
	}
	s.testType = tt
	return nil
}

func (s *Session) logger() *zap.SugaredLogger {
	if s.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return s.Logger
}
