package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mobileci/xtr/internal/bundle"
	"github.com/mobileci/xtr/internal/plist"
	"github.com/mobileci/xtr/internal/xcode"
)

// rootTargetKey is the test target key of generated xctestrun files.
const rootTargetKey = "XTRTestTarget"

const xctestrunFileName = "xtr.xctestrun"

// XctestRun is an xctestrun configuration file plus the name of the test
// target inside it. Mutations write through to the file so xcodebuild sees
// them.
type XctestRun struct {
	file     *plist.File
	target   string
	testType TestType
}

// OpenXctestRun loads a user-supplied xctestrun file and locates its test
// target key.
func OpenXctestRun(path string, testType TestType) (*XctestRun, error) {
	f := plist.NewFile(path)
	root, err := f.Root()
	if err != nil {
		return nil, fmt.Errorf("open xctestrun: %w", err)
	}
	dict, ok := root.(map[string]interface{})
	if !ok {
		return nil, argumentErrorf("%s: xctestrun root is not a dict", path)
	}
	keys := make([]string, 0, len(dict))
	for k := range dict {
		if strings.HasPrefix(k, "__xctestrun_metadata__") {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, argumentErrorf("%s: no test target in xctestrun file", path)
	}
	sort.Strings(keys)
	return &XctestRun{file: f, target: keys[0], testType: testType}, nil
}

func (r *XctestRun) Path() string { return r.file.Path() }

// SetTestEnvVars merges env into the test runner's environment.
func (r *XctestRun) SetTestEnvVars(env map[string]string) error {
	return r.mergeEnv("EnvironmentVariables", env)
}

// SetTestArgs replaces the test runner's command line arguments.
func (r *XctestRun) SetTestArgs(args []string) error {
	return r.setField("CommandLineArguments", toInterfaces(args))
}

// SetTestsToRun restricts the run to the given Class or Class/testMethod
// identifiers. "All" or an empty list lifts the restriction.
func (r *XctestRun) SetTestsToRun(ids []string) error {
	for _, id := range ids {
		if id == "All" {
			ids = nil
			break
		}
	}
	if len(ids) == 0 {
		return r.deleteField("OnlyTestIdentifiers")
	}
	return r.setField("OnlyTestIdentifiers", toInterfaces(ids))
}

// SetSkipTests excludes the given identifiers from the run.
func (r *XctestRun) SetSkipTests(ids []string) error {
	if len(ids) == 0 {
		return r.deleteField("SkipTestIdentifiers")
	}
	return r.setField("SkipTestIdentifiers", toInterfaces(ids))
}

// SetAppUnderTestEnvVars merges env into the app under test's environment.
// For unit tests the app hosts the tests, so the runner environment is the
// app environment.
func (r *XctestRun) SetAppUnderTestEnvVars(env map[string]string) error {
	if r.testType == TestTypeXCUITest {
		return r.mergeEnv("UITargetAppEnvironmentVariables", env)
	}
	return r.mergeEnv("EnvironmentVariables", env)
}

// SetAppUnderTestArgs replaces the app under test's command line arguments.
func (r *XctestRun) SetAppUnderTestArgs(args []string) error {
	if r.testType == TestTypeXCUITest {
		return r.setField("UITargetAppCommandLineArguments", toInterfaces(args))
	}
	return r.setField("CommandLineArguments", toInterfaces(args))
}

// ApplyLaunchOptions writes every launch option that lives in the xctestrun
// file.
func (r *XctestRun) ApplyLaunchOptions(opts *LaunchOptions) error {
	if opts == nil {
		return nil
	}
	if len(opts.EnvVars) > 0 {
		if err := r.SetTestEnvVars(opts.EnvVars); err != nil {
			return err
		}
	}
	if len(opts.Args) > 0 {
		if err := r.SetTestArgs(opts.Args); err != nil {
			return err
		}
	}
	if err := r.SetTestsToRun(opts.TestsToRun); err != nil {
		return err
	}
	if len(opts.SkipTests) > 0 {
		if err := r.SetSkipTests(opts.SkipTests); err != nil {
			return err
		}
	}
	if len(opts.AppUnderTestEnvVars) > 0 {
		if err := r.SetAppUnderTestEnvVars(opts.AppUnderTestEnvVars); err != nil {
			return err
		}
	}
	if len(opts.AppUnderTestArgs) > 0 {
		if err := r.SetAppUnderTestArgs(opts.AppUnderTestArgs); err != nil {
			return err
		}
	}
	return nil
}

// GetField reads a field under the test target, for inspection.
func (r *XctestRun) GetField(field string) (interface{}, error) {
	return r.file.GetField(r.target + ":" + field)
}

// DeleteField removes a field under the test target. Missing fields are not
// an error.
func (r *XctestRun) DeleteField(field string) error {
	return r.deleteField(field)
}

// RunCommand builds the xcodebuild argv that executes this configuration
// against the given destination.
func (r *XctestRun) RunCommand(udid, outputDir string, destinationTimeoutSec int) []string {
	cmd := []string{
		"xcodebuild", "test-without-building",
		"-xctestrun", r.file.Path(),
		"-destination", "id=" + udid,
	}
	if destinationTimeoutSec > 0 {
		cmd = append(cmd, "-destination-timeout", strconv.Itoa(destinationTimeoutSec))
	}
	return append(cmd, "-derivedDataPath", outputDir)
}

func (r *XctestRun) setField(field string, value interface{}) error {
	return r.file.SetField(r.target+":"+field, value)
}

func (r *XctestRun) deleteField(field string) error {
	path := r.target + ":" + field
	if !r.file.HasField(path) {
		return nil
	}
	return r.file.DeleteField(path)
}

func (r *XctestRun) mergeEnv(field string, env map[string]string) error {
	path := r.target + ":" + field
	if !r.file.HasField(path) {
		if err := r.file.SetField(path, map[string]interface{}{}); err != nil {
			return err
		}
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := r.file.SetField(path+":"+k, env[k]); err != nil {
			return err
		}
	}
	return nil
}

func toInterfaces(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Generator builds an xctestrun file and its test host layout from prepared
// .app and .xctest bundles.
type Generator struct {
	Xcode *xcode.Info
	// SDK is xcode.SDKIphoneOS or SDKIphoneSimulator.
	SDK      string
	TestType TestType
	// WorkDir receives the xctestrun file and, for UI tests, the staged
	// runner app.
	WorkDir string
	// AppPath is the app under test bundle. Required.
	AppPath string
	// TestBundlePath is the .xctest bundle.
	TestBundlePath string
	Signing        *SigningOptions
	// AutoScreenshots keeps automatic UI test attachments instead of
	// discarding them.
	AutoScreenshots bool
	Logger          *zap.SugaredLogger
}

// Generate stages the test host and writes the xctestrun file.
func (g *Generator) Generate() (*XctestRun, error) {
	switch g.TestType {
	case TestTypeXCTest:
		return g.generateXctest()
	case TestTypeXCUITest:
		return g.generateXcuitest()
	}
	return nil, argumentErrorf("no xctestrun file for test type %q", g.TestType)
}

func (g *Generator) generateXctest() (*XctestRun, error) {
	embedded, err := g.embedTestBundle(g.AppPath)
	if err != nil {
		return nil, err
	}
	appExecutable := filepath.Base(bundle.ExecutablePath(g.AppPath))
	target := map[string]interface{}{
		"TestHostPath":   g.AppPath,
		"TestBundlePath": "__TESTHOST__/PlugIns/" + filepath.Base(embedded),
		"TestingEnvironmentVariables": map[string]interface{}{
			"DYLD_FRAMEWORK_PATH":     g.platformFrameworksPath(),
			"DYLD_LIBRARY_PATH":       g.platformLibraryPath(),
			"XCInjectBundlesIntoHost": "__TESTHOST__/" + appExecutable,
		},
	}
	return g.write(target)
}

func (g *Generator) generateXcuitest() (*XctestRun, error) {
	runnerPath, err := g.stageRunner()
	if err != nil {
		return nil, err
	}
	embedded, err := g.embedTestBundle(runnerPath)
	if err != nil {
		return nil, err
	}
	if g.SDK == xcode.SDKIphoneOS {
		if err := g.signRunner(runnerPath); err != nil {
			return nil, err
		}
	}
	target := map[string]interface{}{
		"TestHostPath":    runnerPath,
		"TestBundlePath":  "__TESTHOST__/PlugIns/" + filepath.Base(embedded),
		"UITargetAppPath": g.AppPath,
		"IsUITestBundle":  true,
		"TestingEnvironmentVariables": map[string]interface{}{
			"DYLD_FRAMEWORK_PATH": g.platformFrameworksPath(),
			"DYLD_LIBRARY_PATH":   g.platformLibraryPath(),
		},
	}
	if !g.AutoScreenshots {
		target["SystemAttachmentLifetime"] = "keepNever"
	}
	return g.write(target)
}

func (g *Generator) write(target map[string]interface{}) (*XctestRun, error) {
	f := plist.NewFile(filepath.Join(g.WorkDir, xctestrunFileName))
	if err := f.SetField("", map[string]interface{}{rootTargetKey: target}); err != nil {
		return nil, fmt.Errorf("write xctestrun: %w", err)
	}
	g.logger().Debugw("generated xctestrun", "path", f.Path(), "testType", g.TestType)
	return &XctestRun{file: f, target: rootTargetKey, testType: g.TestType}, nil
}

// stageRunner copies the XCTRunner.app template into the work dir under the
// test bundle's name and rewrites its identity.
func (g *Generator) stageRunner() (string, error) {
	template, err := g.Xcode.XCTRunnerTemplatePath(g.SDK)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(template); err != nil {
		return "", fmt.Errorf("XCTRunner.app template: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(g.TestBundlePath), filepath.Ext(g.TestBundlePath))
	runnerPath := filepath.Join(g.WorkDir, base+"-Runner.app")
	if err := bundle.CopyDir(template, runnerPath); err != nil {
		return "", fmt.Errorf("stage runner: %w", err)
	}
	bundleID, err := bundle.ID(g.TestBundlePath)
	if err != nil {
		return "", err
	}
	info := plist.NewFile(filepath.Join(runnerPath, "Info.plist"))
	if err := info.SetField("CFBundleName", base+"-Runner"); err != nil {
		return "", err
	}
	if err := info.SetField("CFBundleIdentifier", bundleID+".xctrunner"); err != nil {
		return "", err
	}
	return runnerPath, nil
}

// signRunner signs the staged runner for device runs with the app under
// test's identity and the configured provisioning profile.
func (g *Generator) signRunner(runnerPath string) error {
	signing := g.Signing
	if signing == nil {
		signing = &SigningOptions{}
	}
	if signing.XctrunnerAppProvisioningProfile != "" {
		data, err := os.ReadFile(signing.XctrunnerAppProvisioningProfile)
		if err != nil {
			return argumentErrorf("read provisioning profile: %v", err)
		}
		dst := filepath.Join(runnerPath, "embedded.mobileprovision")
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("embed provisioning profile: %w", err)
		}
	}
	if signing.XctrunnerAppEnableUIFileSharing {
		if err := bundle.EnableUIFileSharing(runnerPath, false); err != nil {
			return err
		}
	}
	identity, err := bundle.CodesignIdentity(g.AppPath)
	if err != nil {
		return err
	}
	return bundle.Codesign(runnerPath, "", identity, signing.KeychainPath)
}

// embedTestBundle copies the .xctest bundle into the host's PlugIns dir.
func (g *Generator) embedTestBundle(hostPath string) (string, error) {
	dst := filepath.Join(hostPath, "PlugIns", filepath.Base(g.TestBundlePath))
	if dst == g.TestBundlePath {
		return dst, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("embed test bundle: %w", err)
	}
	if err := bundle.CopyDir(g.TestBundlePath, dst); err != nil {
		return "", fmt.Errorf("embed test bundle: %w", err)
	}
	return dst, nil
}

func (g *Generator) platformName() string {
	if g.SDK == xcode.SDKIphoneOS {
		return "iPhoneOS"
	}
	return "iPhoneSimulator"
}

func (g *Generator) platformFrameworksPath() string {
	return "__PLATFORMS__/" + g.platformName() + ".platform/Developer/Library/Frameworks"
}

func (g *Generator) platformLibraryPath() string {
	return "__PLATFORMS__/" + g.platformName() + ".platform/Developer/usr/lib"
}

func (g *Generator) logger() *zap.SugaredLogger {
	if g.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return g.Logger
}
