package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mobileci/xtr/internal/bundle"
	"github.com/mobileci/xtr/internal/xcode"
)

// simctlChildPrefix marks environment variables simctl forwards into the
// spawned process.
const simctlChildPrefix = "SIMCTL_CHILD_"

// LogicTest runs an .xctest bundle directly through the platform xctest tool
// on a booted simulator, without any host app.
type LogicTest struct {
	Xcode    *xcode.Info
	DeviceID string
	// TestBundlePath is the .xctest bundle.
	TestBundlePath string
	// WorkDir holds a thinned copy of the xctest tool when one is needed.
	WorkDir string
	Stdout  io.Writer
	Logger  *zap.SugaredLogger
}

// Run spawns the tests and maps the process exit status to Succeeded or
// Failed.
func (l *LogicTest) Run(ctx context.Context, opts *LaunchOptions) (ExitCode, string, error) {
	if opts == nil {
		opts = &LaunchOptions{}
	}
	if len(opts.SkipTests) > 0 {
		l.logger().Warnw("skip_tests is not supported for logic tests, ignoring",
			"skipTests", opts.SkipTests)
	}
	tool, thinned, err := l.xctestTool()
	if err != nil {
		return CodeError, "", err
	}

	argv := []string{"xcrun", "simctl", "spawn", "-s", l.DeviceID, tool}
	argv = append(argv, opts.Args...)
	argv = append(argv, "-XCTest", l.testSpec(opts), l.TestBundlePath)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), l.childEnv(opts, thinned)...)
	var buf strings.Builder
	sink := l.Stdout
	if sink == nil {
		sink = io.Discard
	}
	out := io.MultiWriter(&buf, sink)
	cmd.Stdout = out
	cmd.Stderr = out

	l.logger().Debugw("spawning logic test", "command", strings.Join(argv, " "))
	err = cmd.Run()
	if ctx.Err() != nil {
		return CodeError, buf.String(), ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return CodeFailed, buf.String(), nil
		}
		return CodeError, buf.String(), fmt.Errorf("spawn xctest: %w", err)
	}
	return CodeSucceeded, buf.String(), nil
}

// testSpec builds the -XCTest selector: "All" or a comma-joined identifier
// list.
func (l *LogicTest) testSpec(opts *LaunchOptions) string {
	if opts.RunsAllTests() {
		return "All"
	}
	return strings.Join(opts.TestsToRun, ",")
}

// xctestTool returns the xctest binary to spawn. An x86_64-only test bundle
// on an ARM host gets a thinned copy so Rosetta runs both sides.
func (l *LogicTest) xctestTool() (tool string, thinned bool, err error) {
	tool, err = l.Xcode.XctestToolPath(xcode.SDKIphoneSimulator)
	if err != nil {
		return "", false, err
	}
	if runtime.GOARCH != "arm64" {
		return tool, false, nil
	}
	archs, err := bundle.ExecutableArchs(bundle.ExecutablePath(l.TestBundlePath))
	if err != nil || len(archs) == 0 {
		return tool, false, nil
	}
	for _, a := range archs {
		if a == "arm64" {
			return tool, false, nil
		}
	}
	copied := filepath.Join(l.WorkDir, "xctest")
	if err := copyFile(tool, copied); err != nil {
		return "", false, fmt.Errorf("copy xctest tool: %w", err)
	}
	if err := bundle.ThinToArch(copied, "x86_64"); err != nil {
		return "", false, err
	}
	l.logger().Debugw("thinned xctest tool to x86_64", "path", copied)
	return copied, true, nil
}

// childEnv builds SIMCTL_CHILD_ environment entries for the spawned process,
// including the Swift 5 fallback dylib path old runtimes need. A thinned
// xctest tool runs outside the tool's own directory, so it needs the platform
// library and framework dirs spelled out.
func (l *LogicTest) childEnv(opts *LaunchOptions, thinned bool) []string {
	env := map[string]string{}
	for k, v := range opts.EnvVars {
		env[k] = v
	}
	if dir, err := l.Xcode.Swift5FallbackLibsDir(); err == nil {
		if _, statErr := os.Stat(dir); statErr == nil {
			if cur, ok := env["DYLD_FALLBACK_LIBRARY_PATH"]; ok {
				env["DYLD_FALLBACK_LIBRARY_PATH"] = cur + ":" + dir
			} else {
				env["DYLD_FALLBACK_LIBRARY_PATH"] = dir
			}
		}
	}
	if thinned {
		if platformPath, err := l.Xcode.SDKPlatformPath(xcode.SDKIphoneSimulator); err == nil {
			dev := filepath.Join(platformPath, "Developer")
			env["DYLD_FALLBACK_LIBRARY_PATH"] = filepath.Join(dev, "usr", "lib")
			env["DYLD_FALLBACK_FRAMEWORK_PATH"] = filepath.Join(dev, "Library", "Frameworks") +
				":" + filepath.Join(dev, "Library", "Private", "Frameworks")
		}
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		out = append(out, simctlChildPrefix+k+"="+env[k])
	}
	return append(out, "NSUnbufferedIO=YES")
}

func (l *LogicTest) logger() *zap.SugaredLogger {
	if l.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return l.Logger
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
