// Package xcode introspects the active Xcode installation through
// xcode-select, xcodebuild and xcrun.
package xcode

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// SDK names accepted by xcrun --sdk.
const (
	SDKIphoneOS        = "iphoneos"
	SDKIphoneSimulator = "iphonesimulator"
)

// Info resolves and caches facts about the installed Xcode. The version
// number is cached because nobody swaps Xcode mid-run.
type Info struct {
	mu         sync.Mutex
	versionNum int
}

func NewInfo() *Info {
	return &Info{versionNum: -1}
}

// DeveloperPath returns the active developer directory (xcode-select -p).
func (x *Info) DeveloperPath() (string, error) {
	out, err := exec.Command("xcode-select", "-p").Output()
	if err != nil {
		return "", fmt.Errorf("xcode-select -p: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// VersionNumber returns the Xcode version as an integer, e.g. 15.2.1 -> 1521
// and 8.2 -> 820.
func (x *Info) VersionNumber() (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.versionNum >= 0 {
		return x.versionNum, nil
	}
	out, err := exec.Command("xcodebuild", "-version").Output()
	if err != nil {
		return 0, fmt.Errorf("xcodebuild -version: %w", err)
	}
	num, err := parseVersionOutput(string(out))
	if err != nil {
		return 0, err
	}
	x.versionNum = num
	return num, nil
}

// SDKPlatformPath returns the platform path of the given SDK
// (xcrun --sdk <sdk> --show-sdk-platform-path).
func (x *Info) SDKPlatformPath(sdk string) (string, error) {
	out, err := exec.Command("xcrun", "--sdk", sdk, "--show-sdk-platform-path").Output()
	if err != nil {
		return "", fmt.Errorf("xcrun --show-sdk-platform-path (%s): %w", sdk, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// SDKVersion returns the version of the given SDK.
func (x *Info) SDKVersion(sdk string) (string, error) {
	out, err := exec.Command("xcrun", "--sdk", sdk, "--show-sdk-version").Output()
	if err != nil {
		return "", fmt.Errorf("xcrun --show-sdk-version (%s): %w", sdk, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// XctestToolPath returns the path of the xctest agent binary under the given
// SDK platform. Logic tests are spawned through it.
func (x *Info) XctestToolPath(sdk string) (string, error) {
	platformPath, err := x.SDKPlatformPath(sdk)
	if err != nil {
		return "", err
	}
	return filepath.Join(platformPath, "Developer/Library/Xcode/Agents/xctest"), nil
}

// XCTRunnerTemplatePath returns the path of the XCTRunner.app template used
// as the UI test host.
func (x *Info) XCTRunnerTemplatePath(sdk string) (string, error) {
	platformPath, err := x.SDKPlatformPath(sdk)
	if err != nil {
		return "", err
	}
	return filepath.Join(platformPath, "Developer/Library/Xcode/Agents/XCTRunner.app"), nil
}

// Swift5FallbackLibsDir returns the fallback Swift 5 dylib directory bundled
// with Xcode 11+, or "" when it does not exist. Old-OS simulators need it on
// DYLD_FALLBACK_LIBRARY_PATH.
func (x *Info) Swift5FallbackLibsDir() (string, error) {
	devPath, err := x.DeveloperPath()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(devPath,
		"Toolchains/XcodeDefault.xctoolchain/usr/lib/swift-5.0", SDKIphoneSimulator)
	return dir, nil
}

// EmbeddedAppDeltasDir returns Xcode's EmbeddedAppDeltas cache directory.
// Device test sessions leave per-run subdirectories there.
func (x *Info) EmbeddedAppDeltasDir() (string, error) {
	out, err := exec.Command("getconf", "DARWIN_USER_CACHE_DIR").Output()
	if err != nil {
		return "", fmt.Errorf("getconf DARWIN_USER_CACHE_DIR: %w", err)
	}
	cacheDir := strings.TrimRight(string(out), "\n")
	return filepath.Join(cacheDir, "com.apple.DeveloperTools/All/Xcode/EmbeddedAppDeltas"), nil
}

// parseVersionOutput extracts the version number from `xcodebuild -version`
// output, whose first line looks like "Xcode 15.2".
func parseVersionOutput(output string) (int, error) {
	line, _, _ := strings.Cut(output, "\n")
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "Xcode" {
		return 0, fmt.Errorf("unexpected xcodebuild -version output: %q", line)
	}
	return VersionNumber(fields[1])
}

// VersionNumber converts a dotted version string into its comparable integer
// form: "8.2.1" -> 821, "10.3" -> 1030, "11" -> 1100.
func VersionNumber(version string) (int, error) {
	parts := strings.Split(version, ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid version %q", version)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid version %q", version)
	}
	patch, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, fmt.Errorf("invalid version %q", version)
	}
	return major*100 + minor*10 + patch, nil
}
