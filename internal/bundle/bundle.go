// Package bundle handles Apple app and test bundles: extracting compressed
// archives, reading Info.plist metadata, inspecting executable architectures
// and re-signing.
package bundle

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mobileci/xtr/internal/plist"
)

// Error reports a bundle packaging or signing failure.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "bundle: " + e.Msg }

func errorf(format string, args ...interface{}) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// ExtractApp unzips the .ipa into a fresh directory under workDir and returns
// the extracted Payload/*.app path.
func ExtractApp(ipaPath, workDir string) (string, error) {
	if !strings.HasSuffix(ipaPath, ".ipa") {
		return "", errorf("app archive %s must have .ipa extension", ipaPath)
	}
	target, err := os.MkdirTemp(workDir, "app-extract-")
	if err != nil {
		return "", fmt.Errorf("create extract dir: %w", err)
	}
	if err := unzip(ipaPath, target); err != nil {
		return "", err
	}
	return singleBundle(filepath.Join(target, "Payload"), ".app")
}

// ExtractTestBundle unzips the .ipa/.zip into a fresh directory under workDir
// and returns the extracted *.xctest path, looking both at the archive root
// and under Payload/.
func ExtractTestBundle(archivePath, workDir string) (string, error) {
	if !strings.HasSuffix(archivePath, ".ipa") && !strings.HasSuffix(archivePath, ".zip") {
		return "", errorf("test archive %s must have .ipa or .zip extension", archivePath)
	}
	target, err := os.MkdirTemp(workDir, "test-extract-")
	if err != nil {
		return "", fmt.Errorf("create extract dir: %w", err)
	}
	if err := unzip(archivePath, target); err != nil {
		return "", err
	}
	if p, err := singleBundle(target, ".xctest"); err == nil {
		return p, nil
	}
	return singleBundle(filepath.Join(target, "Payload"), ".xctest")
}

// ID returns the CFBundleIdentifier from the bundle's Info.plist.
func ID(bundlePath string) (string, error) {
	v, err := plist.NewFile(filepath.Join(bundlePath, "Info.plist")).GetField("CFBundleIdentifier")
	if err != nil {
		return "", err
	}
	id, ok := v.(string)
	if !ok {
		return "", errorf("CFBundleIdentifier in %s is not a string", bundlePath)
	}
	return id, nil
}

// MinimumOSVersion returns the MinimumOSVersion from the bundle's Info.plist.
func MinimumOSVersion(bundlePath string) (string, error) {
	v, err := plist.NewFile(filepath.Join(bundlePath, "Info.plist")).GetField("MinimumOSVersion")
	if err != nil {
		return "", err
	}
	ver, ok := v.(string)
	if !ok {
		return "", errorf("MinimumOSVersion in %s is not a string", bundlePath)
	}
	return ver, nil
}

// ExecutablePath returns the path of the bundle's main executable, which
// shares the bundle's base name.
func ExecutablePath(bundlePath string) string {
	name := strings.TrimSuffix(filepath.Base(bundlePath), filepath.Ext(bundlePath))
	return filepath.Join(bundlePath, name)
}

// ExecutableArchs returns the architectures of the binary (lipo -archs).
func ExecutableArchs(executablePath string) ([]string, error) {
	out, err := exec.Command("/usr/bin/lipo", executablePath, "-archs").Output()
	if err != nil {
		return nil, fmt.Errorf("lipo -archs %s: %w", executablePath, err)
	}
	return strings.Fields(strings.TrimSpace(string(out))), nil
}

// ThinToArch strips every architecture but the given one from the binary.
func ThinToArch(executablePath, arch string) error {
	if err := exec.Command("/usr/bin/lipo", executablePath, "-thin", arch,
		"-output", executablePath).Run(); err != nil {
		return errorf("lipo -thin %s %s: %v", arch, executablePath, err)
	}
	return nil
}

// CodesignIdentity returns the identity that signed the bundle
// (the Authority= line of codesign -dvv).
func CodesignIdentity(bundlePath string) (string, error) {
	out, _ := exec.Command("codesign", "-dvv", bundlePath).CombinedOutput()
	for _, line := range strings.Split(string(out), "\n") {
		if v, ok := strings.CutPrefix(line, "Authority="); ok {
			return v, nil
		}
	}
	return "", errorf("no signing identity in codesign output for %s", bundlePath)
}

// DevelopmentTeam returns the TeamIdentifier the bundle was signed with.
func DevelopmentTeam(bundlePath string) (string, error) {
	out, _ := exec.Command("codesign", "-dvv", bundlePath).CombinedOutput()
	for _, line := range strings.Split(string(out), "\n") {
		if v, ok := strings.CutPrefix(line, "TeamIdentifier="); ok {
			return v, nil
		}
	}
	return "", errorf("no development team in codesign output for %s", bundlePath)
}

// Codesign re-signs the bundle. With an empty identity the bundle's current
// identity is reused; with an empty entitlements path the existing identifier
// and entitlements metadata are preserved. A non-empty keychainPath makes
// codesign look up the identity in that keychain only.
func Codesign(bundlePath, entitlementsPlistPath, identity, keychainPath string) error {
	if identity == "" {
		var err error
		identity, err = CodesignIdentity(bundlePath)
		if err != nil {
			return err
		}
	}
	args := []string{"-f"}
	if entitlementsPlistPath == "" {
		args = append(args, "--preserve-metadata=identifier,entitlements")
	} else {
		args = append(args, "--entitlements", entitlementsPlistPath)
	}
	if keychainPath != "" {
		args = append(args, "--keychain", keychainPath)
	}
	args = append(args, "--timestamp=none", "-s", identity, bundlePath)
	cmd := exec.Command("codesign", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errorf("codesign %s with %s: %v: %s", bundlePath, identity, err, out)
	}
	return nil
}

// EnableUIFileSharing sets UIFileSharingEnabled in the bundle's Info.plist
// and re-signs the bundle when resign is true.
func EnableUIFileSharing(bundlePath string, resign bool) error {
	info := plist.NewFile(filepath.Join(bundlePath, "Info.plist"))
	if err := info.SetField("UIFileSharingEnabled", true); err != nil {
		return err
	}
	if resign {
		return Codesign(bundlePath, "", "", "")
	}
	return nil
}

// CopyDir copies a bundle directory tree preserving permissions.
func CopyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			return os.WriteFile(target, data, info.Mode())
		}
	})
}

// singleBundle returns the only entry with the given extension in dir.
func singleBundle(dir, ext string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+ext))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", errorf("no %s bundle found under %s", ext, dir)
	}
	if len(matches) > 1 {
		return "", errorf("multiple %s bundles found under %s: %v", ext, dir, matches)
	}
	return matches[0], nil
}

// unzip shells out because archive/zip drops file permission bits, which
// breaks executables inside the bundle.
func unzip(src, dst string) error {
	if out, err := exec.Command("unzip", "-q", "-o", src, "-d", dst).CombinedOutput(); err != nil {
		return errorf("unzip %s: %v: %s", src, err, out)
	}
	return nil
}
