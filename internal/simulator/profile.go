package simulator

import (
	"fmt"
	"path/filepath"

	"github.com/mobileci/xtr/internal/plist"
	"github.com/mobileci/xtr/internal/xcode"
)

// TypeProfile holds the runtime bounds of a simulator device type, read from
// its profile.plist.
type TypeProfile struct {
	DeviceType   string
	MinOSVersion float64
	// MaxOSVersion falls back to the installed SDK version when the profile
	// carries no maxRuntimeVersion, and is 0 when that lookup fails too.
	MaxOSVersion float64
}

// TypeProfile loads the profile of a device type. Set Manager.ProfilesDir to
// bypass the Xcode lookup (tests do).
func (m *Manager) TypeProfile(deviceType string) (*TypeProfile, error) {
	dir := m.ProfilesDir
	if dir == "" {
		var err error
		dir, err = m.deviceTypeProfilesDir()
		if err != nil {
			return nil, err
		}
	}
	profilePath := filepath.Join(dir,
		fmt.Sprintf("DeviceTypes/%s.simdevicetype/Contents/Resources/profile.plist", deviceType))
	f := plist.NewFile(profilePath)

	minVersion, err := profileVersionField(f, "minRuntimeVersion")
	if err != nil {
		return nil, errorf("profile of %s: %v", deviceType, err)
	}
	profile := &TypeProfile{DeviceType: deviceType, MinOSVersion: minVersion}
	// maxRuntimeVersion is absent for types that track the platform maximum,
	// for which the installed SDK version is the effective bound.
	if f.HasField("maxRuntimeVersion") {
		maxVersion, err := profileVersionField(f, "maxRuntimeVersion")
		if err != nil {
			return nil, errorf("profile of %s: %v", deviceType, err)
		}
		profile.MaxOSVersion = maxVersion
	} else if sdkVersion, err := m.xcode.SDKVersion(xcode.SDKIphoneSimulator); err == nil {
		if maxVersion, err := versionFloat(sdkVersion); err == nil {
			profile.MaxOSVersion = maxVersion
		}
	}
	return profile, nil
}

// deviceTypeProfilesDir locates the CoreSimulator profiles directory, which
// moved across Xcode releases.
func (m *Manager) deviceTypeProfilesDir() (string, error) {
	xcodeVersion, err := m.xcode.VersionNumber()
	if err != nil {
		return "", err
	}
	sdk := xcode.SDKIphoneOS
	if xcodeVersion < 900 {
		sdk = xcode.SDKIphoneSimulator
	}
	platformPath, err := m.xcode.SDKPlatformPath(sdk)
	if err != nil {
		return "", err
	}
	if xcodeVersion >= 1100 {
		return filepath.Join(platformPath, "Library/Developer/CoreSimulator/Profiles"), nil
	}
	return filepath.Join(platformPath, "Developer/Library/CoreSimulator/Profiles"), nil
}

func profileVersionField(f *plist.File, field string) (float64, error) {
	v, err := f.GetField(field)
	if err != nil {
		return 0, err
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("%s is not a string", field)
	}
	return versionFloat(s)
}

// runtimeMinXcodeVersion reads the DTXcode build number from a runtime
// bundle's Info.plist, e.g. 1520 for a runtime needing Xcode 15.2.
func runtimeMinXcodeVersion(bundlePath string) (int, error) {
	v, err := plist.NewFile(filepath.Join(bundlePath, "Contents/Info.plist")).GetField("DTXcode")
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case uint64:
		return int(n), nil
	case int64:
		return int(n), nil
	case string:
		return xcode.VersionNumber(n)
	}
	return 0, fmt.Errorf("unexpected DTXcode type %T", v)
}
