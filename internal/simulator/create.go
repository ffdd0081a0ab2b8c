package simulator

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

const (
	runtimeIDPrefix          = "com.apple.CoreSimulator.SimRuntime."
	createMaxAttempts        = 3
	createRetryInterval      = 2 * time.Second
	defaultNewSimPrefix      = "New"
	maxSimIOSVersionHeadroom = 200
)

// CreateOptions controls CreateNew. Zero values are filled with the newest
// supported iPhone type and OS version.
type CreateOptions struct {
	DeviceType string // e.g. "iPhone 15"; empty picks the latest iPhone
	OSVersion  string // e.g. "17.2"; empty picks the newest runtime for the type
	NamePrefix string // defaults to "New"
}

// CreatedDevice describes a simulator produced by CreateNew.
type CreatedDevice struct {
	Device     *Device
	DeviceType string
	OSVersion  string
	Name       string
}

// CreateNew creates a simulator, resolving missing device type or OS version
// from the simctl catalogs. Creation is attempted up to three times: a new
// device starts in state Creating and must reach Shutdown within the create
// timeout, otherwise the half-created device is deleted and creation retried.
func (m *Manager) CreateNew(ctx context.Context, opts CreateOptions) (*CreatedDevice, error) {
	deviceType := opts.DeviceType
	osType := OSiOS
	if deviceType != "" {
		if err := m.validateDeviceType(ctx, deviceType); err != nil {
			return nil, err
		}
		var err error
		osType, err = osTypeOf(deviceType)
		if err != nil {
			return nil, err
		}
	}

	osVersion := opts.OSVersion
	if osVersion == "" {
		var err error
		osVersion, err = m.newestOSVersion(ctx, osType, deviceType)
		if err != nil {
			return nil, err
		}
	} else {
		supported, err := m.SupportedOSVersions(ctx, osType)
		if err != nil {
			return nil, err
		}
		if !lo.Contains(supported, osVersion) {
			return nil, errorf("os version %s is not supported; available: %v",
				osVersion, supported)
		}
	}

	if deviceType == "" {
		var err error
		deviceType, err = m.newestIphoneTypeFor(ctx, osVersion)
		if err != nil {
			return nil, err
		}
	} else {
		if err := m.validateTypeWithVersion(deviceType, osVersion); err != nil {
			return nil, err
		}
	}

	prefix := opts.NamePrefix
	if prefix == "" {
		prefix = defaultNewSimPrefix
	}
	name := fmt.Sprintf("%s-%s-%s", prefix, deviceType, osVersion)
	runtimeID := runtimeIDPrefix + string(osType) + "-" + strings.ReplaceAll(osVersion, ".", "-")

	for attempt := 0; attempt < createMaxAttempts; attempt++ {
		udid, err := m.RunSimctl(ctx, "create", name, deviceType, runtimeID)
		if err != nil {
			return nil, fmt.Errorf("create simulator: %w", err)
		}
		device := m.Device(udid)
		createTimeout := orDefault(m.CreateTimeout, DefaultCreateTimeout)
		if err := device.WaitUntilState(ctx, StateShutdown, createTimeout); err == nil {
			return &CreatedDevice{
				Device:     device,
				DeviceType: deviceType,
				OSVersion:  osVersion,
				Name:       name,
			}, nil
		}
		// Half-created device; remove it before retrying. A short pause
		// gives CoreSimulatorService time to settle.
		_ = device.Delete(ctx, false)
		if attempt < createMaxAttempts-1 {
			m.clk.Sleep(createRetryInterval)
		}
	}
	return nil, errorf("failed to create simulator %s in %d attempts", name, createMaxAttempts)
}

// SupportedOSVersions returns the runtime versions available for an OS
// family under the installed Xcode, ordered as simctl lists them (oldest
// first).
func (m *Manager) SupportedOSVersions(ctx context.Context, osType OS) ([]string, error) {
	if osType == "" {
		osType = OSiOS
	}
	runtimes, err := m.ListRuntimes(ctx)
	if err != nil {
		return nil, err
	}
	xcodeVersion, err := m.xcode.VersionNumber()
	if err != nil {
		return nil, err
	}
	var versions []string
	for _, rt := range runtimes {
		if strings.Contains(rt.Availability, "unavailable") {
			continue
		}
		if rt.Availability == "" && !rt.IsAvailable {
			continue
		}
		listedType, listedVersion, ok := strings.Cut(rt.Name, " ")
		if !ok || listedType != string(osType) {
			continue
		}
		if rt.BundlePath != "" {
			minXcode, err := runtimeMinXcodeVersion(rt.BundlePath)
			if err == nil && xcodeVersion < minXcode {
				continue
			}
		} else if osType == OSiOS {
			// Without a bundle path fall back on the rule of thumb that one
			// Xcode release supports iOS up to its own version plus two majors.
			if num, err := versionNumber(listedVersion); err == nil &&
				num > xcodeVersion+maxSimIOSVersionHeadroom {
				continue
			}
		}
		versions = append(versions, listedVersion)
	}
	return versions, nil
}

// newestOSVersion picks the newest supported version, honoring the device
// type's max runtime when a type is given.
func (m *Manager) newestOSVersion(ctx context.Context, osType OS, deviceType string) (string, error) {
	versions, err := m.SupportedOSVersions(ctx, osType)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", errorf("no supported %s runtime found", osType)
	}
	if deviceType == "" {
		return versions[len(versions)-1], nil
	}
	profile, err := m.TypeProfile(deviceType)
	if err != nil {
		return "", err
	}
	for i := len(versions) - 1; i >= 0; i-- {
		v, err := versionFloat(versions[i])
		if err != nil {
			continue
		}
		if profile.MaxOSVersion == 0 || v <= profile.MaxOSVersion {
			return versions[i], nil
		}
	}
	return "", errorf("no supported OS version matches device type %s (max %v)",
		deviceType, profile.MaxOSVersion)
}

// newestIphoneTypeFor picks the newest iPhone type whose minimum runtime
// allows the OS version.
func (m *Manager) newestIphoneTypeFor(ctx context.Context, osVersion string) (string, error) {
	types, err := m.ListDeviceTypes(ctx, OSiOS)
	if err != nil {
		return "", err
	}
	want, err := versionFloat(osVersion)
	if err != nil {
		return "", errorf("invalid os version %q", osVersion)
	}
	iphones := lo.Filter(types, func(name string, _ int) bool {
		return strings.HasPrefix(name, "iPhone")
	})
	for i := len(iphones) - 1; i >= 0; i-- {
		profile, err := m.TypeProfile(iphones[i])
		if err != nil {
			continue
		}
		if want >= profile.MinOSVersion {
			return iphones[i], nil
		}
	}
	return "", errorf("no iPhone simulator type supports iOS %s", osVersion)
}

func (m *Manager) validateDeviceType(ctx context.Context, deviceType string) error {
	types, err := m.ListDeviceTypes(ctx, "")
	if err != nil {
		return err
	}
	if !lo.Contains(types, deviceType) {
		return errorf("device type %q is not supported; available: %v", deviceType, types)
	}
	return nil
}

func (m *Manager) validateTypeWithVersion(deviceType, osVersion string) error {
	v, err := versionFloat(osVersion)
	if err != nil {
		return errorf("invalid os version %q", osVersion)
	}
	profile, err := m.TypeProfile(deviceType)
	if err != nil {
		return err
	}
	if v < profile.MinOSVersion {
		return errorf("the min OS version of %s is %.1f but %s was requested",
			deviceType, profile.MinOSVersion, osVersion)
	}
	if profile.MaxOSVersion != 0 && v > profile.MaxOSVersion {
		return errorf("the max OS version of %s is %.1f but %s was requested",
			deviceType, profile.MaxOSVersion, osVersion)
	}
	return nil
}

// osTypeOf derives the OS family from a device type name.
func osTypeOf(deviceType string) (OS, error) {
	switch {
	case strings.HasPrefix(deviceType, "i"):
		return OSiOS, nil
	case strings.Contains(deviceType, "TV"):
		return OSTvOS, nil
	case strings.Contains(deviceType, "Watch"):
		return OSWatchOS, nil
	}
	return "", errorf("cannot derive OS family from device type %q", deviceType)
}

// versionFloat parses "{major}.{minor}" into a float, cutting any build
// component and rounding to one decimal, so "10.255.255" becomes 10.3.
func versionFloat(version string) (float64, error) {
	parts := strings.Split(version, ".")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	v, err := strconv.ParseFloat(strings.Join(parts, "."), 64)
	if err != nil {
		return 0, err
	}
	return math.Round(v*10) / 10, nil
}

// versionNumber converts "{major}.{minor}" to the comparable integer form
// used for Xcode versions (12.4 -> 1240).
func versionNumber(version string) (int, error) {
	parts := strings.Split(version, ".")
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	minor := 0
	if len(parts) > 1 {
		// Ignore any build component after the minor version.
		minor, err = strconv.Atoi(strings.Split(parts[1], ".")[0])
		if err != nil {
			return 0, err
		}
	}
	return major*100 + minor*10, nil
}
