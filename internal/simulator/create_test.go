package simulator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobileci/xtr/internal/plist"
)

// stubXcodebuild makes xcode.Info report the given version.
func stubXcodebuild(t *testing.T, version string) {
	t.Helper()
	stubDir := t.TempDir()
	script := "#!/bin/sh\nprintf 'Xcode " + version + "\\nBuild version XYZ\\n'\n"
	require.NoError(t, os.WriteFile(filepath.Join(stubDir, "xcodebuild"), []byte(script), 0o755))
	t.Setenv("PATH", stubDir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

// writeTypeProfile lays out a profile.plist for a device type under dir.
func writeTypeProfile(t *testing.T, dir, deviceType, minVersion, maxVersion string) {
	t.Helper()
	resDir := filepath.Join(dir,
		"DeviceTypes", deviceType+".simdevicetype", "Contents", "Resources")
	require.NoError(t, os.MkdirAll(resDir, 0o755))
	profile := map[string]interface{}{"minRuntimeVersion": minVersion}
	if maxVersion != "" {
		profile["maxRuntimeVersion"] = maxVersion
	}
	f := plist.NewFile(filepath.Join(resDir, "profile.plist"))
	require.NoError(t, f.SetField("", profile))
}

const catalogScript = `case "$1 $2" in
"list devicetypes")
  cat <<'EOF'
{"devicetypes": [
  {"name": "iPhone 14", "identifier": "t.iPhone-14"},
  {"name": "iPhone 15", "identifier": "t.iPhone-15"},
  {"name": "iPad Air", "identifier": "t.iPad-Air"}
]}
EOF
  ;;
"list runtimes")
  cat <<'EOF'
{"runtimes": [
  {"name": "iOS 16.4", "identifier": "com.apple.CoreSimulator.SimRuntime.iOS-16-4",
   "version": "16.4", "isAvailable": true},
  {"name": "iOS 17.2", "identifier": "com.apple.CoreSimulator.SimRuntime.iOS-17-2",
   "version": "17.2", "isAvailable": true},
  {"name": "watchOS 10.2", "identifier": "com.apple.CoreSimulator.SimRuntime.watchOS-10-2",
   "version": "10.2", "isAvailable": true}
]}
EOF
  ;;
*)
  echo "unsupported stub call: $*" >&2
  exit 1
  ;;
esac`

func catalogManager(t *testing.T) *Manager {
	t.Helper()
	stubXcodebuild(t, "15.2")
	stubXcrun(t, catalogScript)
	m := testManager(t)
	m.ProfilesDir = t.TempDir()
	writeTypeProfile(t, m.ProfilesDir, "iPhone 14", "16.0", "")
	writeTypeProfile(t, m.ProfilesDir, "iPhone 15", "17.0", "")
	writeTypeProfile(t, m.ProfilesDir, "iPad Air", "15.0", "")
	return m
}

func TestSupportedOSVersions(t *testing.T) {
	m := catalogManager(t)
	versions, err := m.SupportedOSVersions(context.Background(), OSiOS)
	require.NoError(t, err)
	assert.Equal(t, []string{"16.4", "17.2"}, versions)
}

func TestNewestIphoneTypeFor(t *testing.T) {
	m := catalogManager(t)

	got, err := m.newestIphoneTypeFor(context.Background(), "17.2")
	require.NoError(t, err)
	assert.Equal(t, "iPhone 15", got)

	// iPhone 15 needs 17.0+, so an older runtime falls back to iPhone 14.
	got, err = m.newestIphoneTypeFor(context.Background(), "16.4")
	require.NoError(t, err)
	assert.Equal(t, "iPhone 14", got)
}

func TestValidateTypeWithVersion(t *testing.T) {
	m := catalogManager(t)
	writeTypeProfile(t, m.ProfilesDir, "iPhone 5", "6.0", "10.255.255")

	require.NoError(t, m.validateTypeWithVersion("iPhone 5", "10.2"))

	err := m.validateTypeWithVersion("iPhone 5", "12.0")
	var simErr *Error
	require.ErrorAs(t, err, &simErr)
	assert.Contains(t, simErr.Msg, "max OS version")

	err = m.validateTypeWithVersion("iPhone 15", "16.4")
	require.ErrorAs(t, err, &simErr)
	assert.Contains(t, simErr.Msg, "min OS version")
}

func TestCreateNewRejectsUnknownVersion(t *testing.T) {
	m := catalogManager(t)
	_, err := m.CreateNew(context.Background(), CreateOptions{OSVersion: "12.9"})
	var simErr *Error
	require.ErrorAs(t, err, &simErr)
	assert.Contains(t, simErr.Msg, "not supported")
}

func TestCreateNewDefaultsAndCreates(t *testing.T) {
	stubXcodebuild(t, "15.2")
	m := testManager(t)
	m.ProfilesDir = t.TempDir()
	m.CreateTimeout = 2 * time.Second
	writeTypeProfile(t, m.ProfilesDir, "iPhone 15", "17.0", "")
	writeTypeProfile(t, m.ProfilesDir, "iPhone 14", "16.0", "")

	// The created device must immediately be visible as Shutdown.
	writeDeviceState(t, m, "NEW-UDID-42", 1)

	stubXcrun(t, `if [ "$1" = "create" ]; then echo NEW-UDID-42; exit 0; fi
`+catalogScript)

	created, err := m.CreateNew(context.Background(), CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "NEW-UDID-42", created.Device.UDID)
	assert.Equal(t, "iPhone 15", created.DeviceType)
	assert.Equal(t, "17.2", created.OSVersion)
	assert.Equal(t, "New-iPhone 15-17.2", created.Name)
}

func TestTypeProfileMaxFallsBackToSDKVersion(t *testing.T) {
	stubXcrun(t, `if [ "$1" = "--sdk" ]; then echo "17.2"; exit 0; fi
`+catalogScript)
	m := testManager(t)
	m.ProfilesDir = t.TempDir()
	writeTypeProfile(t, m.ProfilesDir, "iPhone 15", "17.0", "")
	writeTypeProfile(t, m.ProfilesDir, "iPhone 5", "6.0", "10.255.255")

	// No maxRuntimeVersion means the installed SDK is the upper bound.
	profile, err := m.TypeProfile("iPhone 15")
	require.NoError(t, err)
	assert.InDelta(t, 17.2, profile.MaxOSVersion, 0.001)

	// An explicit maxRuntimeVersion wins over the SDK lookup.
	profile, err = m.TypeProfile("iPhone 5")
	require.NoError(t, err)
	assert.InDelta(t, 10.3, profile.MaxOSVersion, 0.001)
}

func TestVersionFloat(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"9.3", 9.3},
		{"10.255.255", 10.3},
		{"17.2", 17.2},
		{"9.3.3", 9.3},
	}
	for _, tt := range tests {
		got, err := versionFloat(tt.in)
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, got, 0.001, tt.in)
	}
}
