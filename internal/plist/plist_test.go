package plist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	hplist "howett.net/plist"
)

const infoPlistXML = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleIdentifier</key>
	<string>com.example.myapp</string>
	<key>CFBundleShortVersionString</key>
	<string>1.2.3</string>
	<key>MinimumOSVersion</key>
	<string>14.0</string>
	<key>CFBundleDocumentTypes</key>
	<array>
		<dict>
			<key>CFBundleTypeExtensions</key>
			<array>
				<string>pdf</string>
			</array>
		</dict>
		<dict>
			<key>CFBundleTypeExtensions</key>
			<array>
				<string>png</string>
				<string>jpg</string>
			</array>
		</dict>
	</array>
</dict>
</plist>
`

func writeTestPlist(t *testing.T, content string) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Info.plist")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return NewFile(path)
}

func TestGetField(t *testing.T) {
	f := writeTestPlist(t, infoPlistXML)

	t.Run("top level key", func(t *testing.T) {
		v, err := f.GetField("CFBundleIdentifier")
		require.NoError(t, err)
		assert.Equal(t, "com.example.myapp", v)
	})

	t.Run("nested array index", func(t *testing.T) {
		v, err := f.GetField("CFBundleDocumentTypes:1:CFBundleTypeExtensions:0")
		require.NoError(t, err)
		assert.Equal(t, "png", v)
	})

	t.Run("leading colon accepted", func(t *testing.T) {
		v, err := f.GetField(":CFBundleShortVersionString")
		require.NoError(t, err)
		assert.Equal(t, "1.2.3", v)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := f.GetField("NoSuchKey")
		var fieldErr *FieldError
		require.ErrorAs(t, err, &fieldErr)
	})

	t.Run("non-integer array index", func(t *testing.T) {
		_, err := f.GetField("CFBundleDocumentTypes:first")
		var fieldErr *FieldError
		require.ErrorAs(t, err, &fieldErr)
	})
}

func TestHasField(t *testing.T) {
	f := writeTestPlist(t, infoPlistXML)
	assert.True(t, f.HasField("MinimumOSVersion"))
	assert.False(t, f.HasField("UIFileSharingEnabled"))
}

func TestSetField(t *testing.T) {
	t.Run("existing file", func(t *testing.T) {
		f := writeTestPlist(t, infoPlistXML)
		require.NoError(t, f.SetField("UIFileSharingEnabled", true))

		v, err := f.GetField("UIFileSharingEnabled")
		require.NoError(t, err)
		assert.Equal(t, true, v)

		// Untouched fields survive the rewrite.
		v, err = f.GetField("CFBundleIdentifier")
		require.NoError(t, err)
		assert.Equal(t, "com.example.myapp", v)
	})

	t.Run("new file from empty field", func(t *testing.T) {
		f := NewFile(filepath.Join(t.TempDir(), "run.xctestrun"))
		root := map[string]interface{}{
			"Target": map[string]interface{}{"TestBundlePath": "/tmp/x.xctest"},
		}
		require.NoError(t, f.SetField("", root))

		v, err := f.GetField("Target:TestBundlePath")
		require.NoError(t, err)
		assert.Equal(t, "/tmp/x.xctest", v)
	})

	t.Run("new file with key path", func(t *testing.T) {
		f := NewFile(filepath.Join(t.TempDir(), "fresh.plist"))
		require.NoError(t, f.SetField("Name", "value"))
		v, err := f.GetField("Name")
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	})

	t.Run("nested set", func(t *testing.T) {
		f := writeTestPlist(t, infoPlistXML)
		require.NoError(t, f.SetField("CFBundleDocumentTypes:0:CFBundleTypeExtensions:0", "txt"))
		v, err := f.GetField("CFBundleDocumentTypes:0:CFBundleTypeExtensions:0")
		require.NoError(t, err)
		assert.Equal(t, "txt", v)
	})
}

func TestDeleteField(t *testing.T) {
	f := writeTestPlist(t, infoPlistXML)
	require.NoError(t, f.DeleteField("MinimumOSVersion"))
	assert.False(t, f.HasField("MinimumOSVersion"))

	err := f.DeleteField("MinimumOSVersion")
	var fieldErr *FieldError
	require.ErrorAs(t, err, &fieldErr)
}

func TestBinaryPlist(t *testing.T) {
	// device.plist written by CoreSimulator is binary; make sure reads work.
	path := filepath.Join(t.TempDir(), "device.plist")
	data, err := hplist.Marshal(map[string]interface{}{
		"state": uint64(3),
		"name":  "Throwaway-iPhone 15-17.2",
	}, hplist.BinaryFormat)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	f := NewFile(path)
	v, err := f.GetField("state")
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)
}
