package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobileci/xtr/internal/plist"
)

// writeAppBundle lays out a minimal .app directory with an Info.plist.
func writeAppBundle(t *testing.T, dir, name, bundleID string) string {
	t.Helper()
	appDir := filepath.Join(dir, name+".app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	info := plist.NewFile(filepath.Join(appDir, "Info.plist"))
	require.NoError(t, info.SetField("", map[string]interface{}{
		"CFBundleIdentifier": bundleID,
		"CFBundleExecutable": name,
		"MinimumOSVersion":   "15.0",
	}))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, name), []byte("binary"), 0o755))
	return appDir
}

func TestID(t *testing.T) {
	appDir := writeAppBundle(t, t.TempDir(), "MyApp", "com.example.myapp")
	id, err := ID(appDir)
	require.NoError(t, err)
	assert.Equal(t, "com.example.myapp", id)
}

func TestMinimumOSVersion(t *testing.T) {
	appDir := writeAppBundle(t, t.TempDir(), "MyApp", "com.example.myapp")
	ver, err := MinimumOSVersion(appDir)
	require.NoError(t, err)
	assert.Equal(t, "15.0", ver)
}

func TestExecutablePath(t *testing.T) {
	assert.Equal(t, "/w/MyTests.xctest/MyTests", ExecutablePath("/w/MyTests.xctest"))
	assert.Equal(t, "/w/MyApp.app/MyApp", ExecutablePath("/w/MyApp.app"))
}

func TestExtractArchiveExtensionValidation(t *testing.T) {
	workDir := t.TempDir()

	_, err := ExtractApp("/tmp/app.tar.gz", workDir)
	var bundleErr *Error
	require.ErrorAs(t, err, &bundleErr)

	_, err = ExtractTestBundle("/tmp/tests.tar.gz", workDir)
	require.ErrorAs(t, err, &bundleErr)
}

func TestSingleBundle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "A.xctest"), 0o755))

	p, err := singleBundle(dir, ".xctest")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "A.xctest"), p)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "B.xctest"), 0o755))
	_, err = singleBundle(dir, ".xctest")
	var bundleErr *Error
	require.ErrorAs(t, err, &bundleErr)

	_, err = singleBundle(dir, ".app")
	require.ErrorAs(t, err, &bundleErr)
}

func TestCopyDir(t *testing.T) {
	src := writeAppBundle(t, t.TempDir(), "MyApp", "com.example.myapp")
	dst := filepath.Join(t.TempDir(), "MyApp.app")

	require.NoError(t, CopyDir(src, dst))

	id, err := ID(dst)
	require.NoError(t, err)
	assert.Equal(t, "com.example.myapp", id)

	info, err := os.Stat(filepath.Join(dst, "MyApp"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestCodesignIdentityWithStub(t *testing.T) {
	stubDir := t.TempDir()
	script := `#!/bin/sh
echo "Executable=/w/MyApp.app/MyApp" >&2
echo "Authority=Apple Development: Dev Eloper (ABC123)" >&2
echo "TeamIdentifier=TEAM42" >&2
`
	require.NoError(t, os.WriteFile(filepath.Join(stubDir, "codesign"), []byte(script), 0o755))
	t.Setenv("PATH", stubDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	identity, err := CodesignIdentity("/w/MyApp.app")
	require.NoError(t, err)
	assert.Equal(t, "Apple Development: Dev Eloper (ABC123)", identity)

	team, err := DevelopmentTeam("/w/MyApp.app")
	require.NoError(t, err)
	assert.Equal(t, "TEAM42", team)
}
