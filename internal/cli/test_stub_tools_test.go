package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobileci/xtr/internal/plist"
	"github.com/mobileci/xtr/internal/runner"
)

// writeAppBundle creates a minimal bundle dir with an Info.plist and an
// executable named after the bundle.
func writeAppBundle(t *testing.T, dir, bundleID string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	f := plist.NewFile(filepath.Join(dir, "Info.plist"))
	require.NoError(t, f.SetField("", map[string]interface{}{
		"CFBundleIdentifier": bundleID,
	}))
	name := strings.TrimSuffix(filepath.Base(dir), filepath.Ext(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("binary"), 0o755))
	return dir
}

func TestTestCmd_Run(t *testing.T) {
	t.Run("passing unit tests on a simulator", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		stubBin(t, stubDir(t), "xcodebuild", `echo "Test Suite 'AllTests' started"
echo "** TEST EXECUTE SUCCEEDED **"`)
		src := t.TempDir()
		app := writeAppBundle(t, filepath.Join(src, "Example.app"), "com.example.app")
		tests := writeAppBundle(t, filepath.Join(src, "ExampleTests.xctest"), "com.example.tests")
		globals, stdout, _ := testGlobals("text")

		cmd := &TestCmd{DeviceID: "SIM-UDID-1", SDK: "iphonesimulator"}
		cmd.AppUnderTest = app
		cmd.TestBundle = tests
		cmd.TestType = "xctest"

		require.NoError(t, cmd.Run(globals))
		out := stdout.String()
		assert.Contains(t, out, "** TEST EXECUTE SUCCEEDED **")
		assert.Contains(t, out, "PASS")
	})

	t.Run("failing tests carry exit code 11", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		stubBin(t, stubDir(t), "xcodebuild", `echo "Test Suite 'AllTests' started"
echo "** TEST EXECUTE FAILED **"
exit 65`)
		src := t.TempDir()
		app := writeAppBundle(t, filepath.Join(src, "Example.app"), "com.example.app")
		tests := writeAppBundle(t, filepath.Join(src, "ExampleTests.xctest"), "com.example.tests")
		globals, stdout, _ := testGlobals("text")

		cmd := &TestCmd{DeviceID: "SIM-UDID-1", SDK: "iphonesimulator"}
		cmd.AppUnderTest = app
		cmd.TestBundle = tests
		cmd.TestType = "xctest"

		err := cmd.Run(globals)
		var codeErr *runner.ExitCodeError
		require.ErrorAs(t, err, &codeErr)
		assert.Equal(t, runner.CodeFailed, codeErr.Code)
		assert.Contains(t, stdout.String(), "FAIL")
	})

	t.Run("bad launch options are an argument error", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		globals, stdout, stderr := testGlobals("ndjson")

		cmd := &TestCmd{DeviceID: "SIM-UDID-1", SDK: "iphonesimulator"}
		cmd.TestBundle = filepath.Join(t.TempDir(), "ExampleTests.xctest")
		cmd.LaunchOptions = `{not json`

		err := cmd.Run(globals)
		var codeErr *runner.ExitCodeError
		require.ErrorAs(t, err, &codeErr)
		assert.Equal(t, runner.CodeError, codeErr.Code)
		assert.Contains(t, stdout.String(), "INVALID_ARGUMENTS")
		assert.Empty(t, stderr.String())
	})

	t.Run("reports the run in ndjson", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		stubBin(t, stubDir(t), "xcodebuild", `echo "Test Suite 'AllTests' started"
echo "** TEST EXECUTE SUCCEEDED **"`)
		src := t.TempDir()
		app := writeAppBundle(t, filepath.Join(src, "Example.app"), "com.example.app")
		tests := writeAppBundle(t, filepath.Join(src, "ExampleTests.xctest"), "com.example.tests")
		globals, stdout, _ := testGlobals("ndjson")

		cmd := &TestCmd{DeviceID: "SIM-UDID-1", SDK: "iphonesimulator"}
		cmd.AppUnderTest = app
		cmd.TestBundle = tests
		cmd.TestType = "xctest"

		require.NoError(t, cmd.Run(globals))
		assert.Contains(t, stdout.String(), `"type":"result"`)
		assert.Contains(t, stdout.String(), `"exit_code":0`)
		assert.Contains(t, stdout.String(), `"udid":"SIM-UDID-1"`)
	})
}
