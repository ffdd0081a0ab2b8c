package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobileci/xtr/internal/config"
	"github.com/mobileci/xtr/internal/runner"
	"github.com/mobileci/xtr/internal/simulator"
)

// testGlobals creates a Globals struct with captured stdout/stderr
func testGlobals(format string) (*Globals, *bytes.Buffer, *bytes.Buffer) {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	return &Globals{
		Format:  format,
		Quiet:   false,
		Verbose: false,
		Stdout:  stdout,
		Stderr:  stderr,
		Config:  config.Default(),
	}, stdout, stderr
}

// --- Config Command Tests ---

func TestConfigShowCmd_Run(t *testing.T) {
	t.Run("outputs config in text format", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		cmd := &ConfigShowCmd{}

		err := cmd.Run(globals)
		require.NoError(t, err)

		output := stdout.String()
		assert.Contains(t, output, "Current Configuration:")
		assert.Contains(t, output, "format:")
		assert.Contains(t, output, "Defaults:")
		assert.Contains(t, output, "startup_timeout_sec: 150")
	})

	t.Run("outputs config in NDJSON format", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		cmd := &ConfigShowCmd{}

		err := cmd.Run(globals)
		require.NoError(t, err)

		var result map[string]interface{}
		err = json.Unmarshal(stdout.Bytes(), &result)
		require.NoError(t, err)

		assert.Equal(t, "config", result["type"])
		assert.Contains(t, result, "format")
		assert.Contains(t, result, "defaults")
	})
}

func TestConfigPathCmd_Run(t *testing.T) {
	t.Run("outputs path info in text format when no config", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		cmd := &ConfigPathCmd{}

		err := cmd.Run(globals)
		require.NoError(t, err)

		output := stdout.String()
		assert.True(t, strings.Contains(output, "Config file:") ||
			strings.Contains(output, "No configuration file found"))
	})

	t.Run("outputs path in NDJSON format", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		cmd := &ConfigPathCmd{}

		err := cmd.Run(globals)
		require.NoError(t, err)

		var result map[string]interface{}
		err = json.Unmarshal(stdout.Bytes(), &result)
		require.NoError(t, err)

		assert.Equal(t, "config_path", result["type"])
		assert.Contains(t, result, "path")
	})
}

func TestConfigGenerateCmd_Run(t *testing.T) {
	globals, stdout, _ := testGlobals("text")
	cmd := &ConfigGenerateCmd{}

	err := cmd.Run(globals)
	require.NoError(t, err)

	output := stdout.String()
	assert.Contains(t, output, "# xtr configuration file")
	assert.Contains(t, output, "format: text")
	assert.Contains(t, output, "defaults:")
	assert.Contains(t, output, "name_prefix: New")
}

// --- Version Command Tests ---

func TestVersionCmd_Run(t *testing.T) {
	t.Run("text format", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		require.NoError(t, (&VersionCmd{}).Run(globals))
		assert.Contains(t, stdout.String(), "xtr ")
	})

	t.Run("ndjson format", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		require.NoError(t, (&VersionCmd{}).Run(globals))

		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
		assert.Equal(t, "version", result["type"])
		assert.Contains(t, result, "version")
		assert.Contains(t, result, "go_version")
	})
}

// --- Error Handling Tests ---

func TestOutputErrorCommon(t *testing.T) {
	t.Run("text format writes to stderr", func(t *testing.T) {
		globals, _, stderr := testGlobals("text")
		err := outputErrorCommon(globals, "TEST_CODE", "something broke", "try again")
		require.Error(t, err)
		assert.Contains(t, stderr.String(), "Error [TEST_CODE]: something broke")
		assert.Contains(t, stderr.String(), "hint: try again")
	})

	t.Run("ndjson format writes machine-readable error", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		err := outputErrorCommon(globals, "TEST_CODE", "something broke")
		require.Error(t, err)

		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
		assert.Equal(t, "error", result["type"])
		assert.Equal(t, "TEST_CODE", result["code"])
	})
}

func TestCommandError(t *testing.T) {
	t.Run("argument errors map to general error code", func(t *testing.T) {
		globals, _, _ := testGlobals("text")
		err := commandError(globals, &runner.ArgumentError{Msg: "bad flag"})
		var exitErr *runner.ExitCodeError
		require.True(t, errors.As(err, &exitErr))
		assert.Equal(t, runner.CodeError, exitErr.Code)
	})

	t.Run("simulator errors map to the simulator exit code", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		err := commandError(globals, &simulator.Error{Msg: "create failed"})
		var exitErr *runner.ExitCodeError
		require.True(t, errors.As(err, &exitErr))
		assert.Equal(t, runner.CodeSimError, exitErr.Code)

		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
		assert.Equal(t, "SIMULATOR_ERROR", result["code"])
	})
}

// --- Result Emission Tests ---

func TestEmitResult(t *testing.T) {
	t.Run("pass in text format", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		err := emitResult(globals, runner.CodeSucceeded, "UDID-1", runner.TestTypeXCTest, "/tmp/out")
		require.NoError(t, err)
		assert.Contains(t, stdout.String(), "PASS")
		assert.Contains(t, stdout.String(), "/tmp/out")
	})

	t.Run("fail in text format carries the exit code", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		err := emitResult(globals, runner.CodeFailed, "UDID-1", runner.TestTypeXCTest, "")
		var exitErr *runner.ExitCodeError
		require.True(t, errors.As(err, &exitErr))
		assert.Equal(t, runner.CodeFailed, exitErr.Code)
		assert.Contains(t, stdout.String(), "FAIL")
	})

	t.Run("ndjson result record", func(t *testing.T) {
		globals, stdout, _ := testGlobals("ndjson")
		err := emitResult(globals, runner.CodeTestNotStart, "UDID-1", runner.TestTypeXCUITest, "/tmp/out")
		require.Error(t, err)

		var result map[string]interface{}
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
		assert.Equal(t, "result", result["type"])
		assert.Equal(t, float64(runner.CodeTestNotStart), result["exit_code"])
		assert.Equal(t, "xcuitest", result["test_type"])
		assert.Equal(t, "UDID-1", result["udid"])
	})

	t.Run("quiet text format omits the results line", func(t *testing.T) {
		globals, stdout, _ := testGlobals("text")
		globals.Quiet = true
		require.NoError(t, emitResult(globals, runner.CodeSucceeded, "UDID-1", runner.TestTypeXCTest, "/tmp/out"))
		assert.NotContains(t, stdout.String(), "/tmp/out")
	})
}
