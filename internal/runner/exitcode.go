// Package runner implements the test-invocation protocol: it generates
// xctestrun configurations, drives `xcodebuild test-without-building` and
// `simctl spawn` for logic tests, classifies their output and maps every run
// to a small exit-code taxonomy.
package runner

import (
	"fmt"
	"strconv"
)

// ExitCode is the process exit code reported for a test run.
type ExitCode int

const (
	CodeSucceeded        ExitCode = 0
	CodeError            ExitCode = 1
	CodeUnknown          ExitCode = 10
	CodeFailed           ExitCode = 11
	CodeTestNotStart     ExitCode = 12
	CodeNeedRebootDevice ExitCode = 13
	CodeNeedRecreateSim  ExitCode = 14
	CodeSimError         ExitCode = 15
)

var exitCodeInfos = map[ExitCode]string{
	CodeSucceeded:        "Test succeeded",
	CodeError:            "General error",
	CodeUnknown:          "Unknown test result",
	CodeFailed:           "Test failure",
	CodeTestNotStart:     "Test has not started",
	CodeNeedRebootDevice: "Need to reboot the device to recover it",
	CodeNeedRecreateSim:  "Need to recreate a new simulator to run test",
	CodeSimError:         "The simulator has an error",
}

// Info returns the human-readable description of the code.
func (c ExitCode) Info() string {
	if info, ok := exitCodeInfos[c]; ok {
		return info
	}
	return "Unrecognized exit code " + strconv.Itoa(int(c))
}

func (c ExitCode) String() string { return c.Info() }

// ExitCodeError carries a non-zero exit code through the CLI error path so
// main can report it to the OS.
type ExitCodeError struct {
	Code ExitCode
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("%s (exit code %d)", e.Code.Info(), int(e.Code))
}

// ArgumentError reports invalid caller-supplied input: bad paths, bad
// extensions, unsupported option combinations.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string { return e.Msg }

func argumentErrorf(format string, args ...interface{}) *ArgumentError {
	return &ArgumentError{Msg: fmt.Sprintf(format, args...)}
}
