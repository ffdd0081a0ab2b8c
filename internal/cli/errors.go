package cli

import (
	"errors"
	"fmt"

	"github.com/mobileci/xtr/internal/output"
	"github.com/mobileci/xtr/internal/runner"
	"github.com/mobileci/xtr/internal/simulator"
)

// outputErrorCommon normalizes error emission across commands, respecting
// ndjson vs text formats so CI consumers always get machine-readable
// failures.
func outputErrorCommon(globals *Globals, code, message string, hint ...string) error {
	if globals != nil && globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteError(code, message, hint...)
	} else if globals != nil {
		fmt.Fprintf(globals.Stderr, "Error [%s]: %s", code, message)
		if len(hint) > 0 && hint[0] != "" {
			fmt.Fprintf(globals.Stderr, " (hint: %s)", hint[0])
		}
		fmt.Fprintln(globals.Stderr)
	}
	return errors.New(message)
}

// commandError maps a failure to its exit code, emits it and returns the
// carrier error for main. Simulator failures get their dedicated code so CI
// can tell an infra problem from a test failure.
func commandError(globals *Globals, err error) error {
	var argErr *runner.ArgumentError
	if errors.As(err, &argErr) {
		outputErrorCommon(globals, "INVALID_ARGUMENTS", argErr.Msg)
		return &runner.ExitCodeError{Code: runner.CodeError}
	}
	var simErr *simulator.Error
	if errors.As(err, &simErr) {
		outputErrorCommon(globals, "SIMULATOR_ERROR", simErr.Msg)
		return &runner.ExitCodeError{Code: runner.CodeSimError}
	}
	outputErrorCommon(globals, "RUN_FAILED", err.Error())
	return &runner.ExitCodeError{Code: runner.CodeError}
}
