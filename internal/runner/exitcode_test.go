package runner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCodeInfo(t *testing.T) {
	assert.Equal(t, "Test succeeded", CodeSucceeded.Info())
	assert.Equal(t, "Need to recreate a new simulator to run test", CodeNeedRecreateSim.Info())
	assert.Equal(t, "Unrecognized exit code 42", ExitCode(42).Info())
}

func TestExitCodeError(t *testing.T) {
	err := error(&ExitCodeError{Code: CodeFailed})
	assert.Equal(t, "Test failure (exit code 11)", err.Error())

	var exitErr *ExitCodeError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, CodeFailed, exitErr.Code)
}
