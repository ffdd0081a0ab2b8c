package runner

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTestType(t *testing.T) {
	for in, want := range map[string]TestType{
		"xctest":     TestTypeXCTest,
		"XCUITest":   TestTypeXCUITest,
		"logic-test": TestTypeLogicTest,
	} {
		got, err := ParseTestType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseTestType("uitest")
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
}

func TestDetectTestType(t *testing.T) {
	t.Run("ui test bundle", func(t *testing.T) {
		stubTool(t, "nm", `echo '0000000000000000 U _OBJC_CLASS_$_XCUIApplication'`)
		dir := writeBundle(t, filepath.Join(t.TempDir(), "UITests.xctest"), "com.example.ui")
		tt, err := DetectTestType(dir)
		require.NoError(t, err)
		assert.Equal(t, TestTypeXCUITest, tt)
	})

	t.Run("unit test bundle", func(t *testing.T) {
		stubTool(t, "nm", `echo '0000000000000000 U _OBJC_CLASS_$_XCTestCase'`)
		dir := writeBundle(t, filepath.Join(t.TempDir(), "UnitTests.xctest"), "com.example.unit")
		tt, err := DetectTestType(dir)
		require.NoError(t, err)
		assert.Equal(t, TestTypeXCTest, tt)
	})

	t.Run("nm failure", func(t *testing.T) {
		stubTool(t, "nm", `echo "no symbols" >&2; exit 1`)
		dir := writeBundle(t, filepath.Join(t.TempDir(), "Broken.xctest"), "com.example.broken")
		_, err := DetectTestType(dir)
		require.Error(t, err)
	})
}
