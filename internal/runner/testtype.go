package runner

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/mobileci/xtr/internal/bundle"
)

// TestType identifies the kind of test bundle being run.
type TestType string

const (
	TestTypeXCTest    TestType = "xctest"
	TestTypeXCUITest  TestType = "xcuitest"
	TestTypeLogicTest TestType = "logic-test"
)

// ParseTestType validates a user-supplied test type string.
func ParseTestType(s string) (TestType, error) {
	switch TestType(strings.ToLower(s)) {
	case TestTypeXCTest:
		return TestTypeXCTest, nil
	case TestTypeXCUITest:
		return TestTypeXCUITest, nil
	case TestTypeLogicTest:
		return TestTypeLogicTest, nil
	}
	return "", argumentErrorf("unknown test type %q, want xctest, xcuitest or logic-test", s)
}

// DetectTestType inspects the test bundle's executable symbols to decide
// whether it is a UI test bundle. A bundle referencing XCUIApplication is an
// XCUITest bundle, anything else is a unit test bundle.
func DetectTestType(testBundleDir string) (TestType, error) {
	execPath := bundle.ExecutablePath(testBundleDir)
	out, err := exec.Command("nm", execPath).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("nm %s: %v\n%s", execPath, err, out)
	}
	if strings.Contains(string(out), "XCUIApplication") {
		return TestTypeXCUITest, nil
	}
	return TestTypeXCTest, nil
}
