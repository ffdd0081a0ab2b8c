package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LaunchOptions controls how the tests are launched. It mirrors the
// launch-options JSON file accepted on the command line.
type LaunchOptions struct {
	EnvVars               map[string]string `json:"env_vars,omitempty"`
	Args                  []string          `json:"args,omitempty"`
	AppUnderTestEnvVars   map[string]string `json:"app_under_test_env_vars,omitempty"`
	AppUnderTestArgs      []string          `json:"app_under_test_args,omitempty"`
	TestsToRun            []string          `json:"tests_to_run,omitempty"`
	SkipTests             []string          `json:"skip_tests,omitempty"`
	UITestAutoScreenshots bool              `json:"uitest_auto_screenshots,omitempty"`
	StartupTimeoutSec     int               `json:"startup_timeout_sec,omitempty"`
	DestinationTimeoutSec int               `json:"destination_timeout_sec,omitempty"`
}

// SigningOptions controls code signing of the staged XCTRunner.app on real
// devices. Ignored for simulator runs.
type SigningOptions struct {
	XctrunnerAppProvisioningProfile string `json:"xctrunner_app_provisioning_profile,omitempty"`
	XctrunnerAppEnableUIFileSharing bool   `json:"xctrunner_app_enable_ui_file_sharing,omitempty"`
	KeychainPath                    string `json:"keychain_path,omitempty"`
}

// ParseLaunchOptions decodes the launch-options JSON string or @file path.
func ParseLaunchOptions(s string) (*LaunchOptions, error) {
	if s == "" {
		return &LaunchOptions{}, nil
	}
	data, err := optionBytes(s)
	if err != nil {
		return nil, err
	}
	var opts LaunchOptions
	if err := json.Unmarshal(data, &opts); err != nil {
		return nil, argumentErrorf("parse launch options: %v", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// ParseSigningOptions decodes the signing-options JSON string or @file path.
func ParseSigningOptions(s string) (*SigningOptions, error) {
	if s == "" {
		return &SigningOptions{}, nil
	}
	data, err := optionBytes(s)
	if err != nil {
		return nil, err
	}
	var opts SigningOptions
	if err := json.Unmarshal(data, &opts); err != nil {
		return nil, argumentErrorf("parse signing options: %v", err)
	}
	return &opts, nil
}

// optionBytes treats "@path" as a file reference and anything else as an
// inline JSON document.
func optionBytes(s string) ([]byte, error) {
	if strings.HasPrefix(s, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(s, "@"))
		if err != nil {
			return nil, argumentErrorf("read options file: %v", err)
		}
		return data, nil
	}
	return []byte(s), nil
}

// Validate checks test identifier syntax. Identifiers are either "All",
// a class name, or "Class/testMethod".
func (o *LaunchOptions) Validate() error {
	for _, id := range o.TestsToRun {
		if err := validateTestID(id); err != nil {
			return err
		}
	}
	for _, id := range o.SkipTests {
		if id == "All" {
			return argumentErrorf(`"All" is not a valid skip-test identifier`)
		}
		if err := validateTestID(id); err != nil {
			return err
		}
	}
	if o.StartupTimeoutSec < 0 {
		return argumentErrorf("startup_timeout_sec must not be negative")
	}
	if o.DestinationTimeoutSec < 0 {
		return argumentErrorf("destination_timeout_sec must not be negative")
	}
	return nil
}

func validateTestID(id string) error {
	if id == "" {
		return argumentErrorf("empty test identifier")
	}
	if strings.Count(id, "/") > 1 {
		return argumentErrorf("invalid test identifier %q, want Class or Class/testMethod", id)
	}
	return nil
}

// RunsAllTests reports whether the options do not restrict the test set.
func (o *LaunchOptions) RunsAllTests() bool {
	if len(o.TestsToRun) == 0 {
		return true
	}
	for _, id := range o.TestsToRun {
		if id == "All" {
			return true
		}
	}
	return false
}

func (o *LaunchOptions) String() string {
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Sprintf("%%!LaunchOptions(%v)", err)
	}
	return string(b)
}
