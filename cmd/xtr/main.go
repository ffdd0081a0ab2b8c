package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/alecthomas/kong"

	"github.com/mobileci/xtr/internal/cli"
	"github.com/mobileci/xtr/internal/config"
	"github.com/mobileci/xtr/internal/runner"
)

const quickStart = `xtr - run XCTest and XCUITest suites from the command line

Quick start:
  xtr devices                                        List simulators
  xtr test --device-id UDID \
      --app-under-test App.ipa --test-bundle T.ipa   Run on an existing device
  xtr simulator-test --test-bundle Tests.xctest      Run on a throwaway simulator

For help:
  xtr --help                                         All commands and flags
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Apply config defaults before parsing
	// These will be overridden by CLI flags if specified
	vars := kong.Vars{
		"config_format":              cfg.Format,
		"config_device_type":         cfg.Defaults.DeviceType,
		"config_os_version":          cfg.Defaults.OSVersion,
		"config_name_prefix":         cfg.Defaults.NamePrefix,
		"config_test_type":           cfg.Defaults.TestType,
		"config_work_dir":            cfg.Defaults.WorkDir,
		"config_output_dir":          cfg.Defaults.OutputDir,
		"config_startup_timeout":     strconv.Itoa(cfg.Defaults.StartupTimeoutSec),
		"config_destination_timeout": strconv.Itoa(cfg.Defaults.DestinationTimeoutSec),
	}

	ctx := kong.Parse(&c,
		kong.Name("xtr"),
		kong.Description("xtr: run iOS XCTest/XCUITest bundles on devices and simulators"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	// Create globals with config fallbacks
	globals := cli.NewGlobalsWithConfig(&c, cfg)
	err = ctx.Run(globals)
	if err != nil {
		var exitErr *runner.ExitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}
