package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/mobileci/xtr/internal/output"
	"github.com/mobileci/xtr/internal/runner"
)

var (
	passStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// emitResult reports the final verdict of a test run and returns the carrier
// error for non-zero exit codes.
func emitResult(globals *Globals, code runner.ExitCode, udid string, testType runner.TestType, outputDir string) error {
	if globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteEvent("result", map[string]interface{}{
			"exit_code":  int(code),
			"status":     code.Info(),
			"udid":       udid,
			"test_type":  string(testType),
			"output_dir": outputDir,
		})
	} else {
		banner := failStyle.Render("FAIL")
		if code == runner.CodeSucceeded {
			banner = passStyle.Render("PASS")
		}
		if !stdoutIsTTY(globals) {
			banner = "FAIL"
			if code == runner.CodeSucceeded {
				banner = "PASS"
			}
		}
		fmt.Fprintf(globals.Stdout, "%s  %s\n", banner, code.Info())
		if !globals.Quiet && outputDir != "" {
			detail := fmt.Sprintf("results: %s", outputDir)
			if stdoutIsTTY(globals) {
				detail = dimStyle.Render(detail)
			}
			fmt.Fprintln(globals.Stdout, detail)
		}
	}
	if code == runner.CodeSucceeded {
		return nil
	}
	return &runner.ExitCodeError{Code: code}
}

func stdoutIsTTY(globals *Globals) bool {
	f, ok := globals.Stdout.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
