package cli

import (
	"fmt"
	"runtime"

	"github.com/mobileci/xtr/internal/output"
)

// Version info, set at build time via -ldflags.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// VersionCmd prints version information.
type VersionCmd struct{}

// Run executes the version command
func (c *VersionCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		output.NewNDJSONWriter(globals.Stdout).WriteEvent("version", map[string]interface{}{
			"version":    Version,
			"commit":     Commit,
			"build_date": BuildDate,
			"go_version": runtime.Version(),
		})
		return nil
	}
	fmt.Fprintf(globals.Stdout, "xtr %s (commit %s, built %s, %s)\n",
		Version, Commit, BuildDate, runtime.Version())
	return nil
}
