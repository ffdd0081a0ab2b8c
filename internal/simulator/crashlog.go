package simulator

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
)

// Crash signatures in a simulator's system.log. A service that "exited due
// to signal/Terminated/Killed/Abort trap" or "with abnormal code" under the
// SimDevice domain means the corresponding process died during launch.
const (
	appCrashPattern = `com\.apple\.CoreSimulator\.SimDevice\.[A-Z0-9\-]+(.+) ` +
		`\(UIKitApplication:%s(.+)\): Service exited ` +
		`(due to (signal|Terminated|Killed|Abort trap)|with abnormal code)`
	xctestCrashPattern = `com\.apple\.CoreSimulator\.SimDevice\.[A-Z0-9\-]+(.+) ` +
		`\((.+)xctest\[[0-9]+\]\): Service exited ` +
		`(due to (signal|Terminated|Killed|Abort trap)|with abnormal code)`
	coreSimCrashPattern = `com\.apple\.CoreSimulator\.SimDevice\.[A-Z0-9\-]+(.+) ` +
		`\(com\.apple\.CoreSimulator(.+)\): Service exited due to `
)

var (
	xctestCrashRegexp  = regexp.MustCompile(xctestCrashPattern)
	coreSimCrashRegexp = regexp.MustCompile(coreSimCrashPattern)
)

// IsAppFailedToLaunch reports whether the system log shows a UIKit app crash
// during launch. An empty bundleID matches any app.
func IsAppFailedToLaunch(systemLog, bundleID string) bool {
	re := regexp.MustCompile(fmt.Sprintf(appCrashPattern, regexp.QuoteMeta(bundleID)))
	return re.MatchString(systemLog)
}

// IsXctestFailedToLaunch reports whether the system log shows the xctest
// agent process crashing.
func IsXctestFailedToLaunch(systemLog string) bool {
	return xctestCrashRegexp.MatchString(systemLog)
}

// IsCoreSimulatorCrash reports whether the system log shows a CoreSimulator
// service crash.
func IsCoreSimulatorCrash(systemLog string) bool {
	return coreSimCrashRegexp.MatchString(systemLog)
}

// TailFile returns the last n lines of a file via tail(1), matching how the
// executor samples a large system.log without reading it whole.
func TailFile(path string, n int) (string, error) {
	out, err := exec.Command("tail", "-"+strconv.Itoa(n), path).Output()
	if err != nil {
		return "", fmt.Errorf("tail %s: %w", path, err)
	}
	return string(out), nil
}
