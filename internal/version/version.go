package version

import "fmt"

// Set at build time, for example:
// go build -ldflags "-X github.com/pysugar/filedesk/internal/version.Version=v0.3.0"
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("filedesk %s (commit %s, built %s)", Version, Commit, BuildTime)
}
