// Package version holds build metadata injected via ldflags, e.g.
//
//	-ldflags "-X github.com/kailas-cloud/guestid/internal/version.Version=v0.3.0"
package version

import "fmt"

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("guestid %s (commit %s, built %s)", Version, Commit, Date)
}
