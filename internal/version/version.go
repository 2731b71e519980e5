// Package version holds build metadata injected via ldflags.
package version

import "fmt"

// Build metadata, overridden at link time with -X.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String formats the build metadata for the -version flag.
func String() string {
	return fmt.Sprintf("storefront %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
