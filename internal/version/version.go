// Package version holds build metadata. Release builds set the values with
//
//	-ldflags "-X github.com/bissquit/alert-relay/internal/version.Version=1.4.0 ..."
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// String formats the build metadata for the version command and logs.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate)
}
