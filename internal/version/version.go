// Package version carries build metadata injected at link time:
//
//	go build -ldflags "-X git.home.luguber.info/inful/texbuilder/internal/version.Version=v0.3.0"
package version

import "fmt"

// Version is the release version.
var Version = "dev"

// Build metadata.
var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String formats the full version line printed by `texbuilder version`.
func String() string {
	return fmt.Sprintf("texbuilder %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
