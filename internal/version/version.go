package version

import "fmt"

// Build metadata, overridden at release time via -ldflags "-X".
var (
	Version   = "0.1.0"
	Commit    = "dev"
	BuildDate = "unknown"
)

// Full renders the version line printed by the version command.
func Full() string {
	return fmt.Sprintf("loopsmith %s (commit %s, built %s)", Version, Commit, BuildDate)
}
