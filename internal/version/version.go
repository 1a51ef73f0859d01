// Package version holds build metadata for the remediator.
// Set at build time: -ldflags '-X github.com/invisible-tech/autoheal-remediator/internal/version.Version=1.2.3 -X github.com/invisible-tech/autoheal-remediator/internal/version.Commit=abc123'
package version

var (
	// Version defaults to the chart appVersion for local builds.
	Version = "1.0.0"
	// Commit is the git revision, empty for local builds.
	Commit = ""
)

// String returns Version, suffixed with the commit when known.
func String() string {
	if Commit == "" {
		return Version
	}
	return Version + "+" + Commit
}
