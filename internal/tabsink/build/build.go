package build

import "runtime"

// Set at link time with -ldflags "-X github.com/G-Research/tabsink/internal/tabsink/build.ReleaseVersion=..."
var (
	ReleaseVersion = "UNKNOWN_VERSION"
	GitCommit      = "UNKNOWN_GITCOMMIT"
	BuildTime      = "UNKNOWN_BUILDTIME"
	GoVersion      = runtime.Version()
)
