package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is set at build time with -ldflags
	Version = "v0.1.0"

	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Short is the one-line form used by --version.
func Short() string {
	return fmt.Sprintf("%s (Build: %s, Commit: %s)", Version, BuildTime, GitCommit)
}

// Info returns version information
func Info() string {
	return fmt.Sprintf("AgentPayy Coordinator\nVersion:    %s\nGit Commit: %s\nBuild Time: %s\nGo Version: %s\nOS/Arch:    %s/%s",
		Version,
		GitCommit,
		BuildTime,
		runtime.Version(),
		runtime.GOOS,
		runtime.GOARCH,
	)
}
