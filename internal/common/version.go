package common

import (
	"fmt"
	"runtime"
)

// Set via -ldflags "-X github.com/ternarybob/atozbot/internal/common.Version=..."
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// BuildInfo is the version block reported by /api/version and the banner
type BuildInfo struct {
	Version   string `json:"version"`
	Build     string `json:"build"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}

// GetBuildInfo returns the linked build metadata
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Build:     Build,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
	}
}

// GetVersion returns the current version string
func GetVersion() string {
	return Version
}

// GetFullVersion returns version with build info
func GetFullVersion() string {
	return fmt.Sprintf("%s (build: %s, commit: %s, %s)", Version, Build, GitCommit, runtime.Version())
}
