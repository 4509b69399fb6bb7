// Package version reports build information for the PSRFITS tools
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Build-time variables, set with -ldflags "-X psrfits-tools/internal/version.Version=..."
var (
	// Version is the release number
	Version = "0.3.0"

	// GitCommit is the git sha1 that was compiled
	GitCommit = "unknown"

	// BuildDate is the date the binary was built
	BuildDate = "unknown"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string
	GitCommit string
	BuildDate string
	GoVersion string
	Platform  string
}

// GetBuildInfo returns complete build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// ShortCommit returns the first seven characters of the commit, or "" when
// the commit is not known
func (b BuildInfo) ShortCommit() string {
	if b.GitCommit == "unknown" {
		return ""
	}
	if len(b.GitCommit) > 7 {
		return b.GitCommit[:7]
	}
	return b.GitCommit
}

// GetVersionInfo returns the text printed by each tool's --version flag
func GetVersionInfo(appName string) string {
	info := GetBuildInfo()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s version %s", appName, info.Version)
	if c := info.ShortCommit(); c != "" {
		fmt.Fprintf(&sb, " (commit %s)", c)
	}
	if info.BuildDate != "unknown" {
		fmt.Fprintf(&sb, "\nBuilt: %s", info.BuildDate)
	}
	fmt.Fprintf(&sb, "\nGo: %s", info.GoVersion)
	fmt.Fprintf(&sb, "\nPlatform: %s", info.Platform)
	return sb.String()
}
