// Package version provides build version information for hukm.
package version

import (
	"fmt"
	"runtime"
)

// Version is set at build time via ldflags:
//
//	go build -ldflags "-X github.com/hukm-search/hukm/pkg/version.Version=v1.2.3"
var Version = "dev"

// Commit is the git commit hash, set at build time.
var Commit = "unknown"

// BuildDate is the build timestamp, set at build time.
var BuildDate = "unknown"

// Info bundles version details for structured output.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns the full version information.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Short returns just the version number.
func Short() string {
	return Version
}

// String returns a human-readable version line.
func String() string {
	return fmt.Sprintf("hukm %s (commit %s, built %s, %s)",
		Version, Commit, BuildDate, runtime.Version())
}
