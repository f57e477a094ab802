package version

import (
	"fmt"
	"runtime"
)

// Build metadata, overridden with -ldflags "-X ...".
var (
	Version   = "0.1.0"
	Commit    = "none"
	BuildTime = "unknown"
)

// Info is the build metadata of a running station.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	Platform  string `json:"platform"`
}

// Current returns the metadata of this binary.
func Current() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String formats the metadata on one line.
func (i Info) String() string {
	return fmt.Sprintf("rkflash %s (commit %s, built %s, %s)", i.Version, i.Commit, i.BuildTime, i.Platform)
}
