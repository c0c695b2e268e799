// Package version reports build metadata of the marketpulse binary.
package version

import (
	"fmt"
	"runtime"
)

// Name is the program name used in version strings and the feed User-Agent
const Name = "marketpulse"

// Set at build time:
//
//	go build -ldflags "-X github.com/teranos/marketpulse/version.Version=v0.3.0 -X ...CommitHash=$(git rev-parse HEAD)"
var (
	Version    = "dev"
	CommitHash = "dev"
	BuildTime  = "unknown"
)

// Info is the build metadata rendered by `marketpulse version`
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get returns the metadata of the running binary
func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", Name, i.Version, i.Short(), i.BuildTime)
}

// Short returns the abbreviated commit hash
func (i Info) Short() string {
	if len(i.CommitHash) > 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}

// UserAgent identifies this build to the market data feed
func UserAgent() string {
	return Name + "/" + Version
}
