// Package version reports the build identity of vto-bridge.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at build time:
//
//	go build -ldflags="-X github.com/muurk/vtobridge/internal/version.Version=v0.3.0 \
//	                   -X github.com/muurk/vtobridge/internal/version.Commit=abc1234"
var (
	Version   = ""
	Commit    = ""
	BuildDate = ""
)

// Info is the resolved build identity
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Get resolves the build identity, filling anything ldflags left empty
// from the embedded VCS stamp
func Get() Info {
	info := Info{Version: Version, Commit: Commit, BuildDate: BuildDate, GoVersion: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info = resolve(info, bi.Settings)
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	return info
}

func resolve(info Info, settings []debug.BuildSetting) Info {
	var revision, modified, vcsTime string
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value
		case "vcs.time":
			vcsTime = s.Value
		}
	}

	if info.Commit == "" && revision != "" {
		info.Commit = revision
		if len(info.Commit) > 7 {
			info.Commit = info.Commit[:7]
		}
		if modified == "true" {
			info.Commit += "-dirty"
		}
	}
	if info.BuildDate == "" {
		info.BuildDate = vcsTime
	}
	return info
}

// String renders the identity on one line
func (i Info) String() string {
	s := fmt.Sprintf("vto-bridge %s (commit: %s", i.Version, i.Commit)
	if i.BuildDate != "" {
		s += ", built: " + i.BuildDate
	}
	return s + ", " + i.GoVersion + ")"
}

// Full returns Get().String()
func Full() string {
	return Get().String()
}
