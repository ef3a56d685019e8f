// Package version reports what was built. Release builds stamp it with
//
//	go build -ldflags "-X github.com/masterbooter/masterbooter/internal/version.version=v1.2.3 -X github.com/masterbooter/masterbooter/internal/version.gitCommit=$(git rev-parse HEAD)"
//
// and anything else falls back to the module and VCS data the toolchain embeds.
package version

import (
	"runtime"
	"runtime/debug"
)

var (
	version   string
	gitCommit string

	readBuildInfo = debug.ReadBuildInfo
)

func GetVersion() string {
	if version != "" {
		return version
	}
	if info, ok := readBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

func commit() string {
	if gitCommit != "" {
		return gitCommit
	}
	info, ok := readBuildInfo()
	if !ok {
		return "none"
	}
	rev, dirty := "", false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "none"
	}
	if dirty {
		rev += "-dirty"
	}
	return rev
}

// BuildInfo describes the compiled time information.
type BuildInfo struct {
	Version   string `json:"version,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

func Get() BuildInfo {
	return BuildInfo{
		Version:   GetVersion(),
		GitCommit: commit(),
		GoVersion: runtime.Version(),
	}
}
