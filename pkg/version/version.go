// Package version holds build metadata for the varorder binary.
package version

import (
	"runtime/debug"
)

const unknown = "unknown"

// Set by -ldflags "-X github.com/Sumatoshi-tech/varorder/pkg/version.Version=...".
var (
	Version = "dev"
	Commit  = unknown
	Date    = unknown
)

const (
	settingRevision = "vcs.revision"
	settingTime     = "vcs.time"
	shortHashLen    = 12
)

// InitBinaryVersion fills fields that were not set at link time from the
// module build info embedded by the go tool.
func InitBinaryVersion() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	apply(info)
}

func apply(info *debug.BuildInfo) {
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}

	for _, s := range info.Settings {
		switch s.Key {
		case settingRevision:
			if Commit == unknown && s.Value != "" {
				Commit = s.Value[:min(len(s.Value), shortHashLen)]
			}
		case settingTime:
			if Date == unknown && s.Value != "" {
				Date = s.Value
			}
		}
	}
}
