package meta

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Info is the build context of a conduit binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Branch    string `json:"branch,omitempty"`
	BuildTime string `json:"buildTime,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	Platform  string `json:"platform"`
	GoVersion string `json:"goVersion"`
	GoTags    string `json:"goTags,omitempty"`
}

// Release builds set these with
// -ldflags "-X github.com/luma/conduit/internal/meta.Version=...".
// Builds without them fall back to the VCS stamp the go tool embeds.
var (
	Version      string
	Build        string
	Branch       string
	BuildTimeUTC string
	GoTag        string
)

// GetInfo returns the build information of the running binary.
func GetInfo() Info {
	info := Info{
		Version:   ReleaseVersion(),
		Commit:    Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		GoVersion: runtime.Version(),
		GoTags:    GoTag,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}

	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.BuildTime == "" {
				info.BuildTime = s.Value
			}
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		case "-tags":
			if info.GoTags == "" {
				info.GoTags = s.Value
			}
		}
	}
	return info
}

// ReleaseVersion is Version, or "dev" for builds without one. The dev
// server reports it in HELLO.
func ReleaseVersion() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "conduit %s (%s) %s", i.Version, i.Platform, i.GoVersion)

	if i.Commit != "" {
		commit := i.Commit
		if i.Dirty {
			commit += "-dirty"
		}
		fmt.Fprintf(&b, "\ncommit %s", commit)
		if i.Branch != "" {
			fmt.Fprintf(&b, " on %s", i.Branch)
		}
		if i.BuildTime != "" {
			fmt.Fprintf(&b, " at %s", i.BuildTime)
		}
	}
	if i.GoTags != "" {
		fmt.Fprintf(&b, "\ntags %s", i.GoTags)
	}
	return b.String()
}
