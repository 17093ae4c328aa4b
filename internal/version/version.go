// Package version reports what build is running. Release builds stamp the
// variables below with -ldflags; local builds fall back to the VCS data the
// Go toolchain embeds.
package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
)

// AppName labels build info, logs and the CLI.
const AppName = "ziprehome"

// Stamped with -ldflags "-X github.com/keithlinneman/ziprehome/internal/version.Version=...".
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	GoVersion  string
	VCSDirty   *bool
)

// Info is the build description served by the CLI and the build_info metric.
type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	info := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.fromBuildInfo(bi)
	}
	return info
}

// fromBuildInfo fills what ldflags left unset. The embedded commit time is
// always the commit date.
func (i *Info) fromBuildInfo(bi *debug.BuildInfo) {
	i.GoVersion = bi.GoVersion
	vcs := make(map[string]string, len(bi.Settings))
	for _, s := range bi.Settings {
		vcs[s.Key] = s.Value
	}
	if rev := vcs["vcs.revision"]; rev != "" && i.Commit == "none" {
		i.Commit = rev
	}
	if when, ok := vcs["vcs.time"]; ok {
		i.CommitDate = when
		if i.BuildDate == "" {
			i.BuildDate = when
		}
	}
	if b, err := strconv.ParseBool(vcs["vcs.modified"]); err == nil {
		i.VCSDirty = &b
	}
}

// String is the one-line form printed by -V and the CLI.
func (i Info) String() string {
	dirty := ""
	if i.VCSDirty != nil && *i.VCSDirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s %s (commit %s%s, built %s, %s)", AppName, i.Version, i.Commit, dirty, i.BuildDate, i.GoVersion)
}
