// Package buildinfo reports the version of the running binary.
package buildinfo

import (
	"runtime/debug"
	"strings"
)

// Version metadata is injected at build time via ldflags. When it is absent
// the module version recorded by the Go toolchain is used.
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

// Summary returns a human-readable version summary string, e.g.
// "v0.3.0 (abc1234 2025-01-02)".
func Summary() string {
	version, commit, date := Version, Commit, Date
	if info, ok := debug.ReadBuildInfo(); ok {
		if version == "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if date == "" {
					date = s.Value
				}
			}
		}
	}
	return format(version, commit, date)
}

func format(version, commit, date string) string {
	if version == "" {
		version = "dev"
	}
	if len(commit) > 12 {
		commit = commit[:12]
	}
	extra := strings.TrimSpace(commit + " " + date)
	if extra == "" {
		return version
	}
	return version + " (" + extra + ")"
}
