// Package version reports build information for the tagserve binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"git_commit" yaml:"git_commit"`
	BuildTime time.Time `json:"build_time,omitempty" yaml:"build_time,omitempty"`
	GoVersion string    `json:"go_version" yaml:"go_version"`
	Platform  string    `json:"platform" yaml:"platform"`
	Modified  bool      `json:"modified,omitempty" yaml:"modified,omitempty"`
}

// Set at build time with -ldflags "-X github.com/conneroisu/tagserve/internal/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Get returns the build information of the running binary, falling back
// to the VCS settings embedded by the Go toolchain.
func Get() *BuildInfo {
	info := &BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: parseTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.GitCommit == "unknown" {
				info.GitCommit = s.Value
			}
		case "vcs.time":
			if info.BuildTime.IsZero() {
				info.BuildTime = parseTime(s.Value)
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
}

// Short returns a one-line version such as "v1.2.0 (abc1234)".
func (b *BuildInfo) Short() string {
	if len(b.GitCommit) < 7 || b.GitCommit == "unknown" {
		return b.Version
	}
	commit := b.GitCommit[:7]
	if b.Version == "dev" {
		return "dev-" + commit
	}
	return fmt.Sprintf("%s (%s)", b.Version, commit)
}

// String returns a multi-line description.
func (b *BuildInfo) String() string {
	lines := []string{"Version: " + b.Version}
	if b.GitCommit != "unknown" {
		commit := "Commit: " + b.GitCommit
		if b.Modified {
			commit += " (modified)"
		}
		lines = append(lines, commit)
	}
	if !b.BuildTime.IsZero() {
		lines = append(lines, "Built: "+b.BuildTime.Format(time.RFC3339))
	}
	lines = append(lines, "Go: "+b.GoVersion, "Platform: "+b.Platform)
	return strings.Join(lines, "\n")
}

// IsRelease reports whether this is a tagged build.
func (b *BuildInfo) IsRelease() bool {
	return b.Version != "dev" && !strings.HasPrefix(b.Version, "dev-")
}

func parseTime(s string) time.Time {
	if s == "" || s == "unknown" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
