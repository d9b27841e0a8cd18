package context

import (
	"fmt"
	"runtime/debug"
)

// VersionInfo describes the application build.
type VersionInfo struct {
	Version string
	Commit  string
}

// String returns a human-readable version string.
func (v *VersionInfo) String() string {
	if v.Commit != "" {
		return fmt.Sprintf("%s (%s)", v.Version, v.Commit)
	}
	return v.Version
}

// GetVersion extracts the application version from the build info.
func GetVersion() (*VersionInfo, error) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, fmt.Errorf("failed reading build info")
	}

	v := &VersionInfo{Version: info.Main.Version}
	if v.Version == "" || v.Version == "(devel)" {
		v.Version = "devel"
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			commit := setting.Value
			if len(commit) > 12 {
				commit = commit[:12]
			}
			v.Commit = commit
		}
	}

	return v, nil
}
