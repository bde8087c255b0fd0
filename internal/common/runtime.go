package common

import "runtime/debug"

var (
	// Version is set at link time: -X github.com/osbuild/diskfmt/internal/common.Version=1.2
	Version = "devel"

	// Git SHA commit (only first few characters)
	BuildCommit string

	// Build date and time
	BuildTime string

	// BuildGoVersion carries Go version the binary was built with
	BuildGoVersion string
)

func init() {
	BuildTime = "N/A"
	BuildCommit = "HEAD"

	if bi, ok := debug.ReadBuildInfo(); ok {
		BuildGoVersion = bi.GoVersion

		for _, bs := range bi.Settings {
			switch bs.Key {
			case "vcs.revision":
				if len(bs.Value) > 6 {
					BuildCommit = bs.Value[0:6]
				}
			case "vcs.time":
				BuildTime = bs.Value
			}
		}
	}
}

// VersionString is what the version command and the status endpoint report.
func VersionString() string {
	return Version + " (" + BuildCommit + ", " + BuildTime + ")"
}
