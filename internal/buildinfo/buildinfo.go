// Package buildinfo holds version metadata stamped in at build time via
// -ldflags "-X .../internal/buildinfo.GitCommit=...".
package buildinfo

import (
	"fmt"
	"time"
)

var (
	// GitCommit is the git commit the binary was built from.
	GitCommit = ""
	// ReleaseVersion is the release version.
	ReleaseVersion = ""
	// BuildTime is the build timestamp.
	BuildTime = ""
)

// init fills in dev-build placeholders for ReleaseVersion and BuildTime
// when the binary wasn't built with -ldflags; GitCommit has no placeholder
// and stays empty unless stamped.
func init() {
	now := time.Now()
	if ReleaseVersion == "" {
		ReleaseVersion = fmt.Sprintf("%d%02d%02d%02d%02d-dev",
			now.Year(), int(now.Month()), now.Day(), now.Hour(), now.Minute())
	}
	if BuildTime == "" {
		BuildTime = now.String()
	}
}
