// Copyright (c) Skyfleet Robotics
// SPDX-License-Identifier: MPL-2.0

package version

import (
	"fmt"
	"strings"
)

var (
	// GitCommit is the git commit that was compiled. Filled in by the
	// compiler via ldflags.
	GitCommit string

	// Version is the main version number that is being run at the
	// moment.
	Version = "0.3.0"

	// VersionPrerelease marks the version as a pre-release such as
	// "dev", "beta", or "rc1". Empty means a final release.
	VersionPrerelease = "dev"
)

// String returns the full human readable version string.
func String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "v%s", Version)
	if VersionPrerelease != "" {
		fmt.Fprintf(&b, "-%s", VersionPrerelease)
	}
	if GitCommit != "" {
		fmt.Fprintf(&b, " (%s)", GitCommit)
	}
	return b.String()
}
