// Package version reports the build of the sponsor binary.
package version

// CurrentCommit is set with ldflags at build time.
var CurrentCommit string

const BuildVersion = "v0.3.0"

func String() string {
	if CurrentCommit == "" {
		return BuildVersion
	}
	return BuildVersion + "+git." + CurrentCommit
}
