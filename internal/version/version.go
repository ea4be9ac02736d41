// Package version holds the release version, set at build time with
// -ldflags "-X github.com/strongdm/fragstream/internal/version.Version=...".
package version

var Version = "0.1.0"

// UserAgent is sent on every outgoing fragment request.
func UserAgent() string {
	return "fragstream/" + Version
}
