// Package version provides build information for the live server.
package version

// Version is the current release version.
// Override at build time with:
//
//	go build -ldflags "-X github.com/spyrothon/graphics-sub000/internal/version.Version=x.y.z"
var Version = "0.1.0"
