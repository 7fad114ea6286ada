// Package buildinfo contains build-time metadata separate from user
// configuration. The values are injected through ldflags at build time.
package buildinfo

var (
	// Version holds the Git version tag from build
	Version = "dev"

	// BuildDate is the time when the binary was built
	BuildDate = "unknown"
)
