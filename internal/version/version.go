// Package version holds build metadata injected with -ldflags.
package version

// Version is overridden at build time:
//
//	go build -ldflags "-X github.com/ndewijer/market-data-cache/internal/version.Version=1.2.3"
var Version = "dev"
