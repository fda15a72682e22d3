// Package version provides build version information.
package version

// Version is the current version of fleet.
// This is set at build time using ldflags:
//
//	go build -ldflags "-X github.com/quatrix/fleet/internal/version.Version=v1.0.0"
var Version = "dev"

// Commit is the git commit hash this binary was built from.
// Set at build time using ldflags:
//
//	go build -ldflags "-X github.com/quatrix/fleet/internal/version.Commit=abc123"
var Commit = "unknown"

// Date is the build date.
// Set at build time using ldflags:
//
//	go build -ldflags "-X github.com/quatrix/fleet/internal/version.Date=2024-01-01"
var Date = "unknown"
