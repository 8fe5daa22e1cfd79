// Command ipsweep is the network discovery and scan orchestration tool.
package main

import (
	"github.com/anstrom/ipsweep/cmd/cli"
	"github.com/anstrom/ipsweep/internal/api/handlers"
)

// Build information, set via ldflags:
//
//	-X main.version=v1.2.3 -X main.commit=abc123 -X main.buildTime=2026-01-01T00:00:00Z
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	handlers.SetBuildInfo(version, commit, buildTime)
	cli.Execute()
}
