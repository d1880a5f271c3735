// ABOUTME: Build identification
// ABOUTME: Product, manufacturer and version strings shown in logs, mDNS and the TUI
package version

// Version is overridden at build time with -ldflags "-X .../internal/version.Version=..."
var Version = "0.3.0"

const (
	Product      = "Lockstep"
	Manufacturer = "Resonate Protocol"
)
