// ABOUTME: Build version and product identity
// ABOUTME: Reported in logs, the TUI header and relay mDNS records
package version

const (
	Version      = "0.1.0"
	Product      = "WarpSong"
	Manufacturer = "WarpSong"
)
