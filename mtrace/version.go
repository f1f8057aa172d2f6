package mtrace

import (
	internal "github.com/memtrace/memtrace/internal/mtrace/api"
)

// Version is the current release of the memory tracker.
const Version = "0.1.0"

// Info describes the running tracker.
type Info struct {
	// Version is the tracker release.
	Version string

	// Backend names the raw allocator backend in use.
	Backend string

	// Enabled reports whether calls are currently tracked.
	Enabled bool
}

// GetInfo returns version and configuration details for diagnostics.
func GetInfo() Info {
	return Info{
		Version: Version,
		Backend: internal.BackendName(),
		Enabled: internal.Enabled(),
	}
}
