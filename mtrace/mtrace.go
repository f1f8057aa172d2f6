package mtrace

import (
	internal "github.com/memtrace/memtrace/internal/mtrace/api"
)

// Init makes the tracker ready. Allocations before Init are still
// observed but flagged as suspicious bootstrap activity; everything after
// counts as program work. Init after Fini starts a fresh tracking run.
func Init() {
	internal.Init()
}

// Fini writes the leak report and retires the tracker. Allocator calls
// made after Fini pass through to the raw backend untracked.
func Fini() {
	internal.Fini()
}

// Malloc allocates size bytes and returns the block's address, or 0 when
// the backend cannot satisfy the request. Size 0 still returns a unique
// address.
func Malloc(size uintptr) uintptr {
	return internal.Malloc(size, 1)
}

// Calloc allocates n elements of size bytes each, zeroed. A product that
// overflows fails the request and returns 0.
func Calloc(n, size uintptr) uintptr {
	return internal.Calloc(n, size, 1)
}

// Realloc resizes the block at addr to size bytes, moving it if needed,
// and returns the new address. Realloc(0, size) allocates and
// Realloc(addr, 0) frees and returns 0. On failure the old block stays
// valid and 0 is returned.
func Realloc(addr, size uintptr) uintptr {
	return internal.Realloc(addr, size, 1)
}

// Free releases the block at addr. Freeing 0 is a no-op. A double or
// invalid free is reported and then still forwarded to the backend.
func Free(addr uintptr) {
	internal.Free(addr, 1)
}

// Enable turns tracking back on after Disable.
func Enable() {
	internal.Enable()
}

// Disable switches allocator calls to untracked pass-through. Blocks
// allocated while disabled are invisible to later classification.
func Disable() {
	internal.Disable()
}

// Enabled reports whether calls are currently tracked.
func Enabled() bool {
	return internal.Enabled()
}

// Reset discards all tracking state, forgetting live blocks and counters.
// The backend and report output are untouched.
func Reset() {
	internal.Reset()
}

// Stats is a snapshot of tracker counters. Call counters count calls
// whose memory operation completed; Live and LiveBytes describe the
// current tracked set; Dropped counts records refused at the tracking
// capacity limit.
type Stats struct {
	Allocs       uint64
	Callocs      uint64
	Reallocs     uint64
	Frees        uint64
	DoubleFrees  uint64
	InvalidFrees uint64
	Live         int
	LiveBytes    uintptr
	Dropped      uint64
}

// GetStats returns the current tracker counters.
func GetStats() Stats {
	st := internal.Stats()
	return Stats{
		Allocs:       st.Allocs,
		Callocs:      st.Callocs,
		Reallocs:     st.Reallocs,
		Frees:        st.Frees,
		DoubleFrees:  st.DoubleFrees,
		InvalidFrees: st.InvalidFrees,
		Live:         st.Live,
		LiveBytes:    st.LiveBytes,
		Dropped:      st.Dropped,
	}
}
