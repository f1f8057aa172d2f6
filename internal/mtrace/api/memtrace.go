// Package api owns the process-global tracker behind the public entry
// points.
//
// # Lifecycle
//
// The tracker bootstraps lazily: the first allocation call constructs it
// from the MEMTRACE environment, resolves the raw backend and primes
// symbol resolution. Allocations observed before Init are flagged
// suspicious; Init marks the tracker ready and everything after it counts
// as program work. Fini writes the leak report, prints a short banner to
// stderr and retires the tracker; a later Init starts a fresh one.
//
// # Gate
//
// Tracking is on by default so pre-Init traffic is not lost. Disable
// switches the hooks to pass-through: calls are forwarded to the raw
// backend without bookkeeping, which keeps the program running but makes
// blocks allocated in that window invisible to later classification.
package api

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/memtrace/memtrace/internal/mtrace/stacktrace"
	"github.com/memtrace/memtrace/internal/mtrace/tracker"
)

var (
	mu       sync.Mutex
	instance atomic.Pointer[tracker.Tracker]
	disabled atomic.Bool
	finished bool
)

// Init makes the tracker ready, creating it from the environment if no
// allocation has bootstrapped it yet. Calling Init again after Fini starts
// a fresh tracker; calling it twice in a row is a no-op.
func Init() {
	bootstrap(true)
}

// Fini writes the leak report, prints the closing banner and retires the
// tracker. Subsequent allocator calls pass through untracked. Fini is
// idempotent until the next Init.
func Fini() {
	mu.Lock()
	defer mu.Unlock()

	t := instance.Load()
	if t == nil || finished {
		return
	}
	finished = true
	disabled.Store(true)

	st := t.Stats()
	sum := t.Shutdown()

	fmt.Fprintf(os.Stderr, "\n==================\nMemory Tracker Report\n==================\n")
	fmt.Fprintf(os.Stderr, "Confirmed leaks: %d (%d bytes)\n", sum.RealLeaks, sum.RealBytes)
	fmt.Fprintf(os.Stderr, "Runtime leaks:   %d (%d bytes)\n", sum.LibcLeaks, sum.LibcBytes)
	fmt.Fprintf(os.Stderr, "Free errors:     %d\n", st.DoubleFrees+st.InvalidFrees)
}

// Enable turns tracking back on after Disable.
func Enable() {
	disabled.Store(false)
}

// Disable switches the hooks to untracked pass-through.
func Disable() {
	disabled.Store(true)
}

// Enabled reports whether calls are currently tracked.
func Enabled() bool {
	return !disabled.Load()
}

// Reset discards all tracking state while keeping the backend and output.
func Reset() {
	if t := instance.Load(); t != nil {
		t.Reset()
	}
}

// Stats returns a snapshot of the tracker counters, bootstrapping the
// tracker if needed.
func Stats() tracker.Stats {
	return current().Stats()
}

// BackendName reports the configured raw backend.
func BackendName() string {
	return current().BackendName()
}

// Malloc allocates size bytes through the tracker.
//
// skip counts caller frames to hide from the recorded allocation site:
// 0 reports the immediate caller of Malloc.
//
//go:nosplit
func Malloc(size uintptr, skip int) uintptr {
	return malloc(size, skip+1)
}

// Calloc allocates n zeroed elements of size bytes each.
//
//go:nosplit
func Calloc(n, size uintptr, skip int) uintptr {
	return calloc(n, size, skip+1)
}

// Realloc resizes a tracked allocation.
//
//go:nosplit
func Realloc(addr, size uintptr, skip int) uintptr {
	return realloc(addr, size, skip+1)
}

// Free releases a tracked allocation.
//
//go:nosplit
func Free(addr uintptr, skip int) {
	free(addr, skip+1)
}

func malloc(size uintptr, skip int) uintptr {
	t := current()
	if disabled.Load() {
		return t.RawAlloc(size)
	}
	return t.Alloc(size, skip+1)
}

func calloc(n, size uintptr, skip int) uintptr {
	t := current()
	if disabled.Load() {
		total := n * size
		if n != 0 && total/n != size {
			return 0
		}
		return t.RawAlloc(total)
	}
	return t.Calloc(n, size, skip+1)
}

func realloc(addr, size uintptr, skip int) uintptr {
	t := current()
	if disabled.Load() {
		return t.RawRealloc(addr, size)
	}
	return t.Realloc(addr, size, skip+1)
}

func free(addr uintptr, skip int) {
	t := current()
	if disabled.Load() {
		t.RawFree(addr)
		return
	}
	t.Free(addr, skip+1)
}

// current returns the global tracker, bootstrapping it unready on first
// use so pre-Init allocations are tracked but flagged.
func current() *tracker.Tracker {
	if t := instance.Load(); t != nil {
		return t
	}
	return bootstrap(false)
}

func bootstrap(ready bool) *tracker.Tracker {
	mu.Lock()
	defer mu.Unlock()

	t := instance.Load()
	if t == nil || (ready && finished) {
		t = tracker.New(tracker.FromEnv())
		stacktrace.Prime()
		t.Resolve()
		instance.Store(t)
		finished = false
	}
	if ready {
		t.MarkReady()
		disabled.Store(false)
	}
	return t
}
