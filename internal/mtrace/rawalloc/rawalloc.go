package rawalloc

import "fmt"

// Backend names accepted by New and by the backend= configuration key.
const (
	// BackendGoHeap selects the Go-heap backed allocator (the default).
	BackendGoHeap = "goheap"
	// BackendArena selects the preallocated bump-allocator slab.
	BackendArena = "arena"
	// BackendSystem selects per-allocation anonymous mmap regions (unix only).
	BackendSystem = "system"
)

// Allocator is the raw backend capability the tracker delegates to.
//
// Implementations must honor the conventions documented in the package
// comment: zeroed memory from Alloc, 0 on failure, tolerant Free, and
// C-style Realloc edge cases. The tracker forwards every hook call here
// unchanged and returns exactly what the backend returned.
type Allocator interface {
	// Alloc reserves size bytes and returns the block's start address,
	// or 0 if the request cannot be satisfied.
	Alloc(size uintptr) uintptr

	// Free releases the block starting at addr. Unknown addresses and
	// address 0 are ignored.
	Free(addr uintptr)

	// Realloc resizes the block at addr to size bytes, returning the new
	// start address (which may differ from addr), or 0 on failure.
	Realloc(addr, size uintptr) uintptr
}

// Resolver supplies the raw backend during the tracker's one-time bootstrap.
//
// Resolve is called at most once per tracker lifetime, under the bootstrap
// lock, so implementations need not be idempotent or thread-safe themselves.
// A non-nil error puts the hooks into untracked pass-through mode.
type Resolver interface {
	Resolve() (Allocator, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func() (Allocator, error)

// Resolve calls f.
func (f ResolverFunc) Resolve() (Allocator, error) { return f() }

// New returns the backend selected by name.
//
// An empty name selects BackendGoHeap. BackendSystem fails with an error on
// platforms without mmap support; the caller decides whether that is fatal.
func New(name string) (Allocator, error) {
	switch name {
	case "", BackendGoHeap:
		return NewGoHeap(), nil
	case BackendArena:
		return NewArena(DefaultArenaSize), nil
	case BackendSystem:
		return newSystem()
	default:
		return nil, fmt.Errorf("rawalloc: unknown backend %q", name)
	}
}

// Default returns the resolver used when no explicit configuration is given:
// it yields the backend named by name via New.
func Default(name string) Resolver {
	return ResolverFunc(func() (Allocator, error) { return New(name) })
}
