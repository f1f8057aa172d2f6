// Package rawalloc implements the raw allocator capability backing the tracker.
//
// The tracker never manages memory itself. Every hook delegates the actual
// memory operation to a raw backend and only records what happened around it.
// This package defines that backend capability and ships three
// implementations:
//
//   - GoHeap: ordinary Go heap buffers pinned in a liveness map. The default.
//     Deterministic, portable, and the closest analog of "the real allocator"
//     for a pure-Go program.
//   - Arena: a bump allocator over one preallocated slab with a size word
//     ahead of every block. Frees are no-ops. Useful for tests that need a
//     fixed address space or a backend that runs out of memory on cue.
//   - System: anonymous mmap regions via golang.org/x/sys/unix, one mapping
//     per allocation. Unix only; selection fails cleanly elsewhere.
//
// # Layering
//
// The strict rule that keeps tracking recursion-free: tracker and registry
// metadata live on the ordinary Go heap, while target-visible memory comes
// from a backend in this package. The two layers never call into each other,
// so recording an allocation can never re-enter the hooks that observed it.
//
// # Bootstrap
//
// The tracker resolves its backend exactly once, lazily, through a Resolver.
// A Resolver that fails leaves the hooks in pass-through mode: memory still
// flows from a fallback backend while nothing is tracked, and the target
// never notices. Tests substitute a ResolverFunc to exercise both outcomes.
//
// # Semantics
//
// All backends follow the allocator conventions the tracker relies on:
//
//   - Alloc returns zeroed memory and a unique address for size 0.
//   - Alloc returns 0 when the backend cannot satisfy the request.
//   - Free of address 0 or of an address the backend does not own is a no-op.
//   - Realloc(0, n) behaves as Alloc(n); Realloc(p, 0) frees p and returns 0.
//
// # Thread Safety
//
// Every backend serializes its internal bookkeeping with its own mutex and is
// safe for concurrent calls from multiple goroutines.
package rawalloc
