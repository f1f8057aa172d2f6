// Package registry maintains the table of live manually managed allocations.
//
// Every allocation the tracker observes is stored as a Record keyed by its
// address. Frees detach records, reallocations move them, and whatever is
// still in the table at shutdown is the leak candidate set.
//
// # Ownership
//
// Records and the table itself live on the Go heap, never in the raw
// allocator that backs the tracked memory. The registry can therefore grow
// and shrink freely while the raw allocator is in an arbitrary state, and
// inspecting it at shutdown touches no tracked memory.
//
// # Capacity
//
// A registry may be capped. When the cap is reached new allocations still
// succeed for the caller, but their records are refused and counted as
// dropped; the tracker surfaces that as a tracking failure rather than an
// allocation failure.
//
// # Concurrency
//
// All operations are safe for concurrent use. Snapshot and DrainAll return
// records in insertion order so reports are stable run to run.
package registry
