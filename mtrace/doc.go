// Package mtrace tracks manually managed allocations and reports leaks,
// double frees and invalid frees.
//
// Programs route their malloc-style calls through this package instead of
// calling a raw allocator directly. Every allocation is recorded with its
// call site, every free is classified against the live set, and shutdown
// produces a machine-readable report of everything that was never freed.
//
// # Usage
//
//	mtrace.Init()
//	defer mtrace.Fini()
//
//	p := mtrace.Malloc(1024)
//	// ... use the block ...
//	mtrace.Free(p)
//
// Freeing an address twice, freeing an address that was never allocated,
// or freeing a pointer into the middle of a block emits a corruption
// record the moment it happens. Blocks still live at Fini are reported as
// leaks with the stack that allocated them.
//
// # Configuration
//
// The MEMTRACE environment variable holds space-separated key=value
// pairs:
//
//	output=PATH    report target: stderr (default), stdout, or a file
//	backend=NAME   raw allocator backend: goheap (default), arena, system
//	stacks=0|1     capture allocation sites (default 1)
//	sample=N       capture sites for one in N allocations (default 1)
//	history=N      recently-freed addresses remembered (default 1024)
//	max_live=N     cap on tracked allocations, 0 means unbounded
//
// # Report format
//
// The report is newline-delimited JSON. A run with confirmed leaks starts
// with a header record, itemizes each leak, and always ends with a
// summary:
//
//	{"type":"header","leaks_count":2,"total_bytes":1536}
//	{"type":"leak","addr":"0x1a2b","size":1024,"frames":[{"addr":"0x4521ab","bin":"app"}]}
//	{"type":"summary","real_leaks":2,"real_bytes":1536,"libc_leaks":0,"libc_bytes":0}
//
// Corruption records use the types "double-free" and "invalid-free" and
// appear as soon as the bad free is observed. The memtrace command turns
// these records into human-readable output with resolved source lines.
package mtrace
