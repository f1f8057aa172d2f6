package registry

import (
	"sort"
	"sync"
	"time"
)

// Record describes one live allocation observed by the tracker.
//
// The record owns its Frames slice; callers must not retain or mutate it
// after handing the record to a Registry.
type Record struct {
	// Addr is the address returned to the instrumented program.
	Addr uintptr

	// Size is the requested payload size in bytes.
	Size uintptr

	// When is the wall-clock time the allocation was observed.
	When time.Time

	// Frames holds the allocation site as return addresses, innermost
	// first, already truncated to the reporting limit.
	Frames []uintptr

	// Suspicious marks records whose origin makes them likely runtime or
	// bookkeeping allocations rather than program leaks.
	Suspicious bool

	// seq orders records by insertion for stable reporting.
	seq uint64
}

// Registry is the concurrent table of live allocations.
//
// The zero value is not usable; construct with New.
type Registry struct {
	mu        sync.Mutex
	live      map[uintptr]*Record
	liveBytes uintptr
	nextSeq   uint64
	dropped   uint64
	maxLive   int
}

// New creates an empty registry.
//
// Parameters:
//   - maxLive: maximum number of records the registry will hold, or 0 for
//     no limit. Inserts beyond the limit are refused and counted.
//
// Returns:
//   - *Registry: ready for concurrent use
func New(maxLive int) *Registry {
	return &Registry{
		live:    make(map[uintptr]*Record),
		maxLive: maxLive,
	}
}

// Insert records a live allocation.
//
// A zero address is ignored: failed allocations are never tracked. If the
// address is already present the old record is replaced, which covers raw
// allocators that recycle addresses. When the registry is at capacity the
// record is refused and the drop counter advances.
//
// Parameters:
//   - rec: the record to store; the registry takes ownership
//
// Returns:
//   - bool: true if the record is now tracked, false if it was refused
//
// Thread Safety: safe for concurrent use.
func (r *Registry) Insert(rec *Record) bool {
	if rec == nil || rec.Addr == 0 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.live[rec.Addr]; ok {
		r.liveBytes -= old.Size
	} else if r.maxLive > 0 && len(r.live) >= r.maxLive {
		r.dropped++
		return false
	}

	rec.seq = r.nextSeq
	r.nextSeq++
	r.live[rec.Addr] = rec
	r.liveBytes += rec.Size
	return true
}

// Remove detaches the record for an address.
//
// Parameters:
//   - addr: address previously returned by a tracked allocation
//
// Returns:
//   - *Record: the detached record, or nil if the address is not live
//
// Thread Safety: safe for concurrent use.
func (r *Registry) Remove(addr uintptr) *Record {
	if addr == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live[addr]
	if !ok {
		return nil
	}
	delete(r.live, addr)
	r.liveBytes -= rec.Size
	return rec
}

// Contains reports whether an address is currently tracked as live.
func (r *Registry) Contains(addr uintptr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[addr]
	return ok
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// LiveBytes returns the total payload bytes across live records.
func (r *Registry) LiveBytes() uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.liveBytes
}

// Dropped returns how many records were refused at capacity.
func (r *Registry) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Snapshot returns the live records in insertion order.
//
// The slice is fresh but the records are shared with the registry; callers
// treat them as read-only.
//
// Thread Safety: safe for concurrent use.
func (r *Registry) Snapshot() []*Record {
	r.mu.Lock()
	out := make([]*Record, 0, len(r.live))
	for _, rec := range r.live {
		out = append(out, rec)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// DrainAll detaches and returns every live record in insertion order.
//
// This is the shutdown path: the registry is left empty and the caller owns
// the returned records outright.
//
// Thread Safety: safe for concurrent use, though shutdown normally runs
// after mutators have quiesced.
func (r *Registry) DrainAll() []*Record {
	r.mu.Lock()
	out := make([]*Record, 0, len(r.live))
	for _, rec := range r.live {
		out = append(out, rec)
	}
	r.live = make(map[uintptr]*Record)
	r.liveBytes = 0
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Reset discards all records and counters, returning the registry to its
// initial state. The capacity limit is retained.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = make(map[uintptr]*Record)
	r.liveBytes = 0
	r.nextSeq = 0
	r.dropped = 0
}
