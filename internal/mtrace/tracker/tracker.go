// Package tracker ties allocation interception together: every observed
// call updates the live registry, consults the free classifier, and emits
// findings through the report writer.
//
// # Layering
//
// Tracker state lives on the Go heap while tracked payloads come from a
// raw allocator backend, so bookkeeping never recurses into the allocator
// being observed. The backend is resolved lazily on first use; if
// resolution fails the tracker swaps in an untracked fallback backend,
// so memory keeps flowing while nothing is recorded.
//
// # Readiness
//
// Allocations observed before MarkReady are flagged suspicious. They stay
// out of the confirmed leak records and surface only in the summary, the
// same way allocator traffic from process bootstrap is set aside when a
// whole program is being traced.
package tracker

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/memtrace/memtrace/internal/mtrace/classify"
	"github.com/memtrace/memtrace/internal/mtrace/rawalloc"
	"github.com/memtrace/memtrace/internal/mtrace/registry"
	"github.com/memtrace/memtrace/internal/mtrace/report"
	"github.com/memtrace/memtrace/internal/mtrace/stacktrace"
)

// Stats is a point-in-time snapshot of tracker counters.
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

// Tracker observes manual memory management and reports what goes wrong.
//
// All methods are safe for concurrent use. Construct with New.
type Tracker struct {
	opts Options

	reg *registry.Registry
	cls *classify.Classifier
	out *report.Writer
	smp *sampler

	resolver    rawalloc.Resolver
	resolveOnce sync.Once
	raw         rawalloc.Allocator
	untracked   bool

	ready atomic.Bool

	allocs       atomic.Uint64
	callocs      atomic.Uint64
	reallocs     atomic.Uint64
	frees        atomic.Uint64
	doubleFrees  atomic.Uint64
	invalidFrees atomic.Uint64
}

// New creates a tracker from options.
//
// An unreachable output target degrades to stderr with a diagnostic
// rather than failing; the tracker must be able to start even when its
// environment is wrong, because the program it observes already has.
func New(opts Options) *Tracker {
	if opts.Sample < 1 {
		opts.Sample = 1
	}

	out, err := report.Open(opts.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "memtrace: %v; writing report to stderr\n", err)
		out = report.NewWriter(os.Stderr)
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = rawalloc.Default(opts.Backend)
	}

	return &Tracker{
		opts:     opts,
		reg:      registry.New(opts.MaxLive),
		cls:      classify.NewClassifier(opts.HistorySize),
		out:      out,
		smp:      newSampler(opts.Sample),
		resolver: resolver,
	}
}

// MarkReady declares bootstrap finished. Allocations observed from now on
// are ordinary program work; earlier ones remain flagged suspicious.
func (t *Tracker) MarkReady() {
	t.ready.Store(true)
}

// Resolve forces raw-allocator resolution and reports whether the
// configured backend is available. Ops resolve lazily on their own; this
// exists so startup can surface a broken backend before the first
// allocation.
func (t *Tracker) Resolve() bool {
	t.rawAllocator()
	return !t.untracked
}

// Alloc services a malloc-style request of size bytes.
//
// The raw backend provides the memory; on success a record with the
// allocation site is registered. Returns the address, or 0 when the
// backend fails.
//
// skip counts caller frames to hide from the captured site: 0 reports the
// immediate caller of Alloc.
func (t *Tracker) Alloc(size uintptr, skip int) uintptr {
	if t.passThrough() {
		return t.RawAlloc(size)
	}
	addr := t.alloc(size, skip+1)
	if addr != 0 {
		t.allocs.Add(1)
	}
	return addr
}

// Calloc services an array allocation of n elements of size bytes each.
//
// The element count and size are checked for multiplication overflow
// first; overflow fails the request without touching the backend. Backends
// hand out zeroed memory, so the cleared-contents guarantee needs no extra
// work here.
func (t *Tracker) Calloc(n, size uintptr, skip int) uintptr {
	total := n * size
	if n != 0 && total/n != size {
		return 0
	}
	if t.passThrough() {
		return t.RawAlloc(total)
	}
	addr := t.alloc(total, skip+1)
	if addr != 0 {
		t.callocs.Add(1)
	}
	return addr
}

// Free services a free call.
//
// Address 0 is a no-op. A live address is detached and counted; anything
// else emits a corruption record with the free site. The call is always
// forwarded to the backend, which tolerates unknown addresses.
func (t *Tracker) Free(addr uintptr, skip int) {
	if addr == 0 {
		return
	}
	if t.passThrough() {
		t.RawFree(addr)
		return
	}

	verdict, _ := t.cls.ClassifyFree(t.reg, addr)
	switch verdict {
	case classify.FreeValid:
		t.frees.Add(1)
	case classify.FreeDouble:
		t.doubleFrees.Add(1)
		t.out.Corruption(verdict.String(), addr, t.freeSite(skip+1))
	case classify.FreeInvalid:
		t.invalidFrees.Add(1)
		t.out.Corruption(verdict.String(), addr, t.freeSite(skip+1))
	}

	t.RawFree(addr)
}

// Realloc services a resize request.
//
// The classic edges apply: address 0 allocates, size 0 frees and returns
// 0. Otherwise the backend resizes; on failure the old block and its
// record stay valid. On success the record moves to the new address with
// a fresh site, and if the block moved the old address joins the free
// history so a stale free of it classifies as a double free.
func (t *Tracker) Realloc(addr, size uintptr, skip int) uintptr {
	if t.passThrough() {
		return t.RawRealloc(addr, size)
	}
	if addr == 0 {
		p := t.alloc(size, skip+1)
		if p != 0 {
			t.reallocs.Add(1)
		}
		return p
	}
	if size == 0 {
		t.reallocs.Add(1)
		t.Free(addr, skip+1)
		return 0
	}

	newAddr := t.rawAllocator().Realloc(addr, size)
	if newAddr == 0 {
		return 0
	}
	t.reallocs.Add(1)

	t.reg.Remove(addr)
	if newAddr != addr {
		t.cls.NoteFreed(addr)
	}
	t.record(newAddr, size, skip+1)
	return newAddr
}

// Shutdown drains the registry, writes the leak report and closes the
// output. The returned summary carries the same totals the report does.
//
// The header is omitted when no confirmed leaks exist; the summary is
// always written. Suspicious survivors are counted but not itemized.
func (t *Tracker) Shutdown() report.Summary {
	recs := t.reg.DrainAll()
	confirmed, suspicious := classify.Partition(recs)

	var sum report.Summary
	sum.RealLeaks = len(confirmed)
	for _, rec := range confirmed {
		sum.RealBytes += rec.Size
	}
	sum.LibcLeaks = len(suspicious)
	for _, rec := range suspicious {
		sum.LibcBytes += rec.Size
	}

	if sum.RealLeaks > 0 {
		t.out.Header(sum.RealLeaks, sum.RealBytes)
	}
	for _, rec := range confirmed {
		t.out.Leak(rec.Addr, rec.Size, rec.Frames)
	}
	t.out.WriteSummary(sum)
	_ = t.out.Close()

	return sum
}

// Reset discards all tracking state and counters. The backend and output
// are untouched, so blocks the program still holds become invisible to
// the tracker.
func (t *Tracker) Reset() {
	t.reg.Reset()
	t.cls.Reset()
	t.allocs.Store(0)
	t.callocs.Store(0)
	t.reallocs.Store(0)
	t.frees.Store(0)
	t.doubleFrees.Store(0)
	t.invalidFrees.Store(0)
}

// BackendName reports the raw backend the tracker was configured with.
func (t *Tracker) BackendName() string {
	if t.opts.Backend == "" {
		return rawalloc.BackendGoHeap
	}
	return t.opts.Backend
}

// Stats returns a snapshot of the tracker counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		Allocs:       t.allocs.Load(),
		Callocs:      t.callocs.Load(),
		Reallocs:     t.reallocs.Load(),
		Frees:        t.frees.Load(),
		DoubleFrees:  t.doubleFrees.Load(),
		InvalidFrees: t.invalidFrees.Load(),
		Live:         t.reg.Len(),
		LiveBytes:    t.reg.LiveBytes(),
		Dropped:      t.reg.Dropped(),
	}
}

// RawAlloc forwards straight to the backend without recording. This is
// the pass-through path used while tracking is off.
func (t *Tracker) RawAlloc(size uintptr) uintptr {
	return t.rawAllocator().Alloc(size)
}

// RawFree forwards straight to the backend without classification.
func (t *Tracker) RawFree(addr uintptr) {
	if addr == 0 {
		return
	}
	t.rawAllocator().Free(addr)
}

// RawRealloc forwards straight to the backend without record upkeep.
func (t *Tracker) RawRealloc(addr, size uintptr) uintptr {
	return t.rawAllocator().Realloc(addr, size)
}

func (t *Tracker) alloc(size uintptr, skip int) uintptr {
	addr := t.rawAllocator().Alloc(size)
	if addr == 0 {
		return 0
	}
	t.record(addr, size, skip+1)
	return addr
}

// record registers a live allocation, capturing its site when stack
// collection is on and the sampler agrees.
func (t *Tracker) record(addr, size uintptr, skip int) {
	var frames []uintptr
	if t.opts.Stacks && t.smp.next() {
		frames = stacktrace.Capture(skip + 1)
	}

	rec := &registry.Record{
		Addr:       addr,
		Size:       size,
		When:       time.Now(),
		Frames:     frames,
		Suspicious: t.suspicious(frames),
	}
	if !t.reg.Insert(rec) {
		fmt.Fprintf(os.Stderr,
			"memtrace: cannot record allocation %#x: registry at capacity\n", addr)
	}
}

// freeSite captures the call stack of a bad free. Corruption events are
// rare and important, so the sampler does not apply.
func (t *Tracker) freeSite(skip int) []uintptr {
	if !t.opts.Stacks {
		return nil
	}
	return stacktrace.Capture(skip + 1)
}

func (t *Tracker) suspicious(frames []uintptr) bool {
	if !t.ready.Load() {
		return true
	}
	if t.opts.Suspect != nil {
		return t.opts.Suspect(frames)
	}
	return false
}

// passThrough reports whether hooks skip tracking and forward straight
// to the backend. That happens only when the configured backend failed
// to resolve; the fallback keeps memory flowing so the observed program
// never notices.
func (t *Tracker) passThrough() bool {
	t.rawAllocator()
	return t.untracked
}

// rawAllocator resolves the backend once. Resolution failure is reported
// a single time and switches the tracker to an untracked Go-heap
// fallback, so allocator calls keep working while nothing is recorded.
func (t *Tracker) rawAllocator() rawalloc.Allocator {
	t.resolveOnce.Do(func() {
		a, err := t.resolver.Resolve()
		if err == nil && a != nil {
			t.raw = a
			return
		}
		if err == nil {
			err = errors.New("resolver returned no backend")
		}
		fmt.Fprintf(os.Stderr,
			"memtrace: raw allocator unavailable: %v; continuing untracked\n", err)
		t.raw = rawalloc.NewGoHeap()
		t.untracked = true
	})
	return t.raw
}
