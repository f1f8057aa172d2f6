// Package classify decides what a free or a shutdown survivor means.
//
// A free against the live table is valid. A free that misses the table is a
// programming error, and the history of recently freed addresses splits the
// error in two: addresses seen before were freed twice, addresses never
// seen were invalid to begin with. Interior pointers miss the table and the
// history alike and so classify as invalid frees.
//
// The history is a bounded ring, so a double free of an address evicted
// long ago degrades to an invalid-free verdict. Both verdicts report a
// corruption event; only the label differs.
package classify

import (
	"sync"

	"github.com/memtrace/memtrace/internal/mtrace/registry"
)

// Verdict is the outcome of classifying one free call.
type Verdict int

const (
	// FreeValid means the address was live and has been detached.
	FreeValid Verdict = iota

	// FreeDouble means the address was already freed recently.
	FreeDouble

	// FreeInvalid means the address was never a tracked allocation, or is
	// an interior pointer into one.
	FreeInvalid
)

// String returns the verdict label used in corruption reports.
func (v Verdict) String() string {
	switch v {
	case FreeValid:
		return "valid"
	case FreeDouble:
		return "double-free"
	case FreeInvalid:
		return "invalid-free"
	default:
		return "unknown"
	}
}

// DefaultHistorySize bounds the recently-freed ring when no explicit size
// is configured.
const DefaultHistorySize = 1024

// Classifier applies the free-classification policy over a live table and
// its free history.
type Classifier struct {
	history *History
}

// NewClassifier creates a classifier with a history ring of the given
// capacity. Sizes below 1 fall back to DefaultHistorySize.
func NewClassifier(historySize int) *Classifier {
	return &Classifier{history: NewHistory(historySize)}
}

// ClassifyFree resolves one free call against the live table.
//
// A live address is detached from the registry, remembered in the history,
// and returned with its record. Anything else yields a nil record and a
// corruption verdict.
//
// Parameters:
//   - reg: the live-allocation table
//   - addr: the address being freed
//
// Returns:
//   - Verdict: FreeValid, FreeDouble or FreeInvalid
//   - *registry.Record: the detached record for FreeValid, else nil
//
// Thread Safety: safe for concurrent use. A live record can only be
// detached once, so concurrent frees of one address produce exactly one
// FreeValid verdict.
func (c *Classifier) ClassifyFree(reg *registry.Registry, addr uintptr) (Verdict, *registry.Record) {
	if rec := reg.Remove(addr); rec != nil {
		c.history.Record(addr)
		return FreeValid, rec
	}
	if c.history.Contains(addr) {
		return FreeDouble, nil
	}
	return FreeInvalid, nil
}

// NoteFreed records an address release that did not come through a free
// call, such as the old block of a moving reallocation.
func (c *Classifier) NoteFreed(addr uintptr) {
	c.history.Record(addr)
}

// Reset discards the free history.
func (c *Classifier) Reset() {
	c.history.Reset()
}

// HistoryLen returns the number of addresses currently remembered.
func (c *Classifier) HistoryLen() int {
	return c.history.Len()
}

// Partition splits shutdown survivors into confirmed program leaks and
// suspicious runtime allocations, preserving order.
func Partition(recs []*registry.Record) (confirmed, suspicious []*registry.Record) {
	for _, rec := range recs {
		if rec.Suspicious {
			suspicious = append(suspicious, rec)
		} else {
			confirmed = append(confirmed, rec)
		}
	}
	return confirmed, suspicious
}

// History is a bounded ring of recently freed addresses with constant-time
// membership checks.
type History struct {
	mu   sync.Mutex
	ring []uintptr
	next int
	size int
	seen map[uintptr]int
}

// NewHistory creates a history ring holding up to capacity addresses.
// Capacities below 1 fall back to DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = DefaultHistorySize
	}
	return &History{
		ring: make([]uintptr, capacity),
		seen: make(map[uintptr]int),
	}
}

// Record remembers an address, evicting the oldest entry when full.
// Address 0 is ignored.
func (h *History) Record(addr uintptr) {
	if addr == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size == len(h.ring) {
		old := h.ring[h.next]
		if n := h.seen[old]; n <= 1 {
			delete(h.seen, old)
		} else {
			h.seen[old] = n - 1
		}
	} else {
		h.size++
	}

	h.ring[h.next] = addr
	h.seen[addr]++
	h.next = (h.next + 1) % len(h.ring)
}

// Contains reports whether an address is still remembered.
func (h *History) Contains(addr uintptr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen[addr] > 0
}

// Len returns the number of addresses currently remembered, counting
// duplicates.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Reset forgets every remembered address. The capacity is retained.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next = 0
	h.size = 0
	h.seen = make(map[uintptr]int)
}
