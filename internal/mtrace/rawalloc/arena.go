package rawalloc

import (
	"sync"
	"unsafe"
)

const (
	// DefaultArenaSize is the slab size used when the arena backend is
	// selected by name rather than constructed directly.
	DefaultArenaSize = 64 << 20

	// arenaAlign is the payload alignment, relative to the slab base.
	arenaAlign = 16

	// sizeWord is the width of the block-size word kept ahead of each payload.
	sizeWord = 8

	// minArenaSize is the smallest usable slab; NewArena clamps below this.
	minArenaSize = 64
)

// Arena is a bump allocator over a single preallocated slab.
//
// Each block is laid out as a size word followed by the payload; the word
// lets Realloc know how much to copy. The bump offset only ever grows:
// Free is a no-op and memory is never reused, which makes the arena a
// convenient debug backend with stable, monotonically increasing addresses
// and a hard out-of-memory edge that tests can trigger with a small slab.
type Arena struct {
	mu   sync.Mutex
	slab []byte
	off  uintptr
}

// NewArena creates an arena over a fresh slab of the given size in bytes.
// Sizes below the minimum usable slab are clamped up.
func NewArena(size int) *Arena {
	if size < minArenaSize {
		size = minArenaSize
	}
	return &Arena{slab: make([]byte, size)}
}

// Alloc reserves a zeroed block of size bytes and returns its address,
// or 0 once the slab is exhausted.
func (a *Arena) Alloc(size uintptr) uintptr {
	if size == 0 {
		size = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Payload starts one size word past the current offset, rounded so
	// payload offsets stay arenaAlign-aligned relative to the slab base.
	start := alignUp(a.off+sizeWord, arenaAlign)
	end := start + size
	if end > uintptr(len(a.slab)) {
		return 0
	}

	*(*uintptr)(unsafe.Pointer(&a.slab[start-sizeWord])) = size
	a.off = end

	return uintptr(unsafe.Pointer(&a.slab[start]))
}

// Free is a no-op: arena memory is reclaimed all at once when the arena
// itself is dropped. The signature exists to satisfy the backend contract.
func (a *Arena) Free(addr uintptr) {
	_ = addr
}

// Realloc allocates a fresh block and copies the old payload into it, up to
// the smaller of the two sizes. The old block stays where it is (Free is a
// no-op), so the returned address always differs from addr.
func (a *Arena) Realloc(addr, size uintptr) uintptr {
	if addr == 0 {
		return a.Alloc(size)
	}
	if size == 0 {
		return 0
	}

	old := a.sizeOf(addr)
	if old == 0 {
		return 0
	}

	newAddr := a.Alloc(size)
	if newAddr == 0 {
		return 0
	}

	n := old
	if size < n {
		n = size
	}

	a.mu.Lock()
	base := uintptr(unsafe.Pointer(&a.slab[0]))
	copy(a.slab[newAddr-base:newAddr-base+n], a.slab[addr-base:addr-base+n])
	a.mu.Unlock()

	return newAddr
}

// Used returns how many slab bytes the bump offset has consumed so far.
func (a *Arena) Used() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.off
}

// sizeOf reads the size word ahead of a block payload, returning 0 for
// addresses that cannot be a block start in this slab.
func (a *Arena) sizeOf(addr uintptr) uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()

	base := uintptr(unsafe.Pointer(&a.slab[0]))
	if addr < base+sizeWord || addr >= base+a.off {
		return 0
	}

	off := addr - base
	size := *(*uintptr)(unsafe.Pointer(&a.slab[off-sizeWord]))
	if size == 0 || size > a.off-off {
		return 0
	}
	return size
}

// alignUp rounds v up to the next multiple of align (a power of two).
func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
