package rawalloc

import (
	"sync"
	"unsafe"
)

// GoHeap is the default raw backend: every block is an ordinary Go heap
// buffer, pinned in a liveness map so the garbage collector cannot reclaim
// it while the target still holds its address.
//
// The map is the backend's ground truth for ownership. Free detaches the
// buffer, after which the address dangles exactly the way a freed malloc
// pointer does; the collector reclaims the bytes once nothing references
// them. Go's collector does not move heap objects, so a pinned buffer's
// address stays valid for the block's whole lifetime.
//
// Thread Safety: all methods are safe for concurrent use; the liveness map
// is guarded by a mutex held only for map mutation.
type GoHeap struct {
	mu   sync.Mutex
	bufs map[uintptr][]byte
}

// NewGoHeap creates an empty Go-heap backend ready for use.
func NewGoHeap() *GoHeap {
	return &GoHeap{bufs: make(map[uintptr][]byte)}
}

// Alloc reserves a zeroed block of size bytes and returns its address.
//
// Size 0 is clamped to 1 so every successful allocation has a unique
// address, matching the common malloc(0) behavior the tracker expects.
func (g *GoHeap) Alloc(size uintptr) uintptr {
	if size == 0 {
		size = 1
	}

	// make() zeroes the buffer, which also covers the calloc path upstream.
	buf := make([]byte, size)
	addr := uintptr(unsafe.Pointer(&buf[0]))

	g.mu.Lock()
	g.bufs[addr] = buf
	g.mu.Unlock()

	return addr
}

// Free releases the block at addr. Unknown addresses and 0 are ignored;
// the real allocator is the arbiter of validity, and this backend stays
// tolerant so detection upstream never turns into a crash here.
func (g *GoHeap) Free(addr uintptr) {
	if addr == 0 {
		return
	}

	g.mu.Lock()
	delete(g.bufs, addr)
	g.mu.Unlock()
}

// Realloc resizes the block at addr following C realloc conventions.
//
// The block always moves: a fresh buffer is allocated, the old contents are
// copied up to the smaller of the two sizes, and the old buffer is released.
// Resizing an address this backend does not own returns 0 and changes
// nothing.
func (g *GoHeap) Realloc(addr, size uintptr) uintptr {
	if addr == 0 {
		return g.Alloc(size)
	}
	if size == 0 {
		g.Free(addr)
		return 0
	}

	g.mu.Lock()
	old, ok := g.bufs[addr]
	g.mu.Unlock()
	if !ok {
		return 0
	}

	buf := make([]byte, size)
	copy(buf, old)
	newAddr := uintptr(unsafe.Pointer(&buf[0]))

	g.mu.Lock()
	g.bufs[newAddr] = buf
	delete(g.bufs, addr)
	g.mu.Unlock()

	return newAddr
}

// Live returns the number of blocks currently held by the backend.
// Used by tests to confirm that frees really reached the backend.
func (g *GoHeap) Live() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.bufs)
}
