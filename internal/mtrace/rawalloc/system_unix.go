//go:build unix

package rawalloc

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// System is the mmap-backed raw backend: every block is its own anonymous
// private mapping, obtained and released with unix.Mmap/unix.Munmap.
//
// Blocks therefore live entirely outside the Go heap, which makes this the
// backend of choice when the point of the exercise is tracking memory the
// runtime knows nothing about. The kernel rounds each mapping up to page
// granularity, so it is a poor fit for high-frequency small allocations;
// the tracker does not care, and tests that need density use GoHeap.
//
// The regions map retains each mapping's slice header because Munmap wants
// the original slice back, not just an address.
type System struct {
	mu      sync.Mutex
	regions map[uintptr][]byte
}

// newSystem creates the mmap backend. On unix platforms this never fails.
func newSystem() (Allocator, error) {
	return &System{regions: make(map[uintptr][]byte)}, nil
}

// Alloc maps a fresh anonymous region of size bytes and returns its address,
// or 0 if the kernel refuses the mapping.
func (s *System) Alloc(size uintptr) uintptr {
	if size == 0 {
		size = 1
	}

	b, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0
	}

	addr := uintptr(unsafe.Pointer(&b[0]))
	s.mu.Lock()
	s.regions[addr] = b
	s.mu.Unlock()

	return addr
}

// Free unmaps the region starting at addr. Unknown addresses and 0 are
// ignored, so a double or invalid free flagged upstream stays harmless here.
func (s *System) Free(addr uintptr) {
	if addr == 0 {
		return
	}

	s.mu.Lock()
	b, ok := s.regions[addr]
	if ok {
		delete(s.regions, addr)
	}
	s.mu.Unlock()

	if ok {
		_ = unix.Munmap(b)
	}
}

// Realloc maps a fresh region, copies the old contents up to the smaller of
// the two sizes, and unmaps the old region. Resizing an address the backend
// does not own returns 0 and changes nothing.
func (s *System) Realloc(addr, size uintptr) uintptr {
	if addr == 0 {
		return s.Alloc(size)
	}
	if size == 0 {
		s.Free(addr)
		return 0
	}

	s.mu.Lock()
	old, ok := s.regions[addr]
	s.mu.Unlock()
	if !ok {
		return 0
	}

	newAddr := s.Alloc(size)
	if newAddr == 0 {
		return 0
	}

	s.mu.Lock()
	fresh := s.regions[newAddr]
	s.mu.Unlock()
	copy(fresh, old)

	s.Free(addr)
	return newAddr
}

// Live returns the number of mappings currently held.
func (s *System) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regions)
}
