//go:build !unix

package rawalloc

import "errors"

// newSystem reports that the mmap backend is unavailable on this platform.
// Callers fall back to GoHeap or treat the selection as a configuration
// error; nothing in the tracker requires the system backend to exist.
func newSystem() (Allocator, error) {
	return nil, errors.New("rawalloc: system backend requires a unix platform")
}
