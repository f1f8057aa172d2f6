// Package stacktrace implements allocation-site capture and best-effort
// symbol resolution for tracker records.
//
// Capture walks the caller's stack with runtime.Callers and returns the
// return addresses that identify where an allocation (or a bad free) came
// from. Records retain at most MaxReportFrames addresses; report consumers
// resolve them to source lines offline, so at runtime the only symbol
// information attached to a frame is the binary it lives in.
//
// Resolution failures never propagate: an address that cannot be attributed
// yields the name "unknown" and the report stays well-formed.
package stacktrace

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// MaxReportFrames is the number of return addresses a record retains.
	// Deep stacks are truncated here; the innermost frames are the ones
	// that localize a leak, and report consumers expect a short list.
	MaxReportFrames = 7

	// captureDepth is the size of the raw capture buffer handed to
	// runtime.Callers before truncation.
	captureDepth = 32
)

// Capture returns the current call stack as return addresses, innermost
// first, truncated to MaxReportFrames.
//
// skip counts frames to omit beyond Capture itself: Capture(0) starts at
// Capture's caller, Capture(1) at the caller's caller, and so on. The
// returned slice is freshly allocated and owned by the caller; nil means no
// stack was available.
func Capture(skip int) []uintptr {
	var pcs [captureDepth]uintptr

	// Skip runtime.Callers and Capture on top of the caller's request.
	n := runtime.Callers(skip+2, pcs[:])
	if n == 0 {
		return nil
	}
	if n > MaxReportFrames {
		n = MaxReportFrames
	}

	out := make([]uintptr, n)
	copy(out, pcs[:n])
	return out
}

// Binary resolves the binary name a return address belongs to.
//
// For a statically linked Go program every resolvable address lives in the
// executable itself, so resolution is a FuncForPC liveness check plus the
// cached executable base name. Unresolvable addresses yield "unknown".
func Binary(pc uintptr) string {
	if pc == 0 || runtime.FuncForPC(pc) == nil {
		return "unknown"
	}
	return executableName()
}

// FuncName resolves a return address to its fully qualified function name,
// or "" when the address maps to nothing.
func FuncName(pc uintptr) string {
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}
	return fn.Name()
}

var (
	binOnce sync.Once
	binName string
)

// Prime resolves and caches the executable name ahead of time.
//
// The leak report runs in a restricted shutdown context where it must not
// allocate; bootstrap calls Prime so that Binary only ever returns the
// cached string by the time reporting starts.
func Prime() {
	executableName()
}

func executableName() string {
	binOnce.Do(func() {
		path, err := os.Executable()
		if err != nil {
			binName = "unknown"
			return
		}
		binName = filepath.Base(path)
	})
	return binName
}
