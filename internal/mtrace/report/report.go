// Package report emits tracker findings as newline-delimited JSON.
//
// Each finding is one self-contained JSON object on its own line, written
// with a single write call. The format is deliberately narrow so offline
// tooling can stream it: a header when confirmed leaks exist, one leak
// record per surviving allocation, corruption records as frees go wrong,
// and a closing summary that is always present.
//
// # Shutdown discipline
//
// Leak reporting runs while the process is tearing down, so the encoder
// never allocates: records are assembled in fixed buffers with manual
// digit formatting instead of fmt or encoding/json. Addresses print as
// lowercase hex with a 0x prefix, zero as "0x0".
package report

import (
	"fmt"
	"os"
	"sync"

	"github.com/memtrace/memtrace/internal/mtrace/stacktrace"
)

// Summary carries the closing totals of a run.
//
// The libc fields count allocations classified as suspicious runtime
// activity rather than program leaks; the field names are part of the
// output format consumed by downstream tooling.
type Summary struct {
	RealLeaks int
	RealBytes uintptr
	LibcLeaks int
	LibcBytes uintptr
}

// Writer serializes findings to one output stream.
//
// Methods are safe for concurrent use and each record reaches the stream
// in one write, so lines never interleave.
type Writer struct {
	mu    sync.Mutex
	f     *os.File
	owned bool
}

// NewWriter wraps an open file. The caller retains ownership; Close will
// not close it.
func NewWriter(f *os.File) *Writer {
	return &Writer{f: f}
}

// Open resolves an output target name to a writer.
//
// The empty string and "stderr" select standard error, "stdout" selects
// standard output, and anything else is created as a file that Close will
// close again.
func Open(target string) (*Writer, error) {
	switch target {
	case "", "stderr":
		return &Writer{f: os.Stderr}, nil
	case "stdout":
		return &Writer{f: os.Stdout}, nil
	}
	f, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("report: open output %q: %w", target, err)
	}
	return &Writer{f: f, owned: true}, nil
}

// Close releases the output stream if the writer owns it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.owned || w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// Header announces the confirmed leak totals. It is emitted only when at
// least one confirmed leak exists; callers enforce that.
func (w *Writer) Header(count int, totalBytes uintptr) {
	var l line
	l.str(`{"type":"header","leaks_count":`)
	l.dec(uint64(count))
	l.str(`,"total_bytes":`)
	l.dec(uint64(totalBytes))
	l.str("}\n")
	w.emit(&l)
}

// Leak emits one confirmed leak record with its allocation site.
func (w *Writer) Leak(addr, size uintptr, frames []uintptr) {
	var l line
	l.str(`{"type":"leak","addr":"`)
	l.hex(addr)
	l.str(`","size":`)
	l.dec(uint64(size))
	l.str(`,"frames":`)
	l.frames(frames)
	l.str("}\n")
	w.emit(&l)
}

// Corruption emits one bad-free record. The kind is the classifier verdict
// label, "double-free" or "invalid-free".
func (w *Writer) Corruption(kind string, addr uintptr, frames []uintptr) {
	var l line
	l.str(`{"type":"`)
	l.str(kind)
	l.str(`","addr":"`)
	l.hex(addr)
	l.str(`","frames":`)
	l.frames(frames)
	l.str("}\n")
	w.emit(&l)
}

// WriteSummary emits the closing totals. Every run ends with exactly one
// summary, leaks or not.
func (w *Writer) WriteSummary(s Summary) {
	var l line
	l.str(`{"type":"summary","real_leaks":`)
	l.dec(uint64(s.RealLeaks))
	l.str(`,"real_bytes":`)
	l.dec(uint64(s.RealBytes))
	l.str(`,"libc_leaks":`)
	l.dec(uint64(s.LibcLeaks))
	l.str(`,"libc_bytes":`)
	l.dec(uint64(s.LibcBytes))
	l.str("}\n")
	w.emit(&l)
}

func (w *Writer) emit(l *line) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return
	}
	// Output is best effort; a dead stream must not take the process down.
	_, _ = w.f.Write(l.b[:l.n])
}

// lineMax bounds one record. Seven frames with long binary names fit with
// room to spare; anything beyond the bound is dropped rather than grown.
const lineMax = 2048

const hexDigits = "0123456789abcdef"

// line assembles one record in fixed storage.
type line struct {
	b [lineMax]byte
	n int
}

func (l *line) str(s string) {
	n := copy(l.b[l.n:], s)
	l.n += n
}

func (l *line) bytes(b []byte) {
	n := copy(l.b[l.n:], b)
	l.n += n
}

// quoted writes a JSON string literal, escaping quotes and backslashes.
func (l *line) quoted(s string) {
	l.str(`"`)
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			l.str(s[start:i])
			l.str(`\`)
			l.bytes([]byte{s[i]})
			start = i + 1
		}
	}
	l.str(s[start:])
	l.str(`"`)
}

// hex writes v as lowercase hex with a 0x prefix, zero as 0x0.
func (l *line) hex(v uintptr) {
	l.str("0x")
	if v == 0 {
		l.str("0")
		return
	}
	var tmp [16]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = hexDigits[v&0xf]
		v >>= 4
	}
	l.bytes(tmp[i:])
}

// dec writes v in decimal.
func (l *line) dec(v uint64) {
	if v == 0 {
		l.str("0")
		return
	}
	var tmp [20]byte
	i := len(tmp)
	for v > 0 {
		i--
		tmp[i] = byte('0' + v%10)
		v /= 10
	}
	l.bytes(tmp[i:])
}

// frames writes the frame array, resolving each address to its binary and
// capping the output at the reporting limit.
func (l *line) frames(pcs []uintptr) {
	if len(pcs) > stacktrace.MaxReportFrames {
		pcs = pcs[:stacktrace.MaxReportFrames]
	}
	l.str("[")
	for i, pc := range pcs {
		if i > 0 {
			l.str(",")
		}
		l.str(`{"addr":"`)
		l.hex(pc)
		l.str(`","bin":`)
		l.quoted(stacktrace.Binary(pc))
		l.str("}")
	}
	l.str("]")
}
