package report

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/memtrace/memtrace/internal/mtrace/stacktrace"
)

func capture(t *testing.T, fn func(w *Writer)) string {
	t.Helper()

	r, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	w := NewWriter(pw)
	fn(w)
	pw.Close()

	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		t.Fatalf("reading pipe: %v", err)
	}
	return string(data)
}

func TestWriter_HeaderFormat(t *testing.T) {
	got := capture(t, func(w *Writer) { w.Header(3, 1936) })
	want := `{"type":"header","leaks_count":3,"total_bytes":1936}` + "\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestWriter_LeakFormat(t *testing.T) {
	got := capture(t, func(w *Writer) { w.Leak(0x1a2b, 128, []uintptr{0}) })
	want := `{"type":"leak","addr":"0x1a2b","size":128,"frames":[{"addr":"0x0","bin":"unknown"}]}` + "\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestWriter_LeakWithoutFrames(t *testing.T) {
	got := capture(t, func(w *Writer) { w.Leak(0x1000, 64, nil) })
	want := `{"type":"leak","addr":"0x1000","size":64,"frames":[]}` + "\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestWriter_CorruptionFormat(t *testing.T) {
	got := capture(t, func(w *Writer) {
		w.Corruption("double-free", 0x2000, nil)
		w.Corruption("invalid-free", 0x3000, nil)
	})
	want := `{"type":"double-free","addr":"0x2000","frames":[]}` + "\n" +
		`{"type":"invalid-free","addr":"0x3000","frames":[]}` + "\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestWriter_SummaryFormat(t *testing.T) {
	got := capture(t, func(w *Writer) {
		w.WriteSummary(Summary{RealLeaks: 2, RealBytes: 1536, LibcLeaks: 1, LibcBytes: 288})
	})
	want := `{"type":"summary","real_leaks":2,"real_bytes":1536,"libc_leaks":1,"libc_bytes":288}` + "\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestWriter_ZeroValues(t *testing.T) {
	got := capture(t, func(w *Writer) {
		w.Leak(0, 0, nil)
		w.WriteSummary(Summary{})
	})
	want := `{"type":"leak","addr":"0x0","size":0,"frames":[]}` + "\n" +
		`{"type":"summary","real_leaks":0,"real_bytes":0,"libc_leaks":0,"libc_bytes":0}` + "\n"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

type frameJSON struct {
	Addr string `json:"addr"`
	Bin  string `json:"bin"`
}

type recordJSON struct {
	Type   string      `json:"type"`
	Addr   string      `json:"addr"`
	Size   uint64      `json:"size"`
	Frames []frameJSON `json:"frames"`
}

func TestWriter_RealFramesDecode(t *testing.T) {
	pcs := stacktrace.Capture(0)
	if len(pcs) == 0 {
		t.Fatal("Expected a non-empty stack")
	}

	got := capture(t, func(w *Writer) { w.Leak(0xbeef, 40, pcs) })

	var rec recordJSON
	if err := json.Unmarshal([]byte(strings.TrimSpace(got)), &rec); err != nil {
		t.Fatalf("Expected valid JSON, got %q: %v", got, err)
	}
	if rec.Type != "leak" || rec.Addr != "0xbeef" || rec.Size != 40 {
		t.Errorf("Expected leak record for 0xbeef/40, got %+v", rec)
	}
	if len(rec.Frames) != len(pcs) {
		t.Errorf("Expected %d frames, got %d", len(pcs), len(rec.Frames))
	}
	for i, f := range rec.Frames {
		if !strings.HasPrefix(f.Addr, "0x") {
			t.Errorf("Expected hex address in frame %d, got %q", i, f.Addr)
		}
		if f.Bin == "" {
			t.Errorf("Expected a binary name in frame %d", i)
		}
	}
}

func TestWriter_FramesCappedAtReportLimit(t *testing.T) {
	pcs := make([]uintptr, stacktrace.MaxReportFrames+3)

	got := capture(t, func(w *Writer) { w.Corruption("invalid-free", 0x1, pcs) })

	var rec recordJSON
	if err := json.Unmarshal([]byte(strings.TrimSpace(got)), &rec); err != nil {
		t.Fatalf("Expected valid JSON, got %q: %v", got, err)
	}
	if len(rec.Frames) != stacktrace.MaxReportFrames {
		t.Errorf("Expected %d frames, got %d", stacktrace.MaxReportFrames, len(rec.Frames))
	}
}

func TestOpen_StandardStreams(t *testing.T) {
	w, err := Open("stderr")
	if err != nil {
		t.Fatalf("Open(stderr): %v", err)
	}
	if w.f != os.Stderr || w.owned {
		t.Error("Expected an unowned stderr writer")
	}
	if err := w.Close(); err != nil {
		t.Errorf("Expected Close on stderr to be a no-op, got %v", err)
	}
	if w.f == nil {
		t.Error("Expected Close to leave stderr open")
	}

	w, err = Open("")
	if err != nil || w.f != os.Stderr {
		t.Errorf("Expected the empty target to mean stderr, got %v, %v", w, err)
	}

	w, err = Open("stdout")
	if err != nil || w.f != os.Stdout {
		t.Errorf("Expected stdout writer, got %v, %v", w, err)
	}
}

func TestOpen_FileTarget(t *testing.T) {
	path := t.TempDir() + "/trace.ndjson"

	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	w.Header(1, 64)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := `{"type":"header","leaks_count":1,"total_bytes":64}` + "\n"
	if string(data) != want {
		t.Errorf("Expected %q, got %q", want, string(data))
	}
}

func TestOpen_BadPath(t *testing.T) {
	if _, err := Open(t.TempDir() + "/no/such/dir/out"); err == nil {
		t.Error("Expected an error for an unwritable target")
	}
}

func TestWriter_ConcurrentRecordsDoNotInterleave(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 50

	got := capture(t, func(w *Writer) {
		var wg sync.WaitGroup
		for g := 0; g < goroutines; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < perGoroutine; i++ {
					w.Corruption("double-free", uintptr(g*1000+i), nil)
				}
			}(g)
		}
		wg.Wait()
	})

	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != goroutines*perGoroutine {
		t.Fatalf("Expected %d records, got %d", goroutines*perGoroutine, len(lines))
	}
	for _, ln := range lines {
		var rec recordJSON
		if err := json.Unmarshal([]byte(ln), &rec); err != nil {
			t.Errorf("Expected every line to be valid JSON, got %q: %v", ln, err)
		}
	}
}

func TestLine_QuotedEscaping(t *testing.T) {
	var l line
	l.quoted(`a"b\c`)
	if got, want := string(l.b[:l.n]), `"a\"b\\c"`; got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}
