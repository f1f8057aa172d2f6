package classify

import (
	"testing"
	"time"

	"github.com/memtrace/memtrace/internal/mtrace/registry"
)

func insert(t *testing.T, reg *registry.Registry, addr, size uintptr) {
	t.Helper()
	if !reg.Insert(&registry.Record{Addr: addr, Size: size, When: time.Now()}) {
		t.Fatalf("Expected insert of %#x to succeed", addr)
	}
}

func TestClassifyFree_ValidFreeDetachesRecord(t *testing.T) {
	reg := registry.New(0)
	c := NewClassifier(0)
	insert(t, reg, 0x1000, 64)

	verdict, rec := c.ClassifyFree(reg, 0x1000)
	if verdict != FreeValid {
		t.Fatalf("Expected FreeValid, got %v", verdict)
	}
	if rec == nil || rec.Size != 64 {
		t.Fatalf("Expected the detached 64-byte record, got %+v", rec)
	}
	if reg.Contains(0x1000) {
		t.Error("Expected the address to leave the live table")
	}
}

func TestClassifyFree_DoubleFree(t *testing.T) {
	reg := registry.New(0)
	c := NewClassifier(0)
	insert(t, reg, 0x1000, 64)

	c.ClassifyFree(reg, 0x1000)
	verdict, rec := c.ClassifyFree(reg, 0x1000)

	if verdict != FreeDouble {
		t.Errorf("Expected FreeDouble on the second free, got %v", verdict)
	}
	if rec != nil {
		t.Errorf("Expected no record for a double free, got %+v", rec)
	}
}

func TestClassifyFree_InvalidFree(t *testing.T) {
	reg := registry.New(0)
	c := NewClassifier(0)

	verdict, rec := c.ClassifyFree(reg, 0xdead)
	if verdict != FreeInvalid {
		t.Errorf("Expected FreeInvalid for an unknown address, got %v", verdict)
	}
	if rec != nil {
		t.Errorf("Expected no record for an invalid free, got %+v", rec)
	}
}

func TestClassifyFree_InteriorPointer(t *testing.T) {
	reg := registry.New(0)
	c := NewClassifier(0)
	insert(t, reg, 0x1000, 256)

	verdict, _ := c.ClassifyFree(reg, 0x1000+8)
	if verdict != FreeInvalid {
		t.Errorf("Expected FreeInvalid for an interior pointer, got %v", verdict)
	}
	if !reg.Contains(0x1000) {
		t.Error("Expected the base allocation to stay live")
	}
}

func TestClassifyFree_RecycledAddressIsLiveAgain(t *testing.T) {
	reg := registry.New(0)
	c := NewClassifier(0)

	insert(t, reg, 0x1000, 64)
	c.ClassifyFree(reg, 0x1000)

	// The raw allocator hands the same address out again.
	insert(t, reg, 0x1000, 32)

	verdict, rec := c.ClassifyFree(reg, 0x1000)
	if verdict != FreeValid {
		t.Fatalf("Expected the recycled address to free cleanly, got %v", verdict)
	}
	if rec == nil || rec.Size != 32 {
		t.Fatalf("Expected the 32-byte record, got %+v", rec)
	}

	if verdict, _ := c.ClassifyFree(reg, 0x1000); verdict != FreeDouble {
		t.Errorf("Expected FreeDouble after the recycled block was freed, got %v", verdict)
	}
}

func TestClassifyFree_HistoryEvictionDegradesToInvalid(t *testing.T) {
	reg := registry.New(0)
	c := NewClassifier(2)

	for _, addr := range []uintptr{0x1000, 0x2000, 0x3000} {
		insert(t, reg, addr, 16)
		c.ClassifyFree(reg, addr)
	}

	// 0x1000 was evicted from the two-slot history.
	if verdict, _ := c.ClassifyFree(reg, 0x1000); verdict != FreeInvalid {
		t.Errorf("Expected an evicted address to classify as invalid, got %v", verdict)
	}
	if verdict, _ := c.ClassifyFree(reg, 0x3000); verdict != FreeDouble {
		t.Errorf("Expected a remembered address to classify as double, got %v", verdict)
	}
}

func TestNoteFreed_CoversReallocMoves(t *testing.T) {
	reg := registry.New(0)
	c := NewClassifier(0)

	// A moving reallocation releases the old block without a free call.
	c.NoteFreed(0x1000)

	if verdict, _ := c.ClassifyFree(reg, 0x1000); verdict != FreeDouble {
		t.Errorf("Expected freeing a moved block to classify as double, got %v", verdict)
	}
}

func TestClassifier_Reset(t *testing.T) {
	reg := registry.New(0)
	c := NewClassifier(0)
	insert(t, reg, 0x1000, 16)
	c.ClassifyFree(reg, 0x1000)

	c.Reset()

	if got := c.HistoryLen(); got != 0 {
		t.Errorf("Expected empty history after reset, got %d", got)
	}
	if verdict, _ := c.ClassifyFree(reg, 0x1000); verdict != FreeInvalid {
		t.Errorf("Expected a forgotten address to classify as invalid, got %v", verdict)
	}
}

func TestPartition_SplitsBySuspicion(t *testing.T) {
	recs := []*registry.Record{
		{Addr: 0x1000, Size: 10},
		{Addr: 0x2000, Size: 20, Suspicious: true},
		{Addr: 0x3000, Size: 30},
	}

	confirmed, suspicious := Partition(recs)

	if len(confirmed) != 2 || confirmed[0].Addr != 0x1000 || confirmed[1].Addr != 0x3000 {
		t.Errorf("Expected confirmed leaks 0x1000 and 0x3000, got %+v", confirmed)
	}
	if len(suspicious) != 1 || suspicious[0].Addr != 0x2000 {
		t.Errorf("Expected suspicious leak 0x2000, got %+v", suspicious)
	}
}

func TestHistory_EvictsOldestWhenFull(t *testing.T) {
	h := NewHistory(4)
	for addr := uintptr(0x1000); addr <= 0x5000; addr += 0x1000 {
		h.Record(addr)
	}

	if h.Contains(0x1000) {
		t.Error("Expected the oldest address to be evicted")
	}
	for addr := uintptr(0x2000); addr <= 0x5000; addr += 0x1000 {
		if !h.Contains(addr) {
			t.Errorf("Expected %#x to still be remembered", addr)
		}
	}
	if got := h.Len(); got != 4 {
		t.Errorf("Expected history length 4, got %d", got)
	}
}

func TestHistory_DuplicateSurvivesSingleEviction(t *testing.T) {
	h := NewHistory(3)
	h.Record(0x1000)
	h.Record(0x1000)
	h.Record(0x2000)

	// Evicts the first 0x1000 entry only.
	h.Record(0x3000)

	if !h.Contains(0x1000) {
		t.Error("Expected the duplicate entry to keep the address remembered")
	}

	// Evicts the second 0x1000 entry.
	h.Record(0x4000)

	if h.Contains(0x1000) {
		t.Error("Expected the address to be forgotten after both entries evicted")
	}
}

func TestHistory_IgnoresZeroAddress(t *testing.T) {
	h := NewHistory(2)
	h.Record(0)

	if h.Contains(0) {
		t.Error("Expected address 0 to never be remembered")
	}
	if got := h.Len(); got != 0 {
		t.Errorf("Expected empty history, got %d", got)
	}
}

func TestVerdict_String(t *testing.T) {
	cases := []struct {
		verdict Verdict
		want    string
	}{
		{FreeValid, "valid"},
		{FreeDouble, "double-free"},
		{FreeInvalid, "invalid-free"},
		{Verdict(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.verdict.String(); got != tc.want {
			t.Errorf("Expected %q, got %q", tc.want, got)
		}
	}
}
