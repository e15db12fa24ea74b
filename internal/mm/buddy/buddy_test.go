package buddy

import (
	"testing"

	"nebula/internal/boot"
)

func testMemoryMap(totalBytes uint64) *boot.MemoryMap {
	return &boot.MemoryMap{Entries: []boot.MemoryMapEntry{
		{Base: 0, Length: totalBytes, Type: boot.MemUsable},
	}}
}

func TestAllocFreePageRoundTrip(t *testing.T) {
	a := New(testMemoryMap(64 << 20)) // 64 MiB

	phys, err := a.AllocPage(FlagDMA)
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	if phys == 0 {
		t.Fatal("AllocPage returned the null sentinel")
	}
	if phys%PageSize != 0 {
		t.Fatalf("phys %#x is not page-aligned", phys)
	}

	inUse, total := a.FreeMemory()
	if inUse == 0 {
		t.Fatal("FreeMemory should report the page as in use")
	}
	if total == 0 {
		t.Fatal("FreeMemory should report the mapped total")
	}

	if err := a.FreePage(phys); err != nil {
		t.Fatalf("FreePage: %v", err)
	}

	inUseAfter, _ := a.FreeMemory()
	if inUseAfter != inUse-PageSize {
		t.Fatalf("inUse after free = %d, want %d", inUseAfter, inUse-PageSize)
	}
}

func TestDoubleFreeRejected(t *testing.T) {
	a := New(testMemoryMap(64 << 20))

	phys, err := a.AllocPage(FlagDMA)
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	if err := a.FreePage(phys); err != nil {
		t.Fatalf("first FreePage: %v", err)
	}
	if err := a.FreePage(phys); err == nil {
		t.Fatal("second FreePage of the same address should fail")
	}
}

func TestAllocPagesMultiOrder(t *testing.T) {
	a := New(testMemoryMap(64 << 20))

	phys, err := a.AllocPages(FlagDMA, 2) // 4 pages
	if err != nil {
		t.Fatalf("AllocPages: %v", err)
	}
	if phys%(PageSize<<2) != 0 {
		t.Fatalf("phys %#x not aligned to a 4-page block", phys)
	}
	if err := a.FreePages(phys, 2); err != nil {
		t.Fatalf("FreePages: %v", err)
	}
}

func TestNormalZoneAliasesWhenUnreachable(t *testing.T) {
	// With only 64 MiB of usable memory, the NORMAL zone (starting at 4
	// GiB) has nothing to back it and must alias DMA32.
	a := New(testMemoryMap(64 << 20))
	if a.normal != a.dma32 {
		t.Fatal("expected NORMAL zone to alias DMA32 when unreachable")
	}

	phys, err := a.AllocPage(FlagNormal)
	if err != nil {
		t.Fatalf("AllocPage(FlagNormal): %v", err)
	}
	if err := a.FreePage(phys); err != nil {
		t.Fatalf("FreePage: %v", err)
	}
}

func TestPhysicalPageZeroNeverAllocated(t *testing.T) {
	a := New(testMemoryMap(64 << 20))
	for i := 0; i < 64; i++ {
		phys, err := a.AllocPage(FlagDMA)
		if err != nil {
			t.Fatalf("AllocPage: %v", err)
		}
		if phys == 0 {
			t.Fatal("page 0 must never be allocated")
		}
	}
}

func TestReserveRangeExcludesPagesFromAllocation(t *testing.T) {
	a := New(testMemoryMap(64 << 20))
	a.ReserveRange(PageSize, PageSize*4)

	for i := 0; i < 3; i++ {
		phys, err := a.AllocPage(FlagDMA)
		if err != nil {
			t.Fatalf("AllocPage: %v", err)
		}
		if phys >= PageSize && phys < PageSize*5 {
			t.Fatalf("allocated reserved page %#x", phys)
		}
	}
}

func TestFindFirstFreeAndBitHelpers(t *testing.T) {
	bitmap := make([]byte, 8)
	const layer = 3
	blockCount := uint64(1) << layer

	if got := findFirstFree(bitmap, layer); got != 0 {
		t.Fatalf("findFirstFree on empty bitmap = %d, want 0", got)
	}

	bitSet(bitmap, blockCount, 0)
	if bitIsFree(bitmap, blockCount, 0) {
		t.Fatal("block 0 should be marked allocated")
	}
	if got := findFirstFree(bitmap, layer); got != 1 {
		t.Fatalf("findFirstFree after allocating 0 = %d, want 1", got)
	}

	bitClear(bitmap, blockCount, 0)
	if !bitIsFree(bitmap, blockCount, 0) {
		t.Fatal("block 0 should be free again")
	}
}
