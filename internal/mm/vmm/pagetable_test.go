package vmm

import (
	"testing"

	"nebula/internal/boot"
	"nebula/internal/mm/buddy"
)

func testAllocator(totalBytes uint64) *buddy.Allocator {
	return buddy.New(&boot.MemoryMap{Entries: []boot.MemoryMapEntry{
		{Base: 0, Length: totalBytes, Type: boot.MemUsable},
	}})
}

func TestPageTableMapGetPhysicalUnmap(t *testing.T) {
	pt := NewPageTable(testAllocator(64 << 20))

	virtual := uintptr(0x0000_1234_0000_0000)
	physical := uintptr(0x200000)

	if err := pt.Map(virtual, physical, MMURead|MMUWrite, false); err != nil {
		t.Fatalf("Map: %v", err)
	}

	got, ok := pt.GetPhysical(virtual + 0x10)
	if !ok {
		t.Fatal("GetPhysical reported unmapped")
	}
	if got != physical+0x10 {
		t.Fatalf("GetPhysical = %#x, want %#x", got, physical+0x10)
	}

	if err := pt.Unmap(virtual); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if _, ok := pt.GetPhysical(virtual); ok {
		t.Fatal("expected address to be unmapped")
	}
}

func TestPageTableMapRejectsDoubleMap(t *testing.T) {
	pt := NewPageTable(testAllocator(64 << 20))
	virtual := uintptr(0x0000_5678_0000_0000)

	if err := pt.Map(virtual, 0x300000, MMURead, false); err != nil {
		t.Fatalf("first Map: %v", err)
	}
	if err := pt.Map(virtual, 0x400000, MMURead, false); err == nil {
		t.Fatal("expected the second Map to fail with EEXIST")
	}
}

func TestPageTableRejectsNonCanonical(t *testing.T) {
	pt := NewPageTable(testAllocator(64 << 20))
	nonCanonical := uintptr(1) << 60

	if err := pt.Map(nonCanonical, 0x1000, MMURead, false); err == nil {
		t.Fatal("expected Map to reject a non-canonical address")
	}
}

func TestPageTableProtectionRoundTrip(t *testing.T) {
	pt := NewPageTable(testAllocator(64 << 20))
	virtual := uintptr(0x0000_2345_0000_0000)

	if err := pt.Map(virtual, 0x500000, MMURead|MMUWrite|MMUUser, false); err != nil {
		t.Fatalf("Map: %v", err)
	}

	got, ok := pt.Protection(virtual)
	if !ok {
		t.Fatal("Protection reported unmapped")
	}
	want := MMURead | MMUWrite | MMUUser
	if got != want {
		t.Fatalf("Protection = %#x, want %#x", got, want)
	}
}

func TestMmuToPTRejectsConflictingCachePolicy(t *testing.T) {
	if _, err := mmuToPT(MMURead | MMUWritethrough | MMUCacheDisable); err == nil {
		t.Fatal("expected mmuToPT to reject writethrough and cache-disable together")
	}
}

func TestPageTableHugepageRoundTrip(t *testing.T) {
	pt := NewPageTable(testAllocator(64 << 20))
	virtual := uintptr(0x0000_7e00_0000_0000)
	physical := uintptr(Hugepage2MSize * 3)

	if err := pt.Map(virtual, physical, MMURead|MMUWrite, true); err != nil {
		t.Fatalf("Map hugepage: %v", err)
	}
	got, ok := pt.GetPhysical(virtual + 0x1000)
	if !ok || got != physical+0x1000 {
		t.Fatalf("GetPhysical = %#x,%v want %#x,true", got, ok, physical+0x1000)
	}
}
