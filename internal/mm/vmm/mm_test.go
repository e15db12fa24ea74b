package vmm

import "testing"

func TestMmMapAllocRoundTrip(t *testing.T) {
	pages := testAllocator(64 << 20)
	mm := NewMm(pages, nil, 0x1000, 0x10000000)

	virtual, err := mm.Map(0, 2*PageSize, MMURead|MMUWrite, MapAlloc, 0)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if virtual == 0 {
		t.Fatal("Map returned a null address")
	}

	phys, ok := mm.pagetable.GetPhysical(virtual)
	if !ok {
		t.Fatal("expected the mapped range to translate to a physical page")
	}
	if phys == 0 {
		t.Fatal("backing physical page is the null sentinel")
	}

	if err := mm.Unmap(virtual, 2*PageSize); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if _, ok := mm.pagetable.GetPhysical(virtual); ok {
		t.Fatal("expected the range to be unmapped")
	}
}

func TestMmMapPhysicalFixed(t *testing.T) {
	pages := testAllocator(64 << 20)
	mm := NewMm(pages, nil, 0x1000, 0x10000000)

	const virtual = uintptr(0x400000)
	const physical = uintptr(0x800000)

	got, err := mm.Map(virtual, PageSize, MMURead, MapFixed|MapPhysical, physical)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if got != virtual {
		t.Fatalf("Map returned %#x, want the fixed address %#x", got, virtual)
	}

	phys, ok := mm.pagetable.GetPhysical(virtual)
	if !ok || phys != physical {
		t.Fatalf("GetPhysical = %#x,%v want %#x,true", phys, ok, physical)
	}
}

func TestMmProtectAppliesToMapping(t *testing.T) {
	pages := testAllocator(64 << 20)
	mm := NewMm(pages, nil, 0x1000, 0x10000000)

	virtual, err := mm.Map(0, PageSize, MMURead|MMUWrite, MapAlloc, 0)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := mm.Protect(virtual, PageSize, MMURead); err != nil {
		t.Fatalf("Protect: %v", err)
	}

	v := mm.Find(virtual)
	if v == nil {
		t.Fatal("expected a vma covering the mapped range")
	}
	if v.Prot&MMUWrite != 0 {
		t.Fatal("expected write permission to be dropped after Protect")
	}
}

func TestMmMapRejectsUnalignedFixed(t *testing.T) {
	pages := testAllocator(64 << 20)
	mm := NewMm(pages, nil, 0x1000, 0x10000000)

	if _, err := mm.Map(0x1001, PageSize, MMURead, MapFixed, 0); err == nil {
		t.Fatal("expected Map to reject an unaligned fixed hint")
	}
}
