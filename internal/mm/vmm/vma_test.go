package vmm

import "testing"

func TestVmaMapFindsHole(t *testing.T) {
	var list []*VMA
	list, addr, err := vmaMap(list, 0, PageSize, MMURead, 0, 0x1000, 0x1000000)
	if err != nil {
		t.Fatalf("vmaMap: %v", err)
	}
	if addr < 0x1000 {
		t.Fatalf("addr %#x below mmapStart", addr)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 vma, got %d", len(list))
	}
}

func TestVmaMapSkipsOccupiedRegion(t *testing.T) {
	var list []*VMA
	list, first, err := vmaMap(list, 0x2000, PageSize, MMURead, MapFixed, 0x1000, 0x1000000)
	if err != nil {
		t.Fatalf("first vmaMap: %v", err)
	}

	list, second, err := vmaMap(list, first, PageSize, MMURead, 0, 0x1000, 0x1000000)
	if err != nil {
		t.Fatalf("second vmaMap: %v", err)
	}
	if second < first+PageSize {
		t.Fatalf("second mapping at %#x overlaps first at %#x", second, first)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 vmas, got %d", len(list))
	}
}

func TestVmaProtectSplitsAndMerges(t *testing.T) {
	var list []*VMA
	list, base, err := vmaMap(list, 0x4000, 3*PageSize, MMURead|MMUWrite, MapFixed, 0x1000, 0x1000000)
	if err != nil {
		t.Fatalf("vmaMap: %v", err)
	}

	list, err = vmaProtect(list, base+PageSize, PageSize, MMURead)
	if err != nil {
		t.Fatalf("vmaProtect: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected the middle page to split into 3 vmas, got %d", len(list))
	}

	list, err = vmaProtect(list, base, 3*PageSize, MMURead|MMUWrite)
	if err != nil {
		t.Fatalf("vmaProtect restore: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected re-applying uniform protection to re-merge into 1 vma, got %d", len(list))
	}
}

func TestVmaUnmapSplitsMiddle(t *testing.T) {
	var list []*VMA
	list, base, err := vmaMap(list, 0x8000, 3*PageSize, MMURead, MapFixed, 0x1000, 0x1000000)
	if err != nil {
		t.Fatalf("vmaMap: %v", err)
	}

	list, err = vmaUnmap(list, base+PageSize, PageSize)
	if err != nil {
		t.Fatalf("vmaUnmap: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 remaining vmas after punching a hole, got %d", len(list))
	}
	if v, _ := vmaFind(list, base+PageSize); v != nil {
		t.Fatal("expected the punched region to be unmapped")
	}
}

func TestVmaUnmapFullyCoveredRemoves(t *testing.T) {
	var list []*VMA
	list, base, err := vmaMap(list, 0xc000, PageSize, MMURead, MapFixed, 0x1000, 0x1000000)
	if err != nil {
		t.Fatalf("vmaMap: %v", err)
	}
	list, err = vmaUnmap(list, base, PageSize)
	if err != nil {
		t.Fatalf("vmaUnmap: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected the vma to be fully removed, got %d remaining", len(list))
	}
}
