package boot

import "testing"

func TestMemoryMapUsable(t *testing.T) {
	m := &MemoryMap{Entries: []MemoryMapEntry{
		{Base: 0x1000, Length: 0x1000, Type: MemReserved},
		{Base: 0x2000, Length: 0x4000, Type: MemUsable},
	}}

	if !m.Usable(0x2000, 0x1000) {
		t.Fatal("expected range within usable entry to be usable")
	}
	if m.Usable(0x1000, 0x1000) {
		t.Fatal("reserved range must not be usable")
	}
	if m.Usable(0x3000, 0x4000) {
		t.Fatal("range spanning past the usable entry's end must not be usable")
	}
}

func TestLastUsableAddressAndTotal(t *testing.T) {
	m := &MemoryMap{Entries: []MemoryMapEntry{
		{Base: 0x0, Length: 0x1000, Type: MemUsable},
		{Base: 0x100000, Length: 0x2000, Type: MemUsable},
		{Base: 0x200000, Length: 0x1000, Type: MemReserved},
	}}

	if got, want := m.LastUsableAddress(), uintptr(0x100000+0x2000-1); got != want {
		t.Fatalf("LastUsableAddress = %#x, want %#x", got, want)
	}
	if got, want := m.TotalUsable(), uint64(0x3000); got != want {
		t.Fatalf("TotalUsable = %#x, want %#x", got, want)
	}
}

func TestPhysVirtRoundTrip(t *testing.T) {
	info := &Info{HHDMOffset: 0xffff800000000000}
	phys := uintptr(0x123456)
	virt := info.PhysToVirt(phys)
	if info.VirtToPhys(virt) != phys {
		t.Fatal("phys/virt round trip mismatch")
	}
}
