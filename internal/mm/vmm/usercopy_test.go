package vmm

import "testing"

func userMm(t *testing.T) (*Mm, uintptr, []byte) {
	t.Helper()
	pages := testAllocator(64 << 20)
	mm := NewMm(pages, nil, 0x1000, userAddressLimit-PageSize)

	backing := make([]byte, PageSize)
	virtual, err := mm.Map(0x10000, PageSize, MMURead|MMUWrite|MMUUser, MapFixed|MapUser, 0)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	return mm, virtual, backing
}

func TestCopyToFromUserRoundTrip(t *testing.T) {
	mm, virtual, backing := userMm(t)
	ub := UserBuffer{Addr: virtual, Data: backing}

	src := []byte("hello kernel")
	if err := CopyToUser(mm, ub, src); err != nil {
		t.Fatalf("CopyToUser: %v", err)
	}

	dest := make([]byte, len(src))
	if err := CopyFromUser(mm, dest, ub); err != nil {
		t.Fatalf("CopyFromUser: %v", err)
	}
	if string(dest) != string(src) {
		t.Fatalf("dest = %q, want %q", dest, src)
	}
}

func TestCopyToUserRejectsUnmappedAddress(t *testing.T) {
	mm, _, backing := userMm(t)
	ub := UserBuffer{Addr: 0x900000, Data: backing}

	if err := CopyToUser(mm, ub, []byte("x")); err == nil {
		t.Fatal("expected CopyToUser to fail against an unmapped address")
	}
}

func TestCopyFromUserRejectsReadOnlyViolationNone(t *testing.T) {
	mm, virtual, backing := userMm(t)
	if err := mm.Protect(virtual, PageSize, MMURead); err != nil {
		t.Fatalf("Protect: %v", err)
	}
	ub := UserBuffer{Addr: virtual, Data: backing}

	if err := CopyToUser(mm, ub, []byte("x")); err == nil {
		t.Fatal("expected CopyToUser to fail once write permission is dropped")
	}
	if err := CopyFromUser(mm, make([]byte, 1), ub); err != nil {
		t.Fatalf("CopyFromUser should still succeed with read-only permission: %v", err)
	}
}

func TestStrlenUserStopsAtNUL(t *testing.T) {
	mm, virtual, backing := userMm(t)
	copy(backing, "abc\x00garbage")
	ub := UserBuffer{Addr: virtual, Data: backing}

	n, err := StrlenUser(mm, ub)
	if err != nil {
		t.Fatalf("StrlenUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("StrlenUser = %d, want 3", n)
	}
}

func TestMemsetUserFillsRange(t *testing.T) {
	mm, virtual, backing := userMm(t)
	ub := UserBuffer{Addr: virtual, Data: backing}

	if err := MemsetUser(mm, ub, 0x42, 16); err != nil {
		t.Fatalf("MemsetUser: %v", err)
	}
	for i := 0; i < 16; i++ {
		if backing[i] != 0x42 {
			t.Fatalf("backing[%d] = %#x, want 0x42", i, backing[i])
		}
	}
}
