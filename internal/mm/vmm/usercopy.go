package vmm

import "nebula/internal/kernelerr"

// userAddressLimit mirrors IS_USER_ADDRESS: the top of the user canonical
// half of the address space.
const userAddressLimit = 0x7FFFFFFFFFFF

func IsUserAddress(addr uintptr) bool { return addr <= userAddressLimit }

// EnterHook/ExitHook bracket a usercopy so a scheduler can mark the
// current thread as being inside one (current_thread()->in_usercopy in the
// original, used to let a page fault handler tell a bad user pointer
// apart from a genuine kernel bug). Both are nil by default, which makes
// them no-ops; no package in this repository, internal/sched included,
// installs them, so no per-thread usercopy marker is set.
var (
	EnterHook func()
	ExitHook  func()
)

func enter() {
	if EnterHook != nil {
		EnterHook()
	}
}

func exit() {
	if ExitHook != nil {
		ExitHook()
	}
}

// UserBuffer pairs a user-space virtual address with the real Go storage
// standing in for the bytes mapped there. buddy's physical pages are pure
// bookkeeping (see internal/mm/buddy's package doc), so there is no literal
// byte-addressable RAM for a raw address to dereference into; callers
// that map user memory already hold the backing slice (a heap allocation,
// a slab object) and report both halves here so permission checks can run
// against the VMA table while the actual copy runs over real Go memory.
type UserBuffer struct {
	Addr uintptr
	Data []byte
}

func (m *Mm) checkRange(addr uintptr, size int, write bool) error {
	if !IsUserAddress(addr) {
		return kernelerr.New("vmm", "address outside user space", kernelerr.EFAULT)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	end := addr + uintptr(size)
	for cur := addr; cur < end; {
		v, _ := vmaFind(m.vmas, cur)
		if v == nil {
			return kernelerr.New("vmm", "unmapped user address", kernelerr.EFAULT)
		}
		if v.Prot&MMURead == 0 || (write && v.Prot&MMUWrite == 0) {
			return kernelerr.New("vmm", "insufficient user mapping permissions", kernelerr.EFAULT)
		}
		cur = v.Top
	}
	return nil
}

// CopyFromUser validates src against mm's VMA table before copying into
// dest. Grounded on usercopy_from_user.
func CopyFromUser(mm *Mm, dest []byte, src UserBuffer) error {
	if len(dest) > len(src.Data) {
		return kernelerr.New("vmm", "source buffer too short", kernelerr.EFAULT)
	}
	if err := mm.checkRange(src.Addr, len(dest), false); err != nil {
		return err
	}
	enter()
	defer exit()
	copy(dest, src.Data[:len(dest)])
	return nil
}

// CopyToUser validates dest against mm's VMA table before copying out of
// src. Grounded on usercopy_to_user.
func CopyToUser(mm *Mm, dest UserBuffer, src []byte) error {
	if len(src) > len(dest.Data) {
		return kernelerr.New("vmm", "destination buffer too short", kernelerr.EFAULT)
	}
	if err := mm.checkRange(dest.Addr, len(src), true); err != nil {
		return err
	}
	enter()
	defer exit()
	copy(dest.Data[:len(src)], src)
	return nil
}

// MemsetUser fills count bytes of dest with val. Grounded on
// usercopy_memset.
func MemsetUser(mm *Mm, dest UserBuffer, val byte, count int) error {
	if count > len(dest.Data) {
		return kernelerr.New("vmm", "destination buffer too short", kernelerr.EFAULT)
	}
	if err := mm.checkRange(dest.Addr, count, true); err != nil {
		return err
	}
	enter()
	defer exit()
	for i := 0; i < count; i++ {
		dest.Data[i] = val
	}
	return nil
}

// StrlenUser returns the length of a NUL-terminated string at src,
// excluding the terminator. Grounded on usercopy_strlen.
func StrlenUser(mm *Mm, src UserBuffer) (int, error) {
	if !IsUserAddress(src.Addr) {
		return 0, kernelerr.New("vmm", "address outside user space", kernelerr.EFAULT)
	}
	enter()
	defer exit()

	for i, b := range src.Data {
		if err := mm.checkRange(src.Addr+uintptr(i), 1, false); err != nil {
			return 0, err
		}
		if b == 0 {
			return i, nil
		}
	}
	return 0, kernelerr.New("vmm", "user string not NUL-terminated within buffer", kernelerr.EFAULT)
}
