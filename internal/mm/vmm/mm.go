package vmm

import (
	"nebula/internal/kernelerr"
	"nebula/internal/klock"
	"nebula/internal/mm/buddy"
	"nebula/internal/printk"
)

// Mm is one address space: a page table plus the VMA list describing
// what's mapped in it. Grounded on struct mm in vmm.c/vmm.h.
type Mm struct {
	pagetable *PageTable
	vmas      []*VMA
	mu        *klock.Mutex

	mmapStart, mmapEnd uintptr

	pages *buddy.Allocator
	tlb   *Shootdown
}

// NewMm creates an address space spanning [mmapStart, mmapEnd) for
// allocation hints, backed by pages for both page table levels and
// VMM_ALLOC-style mappings.
func NewMm(pages *buddy.Allocator, tlb *Shootdown, mmapStart, mmapEnd uintptr) *Mm {
	return &Mm{
		pagetable: NewPageTable(pages),
		mu:        klock.NewMutex(),
		mmapStart: mmapStart,
		mmapEnd:   mmapEnd,
		pages:     pages,
		tlb:       tlb,
	}
}

// Find returns the VMA covering address.
func (m *Mm) Find(address uintptr) *VMA {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, _ := vmaFind(m.vmas, address)
	return v
}

// Map reserves virtual address space and, depending on flags, either backs
// it with fresh physical pages (MapAlloc) or a caller-supplied physical
// range (MapPhysical). Grounded on vmap in vmm.c; the transactional
// prevpage save/restore the original uses to recover a VMM_FIXED overwrite
// on failure is not reproduced — a failed Map here just unwinds whatever
// it mapped so far and unmaps the VMA, which is sufficient since nothing
// downstream depends on the previous mapping's exact physical pages being
// preserved across a failed remap.
func (m *Mm) Map(hint uintptr, size uint64, prot MMUFlags, flags int, physical uintptr) (uintptr, error) {
	if size == 0 {
		return 0, kernelerr.New("vmm", "zero size map", kernelerr.EINVAL)
	}

	pageSize := uint64(PageSize)
	huge := flags&MapHugepage2M != 0
	if huge {
		pageSize = Hugepage2MSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list, virtual, err := vmaMap(m.vmas, hint, size, prot, flags, m.mmapStart, m.mmapEnd)
	if err != nil {
		return 0, err
	}
	m.vmas = list

	count := (roundUp(uintptr(size), uintptr(pageSize))) / uintptr(pageSize)
	var mapErr error
	var mapped uintptr
	cur := virtual
	switch {
	case flags&MapPhysical != 0:
		phys := physical
		for i := uintptr(0); i < count; i++ {
			if mapErr = m.pagetable.Map(cur, phys, prot, huge); mapErr != nil {
				break
			}
			mapped++
			cur += uintptr(pageSize)
			phys += uintptr(pageSize)
		}
	case flags&MapAlloc != 0:
		order := orderFor(pageSize)
		for i := uintptr(0); i < count; i++ {
			page, allocErr := m.pages.AllocPages(buddy.FlagNormal, order)
			if allocErr != nil {
				mapErr = allocErr
				break
			}
			if mapErr = m.pagetable.Map(cur, page, prot, huge); mapErr != nil {
				m.pages.FreePage(page)
				break
			}
			mapped++
			cur += uintptr(pageSize)
		}
	}

	if mapErr != nil {
		undo := virtual
		for i := uintptr(0); i < mapped; i++ {
			if phys, ok := m.pagetable.GetPhysical(undo); ok && flags&MapAlloc != 0 {
				m.pages.FreePage(phys &^ (uintptr(PageSize) - 1))
			}
			m.pagetable.Unmap(undo)
			undo += uintptr(pageSize)
		}
		if list2, err2 := vmaUnmap(m.vmas, virtual, size); err2 == nil {
			m.vmas = list2
		}
		return 0, mapErr
	}

	if m.tlb != nil {
		m.tlb.Invalidate(virtual, size)
	}
	return virtual, nil
}

func orderFor(pageSize uint64) uint {
	order := uint(0)
	for (uint64(PageSize) << order) < pageSize {
		order++
	}
	return order
}

// Protect reapplies prot across [virtual, virtual+size).
func (m *Mm) Protect(virtual uintptr, size uint64, prot MMUFlags) error {
	if virtual%PageSize != 0 || size == 0 {
		return kernelerr.New("vmm", "unaligned protect", kernelerr.EINVAL)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list, err := vmaProtect(m.vmas, virtual, size, prot)
	if err != nil {
		return err
	}
	m.vmas = list

	end := virtual + uintptr(roundUp(uintptr(size), PageSize))
	for addr := virtual; addr < end; {
		v, _ := vmaFind(m.vmas, addr)
		if v == nil {
			return kernelerr.New("vmm", "no mapping at address", kernelerr.ENOENT)
		}
		pageSize := uintptr(PageSize)
		huge := v.Flags&MapHugepage2M != 0
		if huge {
			pageSize = Hugepage2MSize
		}
		phys, ok := m.pagetable.GetPhysical(addr)
		if ok {
			if err := m.pagetable.Update(addr, phys, prot, huge); err != nil {
				printk.Global.Printf(printk.Warn, "vmm: protect update failed at %#x: %v", addr, err)
			}
		}
		addr += pageSize
	}

	if m.tlb != nil {
		m.tlb.Invalidate(virtual, size)
	}
	return nil
}

// Unmap tears down [virtual, virtual+size), freeing any physical pages
// MapAlloc backed it with.
func (m *Mm) Unmap(virtual uintptr, size uint64) error {
	if virtual%PageSize != 0 || size == 0 {
		return kernelerr.New("vmm", "unaligned unmap", kernelerr.EINVAL)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	end := virtual + uintptr(roundUp(uintptr(size), PageSize))
	for addr := virtual; addr < end; {
		v, _ := vmaFind(m.vmas, addr)
		if v == nil {
			addr += PageSize
			continue
		}
		pageSize := uintptr(PageSize)
		if v.Flags&MapHugepage2M != 0 {
			pageSize = Hugepage2MSize
		}

		if phys, ok := m.pagetable.GetPhysical(addr); ok {
			if err := m.pagetable.Unmap(addr); err != nil {
				printk.Global.Printf(printk.Err, "vmm: failed to unmap %#x: %v", addr, err)
			} else if v.Flags&MapAlloc != 0 {
				order := orderFor(uint64(pageSize))
				m.pages.FreePages(phys&^(uintptr(PageSize)-1), order)
			}
		}
		addr += pageSize
	}

	list, err := vmaUnmap(m.vmas, virtual, size)
	if err == nil {
		m.vmas = list
	}

	if m.tlb != nil {
		m.tlb.Invalidate(virtual, size)
	}
	return nil
}
