// Package vmm implements virtual memory management layered over
// internal/mm/buddy: a software page table walker, a per-address-space VMA
// manager, TLB shootdown broadcast, and the usercopy boundary checks that
// keep kernel code from dereferencing bad user pointers. Grounded on
// original_source/kernel/mm/{pagetable,vma,vmm,tlb,usercopy}.c.
package vmm

import (
	"nebula/internal/bitfield"
	"nebula/internal/kernelerr"
	"nebula/internal/mm/buddy"
)

const (
	PageShift = 12
	PageSize  = 1 << PageShift

	Hugepage2MShift = 21
	Hugepage2MSize  = 1 << Hugepage2MShift
	Hugepage1GShift = 30
	Hugepage1GSize  = 1 << Hugepage1GShift

	pteCount = 512
)

// MMUFlags mirrors mmuflags_t: the protection bits a caller asks for,
// independent of the page table's own encoding of them.
type MMUFlags uint32

const (
	MMURead MMUFlags = 1 << iota
	MMUWrite
	MMUExec
	MMUUser
	MMUCacheDisable
	MMUWritethrough
)

// ptFlags mirrors the x86-64 PTE bit layout the original encodes directly
// into pagetable_mmu_to_pt; kept as a distinct type since it is a hardware
// encoding, not the caller-facing MMUFlags API. ptHugepage is OR'd in by
// Map/Update directly since it is not part of the caller-facing protection
// mask mmuToPT/protectionOf round-trip below.
type ptFlags uint32

const ptHugepage ptFlags = 1 << 6

// ptBits is the tagged struct bitfield.Pack/Unpack round-trip through to
// build and read back ptFlags' low 6 protection bits, in the same order
// the original's pagetable_mmu_to_pt shifts them into a raw integer:
// present, read-write, user/supervisor, writethrough, cache-disable,
// no-execute.
type ptBits struct {
	Present      bool `bitfield:",1"`
	ReadWrite    bool `bitfield:",1"`
	User         bool `bitfield:",1"`
	Writethrough bool `bitfield:",1"`
	CacheDisable bool `bitfield:",1"`
	NX           bool `bitfield:",1"`
}

func mmuToPT(flags MMUFlags) (ptFlags, error) {
	if flags&MMUCacheDisable != 0 && flags&MMUWritethrough != 0 {
		return 0, kernelerr.New("vmm", "cache-disable and writethrough are mutually exclusive", kernelerr.EINVAL)
	}

	b := ptBits{
		Present:   flags&MMURead != 0,
		ReadWrite: flags&MMUWrite != 0,
		User:      flags&MMUUser != 0,
		NX:        flags&MMUExec == 0,
	}
	if flags&MMUWritethrough != 0 {
		b.Writethrough = true
	} else if flags&MMUCacheDisable != 0 {
		b.CacheDisable = true
	}

	packed, err := bitfield.Pack(&b, &bitfield.Config{NumBits: 6})
	if err != nil {
		return 0, kernelerr.New("vmm", "packing page table protection bits", kernelerr.EINVAL)
	}
	return ptFlags(packed), nil
}

// protectionOf decodes pt's protection bits back into MMUFlags, reversing
// mmuToPT via bitfield.Unpack.
func protectionOf(pt ptFlags) MMUFlags {
	var b ptBits
	if err := bitfield.Unpack(uint64(pt)&0x3F, &b); err != nil {
		return 0
	}

	var flags MMUFlags
	if b.Present {
		flags |= MMURead
	}
	if b.ReadWrite {
		flags |= MMUWrite
	}
	if b.User {
		flags |= MMUUser
	}
	if b.Writethrough {
		flags |= MMUWritethrough
	}
	if b.CacheDisable {
		flags |= MMUCacheDisable
	}
	if !b.NX {
		flags |= MMUExec
	}
	return flags
}

// entry is one page table slot. Unlike the original's raw 64-bit integer
// packed with a physical address, levels below the leaf point directly at
// the next software table instead of requiring an HHDM translation — there
// is no byte-addressable physical memory array to translate through, only
// buddy's bookkeeping (the same boundary documented in internal/mm/buddy
// and internal/mm/slab).
type entry struct {
	present  bool
	huge     bool
	physical uintptr // leaf only: the mapped physical page
	flags    ptFlags
	next     *table // non-leaf only: the next level table
	backing  uintptr
}

type table struct {
	entries [pteCount]entry
}

// PageTable is one address space's 4-level paging structure.
type PageTable struct {
	root  *table
	pages *buddy.Allocator
}

// NewPageTable returns an empty page table. pages is used only for
// bookkeeping: every new intermediate table level consumes one physical
// page from pages so memory accounting stays honest, even though the table
// itself lives as ordinary Go structs.
func NewPageTable(pages *buddy.Allocator) *PageTable {
	return &PageTable{root: &table{}, pages: pages}
}

func indexesOf(virtual uintptr) [4]int {
	return [4]int{
		int((virtual >> 39) & 0x1FF),
		int((virtual >> 30) & 0x1FF),
		int((virtual >> 21) & 0x1FF),
		int((virtual >> 12) & 0x1FF),
	}
}

func isCanonical(virtual uintptr) bool {
	top := virtual >> 47
	return top == 0 || top == 0x1FFFF
}

// walk descends the table to the entry backing virtual, creating
// intermediate levels on demand when create is true. pageSize is an
// in/out parameter: a nonzero input pins the walk to stop at that level
// (1GiB or 2MiB), a zero input accepts whatever level a hugepage entry is
// already mapped at and reports it back to the caller.
func (pt *PageTable) walk(virtual uintptr, create bool, pageSize *uint64) (*entry, error) {
	indexes := indexesOf(virtual)
	cur := pt.root

	newTables := make([]*entry, 0, 3)

	for level := 0; level < 3; level++ {
		if (*pageSize == Hugepage1GSize && level == 1) || (*pageSize == Hugepage2MSize && level == 2) {
			return &cur.entries[indexes[level]], nil
		}

		e := &cur.entries[indexes[level]]
		if !e.present {
			if !create {
				return nil, kernelerr.New("vmm", "page table entry not present", kernelerr.ENOENT)
			}
			phys, err := pt.pages.AllocPage(buddy.FlagNormal)
			if err != nil {
				for _, t := range newTables {
					pt.pages.FreePage(t.backing)
					*t = entry{}
				}
				return nil, kernelerr.New("vmm", "out of memory growing page table", kernelerr.ENOMEM)
			}
			e.next = &table{}
			e.present = true
			e.backing = phys
			newTables = append(newTables, e)
		} else if e.huge {
			if level != 1 && level != 2 {
				panic("vmm: hugepage flag set on an invalid page table level")
			}
			levelSize := uint64(Hugepage2MSize)
			if level == 1 {
				levelSize = Hugepage1GSize
			}
			if levelSize != *pageSize {
				if *pageSize != 0 {
					return nil, kernelerr.New("vmm", "page size mismatch with existing hugepage mapping", kernelerr.EEXIST)
				}
				*pageSize = levelSize
			}
			return e, nil
		}

		cur = e.next
	}

	*pageSize = PageSize
	return &cur.entries[indexes[3]], nil
}

// Map installs a new mapping. It fails with EEXIST if the page is already
// mapped, matching pagetable_map's refusal to silently overwrite.
func (pt *PageTable) Map(virtual uintptr, physical uintptr, flags MMUFlags, huge bool) error {
	pageSize := uint64(PageSize)
	if huge {
		pageSize = Hugepage2MSize
	}
	if virtual&(uintptr(pageSize)-1) != 0 || physical&(uintptr(pageSize)-1) != 0 || !isCanonical(virtual) || physical == 0 {
		return kernelerr.New("vmm", "unaligned or non-canonical mapping request", kernelerr.EINVAL)
	}

	pt1, err := mmuToPT(flags)
	if err != nil {
		return err
	}
	if huge {
		pt1 |= ptHugepage
	}

	e, err := pt.walk(virtual, true, &pageSize)
	if err != nil {
		return err
	}
	if e.present {
		return kernelerr.New("vmm", "address already mapped", kernelerr.EEXIST)
	}

	e.present = true
	e.huge = huge
	e.physical = physical
	e.flags = pt1
	return nil
}

// Update overwrites the protection/physical target of an existing mapping.
func (pt *PageTable) Update(virtual uintptr, physical uintptr, flags MMUFlags, huge bool) error {
	if !isCanonical(virtual) || physical == 0 {
		return kernelerr.New("vmm", "non-canonical address", kernelerr.EINVAL)
	}

	pt1, err := mmuToPT(flags)
	if err != nil {
		return err
	}

	var pageSize uint64
	e, err := pt.walk(virtual, false, &pageSize)
	if err != nil {
		return err
	}

	wantHuge := pageSize == Hugepage2MSize || pageSize == Hugepage1GSize
	if huge != wantHuge {
		return kernelerr.New("vmm", "hugepage mismatch on update", kernelerr.EFAULT)
	}
	if virtual&(uintptr(pageSize)-1) != 0 || physical&(uintptr(pageSize)-1) != 0 {
		return kernelerr.New("vmm", "unaligned update", kernelerr.EINVAL)
	}

	if huge {
		pt1 |= ptHugepage
	}
	e.present = true
	e.huge = huge
	e.physical = physical
	e.flags = pt1
	return nil
}

// Unmap clears a mapping. Unlike the original, intermediate table levels
// are never freed back to the allocator on last-entry-cleared: Go's own
// GC reclaims an emptied *table once nothing references it, so there is
// no pagetable_cleanup equivalent walking back up the tree.
func (pt *PageTable) Unmap(virtual uintptr) error {
	if !isCanonical(virtual) {
		return kernelerr.New("vmm", "non-canonical address", kernelerr.EINVAL)
	}

	var pageSize uint64
	e, err := pt.walk(virtual, false, &pageSize)
	if err != nil {
		return err
	}
	if virtual&(uintptr(pageSize)-1) != 0 {
		return kernelerr.New("vmm", "unaligned unmap", kernelerr.EINVAL)
	}
	if !e.present {
		return kernelerr.New("vmm", "address not mapped", kernelerr.ENOENT)
	}

	*e = entry{}
	return nil
}

// GetPhysical translates virtual to its backing physical address, or
// returns ok=false if unmapped.
func (pt *PageTable) GetPhysical(virtual uintptr) (uintptr, bool) {
	if !isCanonical(virtual) {
		return 0, false
	}
	var pageSize uint64
	e, err := pt.walk(virtual, false, &pageSize)
	if err != nil || !e.present {
		return 0, false
	}
	return e.physical + (virtual & (uintptr(pageSize) - 1)), true
}

// Protection returns the MMUFlags a mapping was installed or last updated
// with, or ok=false if virtual is unmapped. It lets a caller tell a write
// to a read-only page apart from a genuinely not-present access.
func (pt *PageTable) Protection(virtual uintptr) (flags MMUFlags, ok bool) {
	if !isCanonical(virtual) {
		return 0, false
	}
	var pageSize uint64
	e, err := pt.walk(virtual, false, &pageSize)
	if err != nil || !e.present {
		return 0, false
	}
	return protectionOf(e.flags), true
}
