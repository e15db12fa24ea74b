package vmm

import "nebula/internal/kernelerr"

// Map flags, named directly after the original's VMM_* bits.
const (
	MapFixed int = 1 << iota
	MapNoReplace
	MapAlloc
	MapPhysical
	MapIOMem
	MapHugepage2M
	MapUser
)

// VMA is one mapped virtual memory region. Kept in a slice sorted by
// Start rather than the original's intrusive doubly linked list; Go slices
// already give ordered iteration and insertion without manual pointer
// bookkeeping.
type VMA struct {
	Start uintptr
	Top   uintptr
	Prot  MMUFlags
	Flags int
}

func roundUp(x, align uintptr) uintptr { return (x + align - 1) &^ (align - 1) }

// vmaFind returns the VMA covering address, if any.
func vmaFind(list []*VMA, address uintptr) (*VMA, int) {
	for i, v := range list {
		if address >= v.Start && address < v.Top {
			return v, i
		}
	}
	return nil, -1
}

// vmaMap reserves a hole of size bytes (rounded to the mapping's
// alignment) starting no earlier than hint, inserting a new VMA that
// describes it. Grounded on vma_map in original_source/kernel/mm/vma.c.
func vmaMap(list []*VMA, hint uintptr, size uint64, prot MMUFlags, flags int, mmapStart, mmapEnd uintptr) ([]*VMA, uintptr, error) {
	align := uintptr(PageSize)
	if flags&MapHugepage2M != 0 {
		align = Hugepage2MSize
	}

	if size == 0 || ((hint == 0 || hint%align != 0) && flags&MapFixed != 0) {
		return list, 0, kernelerr.New("vmm", "invalid map request", kernelerr.EINVAL)
	}
	sz := uintptr(roundUp(uintptr(size), align))

	base := roundUp(hint, align)
	if flags&MapFixed == 0 && (base < mmapStart || base+sz > mmapEnd) {
		base = mmapStart
	}

	if flags&MapFixed != 0 && flags&MapNoReplace == 0 {
		list = vmaUnmapRange(list, hint, uint64(sz))
	}

	prevIdx := -1
	for i, v := range list {
		if v.Top > base {
			break
		}
		prevIdx = i
	}

	addr := base
	insertAt := prevIdx + 1
	for i := prevIdx + 1; i < len(list); i++ {
		v := list[i]
		need := uintptr(sz)
		if flags&MapHugepage2M != 0 {
			need += Hugepage2MSize
		}
		if v.Start-addr >= need {
			break
		}
		addr = v.Top
		insertAt = i + 1
	}

	if flags&MapFixed != 0 && addr != hint {
		return list, 0, kernelerr.New("vmm", "fixed mapping address unavailable", kernelerr.EEXIST)
	}
	if addr >= mmapEnd {
		return list, 0, kernelerr.New("vmm", "no virtual address space left", kernelerr.ENOMEM)
	}

	if flags&MapHugepage2M != 0 {
		addr = roundUp(addr, Hugepage2MSize)
	}

	vma := &VMA{Start: addr, Top: addr + sz, Prot: prot, Flags: flags}
	list = append(list, nil)
	copy(list[insertAt+1:], list[insertAt:])
	list[insertAt] = vma

	return list, addr, nil
}

func vmaUnmapRange(list []*VMA, address uintptr, size uint64) []*VMA {
	out, err := vmaUnmap(list, address, size)
	if err != nil {
		return list
	}
	return out
}

// vmaProtect reapplies prot to [address, address+size), splitting any VMA
// that straddles the boundary and merging adjacent VMAs that end up with
// identical protection and flags. Grounded on vma_protect.
func vmaProtect(list []*VMA, address uintptr, size uint64, prot MMUFlags) ([]*VMA, error) {
	if address == 0 || size == 0 || address%PageSize != 0 {
		return list, kernelerr.New("vmm", "invalid protect request", kernelerr.EINVAL)
	}
	end := roundUp(address+uintptr(size), PageSize)

	startIdx := -1
	for i, v := range list {
		if v.Top > address {
			startIdx = i
			break
		}
	}
	if startIdx < 0 {
		return list, kernelerr.New("vmm", "no mapping at address", kernelerr.ENOENT)
	}

	if address > list[startIdx].Start {
		v := list[startIdx]
		split := &VMA{Start: address, Top: v.Top, Prot: v.Prot, Flags: v.Flags}
		v.Top = address
		list = insertAfter(list, startIdx, split)
		startIdx++
	}

	endIdx := -1
	for i := startIdx; i < len(list); i++ {
		if list[i].Top >= end {
			endIdx = i
			break
		}
	}
	if endIdx < 0 {
		panic("vmm: vmaProtect range runs past the last mapped VMA")
	}
	if end < list[endIdx].Top {
		v := list[endIdx]
		split := &VMA{Start: end, Top: v.Top, Prot: v.Prot, Flags: v.Flags}
		v.Top = end
		list = insertAfter(list, endIdx, split)
	}

	for _, v := range list {
		if v.Start >= address && v.Start < end {
			v.Prot = prot
		}
	}

	list = mergeAdjacent(list)
	return list, nil
}

// vmaUnmap removes or truncates every VMA overlapping [address,
// address+size), splitting a VMA that only partially overlaps. Grounded
// on vma_unmap.
func vmaUnmap(list []*VMA, address uintptr, size uint64) ([]*VMA, error) {
	if size == 0 || address == 0 || address%PageSize != 0 {
		return list, kernelerr.New("vmm", "invalid unmap request", kernelerr.EINVAL)
	}
	end := roundUp(address+uintptr(size), PageSize)

	overlapFound := false
	out := make([]*VMA, 0, len(list))
	for i := 0; i < len(list); i++ {
		v := list[i]
		if v.Top <= address || v.Start >= end {
			out = append(out, v)
			continue
		}
		overlapFound = true

		switch {
		case address <= v.Start && end >= v.Top:
			// fully covered: drop it
		case address <= v.Start:
			v.Start = end
			out = append(out, v)
		case end >= v.Top:
			v.Top = address
			out = append(out, v)
		default:
			split := &VMA{Start: end, Top: v.Top, Prot: v.Prot, Flags: v.Flags}
			v.Top = address
			out = append(out, v, split)
		}
	}

	if !overlapFound {
		return list, kernelerr.New("vmm", "no mapping in range", kernelerr.ENOENT)
	}
	return out, nil
}

func insertAfter(list []*VMA, idx int, v *VMA) []*VMA {
	list = append(list, nil)
	copy(list[idx+2:], list[idx+1:])
	list[idx+1] = v
	return list
}

func mergeAdjacent(list []*VMA) []*VMA {
	out := list[:0:0]
	for _, v := range list {
		if n := len(out); n > 0 && out[n-1].Top == v.Start && out[n-1].Prot == v.Prot && out[n-1].Flags == v.Flags {
			out[n-1].Top = v.Top
			continue
		}
		out = append(out, v)
	}
	return out
}
