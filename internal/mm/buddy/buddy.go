package buddy

import (
	"math"
	"sync/atomic"

	"nebula/internal/boot"
	"nebula/internal/kernelerr"
	"nebula/internal/klock"
	"nebula/internal/printk"
)

// Zone identifies one of the three physical memory zones, ordered from
// most to least restrictive for DMA-capable hardware.
type Zone int

const (
	ZoneDMA Zone = iota
	ZoneDMA32
	ZoneNormal
)

func (z Zone) String() string {
	switch z {
	case ZoneDMA:
		return "dma"
	case ZoneDMA32:
		return "dma32"
	case ZoneNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// Flags selects the zone an allocation may come from and modifies its
// blocking/retry behavior.
type Flags uint32

const (
	FlagDMA Flags = 1 << iota
	FlagDMA32
	FlagNormal
	FlagAtomic // may not sleep; area selection restricted to spinlock-backed areas
	FlagNoFail // retry indefinitely via the OOM notifier instead of returning 0
)

const (
	dmaSize     = 0x1000000 // 16 MiB, matches the original DMA_SIZE
	dma32Start  = 0x1000000
	dma32End    = 0x100000000
	normalStart = 0x100000000
)

type zoneState struct {
	zoneType Zone
	areas    []*area
}

// getMemArea binary-searches the zone's ordered areas for the one
// containing addr.
func (z *zoneState) getMemArea(addr uintptr) *area {
	lo, hi := 0, len(z.areas)
	for lo < hi {
		mid := lo + (hi-lo)/2
		a := z.areas[mid]
		end := a.base + uintptr(a.totalBlocks<<PageShift)
		switch {
		case addr < a.base:
			hi = mid
		case addr >= end:
			lo = mid + 1
		default:
			return a
		}
	}
	return nil
}

func (z *zoneState) inZone(base, top uintptr) bool {
	if len(z.areas) == 0 {
		return false
	}
	first := z.areas[0]
	last := z.areas[len(z.areas)-1]
	return base >= first.base && top <= last.base+uintptr(last.realSize)
}

// Allocator is the physical frame allocator: three zones built over a
// boot-provided memory map.
type Allocator struct {
	mmap *boot.MemoryMap

	dma    *zoneState
	dma32  *zoneState // may alias dma if DMA32 has no usable memory
	normal *zoneState // may alias dma32 if NORMAL has no usable memory

	memInUse atomic.Uint64
	memTotal uint64

	oomHandler func()
}

// New builds the zone layout from mmap: a statically-sized DMA zone
// covering the first 16 MiB, then DMA32 and NORMAL zones sized to whatever
// usable memory the map reports, reserving every non-usable entry across
// all three zones.
func New(mmap *boot.MemoryMap) *Allocator {
	a := &Allocator{mmap: mmap, memTotal: mmap.TotalUsable()}

	lastUsable := mmap.LastUsableAddress()

	a.dma = buildDMAZone(lastUsable)
	a.dma32 = buildZone(ZoneDMA32, dma32Start, dma32End, lastUsable)
	if a.dma32 == nil {
		a.dma32 = a.dma
		printk.Global.Printf(printk.Debug, "mm: DMA32 linked to DMA")
	}

	a.normal = buildZone(ZoneNormal, normalStart, math.MaxUint64, lastUsable)
	if a.normal == nil {
		a.normal = a.dma32
		printk.Global.Printf(printk.Debug, "mm: normal linked to DMA32")
	}

	a.reserveUnusable()
	return a
}

func buildDMAZone(lastUsable uintptr) *zoneState {
	z := &zoneState{zoneType: ZoneDMA}
	rest := uint64(dmaSize)
	if uint64(lastUsable) < rest {
		rest = uint64(lastUsable)
	}
	maxAreaSize := uint64(PageSize) << MaxOrder
	base := uintptr(0)
	idx := 0
	for rest > 0 {
		areaSize := maxAreaSize
		if rest < areaSize {
			areaSize = rest
		}
		atomicArea := idx == 0
		z.areas = append(z.areas, newArea(base, areaSize, atomicArea))
		base += uintptr(areaSize)
		rest -= areaSize
		idx++
	}
	if len(z.areas) == 0 {
		z.areas = append(z.areas, newArea(0, maxAreaSize, true))
	}

	// Physical address 0 is never handed out: it doubles as the sentinel
	// "no page" value throughout the core (FreePages rejects addr <
	// PageSize for the same reason).
	first := z.areas[0]
	irq := first.lock()
	if err := first.allocBlockLocked(first.layerCount-1, 0); err != nil {
		panic("buddy: failed to reserve physical page 0")
	}
	first.unlock(irq)

	return z
}

func buildZone(zoneType Zone, start, end, lastUsable uintptr) *zoneState {
	if lastUsable < start {
		return nil
	}
	if lastUsable < end {
		end = lastUsable
	}
	size := uint64(end - start)
	if size == 0 {
		return nil
	}

	maxAreaSize := uint64(PageSize) << MaxOrder
	areaCount := size / maxAreaSize
	if areaCount == 0 {
		areaCount = 1
	}
	atomicCount := (areaCount*5 + 99) / 100
	if atomicCount == 0 {
		atomicCount = 1
	}

	z := &zoneState{zoneType: zoneType}
	rest := size
	base := start
	for i := uint64(0); i < areaCount && rest > 0; i++ {
		areaSize := maxAreaSize
		if rest < areaSize {
			areaSize = rest
		}
		z.areas = append(z.areas, newArea(base, areaSize, i < atomicCount))
		base += uintptr(areaSize)
		rest -= areaSize
	}
	return z
}

func (a *Allocator) zoneFromFlags(flags Flags) *zoneState {
	switch {
	case flags&FlagDMA != 0:
		return a.dma
	case flags&FlagDMA32 != 0:
		return a.dma32
	case flags&FlagNormal != 0:
		return a.normal
	default:
		return nil
	}
}

func (a *Allocator) zoneFromAddr(addr uintptr, size uint64) *zoneState {
	top := addr + uintptr(size)
	if a.dma.inZone(addr, top) {
		return a.dma
	}
	if a.dma32.inZone(addr, top) {
		return a.dma32
	}
	if a.normal.inZone(addr, top) {
		return a.normal
	}
	return nil
}

// selectArea picks an area in zone with a free block at the requested
// layer, preferring one with no allocator currently in flight to reduce
// lock contention, and returns it locked.
func selectArea(z *zoneState, order uint, atomicOnly bool) (*area, uint, klock.IRQFlags) {
	const maxRetries = 3
	for retries := 0; retries < maxRetries; retries++ {
		var best *area
		var bestLayer uint
		for _, cand := range z.areas {
			if cand.atomicArea != atomicOnly {
				continue
			}
			if cand.layerCount <= order {
				continue
			}
			layer := cand.layerCount - order - 1
			if cand.freeBlocks[layer].Load() == 0 {
				continue
			}
			if best == nil || cand.allocRefs.Load() < best.allocRefs.Load() {
				best = cand
				bestLayer = layer
			}
		}
		if best == nil {
			continue
		}
		best.allocRefs.Add(1)
		flags := best.lock()
		if best.freeBlocks[bestLayer].Load() > 0 {
			return best, bestLayer, flags
		}
		best.unlock(flags)
		best.allocRefs.Add(-1)
	}
	return nil, 0, 0
}

// allocFromZone implements the select-lock-alloc-verify sequence of the
// original __alloc_pages: pick an area, allocate the block, then confirm
// the resulting physical range is actually backed by usable memory per
// the boot memory map (a defense against a misconfigured zone layout).
func (a *Allocator) allocFromZone(z *zoneState, flags Flags, order uint) uintptr {
	atomicOnly := flags&FlagAtomic != 0
	allocSize := uint64(PageSize) << order

	ar, layer, irq := selectArea(z, order, atomicOnly)
	if ar == nil {
		return 0
	}
	defer func() {
		ar.allocRefs.Add(-1)
	}()

	for {
		block := findFirstFree(ar.bitmap, layer)
		if block == math.MaxUint64 {
			ar.unlock(irq)
			ar.allocRefs.Add(-1)
			ar, layer, irq = selectArea(z, order, atomicOnly)
			if ar == nil {
				return 0
			}
			continue
		}

		if err := ar.allocBlockLocked(layer, block); err != nil {
			printk.Global.Printf(printk.Err, "mm: allocBlockLocked: %v", err)
			ar.unlock(irq)
			return 0
		}

		ret := ar.base + uintptr(block*allocSize)
		if ret+uintptr(allocSize) > ar.base+uintptr(ar.realSize) {
			printk.Global.Printf(printk.Err, "mm: allocated block outside area bounds")
			ar.freeBlockLocked(layer, block)
			ar.unlock(irq)
			return 0
		}

		if a.mmap != nil && !a.mmap.Usable(ret, allocSize) {
			// The block straddles a reserved sub-region; give back every
			// page-granularity sub-block that is usable and retry.
			for off := uint64(0); off < allocSize; off += PageSize {
				if a.mmap.Usable(ret+uintptr(off), PageSize) {
					sub := ((ret + uintptr(off)) - ar.base) >> PageShift
					ar.freeBlockLocked(ar.layerCount-1, uint64(sub))
				}
			}
			continue
		}

		ar.unlock(irq)
		return ret
	}
}

// AllocPages allocates 2^order contiguous pages from the zone selected by
// flags, falling back to a coarser zone (NORMAL -> DMA32 -> DMA) on
// exhaustion, and retrying up to ten times for non-atomic requests in case
// a concurrent free makes room. A FlagAtomic request without FlagNoFail
// makes a single attempt in the selected zone and returns ENOMEM if it
// fails; it does not fall back to a coarser zone.
func (a *Allocator) AllocPages(flags Flags, order uint) (uintptr, error) {
	if order >= MaxOrder {
		return 0, kernelerr.New("buddy", "order exceeds MaxOrder", kernelerr.EINVAL)
	}
	zone := a.zoneFromFlags(flags)
	if zone == nil {
		return 0, kernelerr.New("buddy", "no zone selected", kernelerr.EINVAL)
	}

	maxRetries := 10
	if flags&FlagAtomic != 0 {
		maxRetries = 0
	}

	for retries := maxRetries; ; retries-- {
		if phys := a.allocFromZone(zone, flags, order); phys != 0 {
			a.memInUse.Add(uint64(PageSize) << order)
			return phys, nil
		}

		if flags&FlagNoFail != 0 && retries <= 0 {
			if a.oomHandler != nil {
				a.oomHandler()
			}
			retries = maxRetries
			continue
		}
		if retries <= maxRetries/2 {
			switch zone.zoneType {
			case ZoneNormal:
				zone = a.dma32
			case ZoneDMA32:
				zone = a.dma
			}
		}
		if retries <= 0 {
			return 0, kernelerr.New("buddy", "out of memory", kernelerr.ENOMEM)
		}
	}
}

// AllocPage allocates a single page from the given zone flags.
func (a *Allocator) AllocPage(flags Flags) (uintptr, error) {
	return a.AllocPages(flags, 0)
}

// FreePages returns 2^order pages starting at addr to their owning zone.
func (a *Allocator) FreePages(addr uintptr, order uint) error {
	if order >= MaxOrder || addr%PageSize != 0 || addr < PageSize {
		return kernelerr.New("buddy", "invalid free request", kernelerr.EINVAL)
	}
	allocSize := uint64(PageSize) << order
	zone := a.zoneFromAddr(addr, allocSize)
	if zone == nil {
		return kernelerr.New("buddy", "address not in any zone", kernelerr.EFAULT)
	}

	ar := zone.getMemArea(addr)
	if ar == nil {
		return kernelerr.New("buddy", "address not in any area", kernelerr.EFAULT)
	}
	layer := ar.layerCount - order - 1
	block := uint64(addr-ar.base) / allocSize

	irq := ar.lock()
	err := ar.freeBlockLocked(layer, block)
	ar.unlock(irq)
	if err != nil {
		if errno, ok := err.(kernelerr.Errno); ok {
			return kernelerr.New("buddy", "free failed", errno)
		}
		return kernelerr.New("buddy", "free failed", kernelerr.EFAULT)
	}
	a.memInUse.Add(-(uint64(PageSize) << order))
	return nil
}

// FreePage frees a single page.
func (a *Allocator) FreePage(addr uintptr) error { return a.FreePages(addr, 0) }

// FreeMemory reports bytes currently in use and the total usable bytes the
// boot memory map reported.
func (a *Allocator) FreeMemory() (inUse, total uint64) {
	return a.memInUse.Load(), a.memTotal
}

// SetOOMHandler installs the callback AllocPages invokes when a
// FlagNoFail request has exhausted its retries, mirroring the original's
// out_of_memory() reclaim hook (spec.md's reaper/OOM notifier).
func (a *Allocator) SetOOMHandler(f func()) { a.oomHandler = f }

// reserveUnusable walks every non-usable memory map entry and marks the
// corresponding pages allocated in whichever zone(s) they fall into, so
// the allocator never hands out MMIO, ACPI or bootloader-reserved memory.
func (a *Allocator) reserveUnusable() {
	if a.mmap == nil {
		return
	}
	for _, e := range a.mmap.Entries {
		if e.Type == boot.MemUsable {
			continue
		}
		a.reserveRange(e.Base, e.Length)
	}
}

// ReserveRange marks every page in [addr, addr+size) allocated in
// whichever zone it falls into, used both for boot-time reservation of
// non-usable memory map entries and by callers that need to carve out a
// fixed physical range (the kernel image, loader modules) before handing
// the allocator over to general use. A page that straddles more than one
// zone, or that is already reserved, is skipped rather than treated as an
// error, matching the original's tolerance for overlapping reservations.
func (a *Allocator) ReserveRange(addr uintptr, size uint64) {
	pageAddr := addr &^ (PageSize - 1)
	end := addr + uintptr(size)
	for pageAddr < uintptr(end) {
		zone := a.zoneFromAddr(pageAddr, PageSize)
		if zone == nil {
			pageAddr += PageSize
			continue
		}
		ar := zone.getMemArea(pageAddr)
		if ar == nil {
			pageAddr += PageSize
			continue
		}

		layer := ar.layerCount - 1
		block := uint64(pageAddr-ar.base) >> PageShift

		irq := ar.lock()
		err := ar.allocBlockLocked(layer, block)
		ar.unlock(irq)
		if err != nil && err != kernelerr.EALREADY {
			printk.Global.Printf(printk.Warn, "mm: failed to reserve %x: %v", pageAddr, err)
		}

		pageAddr += PageSize
	}
}

func (a *Allocator) reserveRange(addr uintptr, size uint64) {
	a.ReserveRange(addr, size)
}
