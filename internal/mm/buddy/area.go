// Package buddy implements the physical frame allocator (spec.md §3/§4):
// zones (DMA/DMA32/NORMAL) made of fixed-size areas, each area a bitmap
// buddy tree that tracks every layer's free/allocated state eagerly so an
// allocation or free only ever walks up to merge and down to mark
// descendants, never splitting on demand. Grounded on
// original_source/kernel/mm/buddy.c.
package buddy

import (
	"math"
	"math/bits"
	"sync/atomic"

	"nebula/internal/kernelerr"
	"nebula/internal/klock"
)

const (
	// PageShift/PageSize are the base unit every order is measured in.
	PageShift = 12
	PageSize  = 1 << PageShift

	// MaxOrder bounds the largest single allocation: PageSize << MaxOrder.
	// The original computes a per-area layer count from MAX_ORDER and the
	// area's rounded size; this port keeps the same constant.
	MaxOrder = 10
)

// area is one fixed-size region of physical memory backed by a bitmap
// buddy tree. layer 0 is the coarsest (a single totalBlocks-sized block);
// layer layerCount-1 is page granularity.
type area struct {
	base        uintptr
	size        uint64 // rounded up to a power of two
	realSize    uint64 // actual backing size, <= size
	layerCount  uint
	totalBlocks uint64
	freeBlocks  []atomic.Int64 // free block count per layer
	bitmap      []byte         // 1 bit per block per layer, eagerly maintained

	atomicArea bool // true: locked with a spinlock; false: a mutex
	spin       klock.Spinlock
	mu         *klock.Mutex
	allocRefs  atomic.Int32
}

func newArea(base uintptr, realSize uint64, atomicArea bool) *area {
	roundedSize := roundPow2(PageSize, realSize)
	layerCount := layerCountFor(roundedSize)

	a := &area{
		base:        base,
		size:        roundedSize,
		realSize:    realSize,
		layerCount:  layerCount,
		totalBlocks: uint64(1) << (layerCount - 1),
		atomicArea:  atomicArea,
	}
	if !atomicArea {
		a.mu = klock.NewMutex()
	}
	a.freeBlocks = make([]atomic.Int64, layerCount)
	for l := uint(0); l < layerCount; l++ {
		a.freeBlocks[l].Store(int64(1) << l)
	}
	bitmapSize := (uint64(1)<<layerCount)>>3 + 1
	a.bitmap = make([]byte, bitmapSize)

	if roundedSize != realSize {
		a.reserveRoundedTailLocked()
	}
	return a
}

// reserveRoundedTailLocked marks every page-granularity block beyond
// realSize as permanently allocated, since the area's bookkeeping is sized
// to the power-of-two rounded size but the backing memory stops earlier.
func (a *area) reserveRoundedTailLocked() {
	startBlock := a.realSize >> PageShift
	endBlock := a.size >> PageShift
	for b := startBlock; b < endBlock; b++ {
		if err := a.allocBlockLocked(a.layerCount-1, b); err != nil && err != kernelerr.EALREADY {
			panic("buddy: failed to reserve rounded tail block")
		}
	}
}

func (a *area) lock() klock.IRQFlags {
	if a.atomicArea {
		return a.spin.LockIRQSave()
	}
	a.mu.Lock()
	return 0
}

func (a *area) unlock(flags klock.IRQFlags) {
	if a.atomicArea {
		a.spin.UnlockIRQRestore(flags)
		return
	}
	a.mu.Unlock()
}

func bitIndex(blockCount, block uint64) (byteIdx uint64, bit uint) {
	idx := blockCount + block - 1
	return idx >> 3, uint(idx & 7)
}

func bitSet(bitmap []byte, blockCount, block uint64) {
	byteIdx, bit := bitIndex(blockCount, block)
	bitmap[byteIdx] |= 1 << bit
}

func bitClear(bitmap []byte, blockCount, block uint64) {
	byteIdx, bit := bitIndex(blockCount, block)
	bitmap[byteIdx] &^= 1 << bit
}

func bitIsFree(bitmap []byte, blockCount, block uint64) bool {
	byteIdx, bit := bitIndex(blockCount, block)
	return bitmap[byteIdx]&(1<<bit) == 0
}

// findFirstFree returns the lowest-numbered free block at layer, or
// math.MaxUint64 if the layer is fully allocated. Scans a byte at a time
// when aligned, one bit at a time otherwise.
func findFirstFree(bitmap []byte, layer uint) uint64 {
	blockCount := uint64(1) << layer
	block := uint64(0)
	for block < blockCount {
		byteIdx, bit := bitIndex(blockCount, block)
		if bit == 0 && byteIdx < uint64(len(bitmap)) {
			b := bitmap[byteIdx]
			if b == 0xFF {
				block += 8
				continue
			}
			zero := bits.TrailingZeros8(^b)
			if cand := block + uint64(zero); cand < blockCount {
				return cand
			}
		}
		if bitIsFree(bitmap, blockCount, block) {
			return block
		}
		block++
	}
	return math.MaxUint64
}

// allocBlockLocked marks block at layer allocated, marks every ancestor
// block that was still free as allocated too, and marks every descendant
// block allocated too, since the bitmap tracks every layer eagerly instead
// of splitting lazily. Caller holds the area lock.
func (a *area) allocBlockLocked(layer uint, block uint64) error {
	if layer >= a.layerCount {
		return kernelerr.EINVAL
	}
	blockCount := uint64(1) << layer
	if block >= blockCount {
		return kernelerr.EFAULT
	}
	if !bitIsFree(a.bitmap, blockCount, block) {
		return kernelerr.EALREADY
	}

	bitSet(a.bitmap, blockCount, block)
	a.freeBlocks[layer].Add(-1)

	// Mark coarser ancestor blocks allocated where they were still free.
	b := block
	for l := int(layer) - 1; l >= 0; l-- {
		bc := uint64(1) << uint(l)
		b >>= 1
		if bitIsFree(a.bitmap, bc, b) {
			bitSet(a.bitmap, bc, b)
			a.freeBlocks[l].Add(-1)
		}
	}

	// Mark every finer descendant block allocated.
	b = block
	count := uint64(2)
	for l := layer + 1; l < a.layerCount; l++ {
		bc := uint64(1) << l
		b <<= 1
		for i := uint64(0); i < count; i++ {
			bitSet(a.bitmap, bc, b+i)
			a.freeBlocks[l].Add(-1)
		}
		count <<= 1
	}
	return nil
}

// freeBlockLocked frees block at layer, merging upward with its buddy as
// long as the buddy is also free, then clears every descendant block.
// Caller holds the area lock.
func (a *area) freeBlockLocked(layer uint, block uint64) error {
	if layer >= a.layerCount {
		return kernelerr.EINVAL
	}
	blockCount := uint64(1) << layer
	if block >= blockCount {
		return kernelerr.EFAULT
	}
	if bitIsFree(a.bitmap, blockCount, block) {
		return kernelerr.EALREADY
	}

	origBlock, origLayer := block, layer
	for {
		bitClear(a.bitmap, blockCount, block)
		a.freeBlocks[layer].Add(1)

		if layer == 0 {
			break
		}
		var buddy uint64
		if block&1 != 0 {
			buddy = block - 1
		} else {
			buddy = block + 1
		}
		if !bitIsFree(a.bitmap, blockCount, buddy) {
			break
		}
		layer--
		block >>= 1
		blockCount = uint64(1) << layer
	}

	block, layer = origBlock, origLayer
	count := uint64(2)
	for l := layer + 1; l < a.layerCount; l++ {
		bc := uint64(1) << l
		block <<= 1
		for i := uint64(0); i < count; i++ {
			bitClear(a.bitmap, bc, block+i)
			a.freeBlocks[l].Add(1)
		}
		count <<= 1
	}
	return nil
}

func roundPow2(base, x uint64) uint64 {
	if x < base || base == 0 {
		return base
	}
	ret := base
	for ret < x {
		ret <<= 1
	}
	return ret
}

// layerCountFor returns how many layers an area of this rounded size has,
// stopping once a layer's block size would drop below a page.
func layerCountFor(size uint64) uint {
	layers := uint(1)
	for layers <= MaxOrder {
		blockSize := size >> (layers - 1)
		if blockSize/2 < PageSize {
			break
		}
		layers++
	}
	return layers
}
