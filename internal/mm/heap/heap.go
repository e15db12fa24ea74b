// Package heap implements kmalloc/kfree/krealloc over a registry of
// size-class mempools (spec.md §4): each mempool wraps a slab cache for
// objects within OBJ_SIZE_SLACK bytes of a requested size, oversized
// requests bypass the pools entirely, and every allocation carries a
// trailing canary so kfree can detect a buffer overrun before it
// corrupts the mempool's accounting. Grounded on
// original_source/kernel/mm/heap.c.
package heap

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"nebula/internal/kernelerr"
	"nebula/internal/klock"
	"nebula/internal/mm/slab"
	"nebula/internal/printk"
)

const (
	canaryXOR     = 0xdecafc0ffee
	heapAlign     = 16
	objSizeSlack  = 128
	headerSize    = 16 // pool index (int64) + user size (uint64... actually 8+8)
	footerSize    = 8
	smallObjLimit = 1<<15 - 1 // SHRT_MAX in the original
)

// Pool is one size-class mempool: a slab cache plus a refcount of live
// allocations, used to decide when the pool can be torn down.
type Pool struct {
	cache    *slab.Cache
	objSize  uint64
	flags    uint32
	refcount atomic.Int64

	destroyPending bool
}

// DeleterFunc is invoked to tear down a pool whose refcount has dropped to
// zero. The default synchronously destroys it; Heap.SetDeleter can install
// an asynchronous one backed by a worker (spec.md's reaper/workqueue),
// mirroring the original's 200ms-delayed deleter_thread so a pool is not
// recreated on every alloc/free pair that happens to straddle zero.
type DeleterFunc func(h *Heap, pool *Pool)

// Heap owns the mempool registry.
type Heap struct {
	mu    *klock.Mutex
	pools []*Pool

	deleter DeleterFunc
}

// New returns an empty heap.
func New() *Heap {
	return &Heap{mu: klock.NewMutex(), deleter: defaultDeleter}
}

// SetDeleter overrides the pool-teardown strategy.
func (h *Heap) SetDeleter(f DeleterFunc) { h.deleter = f }

func defaultDeleter(h *Heap, pool *Pool) {
	h.deletePool(pool)
}

// walkPools finds an existing pool whose object size covers size within
// objSizeSlack bytes and whose flags match, creating one if none does.
func (h *Heap) walkPools(size uint64, flags uint32) *Pool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, p := range h.pools {
		if p.objSize >= size && p.objSize <= size+objSizeSlack && p.flags == flags {
			p.refcount.Add(1)
			return p
		}
	}

	cache, err := slab.NewCache(size, heapAlign, flags&flagAtomic != 0, nil, nil)
	if err != nil {
		return nil
	}
	pool := &Pool{cache: cache, objSize: size, flags: flags}
	pool.refcount.Store(1)
	h.pools = append(h.pools, pool)
	printk.Global.Printf(printk.Debug, "mm: created heap pool size=%d", size)
	return pool
}

// flagAtomic mirrors MM_ATOMIC from the caller's mm_flags; heap.go is
// page-allocator-agnostic so it only needs to know this one bit.
const flagAtomic uint32 = 1 << 0

func (h *Heap) deletePool(pool *Pool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pool.destroyPending = false
	if pool.refcount.Load() != 0 {
		return
	}
	if err := pool.cache.Destroy(); err != nil {
		printk.Global.Printf(printk.Warn, "mm: pool destroy deferred: %v", err)
		return
	}
	for i, p := range h.pools {
		if p == pool {
			h.pools = append(h.pools[:i], h.pools[i+1:]...)
			break
		}
	}
	printk.Global.Printf(printk.Debug, "mm: destroyed heap pool size=%d", pool.objSize)
}

func (h *Heap) attemptDeletePool(pool *Pool) {
	h.mu.Lock()
	if pool.refcount.Load() != 0 || pool.destroyPending {
		h.mu.Unlock()
		return
	}
	pool.destroyPending = true
	h.mu.Unlock()

	h.deleter(h, pool)
}

func roundUp(x, align uint64) uint64 { return (x + align - 1) &^ (align - 1) }

// Alloc allocates size bytes, rounded up to heapAlign, from the pool
// registry (or directly via make() for oversized requests, standing in
// for the original's vmap() fallback until internal/mm/vmm is wired in at
// the boundary). flags' low bit selects whether the backing slab cache
// must be atomic-safe.
func (h *Heap) Alloc(size uint64, flags uint32) ([]byte, error) {
	if size == 0 {
		return nil, kernelerr.New("heap", "zero size", kernelerr.EINVAL)
	}
	size = roundUp(size, heapAlign)
	total := headerSize + size + footerSize

	var raw []byte
	var pool *Pool
	if total <= smallObjLimit {
		pool = h.walkPools(total, flags)
		if pool == nil {
			return nil, kernelerr.New("heap", "no pool available", kernelerr.ENOMEM)
		}
		raw = pool.cache.Alloc()
		if raw == nil {
			if pool.refcount.Add(-1) == 0 {
				h.attemptDeletePool(pool)
			}
			return nil, kernelerr.New("heap", "slab exhausted", kernelerr.ENOMEM)
		}
	} else {
		raw = make([]byte, total)
	}

	poolIdx := int64(-1)
	if pool != nil {
		poolIdx = h.indexOf(pool)
	}
	binary.LittleEndian.PutUint64(raw[0:8], uint64(poolIdx))
	binary.LittleEndian.PutUint64(raw[8:16], size)

	user := raw[headerSize : headerSize+size]
	canary := addrCanary(user)
	binary.LittleEndian.PutUint64(raw[headerSize+size:headerSize+size+footerSize], canary)

	return user, nil
}

func (h *Heap) indexOf(pool *Pool) int64 {
	for i, p := range h.pools {
		if p == pool {
			return int64(i)
		}
	}
	return -1
}

// addrCanary derives the stored canary from the user buffer's address,
// the same defense the original gets from XOR-ing the raw pointer value:
// a buffer overrun that clobbers the footer can't reconstruct it without
// knowing both the constant and the address.
func addrCanary(user []byte) uint64 {
	if len(user) == 0 {
		return canaryXOR
	}
	return uint64(uintptr(unsafe.Pointer(&user[0]))) ^ canaryXOR
}

// rawBlockFor recovers the full header+user+footer buffer from a user
// slice previously returned by Alloc, by walking backward from the user
// slice's first element. Valid only for slices Alloc actually returned.
func rawBlockFor(user []byte) []byte {
	size := len(user)
	base := unsafe.Pointer(&user[0])
	hdrPtr := unsafe.Add(base, -headerSize)
	return unsafe.Slice((*byte)(hdrPtr), headerSize+size+footerSize)
}

// Free validates the canary and returns obj to its owning pool, or frees
// an oversized allocation's backing storage outright.
func (h *Heap) Free(user []byte) {
	if len(user) == 0 {
		printk.Global.Printf(printk.Err, "mm: kfree called with an empty slice")
		return
	}

	raw := rawBlockFor(user)
	poolIdx := int64(binary.LittleEndian.Uint64(raw[0:8]))
	size := binary.LittleEndian.Uint64(raw[8:16])
	storedCanary := binary.LittleEndian.Uint64(raw[headerSize+size : headerSize+size+footerSize])
	if storedCanary != addrCanary(user) {
		panic("heap: canary corruption detected in kfree")
	}

	if poolIdx < 0 {
		return // oversized allocation: nothing to return to a pool, GC reclaims it
	}

	h.mu.Lock()
	if int(poolIdx) >= len(h.pools) {
		h.mu.Unlock()
		panic("heap: corrupted pool index in allocation header")
	}
	pool := h.pools[poolIdx]
	h.mu.Unlock()

	pool.cache.Free(raw)
	if pool.refcount.Add(-1) == 0 {
		h.attemptDeletePool(pool)
	}
}

// Realloc grows or shrinks an existing allocation, copying the
// overlapping prefix, matching krealloc's copy-then-free semantics.
func (h *Heap) Realloc(old []byte, newSize uint64, flags uint32) ([]byte, error) {
	if old == nil {
		return h.Alloc(newSize, flags)
	}
	if newSize == 0 {
		h.Free(old)
		return nil, nil
	}

	newBuf, err := h.Alloc(newSize, flags)
	if err != nil {
		return nil, err
	}
	copy(newBuf, old)
	h.Free(old)
	return newBuf, nil
}
