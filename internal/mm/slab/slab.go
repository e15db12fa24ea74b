// Package slab implements the object-cache allocator layered over the
// page allocator (spec.md §4): fixed-size object slabs tracked across
// full/partial/empty lists, with an in-slab free bitmap, a bit-per-object
// double-free check, and optional constructor/destructor hooks. Grounded
// on original_source/kernel/mm/slab.c.
//
// Unlike buddy, which is pure bitmap bookkeeping over an abstract
// physical address space, slabs need real readable/writable storage for
// the objects they hand out. Modeling all of physical RAM as one literal
// byte buffer to back arbitrary physical addresses doesn't scale to
// realistic memory map sizes, so slab backing storage is allocated
// directly with make() — the same reliance on the Go runtime's own
// memory services the teacher's kernel.go already leans on for its own
// bookkeeping structures below the formal heap.
package slab

import (
	"unsafe"

	"nebula/internal/kernelerr"
	"nebula/internal/klock"
	"nebula/internal/printk"
)

const (
	sizeCutoff        = 512
	afterCutoffObjCount = 16
	pageSize          = 4096
)

// Cache is a fixed-size object cache.
type Cache struct {
	objSize  uint64
	objCount uint64
	align    uint64
	atomic   bool

	ctor, dtor func([]byte)

	spin klock.Spinlock
	mu   *klock.Mutex

	full, partial, empty []*slab
}

type slab struct {
	base   []byte
	free   []byte // bit per object
	inUse  int
}

// NewCache creates a cache of objects of objSize bytes aligned to align
// (0 defaults to 8, must be a power of two). atomic selects whether the
// cache may be used from interrupt/atomic context (spinlock) or may sleep
// (mutex, which itself degrades to a spinlock before the scheduler
// exists). The object count per slab follows the original's cutoff: small
// objects pack two pages per slab, large objects get a fixed count of 16.
func NewCache(objSize, align uint64, atomic bool, ctor, dtor func([]byte)) (*Cache, error) {
	if objSize == 0 {
		return nil, kernelerr.New("slab", "zero object size", kernelerr.EINVAL)
	}
	if align == 0 {
		align = 8
	} else if align&(align-1) != 0 {
		return nil, kernelerr.New("slab", "alignment not a power of two", kernelerr.EINVAL)
	}

	c := &Cache{
		align:  align,
		atomic: atomic,
		ctor:   ctor,
		dtor:   dtor,
	}
	c.objSize = roundUp(objSize, align)
	if c.objSize < sizeCutoff {
		c.objCount = (pageSize * 2) / c.objSize
	} else {
		c.objCount = afterCutoffObjCount
	}
	if !atomic {
		c.mu = klock.NewMutex()
	}
	return c, nil
}

func roundUp(x, align uint64) uint64 {
	return (x + align - 1) &^ (align - 1)
}

func (c *Cache) lock() klock.IRQFlags {
	if c.atomic {
		return c.spin.LockIRQSave()
	}
	c.mu.Lock()
	return 0
}

func (c *Cache) unlock(flags klock.IRQFlags) {
	if c.atomic {
		c.spin.UnlockIRQRestore(flags)
		return
	}
	c.mu.Unlock()
}

func (c *Cache) tryLock() (klock.IRQFlags, bool) {
	if c.atomic {
		return c.spin.TryLockIRQSave()
	}
	return 0, c.mu.TryLock()
}

func newSlab(objSize, objCount uint64) *slab {
	mapSize := (objCount + 7) >> 3
	return &slab{
		base: make([]byte, objSize*objCount),
		free: make([]byte, mapSize),
	}
}

func (c *Cache) grow() *slab {
	s := newSlab(c.objSize, c.objCount)
	c.empty = append(c.empty, s)
	return s
}

func (s *slab) take(cache *Cache) []byte {
	objNum := -1
	for i := uint64(0); i < cache.objCount; i++ {
		byteIdx, bit := i>>3, uint(i&7)
		if s.free[byteIdx]&(1<<bit) == 0 {
			s.free[byteIdx] |= 1 << bit
			objNum = int(i)
			break
		}
	}
	if objNum < 0 {
		return nil
	}

	obj := s.base[uint64(objNum)*cache.objSize : uint64(objNum+1)*cache.objSize]
	if cache.ctor != nil {
		cache.ctor(obj)
	}
	s.inUse++
	return obj
}

func findSlabList(list []*slab, obj []byte) int {
	for i, s := range list {
		if sliceWithin(s.base, obj) {
			return i
		}
	}
	return -1
}

func sliceWithin(base, obj []byte) bool {
	_, ok := objOffset(base, obj)
	return ok
}

// objOffset reports obj's byte offset within base's backing array, and
// whether obj actually lies within it. Slab objects are always taken as
// sub-slices of a slab's base buffer, so pointer containment is what
// distinguishes which slab (if any) owns a freed object.
func objOffset(base, obj []byte) (uint64, bool) {
	if len(base) == 0 || len(obj) == 0 {
		return 0, false
	}
	baseStart := uintptr(unsafe.Pointer(&base[0]))
	objStart := uintptr(unsafe.Pointer(&obj[0]))
	if objStart < baseStart {
		return 0, false
	}
	offset := uint64(objStart - baseStart)
	if offset+uint64(len(obj)) > uint64(len(base)) {
		return 0, false
	}
	return offset, true
}

func (c *Cache) findSlab(obj []byte) (*slab, int, string) {
	if i := findSlabList(c.partial, obj); i >= 0 {
		return c.partial[i], i, "partial"
	}
	if i := findSlabList(c.full, obj); i >= 0 {
		return c.full[i], i, "full"
	}
	if i := findSlabList(c.empty, obj); i >= 0 {
		return c.empty[i], i, "empty"
	}
	return nil, -1, ""
}

func removeAt(list []*slab, i int) []*slab {
	return append(list[:i:i], list[i+1:]...)
}

// Alloc returns an object from the cache, growing the cache with a new
// slab if every existing slab is full. Objects of a fresh slab start
// zeroed; an object reused after Free keeps its previous bytes. The
// constructor, if any, runs on every Alloc.
func (c *Cache) Alloc() []byte {
	flags := c.lock()
	defer c.unlock(flags)

	var list *[]*slab
	if len(c.partial) > 0 {
		list = &c.partial
	} else if len(c.empty) > 0 {
		list = &c.empty
	} else {
		c.grow()
		list = &c.empty
	}

	s := (*list)[0]
	obj := s.take(c)
	if obj == nil {
		panic("slab: take failed on a slab the accounting says has room")
	}

	switch {
	case s.inUse == 1:
		*list = removeAt(*list, 0)
		c.partial = append(c.partial, s)
	case uint64(s.inUse) == c.objCount:
		*list = removeAt(*list, 0)
		c.full = append(c.full, s)
	}

	return obj
}

// Free returns obj to its owning slab, calling the destructor if one is
// registered. Logs and returns without panicking if obj does not belong
// to any slab in this cache (mirrors the original's printk + dump_stack,
// rather than the bug() used for the double-free case it CAN detect).
func (c *Cache) Free(obj []byte) {
	flags := c.lock()
	defer c.unlock(flags)

	s, idx, listName := c.findSlab(obj)
	if s == nil {
		printk.Global.Printf(printk.Err, "mm: slab Free: object not found in any slab")
		return
	}

	objNum, ok := objOffset(s.base, obj)
	if !ok {
		printk.Global.Printf(printk.Err, "mm: slab Free: object not aligned to cache objects")
		return
	}
	objNum /= c.objSize
	byteIdx, bit := objNum>>3, uint(objNum&7)
	if s.free[byteIdx]&(1<<bit) == 0 {
		panic("slab: double free detected")
	}
	s.free[byteIdx] &^= 1 << bit

	if c.dtor != nil {
		c.dtor(obj)
	}
	s.inUse--

	list := c.listByName(listName)
	switch {
	case s.inUse == 0:
		*list = removeAt(*list, idx)
		c.empty = append(c.empty, s)
	case uint64(s.inUse) == c.objCount-1:
		*list = removeAt(*list, idx)
		c.partial = append(c.partial, s)
	}
}

func (c *Cache) listByName(name string) *[]*slab {
	switch name {
	case "full":
		return &c.full
	case "partial":
		return &c.partial
	default:
		return &c.empty
	}
}

// Destroy releases every empty slab's backing storage and reports EBUSY
// if any slab still has live objects, matching the original's refusal to
// tear down a cache out from under its users. Uses TryLock since the
// original uses slab_cache_try_lock rather than blocking indefinitely.
func (c *Cache) Destroy() error {
	flags, ok := c.tryLock()
	if !ok {
		return kernelerr.New("slab", "cache busy", kernelerr.EAGAIN)
	}
	defer c.unlock(flags)

	if len(c.partial) > 0 || len(c.full) > 0 {
		return kernelerr.New("slab", "cache has live objects", kernelerr.EBUSY)
	}
	c.empty = nil
	return nil
}
