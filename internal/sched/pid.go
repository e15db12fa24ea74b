package sched

import "nebula/internal/klock"

// PID/TID numbers come from fixed-size bitmaps instead of a monotonic
// counter, matching pid.c's alloc_id/free_id so freed ids are reused
// rather than leaking forever. Grounded on original_source/kernel/sched/pid.c.
const (
	pidMax = 0x10000
	tidMax = 0x10000
)

type idBitmap struct {
	lock klock.Spinlock
	bits []uint64
	next int
	max  int
}

func newIDBitmap(max int) *idBitmap {
	return &idBitmap{bits: make([]uint64, (max+63)/64), max: max}
}

func (b *idBitmap) alloc() (int, bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	n := b.max
	for i := 0; i < n; i++ {
		id := (b.next + i) % n
		if id == 0 {
			continue // id 0 reserved, matching pid_alloc's skip of PID 0
		}
		word, bit := id/64, uint(id%64)
		if b.bits[word]&(1<<bit) == 0 {
			b.bits[word] |= 1 << bit
			b.next = id + 1
			return id, true
		}
	}
	return 0, false
}

func (b *idBitmap) free(id int) {
	if id <= 0 {
		return
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	word, bit := id/64, uint(id%64)
	if word < len(b.bits) {
		b.bits[word] &^= 1 << bit
	}
}

var (
	pids = newIDBitmap(pidMax)
	tids = newIDBitmap(tidMax)
)

// AllocPID reserves a process id, returning ok=false once every id but
// the reserved 0 (pidMax-1 ids) is live simultaneously.
func AllocPID() (int64, bool) {
	id, ok := pids.alloc()
	return int64(id), ok
}

// FreePID releases a process id for reuse.
func FreePID(pid int64) { pids.free(int(pid)) }

// AllocTID reserves a thread id, returning ok=false once every id but
// the reserved 0 (tidMax-1 ids) is live simultaneously.
func AllocTID() (int64, bool) {
	id, ok := tids.alloc()
	return int64(id), ok
}

// FreeTID releases a thread id for reuse.
func FreeTID(tid int64) { tids.free(int(tid)) }
