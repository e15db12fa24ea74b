package vmm

import (
	"sync/atomic"

	"nebula/internal/klock"
)

// FlushFunc performs the local CPU's actual TLB invalidation for a range.
// The real instruction (invlpg in a loop, or a full reload for big ranges)
// lives in internal/asm; vmm only orchestrates when it runs.
type FlushFunc func(address uintptr, size uint64)

// Shootdown coordinates cross-CPU TLB invalidation, mirroring tlb.c's
// IPI-based shootdown: one CPU publishes the range and waits for every
// other registered CPU to acknowledge having flushed it. Unlike the
// original, there is no interrupt controller here to raise a real IPI, so
// remote CPUs are modeled as registered callbacks invoked synchronously
// under the shootdown lock instead of asynchronously via interrupt_alloc.
type Shootdown struct {
	lock      klock.Spinlock
	local     FlushFunc
	remotes   []FlushFunc
	remaining atomic.Int64
}

// NewShootdown builds a coordinator whose own CPU flushes via local.
func NewShootdown(local FlushFunc) *Shootdown {
	return &Shootdown{local: local}
}

// RegisterRemote adds another CPU's flush callback, invoked during every
// subsequent Invalidate call that needs a cross-CPU shootdown.
func (s *Shootdown) RegisterRemote(flush FlushFunc) {
	flags := s.lock.LockIRQSave()
	defer s.lock.UnlockIRQRestore(flags)
	s.remotes = append(s.remotes, flush)
}

// Invalidate flushes address..address+size on every CPU sharing this
// address space. Grounded on tlb_invalidate/do_shootdown.
func (s *Shootdown) Invalidate(address uintptr, size uint64) {
	flags := s.lock.LockIRQSave()
	remotes := s.remotes
	s.remaining.Store(int64(len(remotes)))
	for _, flush := range remotes {
		flush(address, size)
		s.remaining.Add(-1)
	}
	s.lock.UnlockIRQRestore(flags)

	if s.local != nil {
		s.local(address, size)
	}
}
